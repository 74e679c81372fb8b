// Package normalize turns raw payment screenshots into recognizer-ready image
// variants.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	// Register decoders for the accepted upload formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/disintegration/imaging"
)

// ErrorKind classifies an image rejection.
type ErrorKind string

// Image error kinds.
const (
	Unsupported ErrorKind = "unsupported"
	TooLarge    ErrorKind = "too_large"
	Corrupt     ErrorKind = "corrupt"
)

// ImageError is returned when an upload cannot be processed at all.
type ImageError struct {
	Err    error
	Kind   ErrorKind
	Detail string
}

func (e *ImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("image %s: %s", e.Kind, e.Detail)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// IsImageError reports whether err is an ImageError and returns it.
func IsImageError(err error) (*ImageError, bool) {
	var imgErr *ImageError
	if errors.As(err, &imgErr) {
		return imgErr, true
	}
	return nil, false
}

// Options configures the normalizer.
type Options struct {
	MaxBytes          int64
	MaxPixels         int
	PrimaryMaxEdge    int
	MinTextHeight     int
	ThumbnailSize     int
	ContrastBoost     float64
	BinarizeThreshold uint8
	SkipThumbnail     bool
	SkipHighContrast  bool
}

// DefaultOptions returns sensible defaults for phone screenshots.
func DefaultOptions() Options {
	return Options{
		MaxBytes:          10 << 20,
		MaxPixels:         40_000_000,
		PrimaryMaxEdge:    2000,
		MinTextHeight:     1200,
		ThumbnailSize:     320,
		ContrastBoost:     35,
		BinarizeThreshold: 160,
	}
}

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Normalizer validates uploads and produces image variants. It holds no state
// between calls and is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a normalizer, filling unset options with defaults.
func New(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = def.MaxPixels
	}
	if opts.PrimaryMaxEdge <= 0 {
		opts.PrimaryMaxEdge = def.PrimaryMaxEdge
	}
	if opts.MinTextHeight <= 0 {
		opts.MinTextHeight = def.MinTextHeight
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = def.ThumbnailSize
	}
	if opts.ContrastBoost == 0 {
		opts.ContrastBoost = def.ContrastBoost
	}
	if opts.BinarizeThreshold == 0 {
		opts.BinarizeThreshold = def.BinarizeThreshold
	}
	return &Normalizer{opts: opts}
}

// Normalize validates raw and returns the primary variant first, followed by
// the high-contrast and thumbnail variants unless disabled.
func (n *Normalizer) Normalize(raw []byte, mimeType string) ([]model.NormalizedImage, error) {
	mimeType = canonicalMIME(mimeType)
	if !supportedTypes[mimeType] {
		return nil, &ImageError{Kind: Unsupported, Detail: fmt.Sprintf("mime type %q", mimeType)}
	}
	if len(raw) == 0 {
		return nil, &ImageError{Kind: Corrupt, Detail: "empty payload"}
	}
	if int64(len(raw)) > n.opts.MaxBytes {
		return nil, &ImageError{Kind: TooLarge, Detail: fmt.Sprintf("%d bytes exceeds limit of %d", len(raw), n.opts.MaxBytes)}
	}

	// Check dimensions before decoding the full bitmap.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &ImageError{Kind: Corrupt, Detail: "unreadable header", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &ImageError{Kind: Corrupt, Detail: "zero dimensions"}
	}
	if cfg.Width*cfg.Height > n.opts.MaxPixels {
		return nil, &ImageError{Kind: TooLarge, Detail: fmt.Sprintf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, n.opts.MaxPixels)}
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ImageError{Kind: Corrupt, Detail: "decode failed", Err: err}
	}

	primaryImg := n.primary(img)
	primaryData, err := encode(primaryImg, imaging.PNG)
	if err != nil {
		return nil, &ImageError{Kind: Corrupt, Detail: "encode primary", Err: err}
	}
	sum := sha256.Sum256(primaryData)
	hash := hex.EncodeToString(sum[:])

	variants := []model.NormalizedImage{
		newVariant(hash, model.VariantPrimary, "image/png", primaryData, primaryImg),
	}

	if !n.opts.SkipHighContrast {
		hc := n.highContrast(primaryImg)
		data, err := encode(hc, imaging.PNG)
		if err != nil {
			return nil, &ImageError{Kind: Corrupt, Detail: "encode high contrast", Err: err}
		}
		variants = append(variants, newVariant(hash, model.VariantHighContrast, "image/png", data, hc))
	}

	if !n.opts.SkipThumbnail {
		thumb := imaging.Fit(primaryImg, n.opts.ThumbnailSize, n.opts.ThumbnailSize, imaging.Lanczos)
		data, err := encode(thumb, imaging.JPEG, imaging.JPEGQuality(80))
		if err != nil {
			return nil, &ImageError{Kind: Corrupt, Detail: "encode thumbnail", Err: err}
		}
		variants = append(variants, newVariant(hash, model.VariantThumbnail, "image/jpeg", data, thumb))
	}

	return variants, nil
}

// primary bounds the longest edge so recognizers see a predictable size.
func (n *Normalizer) primary(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= n.opts.PrimaryMaxEdge && b.Dy() <= n.opts.PrimaryMaxEdge {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, n.opts.PrimaryMaxEdge, n.opts.PrimaryMaxEdge, imaging.Lanczos)
}

// highContrast produces a binarized rendition tuned for text recognition.
func (n *Normalizer) highContrast(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < n.opts.MinTextHeight {
		gray = imaging.Resize(gray, 0, n.opts.MinTextHeight, imaging.Lanczos)
	}
	gray = imaging.AdjustContrast(gray, n.opts.ContrastBoost)
	gray = imaging.Sharpen(gray, 1.0)

	threshold := n.opts.BinarizeThreshold
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		if c.R >= threshold {
			return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
		}
		return color.NRGBA{A: c.A}
	})
}

func newVariant(hash string, variant model.ImageVariant, mimeType string, data []byte, img image.Image) model.NormalizedImage {
	b := img.Bounds()
	return model.NormalizedImage{
		ContentHash: hash,
		Variant:     variant,
		MIMEType:    mimeType,
		Data:        data,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}
}

func encode(img image.Image, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}
