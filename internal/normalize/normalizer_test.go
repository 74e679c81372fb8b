package normalize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func screenshotPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			shade := uint8(255)
			if (x/8+y/8)%5 == 0 {
				shade = 30
			}
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalize_Variants(t *testing.T) {
	n := New(DefaultOptions())
	raw := screenshotPNG(t, 120, 240)

	images, err := n.Normalize(raw, "image/png")
	require.NoError(t, err)
	require.Len(t, images, 3)

	assert.Equal(t, model.VariantPrimary, images[0].Variant)
	assert.Equal(t, model.VariantHighContrast, images[1].Variant)
	assert.Equal(t, model.VariantThumbnail, images[2].Variant)

	for _, img := range images {
		assert.Equal(t, images[0].ContentHash, img.ContentHash)
		assert.NotEmpty(t, img.Data)
	}
	assert.Len(t, images[0].ContentHash, 64)

	// Small screenshots are upscaled for text recognition.
	assert.Equal(t, DefaultOptions().MinTextHeight, images[1].Height)
	assert.LessOrEqual(t, images[2].Width, DefaultOptions().ThumbnailSize)
}

func TestNormalize_DeterministicHash(t *testing.T) {
	n := New(DefaultOptions())
	raw := screenshotPNG(t, 64, 64)

	first, err := n.Normalize(raw, "image/png")
	require.NoError(t, err)
	second, err := n.Normalize(raw, "IMAGE/PNG; charset=binary")
	require.NoError(t, err)

	assert.Equal(t, first[0].ContentHash, second[0].ContentHash)
}

func TestNormalize_PrimaryIsBounded(t *testing.T) {
	n := New(Options{PrimaryMaxEdge: 100, SkipHighContrast: true, SkipThumbnail: true})

	images, err := n.Normalize(screenshotPNG(t, 400, 200), "image/png")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, 100, images[0].Width)
	assert.Equal(t, 50, images[0].Height)
}

func TestNormalize_JPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 80))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	images, err := New(DefaultOptions()).Normalize(buf.Bytes(), "image/jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/png", images[0].MIMEType)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		raw      func(t *testing.T) []byte
		mimeType string
		wantKind ErrorKind
	}{
		{
			name:     "unsupported mime type",
			raw:      func(t *testing.T) []byte { return screenshotPNG(t, 10, 10) },
			mimeType: "application/pdf",
			wantKind: Unsupported,
		},
		{
			name:     "payload over byte ceiling",
			opts:     Options{MaxBytes: 16},
			raw:      func(t *testing.T) []byte { return screenshotPNG(t, 10, 10) },
			mimeType: "image/png",
			wantKind: TooLarge,
		},
		{
			name:     "dimensions over pixel ceiling",
			opts:     Options{MaxPixels: 50},
			raw:      func(t *testing.T) []byte { return screenshotPNG(t, 10, 10) },
			mimeType: "image/png",
			wantKind: TooLarge,
		},
		{
			name:     "garbage bytes",
			raw:      func(*testing.T) []byte { return []byte("definitely not an image") },
			mimeType: "image/png",
			wantKind: Corrupt,
		},
		{
			name:     "empty payload",
			raw:      func(*testing.T) []byte { return nil },
			mimeType: "image/jpeg",
			wantKind: Corrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts).Normalize(tt.raw(t), tt.mimeType)
			require.Error(t, err)

			imgErr, ok := IsImageError(err)
			require.True(t, ok, "expected ImageError, got %T", err)
			assert.Equal(t, tt.wantKind, imgErr.Kind)
		})
	}
}
