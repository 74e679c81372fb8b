// Package tesseract provides the text recognizer backed by the Tesseract OCR
// engine through gosseract. It requires libtesseract at build time.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/recognition"
	"github.com/otiai10/gosseract/v2"
)

// Config holds settings for the Tesseract recognizer.
type Config struct {
	Variables map[string]string
	Languages []string
}

// Recognizer reads screenshot text with Tesseract and parses it with the text
// grammar. Each call uses its own client, so one Recognizer is safe for
// concurrent runs.
type Recognizer struct {
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
	cfg           Config
}

// New constructs a Tesseract-backed recognizer.
func New(cfg Config, logger *slog.Logger) *Recognizer {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recognizer{
		clientFactory: gosseract.NewClient,
		cfg:           cfg,
		logger:        logger,
	}
}

// Kind implements recognition.Recognizer.
func (r *Recognizer) Kind() model.RecognizerKind { return model.RecognizerText }

// Variant implements recognition.Recognizer.
func (r *Recognizer) Variant() model.ImageVariant { return model.VariantHighContrast }

// Recognize implements recognition.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, img model.NormalizedImage) model.RecognitionResult {
	start := time.Now()

	text, conf, err := r.read(ctx, img.Data)
	if err != nil {
		return recognition.Failed(model.RecognizerText, err, time.Since(start))
	}

	facts := recognition.ParseText(text, conf)
	r.logger.Debug("tesseract read screenshot",
		"content_hash", img.ContentHash,
		"variant", img.Variant,
		"chars", len(text),
		"confidence", conf,
		"facts", len(facts))

	return model.NewRecognitionSuccess(model.RecognizerText, text, facts, conf, time.Since(start))
}

func (r *Recognizer) read(ctx context.Context, data []byte) (string, float64, error) {
	if len(data) == 0 {
		return "", 0, errors.New("empty image")
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	c := r.clientFactory()
	defer func() {
		if err := c.Close(); err != nil {
			r.logger.Warn("failed to close tesseract client", "error", err)
		}
	}()

	if err := c.SetImageFromBytes(data); err != nil {
		return "", 0, fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(r.cfg.Languages...); err != nil {
		return "", 0, fmt.Errorf("set languages: %w", err)
	}
	for k, v := range r.cfg.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return "", 0, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognize text: %w", err)
	}

	return strings.TrimSpace(text), meanWordConfidence(c), nil
}

// meanWordConfidence averages Tesseract's per-word confidences into [0,1].
func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
