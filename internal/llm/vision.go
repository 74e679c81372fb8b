package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/recognition"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/tmc/langchaingo/llms"
)

// Config holds configuration for the vision recognizer.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

// contentGenerator is the slice of llms.Model the recognizer needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// VisionRecognizer asks a vision model to read a payment screenshot.
type VisionRecognizer struct {
	generator   contentGenerator
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
	temperature float64
	maxTokens   int
}

// NewVisionRecognizer creates a vision recognizer for the configured provider.
func NewVisionRecognizer(cfg Config, logger *slog.Logger) (*VisionRecognizer, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return newVisionRecognizer(model, cfg, logger), nil
}

func newVisionRecognizer(gen contentGenerator, cfg Config, logger *slog.Logger) *VisionRecognizer {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = 500 * time.Millisecond
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 800
	}

	return &VisionRecognizer{
		generator:   gen,
		logger:      logger,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		retryOpts:   retryOpts,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Kind implements recognition.Recognizer.
func (v *VisionRecognizer) Kind() model.RecognizerKind { return model.RecognizerVision }

// Variant implements recognition.Recognizer.
func (v *VisionRecognizer) Variant() model.ImageVariant { return model.VariantPrimary }

// Recognize implements recognition.Recognizer.
func (v *VisionRecognizer) Recognize(ctx context.Context, img model.NormalizedImage) model.RecognitionResult {
	start := time.Now()

	if err := v.rateLimiter.wait(ctx); err != nil {
		return recognition.Failed(model.RecognizerVision, err, time.Since(start))
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, recognition.VisionPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(img.MIMEType, img.Data),
				llms.TextPart("Extract the payment details from this screenshot."),
			},
		},
	}

	var content string
	err := recognition.WithRetry(ctx, v.retryOpts, func(ctx context.Context) error {
		resp, err := v.generator.GenerateContent(ctx, messages,
			llms.WithTemperature(v.temperature),
			llms.WithMaxTokens(v.maxTokens),
		)
		if err != nil {
			return classifyProviderError(err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return fmt.Errorf("%w: no response choices", recognition.ErrMalformed)
		}
		content = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return recognition.Failed(model.RecognizerVision, err, time.Since(start))
	}

	facts, conf, err := recognition.ParseVision(content)
	if err != nil {
		v.logger.Debug("unparseable vision response", "content_hash", img.ContentHash, "response", content)
		return recognition.Failed(model.RecognizerVision, err, time.Since(start))
	}

	v.logger.Debug("vision model read screenshot",
		"content_hash", img.ContentHash,
		"facts", len(facts),
		"confidence", conf)

	return model.NewRecognitionSuccess(model.RecognizerVision, content, facts, conf, time.Since(start))
}

// classifyProviderError tags provider errors so the retry loop and the
// failure taxonomy can tell throttling and outages from permanent errors.
// langchaingo surfaces HTTP failures as plain error strings.
func classifyProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota"), strings.Contains(msg, "billing"):
		return fmt.Errorf("%w: %w", common.ErrQuota, err)
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"):
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "eof"):
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	default:
		return err
	}
}
