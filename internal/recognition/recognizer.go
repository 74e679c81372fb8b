// Package recognition runs independent extraction backends against a normalized
// payment screenshot and turns their raw output into payment facts.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
)

// Recognizer extracts payment facts from one image variant. Recognize never
// returns an error: failures are encoded in the result so that one backend
// cannot abort the others.
type Recognizer interface {
	Kind() model.RecognizerKind
	// Variant is the image variant the recognizer prefers. The runner falls
	// back to the primary variant when the preferred one is absent.
	Variant() model.ImageVariant
	Recognize(ctx context.Context, img model.NormalizedImage) model.RecognitionResult
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout sets the per-call budget for recognizers of the given kind.
func WithTimeout(kind model.RecognizerKind, timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeouts[kind] = timeout
	}
}

// WithMetrics records per-recognizer latency into the collector.
func WithMetrics(c *metrics.Collector) RunnerOption {
	return func(r *Runner) {
		r.metrics = c
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// DefaultTimeout bounds a recognizer call when no per-kind timeout is set.
const DefaultTimeout = 30 * time.Second

// Runner fans a set of recognizers out over an image and joins their results.
type Runner struct {
	logger      *slog.Logger
	metrics     *metrics.Collector
	timeouts    map[model.RecognizerKind]time.Duration
	recognizers []Recognizer
}

// NewRunner creates a runner over the given recognizers.
func NewRunner(recognizers []Recognizer, opts ...RunnerOption) *Runner {
	r := &Runner{
		recognizers: recognizers,
		timeouts:    make(map[model.RecognizerKind]time.Duration),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recognizers returns the kinds the runner will invoke, in order.
func (r *Runner) Recognizers() []model.RecognizerKind {
	kinds := make([]model.RecognizerKind, 0, len(r.recognizers))
	for _, rec := range r.recognizers {
		kinds = append(kinds, rec.Kind())
	}
	return kinds
}

// Run invokes every recognizer concurrently and waits for all of them. The
// returned slice has one result per recognizer in registration order. A
// recognizer that overruns its timeout, panics, or is cut off by ctx yields a
// failure result instead of holding up the others.
func (r *Runner) Run(ctx context.Context, images []model.NormalizedImage) []model.RecognitionResult {
	results := make([]model.RecognitionResult, len(r.recognizers))

	var wg sync.WaitGroup
	for i, rec := range r.recognizers {
		wg.Add(1)
		go func(idx int, rec Recognizer) {
			defer wg.Done()
			results[idx] = r.runOne(ctx, rec, images)
		}(i, rec)
	}
	wg.Wait()

	return results
}

func (r *Runner) runOne(ctx context.Context, rec Recognizer, images []model.NormalizedImage) model.RecognitionResult {
	kind := rec.Kind()
	start := time.Now()

	img, ok := model.FindVariant(images, rec.Variant())
	if !ok {
		img, ok = model.FindVariant(images, model.VariantPrimary)
	}
	if !ok {
		return model.NewRecognitionFailure(kind, model.FailureUnavailable,
			errors.New("no usable image variant"), 0)
	}

	timeout := r.timeouts[kind]
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.RecognitionResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- model.NewRecognitionFailure(kind, model.FailureUnavailable,
					fmt.Errorf("recognizer panicked: %v", p), time.Since(start))
			}
		}()
		done <- rec.Recognize(callCtx, img)
	}()

	var result model.RecognitionResult
	select {
	case result = <-done:
		result.Recognizer = kind
		if result.Latency == 0 {
			result.Latency = time.Since(start)
		}
	case <-callCtx.Done():
		result = model.NewRecognitionFailure(kind, model.FailureTimeout,
			fmt.Errorf("%s recognizer: %w", kind, callCtx.Err()), time.Since(start))
	}

	r.metrics.RecordTiming(metricFor(kind), result.Latency, !result.Succeeded())

	if result.Succeeded() {
		r.logger.Debug("recognizer finished",
			"recognizer", kind,
			"facts", len(result.Facts),
			"confidence", result.Confidence,
			"latency", result.Latency)
	} else {
		r.logger.Warn("recognizer failed",
			"recognizer", kind,
			"kind", result.Failure.Kind,
			"error", result.Failure.Err,
			"latency", result.Latency)
	}

	return result
}

func metricFor(kind model.RecognizerKind) string {
	switch kind {
	case model.RecognizerText:
		return metrics.OpTextRecognizer
	case model.RecognizerVision:
		return metrics.OpVisionRecognizer
	default:
		return "recognizer_" + string(kind)
	}
}
