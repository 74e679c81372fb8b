package recognition

import (
	"context"
	"errors"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/service"
)

// ErrMalformed marks backend output that could not be parsed into facts.
var ErrMalformed = errors.New("malformed recognizer response")

// Classify maps a backend error onto the recognition failure taxonomy.
func Classify(err error) model.FailureKind {
	var statusErr *common.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, ErrMalformed):
		return model.FailureMalformed
	case errors.Is(err, common.ErrQuota), errors.Is(err, common.ErrRateLimit):
		return model.FailureQuota
	case errors.As(err, &statusErr) && (statusErr.StatusCode == 429 || statusErr.StatusCode == 402):
		return model.FailureQuota
	default:
		return model.FailureUnavailable
	}
}

// Failed builds a failure result for kind, classifying err.
func Failed(kind model.RecognizerKind, err error, latency time.Duration) model.RecognitionResult {
	return model.NewRecognitionFailure(kind, Classify(err), err, latency)
}

// WithRetry runs a backend call, retrying transient failures with backoff. The
// retries share ctx, so they never extend past the recognizer's own timeout.
func WithRetry(ctx context.Context, opts service.RetryOptions, call func(context.Context) error) error {
	return common.WithRetry(ctx, call, opts)
}
