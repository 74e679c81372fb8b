package recognition

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/model"
)

// MockRecognizer is a test implementation of the Recognizer interface. It
// returns a fixed result after an optional delay and records each call.
type MockRecognizer struct {
	Result     model.RecognitionResult
	PanicWith  any
	RecKind    model.RecognizerKind
	RecVariant model.ImageVariant
	calls      []model.NormalizedImage
	Delay      time.Duration
	mu         sync.Mutex
	IgnoreCtx  bool
}

// NewMockRecognizer creates a mock that succeeds with the given facts.
func NewMockRecognizer(kind model.RecognizerKind, confidence float64, facts ...model.PaymentFact) *MockRecognizer {
	return &MockRecognizer{
		RecKind:    kind,
		RecVariant: model.VariantPrimary,
		Result:     model.NewRecognitionSuccess(kind, "", facts, confidence, time.Millisecond),
	}
}

// NewFailingRecognizer creates a mock that always fails with the given kind.
func NewFailingRecognizer(kind model.RecognizerKind, failure model.FailureKind) *MockRecognizer {
	return &MockRecognizer{
		RecKind:    kind,
		RecVariant: model.VariantPrimary,
		Result:     model.NewRecognitionFailure(kind, failure, nil, time.Millisecond),
	}
}

// Kind implements Recognizer.
func (m *MockRecognizer) Kind() model.RecognizerKind {
	return m.RecKind
}

// Variant implements Recognizer.
func (m *MockRecognizer) Variant() model.ImageVariant {
	return m.RecVariant
}

// Recognize implements Recognizer.
func (m *MockRecognizer) Recognize(ctx context.Context, img model.NormalizedImage) model.RecognitionResult {
	m.mu.Lock()
	m.calls = append(m.calls, img)
	m.mu.Unlock()

	if m.PanicWith != nil {
		panic(m.PanicWith)
	}

	if m.Delay > 0 {
		if m.IgnoreCtx {
			time.Sleep(m.Delay)
		} else {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return model.NewRecognitionFailure(m.RecKind, model.FailureTimeout, ctx.Err(), m.Delay)
			}
		}
	}

	return m.Result
}

// Calls returns the number of Recognize invocations.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastImage returns the image passed to the most recent call.
func (m *MockRecognizer) LastImage() (model.NormalizedImage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return model.NormalizedImage{}, false
	}
	return m.calls[len(m.calls)-1], true
}
