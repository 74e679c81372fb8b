package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeGenerator returns scripted responses in order and records requests.
type fakeGenerator struct {
	errs      []error
	responses []string
	messages  [][]llms.MessageContent
	mu        sync.Mutex
}

func (f *fakeGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.messages)
	f.messages = append(f.messages, messages)

	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	idx := min(call, len(f.responses)-1)
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.responses[idx]}}}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testImage() model.NormalizedImage {
	return model.NormalizedImage{
		ContentHash: "hash",
		MIMEType:    "image/png",
		Variant:     model.VariantPrimary,
		Data:        []byte{0x89, 0x50, 0x4e, 0x47},
	}
}

func fastConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Millisecond, RateLimit: 6000}
}

func TestVisionRecognizer_Recognize(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{
			`{"payments": [{"amount": "1,000.00", "currency": "PHP", "reference": "REF123", "confidence": 0.95}], "confidence": 0.95}`,
		}}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		result := v.Recognize(context.Background(), testImage())

		require.True(t, result.Succeeded())
		assert.Equal(t, model.RecognizerVision, result.Recognizer)
		assert.InDelta(t, 0.95, result.Confidence, 1e-9)
		require.Len(t, result.Facts, 1)
		assert.True(t, result.Facts[0].Amount.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, "REF123", result.Facts[0].Reference)
	})

	t.Run("sends image and prompt", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{`{"payments": []}`}}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		v.Recognize(context.Background(), testImage())

		require.Equal(t, 1, gen.calls())
		msgs := gen.messages[0]
		require.Len(t, msgs, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
		bin, ok := msgs[1].Parts[0].(llms.BinaryContent)
		require.True(t, ok)
		assert.Equal(t, "image/png", bin.MIMEType)
		assert.Equal(t, testImage().Data, bin.Data)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		gen := &fakeGenerator{
			errs:      []error{errors.New("API returned unexpected status code: 503"), nil},
			responses: []string{`{"payments": [{"amount": 50, "currency": "USD", "confidence": 0.9}]}`},
		}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		result := v.Recognize(context.Background(), testImage())

		require.True(t, result.Succeeded())
		assert.Equal(t, 2, gen.calls())
	})

	t.Run("quota is not retried", func(t *testing.T) {
		gen := &fakeGenerator{errs: []error{errors.New("insufficient_quota: check your plan")}}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		result := v.Recognize(context.Background(), testImage())

		require.False(t, result.Succeeded())
		assert.Equal(t, model.FailureQuota, result.Failure.Kind)
		assert.Equal(t, 1, gen.calls())
	})

	t.Run("malformed response", func(t *testing.T) {
		gen := &fakeGenerator{responses: []string{"Sorry, I can't help with that."}}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		result := v.Recognize(context.Background(), testImage())

		require.False(t, result.Succeeded())
		assert.Equal(t, model.FailureMalformed, result.Failure.Kind)
		assert.Zero(t, result.Confidence)
	})

	t.Run("persistent outage", func(t *testing.T) {
		outage := errors.New("dial tcp: connection refused")
		gen := &fakeGenerator{errs: []error{outage, outage, outage}}
		v := newVisionRecognizer(gen, fastConfig(), nil)

		result := v.Recognize(context.Background(), testImage())

		require.False(t, result.Succeeded())
		assert.Equal(t, model.FailureUnavailable, result.Failure.Kind)
		assert.Equal(t, 3, gen.calls())
	})
}

func TestClassifyProviderError(t *testing.T) {
	assert.ErrorIs(t, classifyProviderError(errors.New("status 429 Too Many Requests")), common.ErrRateLimit)
	assert.ErrorIs(t, classifyProviderError(errors.New("You exceeded your current quota")), common.ErrQuota)
	assert.ErrorIs(t, classifyProviderError(errors.New("overloaded_error")), common.ErrTransient)
	assert.ErrorIs(t, classifyProviderError(context.DeadlineExceeded), context.DeadlineExceeded)

	plain := errors.New("invalid model")
	assert.Equal(t, plain, classifyProviderError(plain))
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(Config{Provider: "openai"})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewModel(Config{Provider: "anthropic"})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewModel(Config{Provider: "palm"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
