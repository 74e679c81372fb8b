package recognition

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImages() []model.NormalizedImage {
	return []model.NormalizedImage{
		{ContentHash: "abc", Variant: model.VariantPrimary, MIMEType: "image/png"},
		{ContentHash: "abc", Variant: model.VariantHighContrast, MIMEType: "image/png"},
	}
}

func phpFact(amount string, conf float64) model.PaymentFact {
	return model.PaymentFact{Amount: decimal.RequireFromString(amount), Currency: "PHP", Confidence: conf}
}

func TestRunner_Run(t *testing.T) {
	t.Run("joins results in registration order", func(t *testing.T) {
		text := NewMockRecognizer(model.RecognizerText, 0.7, phpFact("1000", 0.7))
		vision := NewMockRecognizer(model.RecognizerVision, 0.9, phpFact("1000", 0.9))

		results := NewRunner([]Recognizer{text, vision}).Run(context.Background(), testImages())

		require.Len(t, results, 2)
		assert.Equal(t, model.RecognizerText, results[0].Recognizer)
		assert.Equal(t, model.RecognizerVision, results[1].Recognizer)
		assert.True(t, results[0].Succeeded())
		assert.True(t, results[1].Succeeded())
		assert.Equal(t, 1, text.Calls())
		assert.Equal(t, 1, vision.Calls())
	})

	t.Run("recognizers run concurrently", func(t *testing.T) {
		a := NewMockRecognizer(model.RecognizerText, 0.7)
		a.Delay = 100 * time.Millisecond
		b := NewMockRecognizer(model.RecognizerVision, 0.9)
		b.Delay = 100 * time.Millisecond

		start := time.Now()
		NewRunner([]Recognizer{a, b}).Run(context.Background(), testImages())

		assert.Less(t, time.Since(start), 190*time.Millisecond)
	})

	t.Run("slow recognizer times out without blocking the other", func(t *testing.T) {
		fast := NewMockRecognizer(model.RecognizerText, 0.7, phpFact("500", 0.7))
		slow := NewMockRecognizer(model.RecognizerVision, 0.9)
		slow.Delay = 2 * time.Second
		slow.IgnoreCtx = true

		runner := NewRunner([]Recognizer{fast, slow}, WithTimeout(model.RecognizerVision, 50*time.Millisecond))

		start := time.Now()
		results := runner.Run(context.Background(), testImages())

		assert.Less(t, time.Since(start), time.Second)
		assert.True(t, results[0].Succeeded())
		require.False(t, results[1].Succeeded())
		assert.Equal(t, model.FailureTimeout, results[1].Failure.Kind)
		assert.Zero(t, results[1].Confidence)
	})

	t.Run("panicking recognizer becomes a failure", func(t *testing.T) {
		bad := NewMockRecognizer(model.RecognizerVision, 0.9)
		bad.PanicWith = "boom"

		results := NewRunner([]Recognizer{bad}).Run(context.Background(), testImages())

		require.False(t, results[0].Succeeded())
		assert.Equal(t, model.FailureUnavailable, results[0].Failure.Kind)
		assert.Contains(t, results[0].Failure.Error(), "boom")
	})

	t.Run("parent cancellation fails all recognizers", func(t *testing.T) {
		a := NewMockRecognizer(model.RecognizerText, 0.7)
		a.Delay = time.Second
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := NewRunner([]Recognizer{a}).Run(ctx, testImages())

		require.False(t, results[0].Succeeded())
	})

	t.Run("uses preferred variant", func(t *testing.T) {
		text := NewMockRecognizer(model.RecognizerText, 0.7)
		text.RecVariant = model.VariantHighContrast

		NewRunner([]Recognizer{text}).Run(context.Background(), testImages())

		img, ok := text.LastImage()
		require.True(t, ok)
		assert.Equal(t, model.VariantHighContrast, img.Variant)
	})

	t.Run("falls back to primary variant", func(t *testing.T) {
		text := NewMockRecognizer(model.RecognizerText, 0.7)
		text.RecVariant = model.VariantThumbnail

		NewRunner([]Recognizer{text}).Run(context.Background(), testImages())

		img, ok := text.LastImage()
		require.True(t, ok)
		assert.Equal(t, model.VariantPrimary, img.Variant)
	})

	t.Run("no usable variant", func(t *testing.T) {
		text := NewMockRecognizer(model.RecognizerText, 0.7)

		results := NewRunner([]Recognizer{text}).Run(context.Background(), nil)

		require.False(t, results[0].Succeeded())
		assert.Equal(t, 0, text.Calls())
	})

	t.Run("records metrics", func(t *testing.T) {
		collector := metrics.NewCollector()
		ok := NewMockRecognizer(model.RecognizerText, 0.7)
		failing := NewFailingRecognizer(model.RecognizerVision, model.FailureQuota)

		NewRunner([]Recognizer{ok, failing}, WithMetrics(collector)).Run(context.Background(), testImages())

		snap := collector.Snapshot()
		assert.Equal(t, int64(1), snap.Operations[metrics.OpTextRecognizer].Count)
		assert.Equal(t, int64(0), snap.Operations[metrics.OpTextRecognizer].Failures)
		assert.Equal(t, int64(1), snap.Operations[metrics.OpVisionRecognizer].Failures)
	})
}

type countingRecognizer struct {
	calls atomic.Int32
}

func (c *countingRecognizer) Kind() model.RecognizerKind  { return model.RecognizerText }
func (c *countingRecognizer) Variant() model.ImageVariant { return model.VariantPrimary }
func (c *countingRecognizer) Recognize(_ context.Context, _ model.NormalizedImage) model.RecognitionResult {
	c.calls.Add(1)
	return model.NewRecognitionSuccess(model.RecognizerText, "", nil, 0.5, 0)
}

func TestRunner_FillsLatency(t *testing.T) {
	rec := &countingRecognizer{}
	results := NewRunner([]Recognizer{rec}).Run(context.Background(), testImages())

	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Positive(t, results[0].Latency)
	assert.Equal(t, []model.RecognizerKind{model.RecognizerText}, NewRunner([]Recognizer{rec}).Recognizers())
}
