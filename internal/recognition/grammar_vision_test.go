package recognition

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVision(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		content := `{"is_payment_proof": true, "confidence": 0.88, "payments": [
			{"amount": "1,500.50", "currency": "php", "method": "GCash", "sender_name": " Maria Santos ",
			 "reference": "5012 345 678901", "timestamp": "2024-01-05T10:30:00Z", "confidence": 0.8}
		]}`

		facts, conf, err := ParseVision(content)

		require.NoError(t, err)
		assert.InDelta(t, 0.88, conf, 1e-9)
		require.Len(t, facts, 1)
		f := facts[0]
		assert.True(t, f.Amount.Equal(decimal.RequireFromString("1500.50")))
		assert.Equal(t, "PHP", f.Currency)
		assert.Equal(t, "GCash", f.Method)
		assert.Equal(t, "Maria Santos", f.SenderName)
		assert.Equal(t, "5012345678901", f.Reference)
		assert.InDelta(t, 0.8, f.Confidence, 1e-9)
		require.NotNil(t, f.Timestamp)
		assert.Equal(t, time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC), f.Timestamp.UTC())
	})

	t.Run("numeric amount and markdown fence", func(t *testing.T) {
		content := "```json\n{\"payments\": [{\"amount\": 1000, \"currency\": \"PHP\"}], \"confidence\": 0.9}\n```"

		facts, conf, err := ParseVision(content)

		require.NoError(t, err)
		assert.InDelta(t, 0.9, conf, 1e-9)
		require.Len(t, facts, 1)
		assert.True(t, facts[0].Amount.Equal(decimal.NewFromInt(1000)))
		assert.InDelta(t, 0.9, facts[0].Confidence, 1e-9, "falls back to document confidence")
	})

	t.Run("leading prose is tolerated", func(t *testing.T) {
		content := `Here is the result: {"payments": [{"amount": "250", "currency": "USD", "confidence": 0.7}]}`

		facts, conf, err := ParseVision(content)

		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.InDelta(t, 0.7, conf, 1e-9, "document confidence derived from facts")
	})

	t.Run("not a payment proof", func(t *testing.T) {
		facts, _, err := ParseVision(`{"is_payment_proof": false, "payments": [], "confidence": 0.95}`)

		require.NoError(t, err)
		assert.Empty(t, facts)
	})

	t.Run("skips unusable amounts", func(t *testing.T) {
		facts, _, err := ParseVision(`{"payments": [{"amount": null}, {"amount": "abc"}, {"amount": "0"}, {"amount": "99.5", "currency": "PHP"}]}`)

		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.True(t, facts[0].Amount.Equal(decimal.RequireFromString("99.5")))
	})

	t.Run("malformed", func(t *testing.T) {
		for _, content := range []string{"", "I cannot read this image", `{"payments": [}`} {
			_, _, err := ParseVision(content)
			require.Error(t, err, content)
			assert.True(t, errors.Is(err, ErrMalformed), content)
		}
	})
}
