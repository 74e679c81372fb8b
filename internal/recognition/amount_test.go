package recognition

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "1000", want: "1000"},
		{input: "1,000", want: "1000"},
		{input: "1,000.00", want: "1000"},
		{input: "1.234,56", want: "1234.56"},
		{input: "53.000", want: "53000"},
		{input: "1500.5", want: "1500.5"},
		{input: "1,234,567", want: "1234567"},
		{input: "₱ 2,500.75", want: "2500.75"},
		{input: "0.99", want: "0.99"},
		{input: "abc", wantErr: true},
		{input: "1,000.000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "PHP", NormalizeCurrency("₱"))
	assert.Equal(t, "PHP", NormalizeCurrency("php"))
	assert.Equal(t, "IDR", NormalizeCurrency("Rp"))
	assert.Equal(t, "USD", NormalizeCurrency("$"))
	assert.Equal(t, "CAD", NormalizeCurrency("cad"))
	assert.Equal(t, "", NormalizeCurrency(""))
	assert.Equal(t, "", NormalizeCurrency("pesos"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want model.FailureKind
		name string
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: model.FailureTimeout},
		{name: "malformed", err: fmt.Errorf("%w: bad json", ErrMalformed), want: model.FailureMalformed},
		{name: "quota", err: common.ErrQuota, want: model.FailureQuota},
		{name: "rate limit after retries", err: fmt.Errorf("%w after 3 attempts: %w", common.ErrMaxRetries, common.ErrRateLimit), want: model.FailureQuota},
		{name: "http 429", err: &common.StatusError{StatusCode: 429}, want: model.FailureQuota},
		{name: "http 503", err: &common.StatusError{StatusCode: 503}, want: model.FailureUnavailable},
		{name: "other", err: errors.New("connection refused"), want: model.FailureUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailed(t *testing.T) {
	result := Failed(model.RecognizerVision, common.ErrQuota, 0)

	assert.False(t, result.Succeeded())
	assert.Equal(t, model.FailureQuota, result.Failure.Kind)
	assert.Equal(t, model.RecognizerVision, result.Recognizer)
	assert.Zero(t, result.Confidence)
}
