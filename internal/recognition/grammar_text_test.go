package recognition

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gcashReceipt = `GCash
Sent via GCash
Amount
1,000.00
Total Amount Sent ₱1,000.00
From: Juan Dela Cruz 0917***1234
Ref No. 5012 345 678901 Jan 5, 2024 10:30 AM
`

func TestParseText_GCashReceipt(t *testing.T) {
	facts := ParseText(gcashReceipt, 0.9)

	require.Len(t, facts, 2)

	byCurrency := map[string]float64{}
	for _, f := range facts {
		assert.True(t, f.Amount.Equal(decimal.NewFromInt(1000)), "amount %s", f.Amount)
		assert.Equal(t, "GCash", f.Method)
		assert.Equal(t, "Juan Dela Cruz", f.SenderName)
		assert.Equal(t, "5012345678901", f.Reference)
		require.NotNil(t, f.Timestamp)
		assert.Equal(t, time.Date(2024, time.January, 5, 10, 30, 0, 0, time.UTC), *f.Timestamp)
		byCurrency[f.Currency] = f.Confidence
	}

	assert.InDelta(t, 0.9*strengthLabeled, byCurrency[""], 1e-9)
	assert.InDelta(t, 0.9*strengthLabeledWithCurrency, byCurrency["PHP"], 1e-9)
}

func TestParseText_Amounts(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantAmount   string
		wantCurrency string
		wantStrength float64
	}{
		{
			name:         "labeled with prefix",
			text:         "Amount Paid: PHP 2,500.50",
			wantAmount:   "2500.5",
			wantCurrency: "PHP",
			wantStrength: strengthLabeledWithCurrency,
		},
		{
			name:         "labeled bare number",
			text:         "You sent 750",
			wantAmount:   "750",
			wantCurrency: "",
			wantStrength: strengthLabeled,
		},
		{
			name:         "unlabeled currency prefix",
			text:         "Transfer successful\nUSD 45.00",
			wantAmount:   "45",
			wantCurrency: "USD",
			wantStrength: strengthCurrencyOnly,
		},
		{
			name:         "currency suffix",
			text:         "Paid 1,200.00 PHP",
			wantAmount:   "1200",
			wantCurrency: "PHP",
			wantStrength: strengthCurrencyOnly,
		},
		{
			name:         "rupiah with dot grouping",
			text:         "Jumlah Transfer Rp 53.000",
			wantAmount:   "53000",
			wantCurrency: "IDR",
			wantStrength: strengthLabeledWithCurrency,
		},
		{
			name:         "label on its own line",
			text:         "Amount\nP 300.00",
			wantAmount:   "300",
			wantCurrency: "PHP",
			wantStrength: strengthLabeledWithCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := ParseText(tt.text, 1.0)
			require.Len(t, facts, 1)
			assert.True(t, facts[0].Amount.Equal(decimal.RequireFromString(tt.wantAmount)), "amount %s", facts[0].Amount)
			assert.Equal(t, tt.wantCurrency, facts[0].Currency)
			assert.InDelta(t, tt.wantStrength, facts[0].Confidence, 1e-9)
		})
	}
}

func TestParseText_IgnoresFeesAndBalances(t *testing.T) {
	text := `Amount ₱500.00
Transaction Fee ₱15.00
Available Balance ₱12,345.67`

	facts := ParseText(text, 1.0)

	require.Len(t, facts, 1)
	assert.True(t, facts[0].Amount.Equal(decimal.NewFromInt(500)))
}

func TestParseText_NoPaymentInfo(t *testing.T) {
	assert.Empty(t, ParseText("", 0.9))
	assert.Empty(t, ParseText("Hello there\nsee you at 5", 0.9))
}

func TestParseText_Reference(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"reference label", "Reference: ABC123456", "ABC123456"},
		{"transaction id next line", "Transaction ID\nTX-998877", "TX998877"},
		{"hash label", "Ref#778899", "778899"},
		{"too short", "Ref No. 123", ""},
		{"refund is not a label", "Refund 123456", ""},
		{"trace number", "Trace No: 445566", "445566"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findReference(splitLines(tt.text)))
		})
	}
}

func TestParseText_Method(t *testing.T) {
	assert.Equal(t, "GCash", findMethod("Sent via GCash"))
	assert.Equal(t, "BPI", findMethod("BPI Online via InstaPay"))
	assert.Equal(t, "InstaPay", findMethod("InstaPay transfer"))
	assert.Equal(t, "", findMethod("cash on delivery"))
}

func TestParseText_Timestamps(t *testing.T) {
	tests := []struct {
		line string
		want time.Time
	}{
		{"2024-03-01 14:05:09", time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)},
		{"Mar 1, 2024 2:05PM", time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)},
		{"March 1, 2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"3/1/2024 14:05", time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ts := findTimestamp([]string{tt.line})
			require.NotNil(t, ts)
			assert.Equal(t, tt.want, *ts)
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Juan Dela Cruz 0917***1234", want: "Juan Dela Cruz"},
		{in: "JUAN DELA CRUZ.", want: "JUAN DELA CRUZ"},
		{in: "Juan D. Cruz", want: "Juan D Cruz"},
		{in: "(Maria Santos),", want: "Maria Santos"},
		{in: "*** 1234", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanName(tt.in))
		})
	}
}
