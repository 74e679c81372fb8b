package recognition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
)

// VisionPrompt instructs a vision model to answer in the document shape that
// ParseVision reads.
const VisionPrompt = `You are reading a screenshot of a payment confirmation from a mobile wallet or bank app.
Extract every payment shown. Respond with ONLY a JSON object, no markdown, in this exact shape:
{"is_payment_proof": true, "confidence": 0.0, "payments": [{"amount": "1,000.00", "currency": "PHP", "method": "GCash", "sender_name": "", "reference": "", "timestamp": "2006-01-02T15:04:05", "confidence": 0.0}]}
Use ISO 4217 currency codes. Leave a field empty when it is not visible. Confidence values are between 0 and 1.
If the image is not a payment confirmation, set is_payment_proof to false and payments to [].`

// visionDocument is the JSON the vision model returns.
type visionDocument struct {
	IsPaymentProof *bool           `json:"is_payment_proof"`
	Payments       []visionPayment `json:"payments"`
	Confidence     float64         `json:"confidence"`
}

type visionPayment struct {
	Amount     flexibleAmount `json:"amount"`
	Currency   string         `json:"currency"`
	Method     string         `json:"method"`
	SenderName string         `json:"sender_name"`
	Reference  string         `json:"reference"`
	Timestamp  string         `json:"timestamp"`
	Confidence float64        `json:"confidence"`
}

// flexibleAmount accepts amounts written either as JSON numbers or strings.
type flexibleAmount struct {
	raw string
}

func (a *flexibleAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.raw = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	a.raw = n.String()
	return nil
}

// ParseVision reads the vision model's JSON answer. It returns the facts and the
// document-level confidence. A response that is not valid JSON in the expected
// shape returns an error wrapping ErrMalformed.
func ParseVision(content string) ([]model.PaymentFact, float64, error) {
	body := extractJSONObject(cleanMarkdownWrapper(content))
	if body == "" {
		return nil, 0, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}

	var doc visionDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	docConfidence := clampConfidence(doc.Confidence)
	if doc.IsPaymentProof != nil && !*doc.IsPaymentProof {
		return nil, docConfidence, nil
	}

	facts := make([]model.PaymentFact, 0, len(doc.Payments))
	for _, p := range doc.Payments {
		amount, ok := visionAmount(p.Amount.raw)
		if !ok {
			continue
		}

		conf := clampConfidence(p.Confidence)
		if conf == 0 {
			conf = docConfidence
		}

		fact := model.PaymentFact{
			Amount:     amount,
			Currency:   NormalizeCurrency(p.Currency),
			Method:     strings.TrimSpace(p.Method),
			SenderName: strings.TrimSpace(p.SenderName),
			Reference:  referenceValue(p.Reference),
			Confidence: conf,
		}
		if ts, ok := parseVisionTimestamp(p.Timestamp); ok {
			fact.Timestamp = &ts
		}
		facts = append(facts, fact)
	}

	if docConfidence == 0 {
		for _, f := range facts {
			docConfidence = max(docConfidence, f.Confidence)
		}
	}

	return facts, docConfidence, nil
}

func visionAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	// Plain JSON numbers never carry grouping separators.
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		if d, err := decimal.NewFromString(raw); err == nil && d.IsPositive() {
			return d, true
		}
	}
	d, err := ParseAmount(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func parseVisionTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	return parseTimestamp(raw)
}

// cleanMarkdownWrapper strips a ```json fence some models wrap around answers.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```JSON")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// extractJSONObject returns the outermost {...} span of s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
