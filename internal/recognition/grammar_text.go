package recognition

import (
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
)

// Amount strengths. A labeled line is the strongest evidence that a number is
// the paid amount; a currency-prefixed number elsewhere on the receipt is weaker.
const (
	strengthLabeledWithCurrency = 1.0
	strengthLabeled             = 0.85
	strengthCurrencyOnly        = 0.7
)

const numberPattern = `(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

var (
	amountLabelRE = regexp.MustCompile(`(?i)^(?:total\s+amount(?:\s+(?:sent|paid|due|transferred))?|amount(?:\s+(?:sent|paid|transferred|due))?|total(?:\s+(?:paid|payment))?|you\s+(?:sent|paid)|transfer\s+amount|payment\s+amount|jumlah(?:\s+transfer)?|nominal)\b\s*[:\-]?\s*`)

	excludedAmountRE = regexp.MustCompile(`(?i)\b(?:fee|fees|charge|charges|balance|available|discount|cashback|points|change|tax|vat)\b`)

	prefixedMoneyRE = regexp.MustCompile(`(?i)(₱|\$|€|£|¥|₩|฿|₫|\b(?:us\$|s\$|php|usd|rp\.?|idr|rm|myr|sgd|eur|gbp|jpy|krw|thb|vnd|p))\s?` + numberPattern + `\b`)

	suffixedMoneyRE = regexp.MustCompile(`(?i)` + numberPattern + `\s?\b(php|usd|idr|myr|sgd|eur|gbp|jpy|krw|thb|vnd)\b`)

	bareNumberRE = regexp.MustCompile(`^` + numberPattern + `\b`)

	referenceLabelRE = regexp.MustCompile(`(?i)\b(?:ref(?:erence)?\.?\s*(?:no\.?|number|#|code|id)?|transaction\s*(?:id|no\.?|number|ref(?:erence)?)|trace\s*(?:no\.?|number)|confirmation\s*(?:no\.?|number|code)|txn\s*(?:id|no\.?))(?:\s*[:#.]\s*|\s+|$)`)

	referenceValueRE = regexp.MustCompile(`^[A-Za-z0-9]+(?:[ \-][0-9]+)*`)

	senderLabelRE = regexp.MustCompile(`(?i)^(?:from|sender(?:\s+name)?|sent\s+by|paid\s+by|account\s+name|payer)\b\s*[:\-]?\s*`)

	isoTimestampRE   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(?::\d{2})?`)
	namedDateRE      = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}(?:,?\s+\d{1,2}:\d{2}(?::\d{2})?\s*[ap]m)?`)
	slashDateRE      = regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/\d{4}(?:,?\s+\d{1,2}:\d{2}(?::\d{2})?(?:\s*[ap]m)?)?`)
	meridiemSpacerRE = regexp.MustCompile(`(?i)(\d)([ap]m)\b`)
	whitespaceRE     = regexp.MustCompile(`\s+`)
)

// paymentMethods is checked in order; wallets win over the rails they ride on.
var paymentMethods = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`(?i)\bg-?cash\b`), "GCash"},
	{regexp.MustCompile(`(?i)\b(?:pay)?maya\b`), "Maya"},
	{regexp.MustCompile(`(?i)\bshopee\s?pay\b`), "ShopeePay"},
	{regexp.MustCompile(`(?i)\bgrab\s?pay\b`), "GrabPay"},
	{regexp.MustCompile(`(?i)\bpaypal\b`), "PayPal"},
	{regexp.MustCompile(`(?i)\bwise\b`), "Wise"},
	{regexp.MustCompile(`(?i)\bbpi\b`), "BPI"},
	{regexp.MustCompile(`(?i)\bbdo\b`), "BDO"},
	{regexp.MustCompile(`(?i)\bunion\s?bank\b`), "UnionBank"},
	{regexp.MustCompile(`(?i)\bmetrobank\b`), "Metrobank"},
	{regexp.MustCompile(`(?i)\bland\s?bank\b`), "LandBank"},
	{regexp.MustCompile(`(?i)\bsecurity\s?bank\b`), "Security Bank"},
	{regexp.MustCompile(`(?i)\bsea\s?bank\b`), "SeaBank"},
	{regexp.MustCompile(`(?i)\binsta\s?pay\b`), "InstaPay"},
	{regexp.MustCompile(`(?i)\bpeso\s?net\b`), "PESONet"},
	{regexp.MustCompile(`(?i)\bbank\s+transfer\b`), "Bank Transfer"},
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"Jan 2 2006 3:04 PM",
	"Jan 2 2006 3:04:05 PM",
	"Jan 2 2006",
	"January 2 2006 3:04 PM",
	"January 2 2006 3:04:05 PM",
	"January 2 2006",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

// ParseText reads OCR text from a payment screenshot and returns one fact per
// distinct amount found. Method, sender, reference and timestamp are read once
// per document and attached to every fact. Each fact's confidence is
// baseConfidence scaled by how strongly the amount was marked as the payment.
func ParseText(text string, baseConfidence float64) []model.PaymentFact {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	method := findMethod(text)
	reference := findReference(lines)
	sender := findSender(lines)
	timestamp := findTimestamp(lines)

	var facts []model.PaymentFact
	add := func(amount decimal.Decimal, currency string, strength float64) {
		if !amount.IsPositive() {
			return
		}
		conf := baseConfidence * strength
		for i := range facts {
			if facts[i].Amount.Equal(amount) && facts[i].Currency == currency {
				facts[i].Confidence = max(facts[i].Confidence, conf)
				return
			}
		}
		facts = append(facts, model.PaymentFact{
			Amount:     amount,
			Currency:   currency,
			Method:     method,
			SenderName: sender,
			Reference:  reference,
			Timestamp:  timestamp,
			Confidence: conf,
		})
	}

	consumed := make(map[int]bool)
	for i, line := range lines {
		if consumed[i] || excludedAmountRE.MatchString(line) {
			continue
		}

		if loc := amountLabelRE.FindStringIndex(line); loc != nil {
			rest := line[loc[1]:]
			if rest == "" && i+1 < len(lines) && !amountLabelRE.MatchString(lines[i+1]) {
				rest = lines[i+1]
				consumed[i+1] = true
			}
			if amount, currency, ok := findMoney(rest); ok {
				add(amount, currency, strengthLabeledWithCurrency)
				continue
			}
			if m := bareNumberRE.FindStringSubmatch(rest); m != nil {
				if amount, err := ParseAmount(m[1]); err == nil {
					add(amount, "", strengthLabeled)
				}
			}
			continue
		}

		if amount, currency, ok := findMoney(line); ok {
			add(amount, currency, strengthCurrencyOnly)
		}
	}

	return facts
}

// findMoney returns the first currency-marked amount in s.
func findMoney(s string) (decimal.Decimal, string, bool) {
	if m := prefixedMoneyRE.FindStringSubmatch(s); m != nil {
		if amount, err := ParseAmount(m[2]); err == nil {
			return amount, NormalizeCurrency(m[1]), true
		}
	}
	if m := suffixedMoneyRE.FindStringSubmatch(s); m != nil {
		if amount, err := ParseAmount(m[1]); err == nil {
			return amount, NormalizeCurrency(m[2]), true
		}
	}
	return decimal.Zero, "", false
}

func findMethod(text string) string {
	for _, m := range paymentMethods {
		if m.pattern.MatchString(text) {
			return m.name
		}
	}
	return ""
}

func findReference(lines []string) string {
	for i, line := range lines {
		loc := referenceLabelRE.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if ref := referenceValue(line[loc[1]:]); ref != "" {
			return ref
		}
		if i+1 < len(lines) {
			if ref := referenceValue(lines[i+1]); ref != "" {
				return ref
			}
		}
	}
	return ""
}

// referenceValue accepts codes of at least six characters containing a digit,
// joining digit groups split by spaces or dashes.
func referenceValue(s string) string {
	raw := referenceValueRE.FindString(strings.TrimSpace(s))
	if raw == "" {
		return ""
	}
	ref := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(raw))
	if len(ref) < 6 || !strings.ContainsAny(ref, "0123456789") {
		return ""
	}
	return ref
}

func findSender(lines []string) string {
	for i, line := range lines {
		loc := senderLabelRE.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if name := cleanName(line[loc[1]:]); name != "" {
			return name
		}
		if i+1 < len(lines) {
			if name := cleanName(lines[i+1]); name != "" {
				return name
			}
		}
	}
	return ""
}

// cleanName drops masked phone and account tokens from a sender line.
func cleanName(s string) string {
	var words []string
	letters := 0
	for _, w := range strings.Fields(s) {
		if strings.ContainsAny(w, "0123456789*#@") {
			continue
		}
		w = strings.Trim(w, ",;:().")
		if w == "" {
			continue
		}
		for _, r := range w {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				letters++
			}
		}
		words = append(words, w)
	}
	if letters < 2 {
		return ""
	}
	return strings.Join(words, " ")
}

func findTimestamp(lines []string) *time.Time {
	for _, line := range lines {
		for _, re := range []*regexp.Regexp{isoTimestampRE, namedDateRE, slashDateRE} {
			raw := re.FindString(line)
			if raw == "" {
				continue
			}
			if ts, ok := parseTimestamp(raw); ok {
				return &ts
			}
		}
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, bool) {
	s := strings.NewReplacer(",", " ", ".", " ").Replace(raw)
	if isoTimestampRE.MatchString(raw) {
		s = raw
	}
	s = meridiemSpacerRE.ReplaceAllString(s, "$1 $2")
	s = strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
	s = strings.ToUpper(s)

	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(whitespaceRE.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
