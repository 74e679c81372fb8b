package recognition

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyAliases maps the prefixes and suffixes seen on wallet and bank
// receipts to ISO 4217 codes. Keys are upper-cased.
var currencyAliases = map[string]string{
	"₱":   "PHP",
	"PHP": "PHP",
	"P":   "PHP",
	"$":   "USD",
	"US$": "USD",
	"USD": "USD",
	"RP":  "IDR",
	"RP.": "IDR",
	"IDR": "IDR",
	"RM":  "MYR",
	"MYR": "MYR",
	"S$":  "SGD",
	"SGD": "SGD",
	"€":   "EUR",
	"EUR": "EUR",
	"£":   "GBP",
	"GBP": "GBP",
	"¥":   "JPY",
	"JPY": "JPY",
	"₩":   "KRW",
	"KRW": "KRW",
	"฿":   "THB",
	"THB": "THB",
	"₫":   "VND",
	"VND": "VND",
}

// NormalizeCurrency returns the ISO code for a currency symbol or code, or ""
// when it is not recognized.
func NormalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if code, ok := currencyAliases[s]; ok {
		return code
	}
	if len(s) == 3 && isAlpha(s) {
		return s
	}
	return ""
}

// ParseAmount parses a receipt amount, accepting both 1,234.56 and 1.234,56
// grouping conventions. A lone separator followed by exactly three digits is
// taken as a thousands separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, s)
	raw = strings.Trim(raw, ".,")
	if raw == "" {
		return decimal.Zero, fmt.Errorf("no digits in %q", s)
	}

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	var intPart, fracPart string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		sep := max(lastDot, lastComma)
		intPart, fracPart = raw[:sep], raw[sep+1:]
	case lastDot >= 0 || lastComma >= 0:
		sep := max(lastDot, lastComma)
		sepChar := raw[sep : sep+1]
		tail := raw[sep+1:]
		if strings.Count(raw, sepChar) == 1 && len(tail) != 3 {
			intPart, fracPart = raw[:sep], tail
		} else {
			intPart = raw
		}
	default:
		intPart = raw
	}

	intPart = digitsOnly(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return decimal.Zero, fmt.Errorf("too many fractional digits in %q", s)
	}

	value := intPart
	if fracPart != "" {
		value += "." + fracPart
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return amount, nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
