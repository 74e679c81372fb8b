// Package fuzzy normalizes and compares the free-text identifiers read off
// payment screenshots: buyer names and payment references. Storage lookups and
// match scoring share it so a value that finds a row also scores against it.
package fuzzy

import (
	"sort"
	"strings"
	"unicode"
)

// MinTokenLen is the shortest name token used for lookups. Initials are
// ignored.
const MinTokenLen = 2

// NormalizeName lower-cases a person name and reduces it to letters, digits
// and single spaces.
func NormalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
		default:
			space = true
		}
	}
	return b.String()
}

// NameTokens returns the normalized tokens of at least MinTokenLen runes.
func NameTokens(s string) []string {
	var out []string
	for _, p := range strings.Fields(NormalizeName(s)) {
		if len([]rune(p)) >= MinTokenLen {
			out = append(out, p)
		}
	}
	return out
}

// sortedTokens joins the tokens in sorted order, so "Dela Cruz, Juan" and
// "Juan Dela Cruz" compare equal.
func sortedTokens(s string) string {
	tokens := NameTokens(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// NameSimilarity scores two person names in [0,1].
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	return max(Dice(na, nb), Dice(sortedTokens(na), sortedTokens(nb)))
}

// TokensCovered reports whether every lookup token of needle is a token of name.
// A surname alone or a name with a dropped middle part is covered.
func TokensCovered(needle, name string) bool {
	want := NameTokens(needle)
	if len(want) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, t := range NameTokens(name) {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

// Dice compares the character bigrams of a and b.
func Dice(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	aPairs := bigrams(a)
	bPairs := bigrams(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	counts := make(map[string]int, len(bPairs))
	for _, p := range bPairs {
		counts[p]++
	}
	shared := 0
	for _, p := range aPairs {
		if counts[p] > 0 {
			shared++
			counts[p]--
		}
	}

	return float64(2*shared) / float64(len(aPairs)+len(bPairs))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

// ReferenceKey upper-cases a payment reference and drops everything but
// letters and digits.
func ReferenceKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r):
			return r
		case unicode.IsLetter(r):
			return unicode.ToUpper(r)
		default:
			return -1
		}
	}, s)
}
