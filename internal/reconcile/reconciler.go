// Package reconcile merges the facts reported by independent recognizers into a
// deduplicated, confidence-ranked list of payment candidates. It performs no
// I/O.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
)

// Default tuning values.
const (
	DefaultConvergenceBonus      = 0.10
	DefaultMaxDistinctCandidates = 3
	DefaultSuggestThreshold      = 0.65
)

// Review causes reported by Reconcile.
const (
	CauseNone          = ""
	CauseNoFacts       = "no_facts"
	CauseContradictory = "contradictory"
	CauseLowConfidence = "low_confidence"
)

// Config tunes the reconciler.
type Config struct {
	ConvergenceBonus      float64
	MaxDistinctCandidates int
	SuggestThreshold      float64
}

// DefaultConfig returns the default reconciler tuning.
func DefaultConfig() Config {
	return Config{
		ConvergenceBonus:      DefaultConvergenceBonus,
		MaxDistinctCandidates: DefaultMaxDistinctCandidates,
		SuggestThreshold:      DefaultSuggestThreshold,
	}
}

// ReconciliationError reports inputs the reconciler cannot work with.
type ReconciliationError struct {
	Field  string
	Reason string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed: %s: %s", e.Field, e.Reason)
}

// Reconciliation is the reconciler's output for one run.
type Reconciliation struct {
	ReviewCause    string
	Candidates     []model.PaymentCandidate
	RequiresReview bool
}

// Reconciler merges recognition results into payment candidates.
type Reconciler struct {
	cfg Config
}

// New creates a reconciler, filling unset values from DefaultConfig.
func New(cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.ConvergenceBonus < 0 {
		cfg.ConvergenceBonus = 0
	}
	if cfg.MaxDistinctCandidates <= 0 {
		cfg.MaxDistinctCandidates = def.MaxDistinctCandidates
	}
	if cfg.SuggestThreshold <= 0 {
		cfg.SuggestThreshold = def.SuggestThreshold
	}
	return &Reconciler{cfg: cfg}
}

// dedupKey buckets amounts to the nearest whole currency unit, so 1500.99 and
// 1501 collapse while 1500 and 1501 stay distinct.
type dedupKey struct {
	currency string
	units    string
}

func keyFor(amount decimal.Decimal, currency string) dedupKey {
	return dedupKey{currency: currency, units: amount.Round(0).String()}
}

// entry accumulates every fact that landed on one key.
type entry struct {
	best       model.PaymentFact
	byKind     map[model.RecognizerKind]float64
	provenance []model.RecognizerKind
}

// Reconcile derives candidates from the successful results. Facts without a
// currency take hintCurrency; an unusable hint is a *ReconciliationError,
// which callers treat like zero candidates.
func (r *Reconciler) Reconcile(results []model.RecognitionResult, hintCurrency string) (Reconciliation, error) {
	hint := strings.ToUpper(strings.TrimSpace(hintCurrency))
	if hint != "" && !validCurrency(hint) {
		return Reconciliation{RequiresReview: true, ReviewCause: CauseNoFacts},
			&ReconciliationError{Field: "currency hint", Reason: fmt.Sprintf("%q is not an ISO 4217 code", hintCurrency)}
	}

	entries := make(map[dedupKey]*entry)
	var order []dedupKey

	for _, res := range results {
		if !res.Succeeded() {
			continue
		}
		for _, fact := range res.Facts {
			if !fact.Amount.IsPositive() {
				continue
			}
			fact.Currency = strings.ToUpper(strings.TrimSpace(fact.Currency))
			if fact.Currency == "" {
				fact.Currency = hint
			}
			if fact.Currency == "" {
				continue
			}
			fact.Confidence = clamp(fact.Confidence)

			key := keyFor(fact.Amount, fact.Currency)
			e, ok := entries[key]
			if !ok {
				e = &entry{best: fact, byKind: make(map[model.RecognizerKind]float64)}
				entries[key] = e
				order = append(order, key)
			}
			r.absorb(e, res.Recognizer, fact)
		}
	}

	candidates := make([]model.PaymentCandidate, 0, len(order))
	for _, key := range order {
		candidates = append(candidates, r.finalize(entries[key]))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	out := Reconciliation{Candidates: candidates}
	switch {
	case len(candidates) == 0:
		out.RequiresReview, out.ReviewCause = true, CauseNoFacts
	case len(candidates) > r.cfg.MaxDistinctCandidates:
		out.RequiresReview, out.ReviewCause = true, CauseContradictory
	case candidates[0].Confidence < r.cfg.SuggestThreshold:
		out.RequiresReview, out.ReviewCause = true, CauseLowConfidence
	}
	return out, nil
}

func (r *Reconciler) absorb(e *entry, kind model.RecognizerKind, fact model.PaymentFact) {
	if prev, seen := e.byKind[kind]; !seen {
		e.byKind[kind] = fact.Confidence
		e.provenance = append(e.provenance, kind)
	} else if fact.Confidence > prev {
		e.byKind[kind] = fact.Confidence
	}

	if fact.Confidence > e.best.Confidence {
		enrichFrom(&fact, e.best)
		e.best = fact
		return
	}
	enrichFrom(&e.best, fact)
}

// finalize turns an entry into a candidate. Agreement between recognizers
// scores the best single confidence plus the bonus, capped at 1.
func (r *Reconciler) finalize(e *entry) model.PaymentCandidate {
	conf := 0.0
	for _, c := range e.byKind {
		conf = max(conf, c)
	}
	if len(e.byKind) > 1 {
		conf = min(1.0, conf+r.cfg.ConvergenceBonus)
	}

	provenance := make([]model.RecognizerKind, len(e.provenance))
	copy(provenance, e.provenance)

	return model.PaymentCandidate{
		Amount:     e.best.Amount,
		Currency:   e.best.Currency,
		Method:     e.best.Method,
		SenderName: e.best.SenderName,
		Reference:  e.best.Reference,
		Timestamp:  e.best.Timestamp,
		Provenance: provenance,
		Confidence: conf,
	}
}

// enrichFrom fills dst's empty enrichments from src.
func enrichFrom(dst *model.PaymentFact, src model.PaymentFact) {
	if dst.Method == "" {
		dst.Method = src.Method
	}
	if dst.SenderName == "" {
		dst.SenderName = src.SenderName
	}
	if dst.Reference == "" {
		dst.Reference = src.Reference
	}
	if dst.Timestamp == nil {
		dst.Timestamp = src.Timestamp
	}
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
