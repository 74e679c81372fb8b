// Package match pairs payment candidates with outstanding submissions and
// scores each pairing.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/fuzzy"
	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Signal names recorded in match reasons.
const (
	SignalReference = "reference"
	SignalAmount    = "amount"
	SignalName      = "buyer_name"
	SignalCurrency  = "currency"
)

// Lookup paths into the submission store.
const (
	PathHint      = "hint"
	PathReference = "reference"
	PathAmount    = "amount_window"
	PathBuyer     = "buyer_identity"
)

// minPartialReference is the shortest reference that may score on containment.
const minPartialReference = 6

// Weights are the points each signal contributes when available.
type Weights struct {
	Reference float64
	Amount    float64
	Name      float64
	Currency  float64
}

// DefaultWeights favor reference and amount evidence.
func DefaultWeights() Weights {
	return Weights{Reference: 35, Amount: 40, Name: 15, Currency: 10}
}

// Config tunes the matcher.
type Config struct {
	Weights         Weights
	Thresholds      Thresholds
	LookupRetry     service.RetryOptions
	AmountTolerance float64
	TopN            int
	MaxParallel     int
}

// DefaultConfig returns the default matcher tuning.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		Thresholds:      DefaultThresholds(),
		AmountTolerance: 0.05,
		TopN:            5,
		MaxParallel:     8,
		LookupRetry: service.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

// MatchContext carries the caller's optional hints for one run.
type MatchContext struct {
	SubmissionID string
	OrderID      string
}

// MatchResult is the outcome of matching one run's candidates.
type MatchResult struct {
	Matches          []model.MatchCandidate
	LookupsAttempted int
	LookupsFailed    int
	StoreUnavailable bool
}

// Best returns the highest scoring match, if any.
func (r MatchResult) Best() (model.MatchCandidate, bool) {
	if len(r.Matches) == 0 {
		return model.MatchCandidate{}, false
	}
	return r.Matches[0], true
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the matcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// WithMetrics records lookup and match latency into the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Matcher) {
		m.metrics = c
	}
}

// Matcher scores payment candidates against submissions from the store.
type Matcher struct {
	store   service.SubmissionStore
	logger  *slog.Logger
	metrics *metrics.Collector
	cfg     Config
}

// New creates a matcher over the given store.
func New(store service.SubmissionStore, cfg Config, opts ...Option) *Matcher {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.LookupRetry.MaxAttempts <= 0 {
		cfg.LookupRetry = def.LookupRetry
	}

	m := &Matcher{store: store, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the thresholds the matcher was configured with.
func (m *Matcher) Thresholds() Thresholds {
	return m.cfg.Thresholds
}

// lookup is one store query issued for one candidate.
type lookup struct {
	err         error
	path        string
	submissions []model.Submission
	candidate   int
}

// Match gathers a submission pool for every candidate and scores each pair.
// A failed lookup path contributes nothing; if every attempted lookup fails
// the result is flagged StoreUnavailable.
func (m *Matcher) Match(ctx context.Context, candidates []model.PaymentCandidate, mctx MatchContext) MatchResult {
	start := time.Now()
	if len(candidates) == 0 {
		return MatchResult{}
	}

	lookups := m.planLookups(candidates, mctx)

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxParallel)
	for i := range lookups {
		g.Go(func() error {
			l := &lookups[i]
			l.submissions, l.err = m.runLookup(ctx, candidates, *l, mctx)
			return nil
		})
	}
	_ = g.Wait()

	result := MatchResult{LookupsAttempted: len(lookups)}
	pools := make([]map[string]model.Submission, len(candidates))
	for i := range pools {
		pools[i] = make(map[string]model.Submission)
	}

	var hinted []model.Submission
	for _, l := range lookups {
		if l.err != nil {
			result.LookupsFailed++
			m.logger.Warn("submission lookup failed",
				"path", l.path,
				"candidate", l.candidate,
				"error", l.err)
			continue
		}
		if l.path == PathHint {
			hinted = l.submissions
			continue
		}
		for _, s := range l.submissions {
			pools[l.candidate][s.ID] = s
		}
	}
	result.StoreUnavailable = result.LookupsAttempted > 0 && result.LookupsFailed == result.LookupsAttempted

	for i, c := range candidates {
		for _, s := range hinted {
			pools[i][s.ID] = s
		}
		for _, s := range pools[i] {
			if mctx.OrderID != "" && s.OrderID != mctx.OrderID {
				continue
			}
			result.Matches = append(result.Matches, m.Score(c, s))
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Submission.ID < b.Submission.ID
	})
	if len(result.Matches) > m.cfg.TopN {
		result.Matches = result.Matches[:m.cfg.TopN]
	}

	m.metrics.RecordTiming(metrics.OpMatch, time.Since(start), result.StoreUnavailable)
	m.logger.Debug("matched candidates",
		"candidates", len(candidates),
		"matches", len(result.Matches),
		"lookups", result.LookupsAttempted,
		"failed_lookups", result.LookupsFailed)

	return result
}

func (m *Matcher) planLookups(candidates []model.PaymentCandidate, mctx MatchContext) []lookup {
	var lookups []lookup
	if mctx.SubmissionID != "" {
		lookups = append(lookups, lookup{path: PathHint, candidate: -1})
	}
	for i, c := range candidates {
		if c.Reference != "" {
			lookups = append(lookups, lookup{path: PathReference, candidate: i})
		}
		lookups = append(lookups, lookup{path: PathAmount, candidate: i})
		if c.SenderName != "" {
			lookups = append(lookups, lookup{path: PathBuyer, candidate: i})
		}
	}
	return lookups
}

func (m *Matcher) runLookup(ctx context.Context, candidates []model.PaymentCandidate, l lookup, mctx MatchContext) ([]model.Submission, error) {
	start := time.Now()
	var out []model.Submission

	err := common.WithRetry(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.query(ctx, candidates, l, mctx)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		return nil
	}, m.cfg.LookupRetry)

	m.metrics.RecordTiming(metrics.OpStoreLookup, time.Since(start), err != nil)
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", l.path, err)
	}
	return out, nil
}

func (m *Matcher) query(ctx context.Context, candidates []model.PaymentCandidate, l lookup, mctx MatchContext) ([]model.Submission, error) {
	if l.path == PathHint {
		s, err := m.store.FindByID(ctx, mctx.SubmissionID)
		if err != nil || s == nil {
			return nil, err
		}
		return []model.Submission{*s}, nil
	}

	c := candidates[l.candidate]
	switch l.path {
	case PathReference:
		return m.store.FindByReference(ctx, c.Reference)
	case PathAmount:
		subs, err := m.store.FindByAmountWindow(ctx, c.Amount, c.Currency, m.cfg.AmountTolerance)
		if err != nil {
			return nil, err
		}
		kept := subs[:0]
		for _, s := range subs {
			if withinTolerance(c.Amount, s.ExpectedAmount, m.cfg.AmountTolerance) {
				kept = append(kept, s)
			}
		}
		return kept, nil
	case PathBuyer:
		return m.store.FindByBuyerIdentity(ctx, c.SenderName)
	default:
		return nil, fmt.Errorf("unknown lookup path %q", l.path)
	}
}

// withinTolerance reports |amount - expected| <= tolerance * expected.
func withinTolerance(amount, expected decimal.Decimal, tolerance float64) bool {
	if !expected.IsPositive() {
		return false
	}
	window := expected.Mul(decimal.NewFromFloat(tolerance))
	return amount.Sub(expected).Abs().LessThanOrEqual(window)
}

// Score computes the weighted evidence for one candidate/submission pair on a
// 0-100 scale over the signals available for the pair. A currency mismatch
// scores zero.
func (m *Matcher) Score(c model.PaymentCandidate, s model.Submission) model.MatchCandidate {
	mc := model.MatchCandidate{Candidate: c, Submission: s}
	w := m.cfg.Weights

	if !strings.EqualFold(c.Currency, s.Currency) {
		mc.Reasons = []model.MatchReason{{
			Signal: SignalCurrency,
			Detail: fmt.Sprintf("currency mismatch: %s vs %s", c.Currency, s.Currency),
		}}
		return mc
	}

	var earned, available float64

	available += w.Reference
	if pts, detail := referencePoints(c.Reference, s.PaymentReference, w.Reference); pts > 0 {
		earned += pts
		mc.Reasons = append(mc.Reasons, model.MatchReason{Signal: SignalReference, Detail: detail, Points: pts})
	}

	available += w.Amount
	if pts, detail := m.amountPoints(c.Amount, s.ExpectedAmount, w.Amount); pts > 0 {
		earned += pts
		mc.Reasons = append(mc.Reasons, model.MatchReason{Signal: SignalAmount, Detail: detail, Points: pts})
	}

	if c.SenderName != "" && s.BuyerName != "" {
		available += w.Name
		sim := fuzzy.NameSimilarity(c.SenderName, s.BuyerName)
		if pts := sim * w.Name; pts > 0 {
			earned += pts
			mc.Reasons = append(mc.Reasons, model.MatchReason{
				Signal: SignalName,
				Detail: fmt.Sprintf("buyer name similarity %.2f", sim),
				Points: pts,
			})
		}
	}

	available += w.Currency
	earned += w.Currency
	mc.Reasons = append(mc.Reasons, model.MatchReason{
		Signal: SignalCurrency,
		Detail: "currency " + strings.ToUpper(s.Currency),
		Points: w.Currency,
	})

	if available > 0 {
		mc.Score = 100 * earned / available
	}
	mc.Confidence = mc.Score / 100 * c.Confidence
	return mc
}

func referencePoints(candidateRef, submissionRef string, weight float64) (float64, string) {
	a, b := fuzzy.ReferenceKey(candidateRef), fuzzy.ReferenceKey(submissionRef)
	if a == "" || b == "" {
		return 0, ""
	}
	if a == b {
		return weight, "exact reference match"
	}
	shorter, longer := a, b
	if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
		shorter, longer = longer, shorter
	}
	if utf8.RuneCountInString(shorter) >= minPartialReference && strings.Contains(longer, shorter) {
		return weight / 2, "partial reference match"
	}
	return 0, ""
}

// amountPoints falls linearly from full weight at an exact amount to zero at
// the tolerance edge.
func (m *Matcher) amountPoints(amount, expected decimal.Decimal, weight float64) (float64, string) {
	if !expected.IsPositive() {
		return 0, ""
	}
	diff := amount.Sub(expected).Abs()
	if diff.IsZero() {
		return weight, "exact amount"
	}
	window := expected.Mul(decimal.NewFromFloat(m.cfg.AmountTolerance))
	if !window.IsPositive() || diff.GreaterThan(window) {
		return 0, ""
	}
	ratio := diff.Div(window).InexactFloat64()
	pts := weight * (1 - ratio)
	if pts <= 0 {
		return 0, ""
	}
	return pts, fmt.Sprintf("amount within %.1f%% of expected", 100*diff.Div(expected).InexactFloat64())
}
