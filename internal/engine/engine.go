// Package engine turns a payment screenshot into a terminal payment decision:
// normalize, recognize, reconcile, match, then decide.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/match"
	"github.com/Veraticus/payproof/internal/metrics"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/normalize"
	"github.com/Veraticus/payproof/internal/recognition"
	"github.com/Veraticus/payproof/internal/reconcile"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrNilContext is returned when ProcessPaymentProof is called without a context.
var ErrNilContext = errors.New("context cannot be nil")

// ProofContext carries the optional caller hints for one proof.
type ProofContext struct {
	SubmissionID string
	OrderID      string
	Currency     string
}

// Config holds the engine's run limits.
type Config struct {
	RunTimeout        time.Duration
	SaveTimeout       time.Duration
	MaxConcurrentRuns int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RunTimeout:        90 * time.Second,
		SaveTimeout:       10 * time.Second,
		MaxConcurrentRuns: 8,
	}
}

// Deps are the engine's collaborators. Everything except Metrics and Logger
// is required; Notifier defaults to a no-op.
type Deps struct {
	Normalizer  *normalize.Normalizer
	Runner      *recognition.Runner
	Reconciler  *reconcile.Reconciler
	Matcher     *match.Matcher
	Submissions service.SubmissionStore
	Decisions   service.DecisionStore
	Review      service.ReviewQueue
	Notifier    service.Notifier
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Engine processes payment proofs. It is safe for concurrent use.
type Engine struct {
	normalizer  *normalize.Normalizer
	runner      *recognition.Runner
	reconciler  *reconcile.Reconciler
	matcher     *match.Matcher
	submissions service.SubmissionStore
	decisions   service.DecisionStore
	review      service.ReviewQueue
	notifier    service.Notifier
	metrics     *metrics.Collector
	logger      *slog.Logger
	sem         *semaphore.Weighted
	newID       func() string
	now         func() time.Time
	flight      singleflight.Group
	cfg         Config
}

// New creates an engine from its collaborators.
func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("%w: normalizer", common.ErrMissingConfig)
	case deps.Runner == nil:
		return nil, fmt.Errorf("%w: recognizer runner", common.ErrMissingConfig)
	case deps.Reconciler == nil:
		return nil, fmt.Errorf("%w: reconciler", common.ErrMissingConfig)
	case deps.Matcher == nil:
		return nil, fmt.Errorf("%w: matcher", common.ErrMissingConfig)
	case deps.Submissions == nil:
		return nil, fmt.Errorf("%w: submission store", common.ErrMissingConfig)
	case deps.Decisions == nil:
		return nil, fmt.Errorf("%w: decision store", common.ErrMissingConfig)
	case deps.Review == nil:
		return nil, fmt.Errorf("%w: review queue", common.ErrMissingConfig)
	}

	def := DefaultConfig()
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = def.MaxConcurrentRuns
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	return &Engine{
		normalizer:  deps.Normalizer,
		runner:      deps.Runner,
		reconciler:  deps.Reconciler,
		matcher:     deps.Matcher,
		submissions: deps.Submissions,
		decisions:   deps.Decisions,
		review:      deps.Review,
		notifier:    notifier,
		metrics:     deps.Metrics,
		logger:      logger,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		newID:       uuid.NewString,
		now:         time.Now,
		cfg:         cfg,
	}, nil
}

// ProcessPaymentProof runs one payment screenshot through the pipeline and
// returns its terminal decision. The only errors are a *normalize.ImageError
// for unusable uploads and a context error when ctx ends while waiting for a
// run slot; every other failure degrades into a PENDING_REVIEW decision.
//
// Once started, a run is detached from ctx and bounded only by RunTimeout, so
// a caller that goes away cannot turn the shared result into a timeout.
// A stored decision for the same image content is returned as-is, and
// concurrent calls for the same content share one run.
func (e *Engine) ProcessPaymentProof(ctx context.Context, image []byte, mimeType string, pc ProofContext) (*model.PaymentDecision, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a run slot: %w", err)
	}
	defer e.sem.Release(1)

	start := time.Now()
	images, err := e.normalizer.Normalize(image, mimeType)
	e.metrics.RecordTiming(metrics.OpNormalize, time.Since(start), err != nil)
	if err != nil {
		e.metrics.RecordOutcome("IMAGE_ERROR")
		e.logger.Info("payment proof rejected", "error", err)
		return nil, err
	}
	hash := images[0].ContentHash

	if stored, ok := e.storedDecision(ctx, hash); ok {
		return stored, nil
	}

	v, _, shared := e.flight.Do(hash, func() (any, error) {
		// A run that finished while this caller was normalizing.
		if stored, ok := e.storedDecision(ctx, hash); ok {
			return stored, nil
		}
		return e.run(ctx, hash, images, pc), nil
	})

	decision := v.(*model.PaymentDecision)
	if shared {
		cp := *decision
		decision = &cp
	}
	return decision, nil
}

func (e *Engine) storedDecision(ctx context.Context, hash string) (*model.PaymentDecision, bool) {
	stored, err := e.decisions.GetDecisionByHash(ctx, hash)
	switch {
	case err == nil && stored != nil:
		e.metrics.RecordOutcome("REPLAYED")
		e.logger.Debug("returning stored decision",
			"content_hash", hash,
			"decision_id", stored.ID,
			"outcome", stored.Outcome)
		return stored, true
	case err != nil && !errors.Is(err, common.ErrNotFound):
		e.logger.Warn("decision lookup failed, processing anew",
			"content_hash", hash,
			"error", err)
	}
	return nil, false
}

// run drives one proof through the state machine to a terminal decision.
func (e *Engine) run(ctx context.Context, hash string, images []model.NormalizedImage, pc ProofContext) *model.PaymentDecision {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RunTimeout)
	defer cancel()

	d := &model.PaymentDecision{ID: e.newID(), ContentHash: hash}
	logger := e.logger.With("decision_id", d.ID, "content_hash", hash)
	st := tracker{state: model.StateNew, logger: logger}

	results := e.runner.Run(runCtx, images)
	if runCtx.Err() != nil {
		return e.finish(ctx, d, e.timedOut(d), nil, start)
	}

	recon, reconErr := e.reconciler.Reconcile(results, pc.Currency)
	if reconErr != nil {
		logger.Warn("reconciliation failed", "error", reconErr)
		recon.Candidates = nil
	}
	d.Candidates = recon.Candidates
	st.to(model.StateExtracted, "candidates", len(recon.Candidates))

	var mr match.MatchResult
	if len(recon.Candidates) > 0 {
		mr = e.matcher.Match(runCtx, recon.Candidates, match.MatchContext{
			SubmissionID: pc.SubmissionID,
			OrderID:      pc.OrderID,
		})
	}
	d.Matches = mr.Matches
	if runCtx.Err() != nil {
		return e.finish(ctx, d, e.timedOut(d), mr.Matches, start)
	}
	st.to(model.StateMatched, "matches", len(mr.Matches))

	v := e.decide(recon, reconErr, mr)
	d.Outcome, d.Reason, d.Chosen = v.outcome, v.reason, v.chosen

	if v.approve {
		d.Outcome, d.Reason = e.approve(ctx, d, logger)
	}
	st.to(d.Outcome, "reason", d.Reason)

	return e.finish(ctx, d, d.Reason, mr.Matches, start)
}

// verdict is the engine's decision before the conditional approval.
type verdict struct {
	chosen  *model.MatchCandidate
	outcome model.Outcome
	reason  string
	approve bool
}

// decide maps reconciliation and matching results to an outcome. It performs
// no I/O; an approve verdict still has to win the store's conditional update.
func (e *Engine) decide(recon reconcile.Reconciliation, reconErr error, mr match.MatchResult) verdict {
	th := e.matcher.Thresholds()

	best, hasBest := mr.Best()
	var suggestion *model.MatchCandidate
	if hasBest && th.Suggestible(best) {
		suggestion = &best
	}

	review := func(reason string) verdict {
		return verdict{outcome: model.StatePendingReview, reason: reason, chosen: suggestion}
	}

	switch {
	case reconErr != nil:
		return review(model.ReasonReconciliationFail)
	case recon.RequiresReview:
		return review(reviewReason(recon.ReviewCause))
	case mr.StoreUnavailable:
		return review(model.ReasonStoreUnavailable)
	case suggestion == nil:
		return verdict{outcome: model.StateUnmatched, reason: model.ReasonNoMatch}
	case !th.Eligible(best):
		return review(model.ReasonBelowAutoApprove)
	case ambiguous(mr.Matches, th):
		return review(model.ReasonAmbiguousMatch)
	case best.Submission.Status.IsPaid():
		return review(model.ReasonAlreadyResolved)
	default:
		return verdict{outcome: model.StateAutoApproved, reason: model.ReasonAutoApproved, chosen: &best, approve: true}
	}
}

func reviewReason(cause string) string {
	switch cause {
	case reconcile.CauseContradictory:
		return model.ReasonContradictory
	case reconcile.CauseLowConfidence:
		return model.ReasonLowConfidence
	default:
		return model.ReasonNoPaymentInfo
	}
}

// ambiguous reports whether another submission ties the top match and is
// itself eligible.
func ambiguous(matches []model.MatchCandidate, th match.Thresholds) bool {
	if len(matches) < 2 {
		return false
	}
	top := matches[0]
	for _, m := range matches[1:] {
		if m.Submission.ID == top.Submission.ID {
			continue
		}
		return top.Score-m.Score < 1e-9 && th.Eligible(m)
	}
	return false
}

// approve performs the single guarded mutation. Losing the race is a normal
// outcome, recorded for audit. It runs on the detached save context: a run
// deadline firing mid-commit must not record a timeout for a submission this
// decision already paid.
func (e *Engine) approve(ctx context.Context, d *model.PaymentDecision, logger *slog.Logger) (model.Outcome, string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SaveTimeout)
	defer cancel()

	target := d.Chosen
	ok, err := e.submissions.ApproveIfPending(saveCtx, target.Submission.ID, d.ID, target.Confidence)
	switch {
	case err != nil:
		logger.Error("approval failed", "submission_id", target.Submission.ID, "error", err)
		return model.StatePendingReview, model.ReasonApprovalFailed
	case !ok:
		logger.Info("submission already resolved", "submission_id", target.Submission.ID)
		return model.StatePendingReview, model.ReasonAlreadyResolved
	default:
		return model.StateAutoApproved, model.ReasonAutoApproved
	}
}

func (e *Engine) timedOut(d *model.PaymentDecision) string {
	d.Outcome = model.StatePendingReview
	d.Reason = model.ReasonProcessingTimeout
	return d.Reason
}

// finish enqueues review, persists the decision and emits the notification.
// It runs on a context detached from the caller's so that a timed-out run
// still reaches storage.
func (e *Engine) finish(ctx context.Context, d *model.PaymentDecision, reason string, matches []model.MatchCandidate, start time.Time) *model.PaymentDecision {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SaveTimeout)
	defer cancel()

	d.CreatedAt = e.now().UTC()
	logger := e.logger.With("decision_id", d.ID, "content_hash", d.ContentHash)

	if d.NeedsReview() {
		ticketID, err := e.review.EnqueueReview(saveCtx, d, matches, reason)
		if err != nil {
			logger.Error("failed to enqueue review", "error", err)
		} else {
			d.ReviewTicketID = ticketID
		}
	}

	superseded := false
	stored, err := e.decisions.SaveDecision(saveCtx, d)
	switch {
	case err != nil:
		logger.Error("failed to save decision", "error", err)
	case stored.ID != d.ID:
		logger.Warn("another run recorded this image first", "kept_decision_id", stored.ID)
		d, superseded = stored, true
	}

	elapsed := time.Since(start)
	e.metrics.RecordTiming(metrics.OpRun, elapsed, d.Reason == model.ReasonProcessingTimeout)
	e.metrics.RecordOutcome(string(d.Outcome))

	logger.Info("payment proof decided",
		"outcome", d.Outcome,
		"reason", d.Reason,
		"ticket_id", d.ReviewTicketID,
		"duration", elapsed)

	if !superseded {
		e.notifier.Notify(saveCtx, eventFor(d))
	}
	return d
}

func eventFor(d *model.PaymentDecision) service.Event {
	ev := service.Event{
		OccurredAt: d.CreatedAt,
		Type:       service.EventReviewNeeded,
		DecisionID: d.ID,
		Outcome:    string(d.Outcome),
		Reason:     d.Reason,
		TicketID:   d.ReviewTicketID,
	}
	if d.Outcome == model.StateAutoApproved {
		ev.Type = service.EventAutoApproved
	}
	if d.Chosen != nil {
		ev.SubmissionID = d.Chosen.Submission.ID
		ev.OrderID = d.Chosen.Submission.OrderID
		ev.Confidence = d.Chosen.Confidence
	}
	return ev
}

// tracker logs state transitions of one run.
type tracker struct {
	logger *slog.Logger
	state  model.RunState
}

func (t *tracker) to(next model.RunState, args ...any) {
	t.logger.Debug("run transition", append([]any{"from", t.state, "to", next}, args...)...)
	t.state = next
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, service.Event) {}
