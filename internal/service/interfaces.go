// Package service defines the contracts between the matching engine and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
)

// SubmissionStore is the external owner of group-order submissions. The engine
// only reads from it, except for the single guarded ApproveIfPending mutation.
type SubmissionStore interface {
	FindByID(ctx context.Context, id string) (*model.Submission, error)
	FindByReference(ctx context.Context, code string) ([]model.Submission, error)
	FindByAmountWindow(ctx context.Context, amount decimal.Decimal, currency string, tolerance float64) ([]model.Submission, error)
	FindByBuyerIdentity(ctx context.Context, nameOrPhone string) ([]model.Submission, error)

	// ApproveIfPending marks the submission paid if and only if it is still
	// pending. It reports false when another run already resolved it.
	ApproveIfPending(ctx context.Context, submissionID, decisionID string, confidence float64) (bool, error)
}

// DecisionStore persists one decision per image content hash for idempotency.
type DecisionStore interface {
	GetDecisionByHash(ctx context.Context, contentHash string) (*model.PaymentDecision, error)

	// SaveDecision stores the decision unless one already exists for its content
	// hash, and returns whichever decision is stored.
	SaveDecision(ctx context.Context, decision *model.PaymentDecision) (*model.PaymentDecision, error)
}

// ReviewQueue is the sink for decisions that need human adjudication.
type ReviewQueue interface {
	EnqueueReview(ctx context.Context, decision *model.PaymentDecision, candidates []model.MatchCandidate, reason string) (string, error)
}

// EventType names a notification emitted by the engine.
type EventType string

// Notification event types.
const (
	EventAutoApproved EventType = "payment.auto_approved"
	EventReviewNeeded EventType = "payment.review_needed"
)

// Event is a fire-and-forget notification about a finished run.
type Event struct {
	OccurredAt   time.Time `json:"occurred_at"`
	Type         EventType `json:"type"`
	DecisionID   string    `json:"decision_id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason"`
	TicketID     string    `json:"ticket_id,omitempty"`
	Confidence   float64   `json:"confidence"`
}

// Notifier delivers events to chat-bot senders. Implementations must not block
// the caller on delivery and must log rather than return delivery failures.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
