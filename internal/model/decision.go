// Package model defines the core domain models used throughout the application.
package model

import "time"

// RunState is a state of the decision state machine for one processing run.
type RunState string

// Run states. The last three are terminal.
const (
	StateNew           RunState = "NEW"
	StateExtracted     RunState = "EXTRACTED"
	StateMatched       RunState = "MATCHED"
	StateAutoApproved  RunState = "AUTO_APPROVED"
	StatePendingReview RunState = "PENDING_REVIEW"
	StateUnmatched     RunState = "UNMATCHED"
)

// IsTerminal reports whether no further transition is possible from the state.
func (s RunState) IsTerminal() bool {
	return s == StateAutoApproved || s == StatePendingReview || s == StateUnmatched
}

// Outcome is the terminal result of a run.
type Outcome = RunState

// Decision reasons recorded for audit.
const (
	ReasonAutoApproved       = "auto-approved"
	ReasonNoPaymentInfo      = "no payment information extracted"
	ReasonStoreUnavailable   = "store unavailable"
	ReasonAlreadyResolved    = "already resolved"
	ReasonProcessingTimeout  = "processing timeout"
	ReasonContradictory      = "contradictory payment information"
	ReasonLowConfidence      = "low extraction confidence"
	ReasonBelowAutoApprove   = "match below auto-approval threshold"
	ReasonNoMatch            = "no matching submission"
	ReasonApprovalFailed     = "approval failed"
	ReasonReconciliationFail = "payment information could not be reconciled"
	ReasonAmbiguousMatch     = "multiple submissions match equally"
)

// PaymentDecision is the final, never-revised outcome of one processing run.
type PaymentDecision struct {
	CreatedAt      time.Time          `json:"created_at"`
	Chosen         *MatchCandidate    `json:"chosen,omitempty"`
	ID             string             `json:"id"`
	ContentHash    string             `json:"content_hash"`
	Outcome        Outcome            `json:"outcome"`
	Reason         string             `json:"reason"`
	ReviewTicketID string             `json:"review_ticket_id,omitempty"`
	Matches        []MatchCandidate   `json:"matches,omitempty"`
	Candidates     []PaymentCandidate `json:"candidates,omitempty"`
}

// NeedsReview reports whether the decision is routed to a human.
func (d *PaymentDecision) NeedsReview() bool {
	return d.Outcome == StatePendingReview || d.Outcome == StateUnmatched
}

// ReviewTicketStatus tracks human adjudication of a ticket.
type ReviewTicketStatus string

// Review ticket statuses.
const (
	TicketOpen     ReviewTicketStatus = "OPEN"
	TicketResolved ReviewTicketStatus = "RESOLVED"
)

// ReviewTicket is a request for human adjudication of a decision.
type ReviewTicket struct {
	CreatedAt   time.Time          `json:"created_at"`
	ID          string             `json:"id"`
	DecisionID  string             `json:"decision_id"`
	ContentHash string             `json:"content_hash"`
	Outcome     Outcome            `json:"outcome"`
	Reason      string             `json:"reason"`
	Status      ReviewTicketStatus `json:"status"`
	Candidates  []MatchCandidate   `json:"candidates,omitempty"`
}
