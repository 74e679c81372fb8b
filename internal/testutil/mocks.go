package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/service"
	"github.com/shopspring/decimal"
)

// MockSubmissionStore is an in-memory SubmissionStore with failure injection.
// ApproveIfPending is atomic, so it arbitrates concurrent approvals like the
// real store does.
type MockSubmissionStore struct {
	submissions map[string]model.Submission
	// Fail maps a method name (FindByID, FindByReference, FindByAmountWindow,
	// FindByBuyerIdentity, ApproveIfPending) to the error it returns.
	Fail map[string]error
	// ApproveDelay stalls ApproveIfPending before it commits. A context that
	// ends during the stall is reported after the commit lands, the way a
	// driver can surface a deadline for a write that already happened.
	ApproveDelay time.Duration
	calls        map[string]int
	approvals    []Approval
	mu           sync.Mutex
}

// Approval records one successful ApproveIfPending call.
type Approval struct {
	SubmissionID string
	DecisionID   string
	Confidence   float64
}

// NewMockSubmissionStore creates a store seeded with the given submissions.
func NewMockSubmissionStore(subs ...model.Submission) *MockSubmissionStore {
	m := &MockSubmissionStore{
		submissions: make(map[string]model.Submission),
		Fail:        make(map[string]error),
		calls:       make(map[string]int),
	}
	for _, s := range subs {
		if s.Status == "" {
			s.Status = model.SubmissionPending
		}
		m.submissions[s.ID] = s
	}
	return m
}

// FailAll makes every lookup method return err.
func (m *MockSubmissionStore) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range []string{"FindByID", "FindByReference", "FindByAmountWindow", "FindByBuyerIdentity"} {
		m.Fail[name] = err
	}
}

func (m *MockSubmissionStore) enter(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	return m.Fail[name]
}

// Calls returns how many times the named method was invoked.
func (m *MockSubmissionStore) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// Approvals returns the successful approvals in order.
func (m *MockSubmissionStore) Approvals() []Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Approval, len(m.approvals))
	copy(out, m.approvals)
	return out
}

// Get returns the current state of a submission.
func (m *MockSubmissionStore) Get(id string) (model.Submission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	return s, ok
}

// FindByID implements service.SubmissionStore.
func (m *MockSubmissionStore) FindByID(_ context.Context, id string) (*model.Submission, error) {
	if err := m.enter("FindByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	return &s, nil
}

// FindByReference implements service.SubmissionStore.
func (m *MockSubmissionStore) FindByReference(_ context.Context, code string) ([]model.Submission, error) {
	if err := m.enter("FindByReference"); err != nil {
		return nil, err
	}
	return m.filter(func(s model.Submission) bool {
		return s.PaymentReference != "" && strings.EqualFold(s.PaymentReference, code)
	}), nil
}

// FindByAmountWindow implements service.SubmissionStore.
func (m *MockSubmissionStore) FindByAmountWindow(_ context.Context, amount decimal.Decimal, currency string, tolerance float64) ([]model.Submission, error) {
	if err := m.enter("FindByAmountWindow"); err != nil {
		return nil, err
	}
	tol := decimal.NewFromFloat(tolerance)
	return m.filter(func(s model.Submission) bool {
		if !strings.EqualFold(s.Currency, currency) {
			return false
		}
		return amount.Sub(s.ExpectedAmount).Abs().LessThanOrEqual(s.ExpectedAmount.Mul(tol))
	}), nil
}

// FindByBuyerIdentity implements service.SubmissionStore.
func (m *MockSubmissionStore) FindByBuyerIdentity(_ context.Context, nameOrPhone string) ([]model.Submission, error) {
	if err := m.enter("FindByBuyerIdentity"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(nameOrPhone))
	return m.filter(func(s model.Submission) bool {
		return needle != "" && (strings.Contains(strings.ToLower(s.BuyerName), needle) || s.BuyerPhone == nameOrPhone)
	}), nil
}

// ApproveIfPending implements service.SubmissionStore.
func (m *MockSubmissionStore) ApproveIfPending(ctx context.Context, submissionID, decisionID string, confidence float64) (bool, error) {
	if err := m.enter("ApproveIfPending"); err != nil {
		return false, err
	}
	if m.ApproveDelay > 0 {
		time.Sleep(m.ApproveDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok || s.Status != model.SubmissionPending {
		return false, nil
	}
	s.Status = model.SubmissionPaid
	m.submissions[submissionID] = s
	m.approvals = append(m.approvals, Approval{SubmissionID: submissionID, DecisionID: decisionID, Confidence: confidence})
	return true, ctx.Err()
}

func (m *MockSubmissionStore) filter(keep func(model.Submission) bool) []model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Submission
	for _, s := range m.submissions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// MockDecisionStore is an in-memory DecisionStore keyed by content hash.
type MockDecisionStore struct {
	byHash  map[string]*model.PaymentDecision
	FailGet error
	FailSet error
	saves   int
	mu      sync.Mutex
}

// NewMockDecisionStore creates an empty decision store.
func NewMockDecisionStore() *MockDecisionStore {
	return &MockDecisionStore{byHash: make(map[string]*model.PaymentDecision)}
}

// GetDecisionByHash implements service.DecisionStore.
func (m *MockDecisionStore) GetDecisionByHash(_ context.Context, contentHash string) (*model.PaymentDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	d, ok := m.byHash[contentHash]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// SaveDecision implements service.DecisionStore.
func (m *MockDecisionStore) SaveDecision(_ context.Context, decision *model.PaymentDecision) (*model.PaymentDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSet != nil {
		return nil, m.FailSet
	}
	if existing, ok := m.byHash[decision.ContentHash]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *decision
	m.byHash[decision.ContentHash] = &cp
	m.saves++
	return decision, nil
}

// Saves returns how many decisions were stored.
func (m *MockDecisionStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// MockReviewQueue records enqueued tickets.
type MockReviewQueue struct {
	Fail    error
	tickets []model.ReviewTicket
	mu      sync.Mutex
}

// EnqueueReview implements service.ReviewQueue.
func (m *MockReviewQueue) EnqueueReview(_ context.Context, decision *model.PaymentDecision, candidates []model.MatchCandidate, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	id := fmt.Sprintf("ticket-%d", len(m.tickets)+1)
	m.tickets = append(m.tickets, model.ReviewTicket{
		ID:          id,
		DecisionID:  decision.ID,
		ContentHash: decision.ContentHash,
		Outcome:     decision.Outcome,
		Reason:      reason,
		Status:      model.TicketOpen,
		Candidates:  candidates,
	})
	return id, nil
}

// Tickets returns the enqueued tickets.
func (m *MockReviewQueue) Tickets() []model.ReviewTicket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReviewTicket, len(m.tickets))
	copy(out, m.tickets)
	return out
}

// MockNotifier records events.
type MockNotifier struct {
	events []service.Event
	mu     sync.Mutex
}

// Notify implements service.Notifier.
func (m *MockNotifier) Notify(_ context.Context, event service.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns the recorded events.
func (m *MockNotifier) Events() []service.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.Event, len(m.events))
	copy(out, m.events)
	return out
}
