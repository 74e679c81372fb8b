package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/google/uuid"
)

// EnqueueReview opens a review ticket for a decision and returns its ID.
func (s *SQLiteStorage) EnqueueReview(ctx context.Context, decision *model.PaymentDecision, candidates []model.MatchCandidate, reason string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if decision == nil {
		return "", fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if err := validateString(reason, "reason"); err != nil {
		return "", err
	}

	encoded, err := marshalNullable(candidates, len(candidates) > 0)
	if err != nil {
		return "", fmt.Errorf("failed to encode review candidates: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_tickets (id, decision_id, content_hash, outcome, reason, status, candidates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, decision.ID, decision.ContentHash, string(decision.Outcome), reason,
		string(model.TicketOpen), encoded, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue review: %w", err)
	}
	return id, nil
}

// ListOpenTickets returns open review tickets, oldest first.
func (s *SQLiteStorage) ListOpenTickets(ctx context.Context) ([]model.ReviewTicket, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, content_hash, outcome, reason, status, candidates, created_at
		FROM review_tickets WHERE status = ? ORDER BY created_at, id`, string(model.TicketOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query review tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []model.ReviewTicket
	for rows.Next() {
		var (
			t               model.ReviewTicket
			outcome, status string
			candidates      sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.DecisionID, &t.ContentHash, &outcome, &t.Reason,
			&status, &candidates, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review ticket: %w", err)
		}
		t.Outcome = model.Outcome(outcome)
		t.Status = model.ReviewTicketStatus(status)
		if candidates.Valid {
			if err := json.Unmarshal([]byte(candidates.String), &t.Candidates); err != nil {
				return nil, fmt.Errorf("failed to decode review candidates: %w", err)
			}
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review tickets: %w", err)
	}
	return tickets, nil
}

// ResolveTicket closes an open review ticket.
func (s *SQLiteStorage) ResolveTicket(ctx context.Context, ticketID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(ticketID, "ticketID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE review_tickets SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(model.TicketResolved), time.Now().UTC(), ticketID, string(model.TicketOpen))
	if err != nil {
		return fmt.Errorf("failed to resolve ticket: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check resolve result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open ticket %s: %w", ticketID, common.ErrNotFound)
	}
	return nil
}
