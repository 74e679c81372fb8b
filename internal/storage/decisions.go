package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/model"
)

const decisionColumns = `id, content_hash, outcome, reason, review_ticket_id, chosen, matches, candidates, created_at`

// GetDecisionByHash returns the decision recorded for an image content hash.
func (s *SQLiteStorage) GetDecisionByHash(ctx context.Context, contentHash string) (*model.PaymentDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(contentHash, "contentHash"); err != nil {
		return nil, err
	}
	return s.getDecision(ctx, s.db, contentHash)
}

// SaveDecision stores the decision unless one already exists for its content
// hash, and returns whichever decision is stored.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, decision *model.PaymentDecision) (*model.PaymentDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateDecision(decision); err != nil {
		return nil, err
	}

	chosen, err := marshalNullable(decision.Chosen, decision.Chosen != nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chosen match: %w", err)
	}
	matches, err := marshalNullable(decision.Matches, len(decision.Matches) > 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode matches: %w", err)
	}
	candidates, err := marshalNullable(decision.Candidates, len(decision.Candidates) > 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	created := decision.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO payment_decisions (id, content_hash, outcome, reason, review_ticket_id, chosen, matches, candidates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		decision.ID, decision.ContentHash, string(decision.Outcome), decision.Reason,
		nullString(decision.ReviewTicketID), chosen, matches, candidates, created)
	if err != nil {
		return nil, fmt.Errorf("failed to save decision: %w", err)
	}

	stored, err := s.getDecision(ctx, tx, decision.ContentHash)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit decision: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		s.logger.Info("decision already recorded for content hash",
			"content_hash", decision.ContentHash,
			"kept_decision_id", stored.ID,
			"dropped_decision_id", decision.ID)
	}
	return stored, nil
}

// ListDecisions returns the most recent decisions, optionally filtered by outcome.
func (s *SQLiteStorage) ListDecisions(ctx context.Context, outcome model.Outcome, limit int) ([]model.PaymentDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + decisionColumns + ` FROM payment_decisions`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(outcome))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PaymentDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decisions: %w", err)
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStorage) getDecision(ctx context.Context, q queryRower, contentHash string) (*model.PaymentDecision, error) {
	row := q.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM payment_decisions WHERE content_hash = ?`, contentHash)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision for %s: %w", contentHash, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

func scanDecision(row scanner) (*model.PaymentDecision, error) {
	var (
		d                           model.PaymentDecision
		outcome                     string
		ticket                      sql.NullString
		chosen, matches, candidates sql.NullString
	)
	if err := row.Scan(&d.ID, &d.ContentHash, &outcome, &d.Reason, &ticket,
		&chosen, &matches, &candidates, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Outcome = model.Outcome(outcome)
	d.ReviewTicketID = ticket.String

	if chosen.Valid {
		d.Chosen = &model.MatchCandidate{}
		if err := json.Unmarshal([]byte(chosen.String), d.Chosen); err != nil {
			return nil, fmt.Errorf("failed to decode chosen match: %w", err)
		}
	}
	if matches.Valid {
		if err := json.Unmarshal([]byte(matches.String), &d.Matches); err != nil {
			return nil, fmt.Errorf("failed to decode matches: %w", err)
		}
	}
	if candidates.Valid {
		if err := json.Unmarshal([]byte(candidates.String), &d.Candidates); err != nil {
			return nil, fmt.Errorf("failed to decode candidates: %w", err)
		}
	}
	return &d, nil
}

func marshalNullable(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
