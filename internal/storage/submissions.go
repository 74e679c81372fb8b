package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/Veraticus/payproof/internal/fuzzy"
	"github.com/Veraticus/payproof/internal/model"
	"github.com/shopspring/decimal"
)

// windowSlack widens the SQL amount window so float rounding never excludes a
// row that the exact decimal check below would keep.
const windowSlack = 1e-6

const submissionColumns = `id, order_id, owner_id, expected_amount, currency,
	payment_reference, buyer_name, buyer_phone, status, created_at`

// FindByID returns the submission with the given ID.
func (s *SQLiteStorage) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// FindByReference returns submissions whose payment reference matches code,
// ignoring case and separators.
func (s *SQLiteStorage) FindByReference(ctx context.Context, code string) ([]model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	key := fuzzy.ReferenceKey(code)
	if key == "" {
		return nil, fmt.Errorf("%w: code", ErrEmptyString)
	}
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE reference_key = ? ORDER BY created_at`, key)
}

// FindByAmountWindow returns submissions in the given currency whose expected
// amount is within tolerance (a fraction of the expected amount) of amount.
func (s *SQLiteStorage) FindByAmountWindow(ctx context.Context, amount decimal.Decimal, currency string, tolerance float64) ([]model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(currency, "currency"); err != nil {
		return nil, err
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("tolerance must not be negative: %v", tolerance)
	}

	value, _ := amount.Float64()
	subs, err := s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE currency = ? AND ABS(expected_amount_value - ?) <= ? * expected_amount_value + ?
		ORDER BY ABS(expected_amount_value - ?)`,
		strings.ToUpper(currency), value, tolerance, windowSlack, value)
	if err != nil {
		return nil, err
	}

	tol := decimal.NewFromFloat(tolerance)
	out := subs[:0]
	for _, sub := range subs {
		if amount.Sub(sub.ExpectedAmount).Abs().LessThanOrEqual(sub.ExpectedAmount.Mul(tol)) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// buyerMinSimilarity is the lowest name similarity a buyer lookup keeps when
// the reading's tokens are not all present in the buyer name.
const buyerMinSimilarity = 0.6

// FindByBuyerIdentity returns submissions whose buyer phone equals nameOrPhone
// or whose buyer name fuzzily matches it. Rows sharing any name token are
// fetched, then kept when every token of the reading appears in the buyer name
// or the names are similar enough, so reordered names, initials and stray
// punctuation still find the submission.
func (s *SQLiteStorage) FindByBuyerIdentity(ctx context.Context, nameOrPhone string) ([]model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	needle := strings.TrimSpace(nameOrPhone)
	if err := validateString(needle, "nameOrPhone"); err != nil {
		return nil, err
	}

	clauses := []string{"buyer_phone = ?"}
	args := []any{needle}
	for _, token := range fuzzy.NameTokens(needle) {
		clauses = append(clauses, `LOWER(buyer_name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(token)+"%")
	}

	rows, err := s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE `+strings.Join(clauses, " OR ")+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, sub := range rows {
		if sub.BuyerPhone == needle ||
			fuzzy.TokensCovered(needle, sub.BuyerName) ||
			fuzzy.NameSimilarity(needle, sub.BuyerName) >= buyerMinSimilarity {
			out = append(out, sub)
		}
	}
	return out, nil
}

// escapeLike escapes the LIKE wildcards in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ApproveIfPending marks the submission paid if and only if it is still
// pending. The status guard and the update are one statement, so concurrent
// callers cannot both succeed.
func (s *SQLiteStorage) ApproveIfPending(ctx context.Context, submissionID, decisionID string, confidence float64) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(submissionID, "submissionID"); err != nil {
		return false, err
	}
	if err := validateString(decisionID, "decisionID"); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, approved_decision_id = ?, approved_confidence = ?, approved_at = ?
		WHERE id = ? AND status = ?`,
		model.SubmissionPaid, decisionID, confidence, time.Now().UTC(),
		submissionID, model.SubmissionPending)
	if err != nil {
		return false, fmt.Errorf("failed to approve submission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check approval result: %w", err)
	}
	if rows == 0 {
		s.logger.Debug("approval rejected, submission not pending",
			"submission_id", submissionID,
			"decision_id", decisionID)
	}
	return rows == 1, nil
}

// ImportSubmissions inserts or replaces submissions in a single transaction.
func (s *SQLiteStorage) ImportSubmissions(ctx context.Context, subs []model.Submission) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if subs == nil {
		return 0, fmt.Errorf("%w: submissions", ErrNilParameter)
	}
	for i := range subs {
		if subs[i].Status == "" {
			subs[i].Status = model.SubmissionPending
		}
		subs[i].Currency = strings.ToUpper(strings.TrimSpace(subs[i].Currency))
		if err := validateSubmission(&subs[i]); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submissions (id, order_id, owner_id, expected_amount, expected_amount_value,
			currency, payment_reference, reference_key, buyer_name, buyer_phone, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_id = excluded.order_id,
			owner_id = excluded.owner_id,
			expected_amount = excluded.expected_amount,
			expected_amount_value = excluded.expected_amount_value,
			currency = excluded.currency,
			payment_reference = excluded.payment_reference,
			reference_key = excluded.reference_key,
			buyer_name = excluded.buyer_name,
			buyer_phone = excluded.buyer_phone,
			status = excluded.status`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sub := range subs {
		created := sub.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		value, _ := sub.ExpectedAmount.Float64()
		if _, err := stmt.ExecContext(ctx,
			sub.ID, sub.OrderID, nullString(sub.OwnerID), sub.ExpectedAmount.String(), value,
			sub.Currency, nullString(sub.PaymentReference), nullString(fuzzy.ReferenceKey(sub.PaymentReference)),
			nullString(sub.BuyerName), nullString(sub.BuyerPhone), sub.Status, created,
		); err != nil {
			return 0, fmt.Errorf("failed to save submission %s: %w", sub.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit submissions: %w", err)
	}
	return len(subs), nil
}

// ListSubmissions returns submissions, optionally filtered by status.
func (s *SQLiteStorage) ListSubmissions(ctx context.Context, status model.SubmissionStatus) ([]model.Submission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if status == "" {
		return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY created_at, id`)
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE status = ? ORDER BY created_at, id`, status)
}

func (s *SQLiteStorage) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return subs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		sub                            model.Submission
		amount                         string
		owner, reference, buyer, phone sql.NullString
		status                         string
	)
	if err := row.Scan(&sub.ID, &sub.OrderID, &owner, &amount, &sub.Currency,
		&reference, &buyer, &phone, &status, &sub.CreatedAt); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid expected amount %q: %w", amount, err)
	}
	sub.ExpectedAmount = parsed
	sub.OwnerID = owner.String
	sub.PaymentReference = reference.String
	sub.BuyerName = buyer.String
	sub.BuyerPhone = phone.String
	sub.Status = model.SubmissionStatus(status)
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
