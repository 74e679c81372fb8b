// Package storage persists submissions, payment decisions and review tickets in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/payproof/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidStatus     = errors.New("invalid submission status")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidDecision   = errors.New("invalid decision")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateSubmission(s *model.Submission) error {
	if s == nil {
		return fmt.Errorf("%w: submission", ErrNilParameter)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: ID cannot be empty", ErrInvalidSubmission)
	}
	if strings.TrimSpace(s.OrderID) == "" {
		return fmt.Errorf("%w: submission %s has no order ID", ErrInvalidSubmission, s.ID)
	}
	if !s.ExpectedAmount.IsPositive() {
		return fmt.Errorf("%w: submission %s expected amount must be positive", ErrInvalidSubmission, s.ID)
	}
	if len(strings.TrimSpace(s.Currency)) != 3 {
		return fmt.Errorf("%w: submission %s currency must be a 3-letter code", ErrInvalidSubmission, s.ID)
	}
	return validateStatus(s.Status)
}

func validateStatus(status model.SubmissionStatus) error {
	switch status {
	case model.SubmissionPending, model.SubmissionPaid, model.SubmissionCancelled:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}

func validateDecision(d *model.PaymentDecision) error {
	if d == nil {
		return fmt.Errorf("%w: decision", ErrNilParameter)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: ID cannot be empty", ErrInvalidDecision)
	}
	if strings.TrimSpace(d.ContentHash) == "" {
		return fmt.Errorf("%w: decision %s has no content hash", ErrInvalidDecision, d.ID)
	}
	if !d.Outcome.IsTerminal() {
		return fmt.Errorf("%w: decision %s outcome %q is not terminal", ErrInvalidDecision, d.ID, d.Outcome)
	}
	return nil
}
