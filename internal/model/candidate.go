package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCandidate is a hypothesized payment fact after reconciliation.
type PaymentCandidate struct {
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	Currency   string           `json:"currency"`
	Method     string           `json:"method,omitempty"`
	SenderName string           `json:"sender_name,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Provenance []RecognizerKind `json:"provenance"`
	Confidence float64          `json:"confidence"`
}

// Converged reports whether more than one recognizer contributed to the candidate.
func (c PaymentCandidate) Converged() bool {
	return len(c.Provenance) > 1
}

// HasRecognizer reports whether the given recognizer contributed to the candidate.
func (c PaymentCandidate) HasRecognizer(kind RecognizerKind) bool {
	return slices.Contains(c.Provenance, kind)
}
