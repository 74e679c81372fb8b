package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionStatus is the payment state of a group-order submission.
type SubmissionStatus string

// Submission status constants.
const (
	SubmissionPending   SubmissionStatus = "PENDING"
	SubmissionPaid      SubmissionStatus = "PAID"
	SubmissionCancelled SubmissionStatus = "CANCELLED"
)

// IsPaid reports whether the submission is already in a terminal paid state.
func (s SubmissionStatus) IsPaid() bool {
	return s == SubmissionPaid
}

// Submission is a buyer's outstanding payment obligation for a group-order slot.
type Submission struct {
	CreatedAt        time.Time        `json:"created_at"`
	ID               string           `json:"id"`
	OrderID          string           `json:"order_id"`
	OwnerID          string           `json:"owner_id,omitempty"`
	Currency         string           `json:"currency"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	BuyerName        string           `json:"buyer_name,omitempty"`
	BuyerPhone       string           `json:"buyer_phone,omitempty"`
	Status           SubmissionStatus `json:"status"`
	ExpectedAmount   decimal.Decimal  `json:"expected_amount"`
}
