package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecognizerKind names one of the independent extraction backends.
type RecognizerKind string

// Recognizer kinds.
const (
	RecognizerText   RecognizerKind = "text"
	RecognizerVision RecognizerKind = "vision"
)

// FailureKind classifies why a recognizer produced nothing usable.
type FailureKind string

// Failure kinds.
const (
	FailureTimeout     FailureKind = "timeout"
	FailureQuota       FailureKind = "quota"
	FailureMalformed   FailureKind = "malformed_response"
	FailureUnavailable FailureKind = "unavailable"
)

// RecognitionFailure describes a failed recognizer call.
type RecognitionFailure struct {
	Err  error
	Kind FailureKind
}

func (f *RecognitionFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("recognition %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("recognition %s", f.Kind)
}

func (f *RecognitionFailure) Unwrap() error {
	return f.Err
}

// PaymentFact is one payment observation in the shape every recognizer grammar
// produces. Amount and currency are the minimal unit; the rest are enrichments.
type PaymentFact struct {
	Timestamp  *time.Time
	Amount     decimal.Decimal
	Currency   string
	Method     string
	SenderName string
	Reference  string
	Confidence float64
}

// RecognitionResult is the immutable output of one recognizer call. Exactly one
// of the success fields or Failure is meaningful: a failed result always has
// zero confidence and no facts.
type RecognitionResult struct {
	Failure    *RecognitionFailure
	Recognizer RecognizerKind
	Text       string
	Facts      []PaymentFact
	Latency    time.Duration
	Confidence float64
}

// Succeeded reports whether the recognizer produced a usable result.
func (r RecognitionResult) Succeeded() bool {
	return r.Failure == nil
}

// NewRecognitionSuccess builds a successful result.
func NewRecognitionSuccess(kind RecognizerKind, text string, facts []PaymentFact, confidence float64, latency time.Duration) RecognitionResult {
	return RecognitionResult{
		Recognizer: kind,
		Text:       text,
		Facts:      facts,
		Confidence: clampUnit(confidence),
		Latency:    latency,
	}
}

// NewRecognitionFailure builds a failed result with zero confidence.
func NewRecognitionFailure(kind RecognizerKind, failureKind FailureKind, err error, latency time.Duration) RecognitionResult {
	return RecognitionResult{
		Recognizer: kind,
		Failure:    &RecognitionFailure{Kind: failureKind, Err: err},
		Latency:    latency,
	}
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
