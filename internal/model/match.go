package model

// MatchReason is one signal that contributed to a match score.
type MatchReason struct {
	Signal string  `json:"signal"`
	Detail string  `json:"detail,omitempty"`
	Points float64 `json:"points"`
}

// MatchCandidate pairs a payment candidate with a submission.
type MatchCandidate struct {
	Reasons    []MatchReason    `json:"reasons"`
	Submission Submission       `json:"submission"`
	Candidate  PaymentCandidate `json:"candidate"`
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
}

// ReasonSignals lists the signal names in contribution order.
func (m MatchCandidate) ReasonSignals() []string {
	signals := make([]string, len(m.Reasons))
	for i, r := range m.Reasons {
		signals[i] = r.Signal
	}
	return signals
}
