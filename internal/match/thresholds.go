package match

import "github.com/Veraticus/payproof/internal/model"

// epsilon absorbs float error when thresholds are scaled, e.g. 0.92*100.
const epsilon = 1e-9

// Thresholds govern auto-approval and suggestion. All values are fractions in
// [0,1]; match scores are compared against them scaled by 100.
type Thresholds struct {
	// AutoApprove is the minimum match score fraction for auto-approval.
	AutoApprove float64
	// AutoApproveConfidence is the minimum extraction confidence for
	// auto-approval. It defaults to AutoApprove but is tuned independently.
	AutoApproveConfidence float64
	Suggest               float64
}

// DefaultThresholds returns the default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 0.92, AutoApproveConfidence: 0.92, Suggest: 0.65}
}

// Eligible reports whether a match may be auto-approved. The match score and
// the extraction confidence must each clear their bar; both bounds are
// inclusive.
func (t Thresholds) Eligible(mc model.MatchCandidate) bool {
	return mc.Score+epsilon >= t.AutoApprove*100 &&
		mc.Candidate.Confidence+epsilon >= t.AutoApproveConfidence
}

// Suggestible reports whether a match is strong enough to propose to a reviewer.
func (t Thresholds) Suggestible(mc model.MatchCandidate) bool {
	return mc.Score+epsilon >= t.Suggest*100
}
