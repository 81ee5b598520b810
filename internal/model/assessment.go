// Package model holds the domain types shared by the scoring pipeline, the
// store, and the API.
package model

// Tier is an ordinal dropout-risk label.
type Tier string

const (
	TierMinimal  Tier = "Minimal"
	TierLow      Tier = "Low"
	TierModerate Tier = "Moderate"
	TierHigh     Tier = "High"
	TierVeryHigh Tier = "Very High"
)

// Tiers lists every tier from least to most severe.
var Tiers = []Tier{TierMinimal, TierLow, TierModerate, TierHigh, TierVeryHigh}

// Rank returns the severity rank of t (0 = Minimal), or -1 if t is unknown.
func (t Tier) Rank() int {
	for i, v := range Tiers {
		if v == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Attribution is one feature's signed contribution to a single prediction.
type Attribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"attribution"`
}

// Assessment is the scored result for one feature record.
type Assessment struct {
	Probability     float64       `json:"probability"`
	RiskTier        Tier          `json:"risk_tier"`
	Recommendations []string      `json:"recommendations"`
	Explanation     []Attribution `json:"explanation,omitempty"`
	PredictedClass  string        `json:"predicted_class,omitempty"`
	LowConfidence   bool          `json:"low_confidence,omitempty"`
	ModelVersion    string        `json:"model_version"`
}
