package scorer

import (
	"math"
	"strings"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/model"
)

// RecommendationDelimiter separates the action phrases of a band's advice.
const RecommendationDelimiter = " – "

// Band is one row of the threshold table. A probability belongs to the
// first band whose Floor it reaches.
type Band struct {
	Floor  float64
	Tier   model.Tier
	Advice string
}

// bands is the single source of truth for both tiers and recommendations,
// ordered from most to least severe.
var bands = []Band{
	{0.85, model.TierVeryHigh, "Very high dropout risk – initiate immediate intensive counseling and academic intervention."},
	{0.70, model.TierHigh, "High dropout risk – schedule counseling soon and begin close academic monitoring."},
	{0.50, model.TierModerate, "Moderate risk – monitor progress, provide academic support, and check in regularly."},
	{0.30, model.TierLow, "Low risk – encourage continued effort and perform periodic check-ins."},
	{0, model.TierMinimal, "Minimal risk – maintain regular support and positive reinforcement."},
}

const (
	invalidScoreAdvice = "Invalid score provided – unable to generate recommendation."
	outOfRangeAdvice   = "Score out of range (expected 0-1) – unable to generate recommendation."
)

// Bands returns a copy of the threshold table.
func Bands() []Band {
	out := make([]Band, len(bands))
	copy(out, bands)
	return out
}

func bandFor(p float64) (Band, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return Band{}, apperr.New(apperr.InvalidScore, "probability %v is not a number", p)
	}
	if p < 0 || p > 1 {
		return Band{}, apperr.New(apperr.InvalidScore, "probability %v is outside [0, 1]", p)
	}
	for _, b := range bands {
		if p >= b.Floor {
			return b, nil
		}
	}
	return bands[len(bands)-1], nil
}

// RiskTier maps a probability to its tier. Bounds are closed below, so 0.85
// is Very High and 0.8499 is High. It fails with InvalidScore rather than
// clamping.
func RiskTier(p float64) (model.Tier, error) {
	b, err := bandFor(p)
	if err != nil {
		return "", err
	}
	return b.Tier, nil
}

// Recommendations returns the advice for p split into action phrases.
// Invalid input yields a sentinel message instead of an error.
func Recommendations(p float64) []string {
	b, err := bandFor(p)
	if err != nil {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return splitAdvice(invalidScoreAdvice)
		}
		return splitAdvice(outOfRangeAdvice)
	}
	return splitAdvice(b.Advice)
}

func splitAdvice(s string) []string {
	parts := strings.Split(s, RecommendationDelimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
