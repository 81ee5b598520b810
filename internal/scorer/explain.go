package scorer

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/model"
)

// TopK is the number of attributions an explanation keeps.
const TopK = 5

// Explain attributes one transformed row's class probability to the
// bundle's output features. It returns the TopK entries by descending
// absolute value, rounded to 3 decimals. Bundles that cannot explain, and
// any attribution failure, yield an empty explanation.
func Explain(b bundle.Bundle, row []float64, class int) []model.Attribution {
	ex, ok := b.(bundle.Explainer)
	if !ok {
		zap.L().Debug("scorer: bundle does not support explanations", zap.String("version", b.Version()))
		return []model.Attribution{}
	}

	names := ex.OutputFeatures()
	values, err := ex.Contributions(row, class)
	if err != nil {
		zap.L().Debug("scorer: explanation failed", zap.String("version", b.Version()), zap.Error(err))
		return []model.Attribution{}
	}
	if len(values) != len(names) {
		zap.L().Debug("scorer: explanation shape mismatch",
			zap.String("version", b.Version()),
			zap.Int("names", len(names)),
			zap.Int("values", len(values)),
		)
		return []model.Attribution{}
	}
	return rankAttributions(names, values, TopK)
}

// rankAttributions orders by |value| descending, breaking ties by name.
func rankAttributions(names []string, values []float64, k int) []model.Attribution {
	out := make([]model.Attribution, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, model.Attribution{Feature: names[i], Value: v})
	}

	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Value), math.Abs(out[j].Value)
		if ai != aj {
			return ai > aj
		}
		return out[i].Feature < out[j].Feature
	})

	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Value = round3(out[i].Value)
	}
	return out
}

func round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}
