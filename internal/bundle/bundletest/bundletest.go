// Package bundletest builds small deterministic training sets and bundles
// for tests.
package bundletest

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/features"
)

// Disengaged and Engaged are the two canonical student profiles.
var (
	Disengaged = map[string]any{"attendance": 10, "avg_score": 15, "behavior_score": 1}
	Engaged    = map[string]any{"attendance": 99, "avg_score": 95, "behavior_score": 9}
)

// Students returns n labelled rows: half dropouts with low attendance,
// scores and behavior ratings, half graduates with high ones. Gender is
// random noise.
func Students(n int, seed uint64) []map[string]any {
	rng := rand.New(rand.NewPCG(seed, 7))
	between := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
	gender := func() string {
		if rng.IntN(2) == 0 {
			return "F"
		}
		return "M"
	}

	rows := make([]map[string]any, 0, n)
	for i := range n {
		if i%2 == 0 {
			rows = append(rows, map[string]any{
				"Attendance":     between(0, 45),
				"Avg Score":      between(0, 45),
				"Behavior Score": between(0, 4),
				"Gender":         gender(),
				"Target":         "Dropout",
			})
			continue
		}
		rows = append(rows, map[string]any{
			"Attendance":     between(70, 100),
			"Avg Score":      between(60, 100),
			"Behavior Score": between(6, 10),
			"Gender":         gender(),
			"Target":         "Graduate",
		})
	}
	return rows
}

// TrainConfig is a fast forest configuration for tests.
func TrainConfig() config.TrainConfig {
	cfg := bundle.DefaultTrainConfig()
	cfg.Trees = 25
	cfg.MaxDepth = 8
	cfg.Workers = 4
	return cfg
}

// Train fits a small forest on Students(n, 1).
func Train(t testing.TB, n int) *bundle.ForestBundle {
	t.Helper()
	norm := features.NewNormalizer(features.DefaultSchema())
	samples, err := bundle.PrepareSamples(norm, Students(n, 1), "Target")
	require.NoError(t, err)

	b, _, err := bundle.Train(context.Background(), TrainConfig(), norm.Schema(), samples)
	require.NoError(t, err)
	return b
}
