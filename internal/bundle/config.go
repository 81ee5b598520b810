package bundle

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/config"
)

// DefaultTrainConfig returns a config.TrainConfig with the forest
// hyperparameters the production model is trained with.
func DefaultTrainConfig() config.TrainConfig {
	return config.TrainConfig{
		Trees:           300,
		MaxDepth:        15,
		MinSamplesSplit: 4,
		MinSamplesLeaf:  2,
		Seed:            42,
		Workers:         4,
		LabelColumn:     "target",
		TestFraction:    0.2,
	}
}

// ValidateTrainConfig checks that a TrainConfig can drive a training run.
func ValidateTrainConfig(c config.TrainConfig) error {
	var errs []string

	if c.Trees <= 0 {
		errs = append(errs, "trees must be > 0")
	}
	if c.MaxDepth <= 0 {
		errs = append(errs, "max_depth must be > 0")
	}
	if c.MinSamplesSplit < 2 {
		errs = append(errs, "min_samples_split must be >= 2")
	}
	if c.MinSamplesLeaf < 1 {
		errs = append(errs, "min_samples_leaf must be >= 1")
	}
	if c.TestFraction < 0 || c.TestFraction >= 1 {
		errs = append(errs, fmt.Sprintf("test_fraction must be in [0, 1), got %.2f", c.TestFraction))
	}
	if strings.TrimSpace(c.LabelColumn) == "" {
		errs = append(errs, "label_column is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("bundle: train config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
