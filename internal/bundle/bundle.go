// Package bundle loads, trains, and evaluates versioned model bundles: a fitted
// preprocessing transform paired with a fitted tree-ensemble classifier.
package bundle

import (
	"github.com/sells-group/dropout-risk/internal/features"
)

// Bundle is the capability set the scorer needs from a trained model.
// Implementations are immutable once constructed.
type Bundle interface {
	// Version identifies the artifact.
	Version() string
	// ExpectedFeatures returns the ordered input columns. It fails with
	// MissingFeatureSchema when the artifact carries no schema.
	ExpectedFeatures() ([]features.Column, error)
	// Transform turns an aligned table into the numeric model matrix.
	Transform(t *features.Table) ([][]float64, error)
	// PredictProba returns one class-probability vector per row, ordered
	// like Classes.
	PredictProba(x [][]float64) ([][]float64, error)
	// Classes returns the classifier's class labels.
	Classes() []string
}

// Explainer is implemented by bundles that can attribute a single prediction
// to their transformed features.
type Explainer interface {
	// OutputFeatures names the columns produced by Transform.
	OutputFeatures() []string
	// Contributions returns one additive attribution per output feature for
	// the given class on a single transformed row.
	Contributions(row []float64, class int) ([]float64, error)
}
