package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/features"
	"github.com/sells-group/dropout-risk/internal/resilience"
)

// Artifact is the on-disk JSON form of a ForestBundle.
type Artifact struct {
	Version      string            `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	Features     []features.Column `json:"features"`
	Preprocessor Preprocessor      `json:"preprocessor"`
	Classifier   Forest            `json:"classifier"`
}

// ForestBundle is a Bundle backed by a Preprocessor and a Forest.
type ForestBundle struct {
	art   Artifact
	names []string
}

var (
	_ Bundle    = (*ForestBundle)(nil)
	_ Explainer = (*ForestBundle)(nil)
)

// New validates an artifact and wraps it as a ForestBundle. The artifact's
// feature list may be empty; ExpectedFeatures reports that per request.
func New(art Artifact) (*ForestBundle, error) {
	if err := art.Preprocessor.validate(); err != nil {
		return nil, err
	}
	if err := art.Classifier.validate(); err != nil {
		return nil, err
	}
	if w := art.Preprocessor.Width(); w != art.Classifier.NFeatures {
		return nil, eris.Errorf("bundle: preprocessor emits %d features, classifier expects %d", w, art.Classifier.NFeatures)
	}
	declared := make(map[string]bool, len(art.Features))
	for _, c := range art.Features {
		declared[c.Name] = true
	}
	if len(art.Features) > 0 {
		for _, c := range art.Preprocessor.Numeric {
			if !declared[c.Name] {
				return nil, eris.Errorf("bundle: numeric column %q is not a declared feature", c.Name)
			}
		}
		for _, c := range art.Preprocessor.Categorical {
			if !declared[c.Name] {
				return nil, eris.Errorf("bundle: categorical column %q is not a declared feature", c.Name)
			}
		}
	}
	return &ForestBundle{art: art, names: art.Preprocessor.OutputNames()}, nil
}

// Load reads and validates a bundle artifact. Failures are ModelUnavailable.
func Load(path string) (*ForestBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// A writer that replaces the file non-atomically leaves a short gap
		// where it does not exist.
		if errors.Is(err, fs.ErrNotExist) {
			err = resilience.Transient(err)
		}
		return nil, apperr.Wrap(err, apperr.ModelUnavailable, "read bundle %s", path)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		if truncated(err, data) {
			err = resilience.Transient(err)
		}
		return nil, apperr.Wrap(err, apperr.ModelUnavailable, "parse bundle %s", path)
	}
	if art.Version == "" {
		sum := sha256.Sum256(data)
		art.Version = hex.EncodeToString(sum[:])[:12]
	}

	b, err := New(art)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ModelUnavailable, "invalid bundle %s", path)
	}
	return b, nil
}

// truncated reports whether a decode error stopped at the end of the data,
// which is what a bundle caught mid-write looks like.
func truncated(err error, data []byte) bool {
	var syn *json.SyntaxError
	return errors.As(err, &syn) && syn.Offset >= int64(len(bytes.TrimSpace(data)))
}

// Save writes the bundle to path atomically: a temp file in the same
// directory is written and then renamed over the target.
func (b *ForestBundle) Save(path string) error {
	data, err := json.Marshal(b.art)
	if err != nil {
		return eris.Wrap(err, "bundle: marshal")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "bundle: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*.json")
	if err != nil {
		return eris.Wrap(err, "bundle: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "bundle: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "bundle: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "bundle: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "bundle: rename to %s", path)
	}
	return nil
}

// Artifact returns a copy of the bundle's artifact header and parameters.
func (b *ForestBundle) Artifact() Artifact {
	return b.art
}

func (b *ForestBundle) Version() string {
	return b.art.Version
}

func (b *ForestBundle) Classes() []string {
	out := make([]string, len(b.art.Classifier.Classes))
	copy(out, b.art.Classifier.Classes)
	return out
}

func (b *ForestBundle) ExpectedFeatures() ([]features.Column, error) {
	if len(b.art.Features) == 0 {
		return nil, apperr.New(apperr.MissingFeatureSchema, "bundle %s declares no input features", b.art.Version)
	}
	out := make([]features.Column, len(b.art.Features))
	copy(out, b.art.Features)
	return out, nil
}

func (b *ForestBundle) Transform(t *features.Table) ([][]float64, error) {
	if t == nil {
		return nil, eris.New("bundle: transform: nil table")
	}
	return b.art.Preprocessor.Transform(t)
}

func (b *ForestBundle) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != b.art.Classifier.NFeatures {
			return nil, eris.Errorf("bundle: predict: row %d has %d features, expected %d", i, len(row), b.art.Classifier.NFeatures)
		}
		out[i] = b.art.Classifier.predictRow(row)
	}
	return out, nil
}

func (b *ForestBundle) OutputFeatures() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

func (b *ForestBundle) Contributions(row []float64, class int) ([]float64, error) {
	if len(row) != b.art.Classifier.NFeatures {
		return nil, eris.Errorf("bundle: contributions: row has %d features, expected %d", len(row), b.art.Classifier.NFeatures)
	}
	if class < 0 || class >= len(b.art.Classifier.Classes) {
		return nil, eris.Errorf("bundle: contributions: class %d out of range", class)
	}
	return b.art.Classifier.contributions(row, class), nil
}

// Bias returns the expected class probability before any split, the baseline
// that Contributions are measured against.
func (b *ForestBundle) Bias(class int) float64 {
	return b.art.Classifier.bias(class)
}
