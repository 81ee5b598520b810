package scorer

import (
	"sync"
	"time"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/features"
	"github.com/sells-group/dropout-risk/internal/model"
)

// fakeBundle is a scriptable Bundle and Explainer. Transform maps numeric
// cells through unchanged and categorical cells to 0.
type fakeBundle struct {
	version      string
	cols         []features.Column
	colsErr      error
	classes      []string
	proba        []float64
	transformErr error
	predictErr   error
	names        []string
	contrib      []float64
	contribErr   error

	mu        sync.Mutex
	lastTable *features.Table
}

func newFakeBundle(version string, p float64) *fakeBundle {
	return &fakeBundle{
		version: version,
		cols: []features.Column{
			{Name: "attendance", Kind: features.Numeric},
			{Name: "avg_score", Kind: features.Numeric},
			{Name: "gender", Kind: features.Categorical},
		},
		classes: []string{"Dropout", "Graduate"},
		proba:   []float64{p, 1 - p},
		names:   []string{"num__attendance", "num__avg_score", "cat__gender_F"},
		contrib: []float64{0.2, -0.35, 0.01},
	}
}

func (f *fakeBundle) Version() string   { return f.version }
func (f *fakeBundle) Classes() []string { return f.classes }

func (f *fakeBundle) ExpectedFeatures() ([]features.Column, error) {
	if f.colsErr != nil {
		return nil, f.colsErr
	}
	if len(f.cols) == 0 {
		return nil, apperr.New(apperr.MissingFeatureSchema, "bundle %s has no feature list", f.version)
	}
	return f.cols, nil
}

func (f *fakeBundle) Transform(t *features.Table) ([][]float64, error) {
	f.mu.Lock()
	f.lastTable = t
	f.mu.Unlock()
	if f.transformErr != nil {
		return nil, f.transformErr
	}
	out := make([][]float64, t.Len())
	for i, row := range t.Rows {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if !v.IsStr {
				out[i][j] = v.Num
			}
		}
	}
	return out, nil
}

func (f *fakeBundle) PredictProba(x [][]float64) ([][]float64, error) {
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = append([]float64(nil), f.proba...)
	}
	return out, nil
}

func (f *fakeBundle) OutputFeatures() []string { return f.names }

func (f *fakeBundle) Contributions(row []float64, class int) ([]float64, error) {
	if f.contribErr != nil {
		return nil, f.contribErr
	}
	return f.contrib, nil
}

func (f *fakeBundle) table() *features.Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTable
}

// plainBundle hides the Explainer capability of the wrapped bundle.
type plainBundle struct {
	bundle.Bundle
}

// recordingObserver counts scoring events.
type recordingObserver struct {
	mu          sync.Mutex
	predictions map[model.Tier]int
	lowConf     int
	errors      map[apperr.Kind]int
	latencies   int
	reloads     map[bool]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		predictions: make(map[model.Tier]int),
		errors:      make(map[apperr.Kind]int),
		reloads:     make(map[bool]int),
	}
}

func (o *recordingObserver) ObservePrediction(tier model.Tier, low bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.predictions[tier]++
	if low {
		o.lowConf++
	}
}

func (o *recordingObserver) ObserveError(kind apperr.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors[kind]++
}

func (o *recordingObserver) ObserveLatency(bool, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latencies++
}

func (o *recordingObserver) ObserveReload(ok bool, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reloads[ok]++
}
