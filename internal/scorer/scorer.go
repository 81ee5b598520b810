// Package scorer turns normalized student records into dropout-risk
// assessments against the active model bundle.
package scorer

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/features"
	"github.com/sells-group/dropout-risk/internal/model"
)

// atRiskLabels are the class labels, lower-cased, that mean "at risk".
var atRiskLabels = map[string]bool{
	"dropout": true,
	"at risk": true,
	"at_risk": true,
	"1":       true,
	"true":    true,
}

// lowConfidenceProbability is reported when the bundle has no at-risk class
// or returns a non-finite probability.
const lowConfidenceProbability = 0.5

// Observer receives scoring events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObservePrediction(tier model.Tier, lowConfidence bool)
	ObserveError(kind apperr.Kind)
	ObserveLatency(batch bool, d time.Duration)
	ObserveReload(ok bool, version string)
}

type nopObserver struct{}

func (nopObserver) ObservePrediction(model.Tier, bool) {}
func (nopObserver) ObserveError(apperr.Kind)           {}
func (nopObserver) ObserveLatency(bool, time.Duration) {}
func (nopObserver) ObserveReload(bool, string)         {}

// LoadFunc loads a bundle from a path.
type LoadFunc func(path string) (bundle.Bundle, error)

func loadForest(path string) (bundle.Bundle, error) {
	return bundle.Load(path)
}

// loaded pairs a bundle with its metadata. A loaded value is never mutated
// after it is published.
type loaded struct {
	bundle  bundle.Bundle
	version model.ModelVersion
}

// Result holds the outcome of Score. Exactly one of Single and Batch is set.
type Result struct {
	Single *model.Assessment
	Batch  []model.Assessment
}

// Scorer scores records against the active bundle. Readers load the active
// bundle once per call, so a concurrent reload never mixes bundles within a
// request.
type Scorer struct {
	active   atomic.Pointer[loaded]
	norm     *features.Normalizer
	load     LoadFunc
	observer Observer

	// mu serializes reloads and retrains.
	mu sync.Mutex
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(s *Scorer) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLoader replaces the bundle loader used by Reload.
func WithLoader(fn LoadFunc) Option {
	return func(s *Scorer) {
		if fn != nil {
			s.load = fn
		}
	}
}

// New creates a Scorer with no active bundle.
func New(norm *features.Normalizer, opts ...Option) *Scorer {
	if norm == nil {
		norm = features.NewNormalizer(features.DefaultSchema())
	}
	s := &Scorer{
		norm:     norm,
		load:     loadForest,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalizer returns the scorer's normalizer.
func (s *Scorer) Normalizer() *features.Normalizer {
	return s.norm
}

// Swap publishes b as the active bundle and returns its metadata.
func (s *Scorer) Swap(b bundle.Bundle, path string) model.ModelVersion {
	mv := model.ModelVersion{
		Version:  b.Version(),
		Path:     path,
		Classes:  b.Classes(),
		LoadedAt: time.Now().UTC(),
	}
	if cols, err := b.ExpectedFeatures(); err == nil {
		mv.Features = len(cols)
	}
	s.active.Store(&loaded{bundle: b, version: mv})
	return mv
}

// Active returns the metadata of the active bundle. ok is false when no
// bundle is loaded.
func (s *Scorer) Active() (model.ModelVersion, bool) {
	cur := s.active.Load()
	if cur == nil {
		return model.ModelVersion{}, false
	}
	return cur.version, true
}

// Reload loads the bundle at path and swaps it in. On failure the previous
// bundle stays active and the error is ModelUnavailable.
func (s *Scorer) Reload(ctx context.Context, path string) (model.ModelVersion, error) {
	if err := ctx.Err(); err != nil {
		return model.ModelVersion{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.load(path)
	if err != nil {
		s.observer.ObserveReload(false, "")
		if !apperr.Is(err, apperr.ModelUnavailable) {
			err = apperr.Wrap(err, apperr.ModelUnavailable, "load bundle %s", path)
		}
		zap.L().Error("scorer: model reload failed, keeping previous bundle",
			zap.String("path", path),
			zap.Error(err),
		)
		return model.ModelVersion{}, err
	}

	mv := s.Swap(b, path)
	s.observer.ObserveReload(true, mv.Version)
	zap.L().Info("scorer: model loaded",
		zap.String("version", mv.Version),
		zap.String("path", path),
		zap.Int("features", mv.Features),
		zap.Strings("classes", mv.Classes),
	)
	return mv, nil
}

// Score accepts a single mapping or a list of mappings. A mapping yields
// Result.Single with an explanation; a list yields Result.Batch with one
// assessment per item and no explanations.
func (s *Scorer) Score(ctx context.Context, input any) (*Result, error) {
	start := time.Now()
	recs, batch, err := s.norm.NormalizeInput(input)
	if err != nil {
		s.observer.ObserveError(apperr.KindOf(err))
		return nil, err
	}

	out, err := s.assess(ctx, recs, !batch)
	s.observer.ObserveLatency(batch, time.Since(start))
	if err != nil {
		return nil, err
	}

	if batch {
		return &Result{Batch: out}, nil
	}
	return &Result{Single: &out[0]}, nil
}

// ScoreRecord scores one raw record with an explanation.
func (s *Scorer) ScoreRecord(ctx context.Context, raw map[string]any) (*model.Assessment, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	res, err := s.Score(ctx, raw)
	if err != nil {
		return nil, err
	}
	return res.Single, nil
}

// ScoreBatch scores many raw records. The result has one assessment per
// input row, in order.
func (s *Scorer) ScoreBatch(ctx context.Context, raws []map[string]any) ([]model.Assessment, error) {
	res, err := s.Score(ctx, raws)
	if err != nil {
		return nil, err
	}
	return res.Batch, nil
}

func (s *Scorer) assess(ctx context.Context, recs []features.Record, explain bool) ([]model.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cur := s.active.Load()
	if cur == nil {
		return nil, s.fail(apperr.New(apperr.ModelUnavailable, "no model bundle is loaded"))
	}
	b := cur.bundle

	cols, err := b.ExpectedFeatures()
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(err, apperr.MissingFeatureSchema, "bundle %s exposes no feature schema", b.Version())
		}
		zap.L().Error("scorer: bundle has no feature schema", zap.String("version", b.Version()), zap.Error(err))
		return nil, s.fail(err)
	}

	table, err := features.Align(recs, cols)
	if err != nil {
		return nil, s.fail(err)
	}

	x, err := b.Transform(table)
	if err != nil {
		return nil, s.inferenceFailed(err, "transform", table, b)
	}
	proba, err := b.PredictProba(x)
	if err != nil {
		return nil, s.inferenceFailed(err, "predict", table, b)
	}
	if len(proba) != len(recs) {
		return nil, s.inferenceFailed(
			apperr.New(apperr.InferenceError, "bundle returned %d predictions for %d rows", len(proba), len(recs)),
			"predict", table, b)
	}

	classes := b.Classes()
	atRisk := atRiskIndex(classes)
	if atRisk < 0 {
		zap.L().Warn("scorer: bundle has no at-risk class, reporting low confidence",
			zap.String("version", b.Version()),
			zap.Strings("classes", classes),
		)
	}

	out := make([]model.Assessment, len(proba))
	for i, row := range proba {
		// Bands are chosen from the unrounded probability so values just
		// under a threshold stay in the lower band.
		p, low := atRiskProbability(row, atRisk)
		tier, err := RiskTier(p)
		if err != nil {
			return nil, s.fail(err)
		}
		a := model.Assessment{
			Probability:     round3(p),
			RiskTier:        tier,
			Recommendations: Recommendations(p),
			LowConfidence:   low,
			ModelVersion:    b.Version(),
		}
		if k := argmax(row); k >= 0 && k < len(classes) {
			a.PredictedClass = classes[k]
		}
		s.observer.ObservePrediction(tier, low)
		out[i] = a
	}

	if explain && len(out) == 1 {
		if atRisk >= 0 {
			out[0].Explanation = Explain(b, x[0], atRisk)
		} else {
			out[0].Explanation = []model.Attribution{}
		}
	}
	return out, nil
}

func (s *Scorer) fail(err error) error {
	s.observer.ObserveError(apperr.KindOf(err))
	return err
}

func (s *Scorer) inferenceFailed(err error, stage string, table *features.Table, b bundle.Bundle) error {
	zap.L().Error("scorer: inference failed",
		zap.String("stage", stage),
		zap.String("version", b.Version()),
		zap.Int("rows", table.Len()),
		zap.Int("columns", len(table.Columns)),
		zap.Error(err),
	)
	if !apperr.Is(err, apperr.InferenceError) {
		err = apperr.Wrap(err, apperr.InferenceError, "%s failed", stage)
	}
	return s.fail(err)
}

// atRiskIndex returns the index of the first class whose label means at
// risk, or -1.
func atRiskIndex(classes []string) int {
	for i, c := range classes {
		if atRiskLabels[strings.ToLower(strings.TrimSpace(c))] {
			return i
		}
	}
	return -1
}

// atRiskProbability reads the at-risk column of a probability row, clamped
// to [0, 1]. A missing column or non-finite value yields the low
// confidence default.
func atRiskProbability(row []float64, idx int) (float64, bool) {
	if idx < 0 || idx >= len(row) {
		return lowConfidenceProbability, true
	}
	p := row[idx]
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return lowConfidenceProbability, true
	}
	return math.Min(1, math.Max(0, p)), false
}

func argmax(v []float64) int {
	best := -1
	for i, f := range v {
		if math.IsNaN(f) {
			continue
		}
		if best < 0 || f > v[best] {
			best = i
		}
	}
	return best
}
