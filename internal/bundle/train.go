package bundle

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/features"
)

// Sample is one labelled training record.
type Sample struct {
	Record features.Record
	Label  string
}

// TrainReport summarizes a training run.
type TrainReport struct {
	Version      string            `json:"version"`
	Rows         int               `json:"rows"`
	TrainRows    int               `json:"train_rows"`
	TestRows     int               `json:"test_rows"`
	Columns      []features.Column `json:"columns"`
	Classes      []string          `json:"classes"`
	ClassCounts  map[string]int    `json:"class_counts"`
	TestAccuracy float64           `json:"test_accuracy"`
	Duration     time.Duration     `json:"duration"`
}

// PrepareSamples normalizes raw training rows and splits off the label
// column. Rows with a blank label are skipped.
func PrepareSamples(n *features.Normalizer, rows []map[string]any, labelColumn string) ([]Sample, error) {
	label := features.CanonicalKey(labelColumn)
	if label == "" {
		return nil, eris.New("bundle: label column is required")
	}

	samples := make([]Sample, 0, len(rows))
	var found bool
	for _, raw := range rows {
		var y string
		rest := make(map[string]any, len(raw))
		for k, v := range raw {
			if features.CanonicalKey(k) == label {
				found = true
				if v != nil {
					y = strings.TrimSpace(fmt.Sprint(v))
				}
				continue
			}
			rest[k] = v
		}
		if y == "" {
			continue
		}
		samples = append(samples, Sample{Record: n.Normalize(rest), Label: y})
	}

	if !found {
		return nil, eris.Errorf("bundle: label column %q not found in training data", labelColumn)
	}
	if len(samples) == 0 {
		return nil, eris.Errorf("bundle: no labelled rows in training data")
	}
	return samples, nil
}

// Train fits a preprocessor and a random forest on the samples and returns
// the resulting bundle. Trees are grown concurrently; each tree draws from
// its own generator seeded by cfg.Seed and its index, so a given config and
// sample set always produce the same forest.
func Train(ctx context.Context, cfg config.TrainConfig, schema features.Schema, samples []Sample) (*ForestBundle, *TrainReport, error) {
	start := time.Now()
	if err := ValidateTrainConfig(cfg); err != nil {
		return nil, nil, err
	}
	if len(samples) == 0 {
		return nil, nil, eris.New("bundle: no training samples")
	}

	classes, counts := classesOf(samples)
	if len(classes) < 2 {
		return nil, nil, eris.Errorf("bundle: need at least 2 classes, got %v", classes)
	}
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	columns := selectColumns(cfg.Features, schema, samples)
	if len(columns) == 0 {
		return nil, nil, eris.New("bundle: no configured feature is present in the training data")
	}

	trainIdx, testIdx := stratifiedSplit(samples, cfg.TestFraction, cfg.Seed)

	trainRecs := make([]features.Record, len(trainIdx))
	y := make([]int, len(trainIdx))
	for i, si := range trainIdx {
		trainRecs[i] = samples[si].Record
		y[i] = classIndex[samples[si].Label]
	}
	table, err := features.Align(trainRecs, columns)
	if err != nil {
		return nil, nil, err
	}
	pre := fitPreprocessor(table)
	x, err := pre.Transform(table)
	if err != nil {
		return nil, nil, eris.Wrap(err, "bundle: transform training data")
	}

	weights := balancedWeights(y, len(classes))
	width := pre.Width()
	params := cartParams{
		maxDepth: cfg.MaxDepth,
		minSplit: cfg.MinSamplesSplit,
		minLeaf:  cfg.MinSamplesLeaf,
		mtry:     max(1, int(math.Sqrt(float64(width)))),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	trees := make([]Tree, cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
			idx, w := bootstrap(len(y), weights, y, rng)
			trees[i] = newTreeBuilder(x, y, w, len(classes), params, rng).fit(idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "bundle: grow trees")
	}

	created := time.Now().UTC()
	b, err := New(Artifact{
		Version:      "rf-" + created.Format("20060102-150405"),
		CreatedAt:    created,
		Features:     columns,
		Preprocessor: *pre,
		Classifier:   Forest{Classes: classes, NFeatures: width, Trees: trees},
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "bundle: assemble trained bundle")
	}

	report := &TrainReport{
		Version:     b.Version(),
		Rows:        len(samples),
		TrainRows:   len(trainIdx),
		TestRows:    len(testIdx),
		Columns:     columns,
		Classes:     classes,
		ClassCounts: counts,
	}
	if len(testIdx) > 0 {
		acc, err := holdoutAccuracy(b, samples, testIdx, classIndex)
		if err != nil {
			return nil, nil, err
		}
		report.TestAccuracy = acc
	}
	report.Duration = time.Since(start)

	zap.L().Info("bundle: training complete",
		zap.String("version", report.Version),
		zap.Int("rows", report.Rows),
		zap.Int("train_rows", report.TrainRows),
		zap.Int("test_rows", report.TestRows),
		zap.Int("columns", len(columns)),
		zap.Int("transformed_features", width),
		zap.Int("trees", cfg.Trees),
		zap.Strings("classes", classes),
		zap.Float64("test_accuracy", report.TestAccuracy),
		zap.Duration("duration", report.Duration),
	)

	return b, report, nil
}

func classesOf(samples []Sample) ([]string, map[string]int) {
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Label]++
	}
	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes, counts
}

// identifierColumns are never used as features when the feature list is
// inferred from the data.
var identifierColumns = map[string]bool{
	"id": true, "student_id": true, "studentid": true, "name": true, "email": true,
}

// selectColumns keeps the configured features that the training data
// carries, or every key seen when no features are configured. Declared
// schema kinds win; undeclared columns are categorical if any value is
// a non-numeric string.
func selectColumns(configured []string, schema features.Schema, samples []Sample) []features.Column {
	present := make(map[string]bool)
	for _, s := range samples {
		for k := range s.Record {
			present[k] = true
		}
	}

	var names []string
	if len(configured) > 0 {
		seen := make(map[string]bool)
		for _, f := range configured {
			name := schema.Resolve(features.CanonicalKey(f))
			if present[name] && !seen[name] {
				names = append(names, name)
				seen[name] = true
			}
		}
	} else {
		for k := range present {
			if !identifierColumns[k] {
				names = append(names, k)
			}
		}
		sort.Strings(names)
	}

	cols := make([]features.Column, len(names))
	for i, name := range names {
		cols[i] = features.Column{Name: name, Kind: inferKind(name, schema, samples)}
	}
	return cols
}

func inferKind(name string, schema features.Schema, samples []Sample) features.Kind {
	if spec, ok := schema.Fields[name]; ok && spec.Kind != "" {
		return spec.Kind
	}
	for _, s := range samples {
		if v, ok := s.Record[name]; ok && v.IsStr && v.Str != features.UnknownCategory {
			if _, numeric := v.Float(); !numeric {
				return features.Categorical
			}
		}
	}
	return features.Numeric
}

// stratifiedSplit holds out frac of each class for evaluation, keeping at
// least one row of every class in the training split.
func stratifiedSplit(samples []Sample, frac float64, seed uint64) (train, test []int) {
	byClass := make(map[string][]int)
	for i, s := range samples {
		byClass[s.Label] = append(byClass[s.Label], i)
	}
	labels := make([]string, 0, len(byClass))
	for l := range byClass {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	rng := rand.New(rand.NewPCG(seed, math.MaxUint64))
	for _, l := range labels {
		idx := byClass[l]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(math.Round(frac * float64(len(idx))))
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// balancedWeights returns n / (classes * count) per class.
func balancedWeights(y []int, classes int) []float64 {
	counts := make([]int, classes)
	for _, k := range y {
		counts[k]++
	}
	w := make([]float64, classes)
	for k, c := range counts {
		if c > 0 {
			w[k] = float64(len(y)) / float64(classes*c)
		}
	}
	return w
}

// bootstrap draws n rows with replacement and returns the distinct rows
// drawn with weight draws * class weight.
func bootstrap(n int, classWeights []float64, y []int, rng *rand.Rand) ([]int, []float64) {
	draws := make([]int, n)
	for range n {
		draws[rng.IntN(n)]++
	}
	idx := make([]int, 0, n)
	w := make([]float64, n)
	for i, c := range draws {
		if c == 0 {
			continue
		}
		idx = append(idx, i)
		w[i] = float64(c) * classWeights[y[i]]
	}
	return idx, w
}

func holdoutAccuracy(b *ForestBundle, samples []Sample, testIdx []int, classIndex map[string]int) (float64, error) {
	recs := make([]features.Record, len(testIdx))
	for i, si := range testIdx {
		recs[i] = samples[si].Record
	}
	cols, err := b.ExpectedFeatures()
	if err != nil {
		return 0, err
	}
	table, err := features.Align(recs, cols)
	if err != nil {
		return 0, err
	}
	x, err := b.Transform(table)
	if err != nil {
		return 0, eris.Wrap(err, "bundle: transform holdout")
	}
	proba, err := b.PredictProba(x)
	if err != nil {
		return 0, eris.Wrap(err, "bundle: predict holdout")
	}

	var correct int
	for i, p := range proba {
		if argmax(p) == classIndex[samples[testIdx[i]].Label] {
			correct++
		}
	}
	return float64(correct) / float64(len(testIdx)), nil
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
