package store

import (
	"context"
	"time"

	"github.com/sells-group/dropout-risk/internal/model"
)

// Noop is the Store used when store.driver is "none". Writes are dropped
// and reads return nothing.
type Noop struct{}

func (Noop) SavePredictions(context.Context, []model.PredictionRecord) error { return nil }

func (Noop) ListPredictions(context.Context, PredictionFilter) ([]model.PredictionRecord, error) {
	return nil, nil
}

func (Noop) TierCounts(context.Context, time.Time) (map[model.Tier]int, error) {
	return emptyTierCounts(), nil
}

func (Noop) RecordModelVersion(context.Context, model.ModelVersion) error { return nil }

func (Noop) LatestModelVersion(context.Context) (*model.ModelVersion, error) { return nil, nil }

func (Noop) Migrate(context.Context) error { return nil }

func (Noop) Close() error { return nil }
