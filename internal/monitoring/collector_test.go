package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dropout-risk/internal/model"
	"github.com/sells-group/dropout-risk/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	recs      []model.PredictionRecord
	latest    *model.ModelVersion
	countsErr error
	listErr   error
}

func (m *mockStore) TierCounts(_ context.Context, since time.Time) (map[model.Tier]int, error) {
	if m.countsErr != nil {
		return nil, m.countsErr
	}
	counts := map[model.Tier]int{}
	for _, r := range m.recs {
		if !r.CreatedAt.Before(since) {
			counts[r.RiskTier]++
		}
	}
	return counts, nil
}

func (m *mockStore) ListPredictions(_ context.Context, f store.PredictionFilter) ([]model.PredictionRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.PredictionRecord
	for _, r := range m.recs {
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) LatestModelVersion(context.Context) (*model.ModelVersion, error) {
	return m.latest, nil
}

// Unused store methods satisfy the interface.
func (m *mockStore) SavePredictions(context.Context, []model.PredictionRecord) error { return nil }
func (m *mockStore) RecordModelVersion(context.Context, model.ModelVersion) error    { return nil }
func (m *mockStore) Migrate(context.Context) error                                   { return nil }
func (m *mockStore) Close() error                                                    { return nil }

func TestCollect(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		recs: []model.PredictionRecord{
			{Probability: 0.9, RiskTier: model.TierVeryHigh, CreatedAt: now.Add(-time.Hour)},
			{Probability: 0.75, RiskTier: model.TierHigh, CreatedAt: now.Add(-2 * time.Hour)},
			{Probability: 0.5, RiskTier: model.TierModerate, LowConfidence: true, CreatedAt: now.Add(-3 * time.Hour)},
			{Probability: 0.05, RiskTier: model.TierMinimal, CreatedAt: now.Add(-4 * time.Hour)},
			{Probability: 0.95, RiskTier: model.TierVeryHigh, CreatedAt: now.Add(-72 * time.Hour)},
		},
		latest: &model.ModelVersion{Version: "rf-2"},
	}
	c := NewCollector(st, func() (string, bool) { return "rf-3", true })

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 1, snap.TierCounts[model.TierVeryHigh])
	assert.InDelta(t, 0.5, snap.AtRiskShare, 1e-9)
	assert.Equal(t, 1, snap.LowConfidence)
	assert.InDelta(t, 0.55, snap.MeanProbability, 1e-9)
	assert.Equal(t, "rf-3", snap.ActiveModel)
	assert.Equal(t, "rf-2", snap.LatestRecorded)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_Empty(t *testing.T) {
	c := NewCollector(store.Noop{}, nil)

	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.AtRiskShare)
	assert.Zero(t, snap.MeanProbability)
	assert.Empty(t, snap.ActiveModel)
	assert.Len(t, snap.TierCounts, len(model.Tiers))
}

func TestCollect_Errors(t *testing.T) {
	_, err := NewCollector(&mockStore{countsErr: errors.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: tier counts")

	_, err = NewCollector(&mockStore{listErr: errors.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list predictions")
}
