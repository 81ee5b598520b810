package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func prediction(student string, p float64, tier model.Tier, src model.PredictionSource, at time.Time) model.PredictionRecord {
	return model.PredictionRecord{
		StudentID:    student,
		Probability:  p,
		RiskTier:     tier,
		ModelVersion: "rf-test",
		Source:       src,
		CreatedAt:    at,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		recs := []model.PredictionRecord{
			prediction("S-1", 0.91, model.TierVeryHigh, model.SourceInteractive, base),
			prediction("S-2", 0.12, model.TierMinimal, model.SourceBatch, base.Add(time.Minute)),
			prediction("S-3", 0.55, model.TierModerate, model.SourceBatch, base.Add(2*time.Minute)),
		}
		recs[0].LowConfidence = true
		require.NoError(t, s.SavePredictions(ctx, recs))
		for _, r := range recs {
			assert.NotEmpty(t, r.ID, "ids assigned in place")
		}

		got, err := s.ListPredictions(ctx, PredictionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "S-3", got[0].StudentID, "newest first")
		assert.Equal(t, "S-1", got[2].StudentID)
		assert.Equal(t, recs[0].ID, got[2].ID)
		assert.True(t, got[2].LowConfidence)
		assert.InDelta(t, 0.91, got[2].Probability, 1e-9)
		assert.Equal(t, model.TierVeryHigh, got[2].RiskTier)
		assert.Equal(t, model.SourceInteractive, got[2].Source)
		assert.True(t, base.Equal(got[2].CreatedAt), "created_at round-trips: %v", got[2].CreatedAt)
	})

	t.Run("ListFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		var recs []model.PredictionRecord
		for i := range 10 {
			tier := model.TierLow
			if i%2 == 0 {
				tier = model.TierHigh
			}
			recs = append(recs, prediction(fmt.Sprintf("S-%d", i), 0.4, tier, model.SourceBatch, base.Add(time.Duration(i)*time.Hour)))
		}
		require.NoError(t, s.SavePredictions(ctx, recs))

		high, err := s.ListPredictions(ctx, PredictionFilter{Tier: model.TierHigh})
		require.NoError(t, err)
		assert.Len(t, high, 5)

		recent, err := s.ListPredictions(ctx, PredictionFilter{Since: base.Add(7 * time.Hour)})
		require.NoError(t, err)
		assert.Len(t, recent, 3)

		one, err := s.ListPredictions(ctx, PredictionFilter{StudentID: "S-4"})
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, model.TierHigh, one[0].RiskTier)

		page, err := s.ListPredictions(ctx, PredictionFilter{Limit: 3, Offset: 3})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, "S-6", page[0].StudentID)

		none, err := s.ListPredictions(ctx, PredictionFilter{Source: model.SourceCLI})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("TierCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, s.SavePredictions(ctx, []model.PredictionRecord{
			prediction("a", 0.9, model.TierVeryHigh, model.SourceBatch, now.Add(-48*time.Hour)),
			prediction("b", 0.9, model.TierVeryHigh, model.SourceBatch, now.Add(-time.Hour)),
			prediction("c", 0.6, model.TierModerate, model.SourceBatch, now.Add(-time.Hour)),
			prediction("d", 0.6, model.TierModerate, model.SourceBatch, now.Add(-time.Minute)),
		}))

		counts, err := s.TierCounts(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, counts[model.TierVeryHigh])
		assert.Equal(t, 2, counts[model.TierModerate])
		assert.Equal(t, 0, counts[model.TierMinimal])
		assert.Len(t, counts, len(model.Tiers))
	})

	t.Run("ModelVersions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		latest, err := s.LatestModelVersion(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)

		t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.RecordModelVersion(ctx, model.ModelVersion{
			Version: "rf-1", Path: "a.json", Features: 4, Classes: []string{"Dropout", "Graduate"}, LoadedAt: t0,
		}))
		require.NoError(t, s.RecordModelVersion(ctx, model.ModelVersion{
			Version: "rf-2", Path: "b.json", Features: 5, Classes: []string{"Dropout", "Enrolled", "Graduate"}, LoadedAt: t0.Add(time.Hour),
		}))

		latest, err = s.LatestModelVersion(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "rf-2", latest.Version)
		assert.Equal(t, 5, latest.Features)
		assert.Equal(t, []string{"Dropout", "Enrolled", "Graduate"}, latest.Classes)

		// Reloading an older version moves it back to the top.
		require.NoError(t, s.RecordModelVersion(ctx, model.ModelVersion{
			Version: "rf-1", Path: "a2.json", Features: 4, Classes: []string{"Dropout", "Graduate"}, LoadedAt: t0.Add(2 * time.Hour),
		}))
		latest, err = s.LatestModelVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rf-1", latest.Version)
		assert.Equal(t, "a2.json", latest.Path)
	})

	t.Run("SaveEmpty", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SavePredictions(context.Background(), nil))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestNoop(t *testing.T) {
	var s Store = Noop{}
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.SavePredictions(ctx, []model.PredictionRecord{{StudentID: "x"}}))
	got, err := s.ListPredictions(ctx, PredictionFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	counts, err := s.TierCounts(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, counts, len(model.Tiers))

	mv, err := s.LatestModelVersion(ctx)
	require.NoError(t, err)
	assert.Nil(t, mv)
	assert.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = s.ListPredictions(ctx, PredictionFilter{})
	assert.NoError(t, err, "migrated on open")

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestListQuery(t *testing.T) {
	q, args := listQuery(PredictionFilter{
		Tier:  model.TierHigh,
		Since: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Limit: 5,
	}, func(n int) string { return fmt.Sprintf("$%d", n) })

	assert.Equal(t,
		"SELECT "+predictionColumns+" FROM predictions WHERE risk_tier = $1 AND created_at >= $2 ORDER BY created_at DESC, id LIMIT $3",
		q)
	assert.Len(t, args, 3)
	assert.Equal(t, 5, args[2])

	q, args = listQuery(PredictionFilter{Offset: 10}, func(int) string { return "?" })
	assert.Contains(t, q, "LIMIT ? OFFSET ?")
	assert.Equal(t, []any{DefaultListLimit, 10}, args)
}
