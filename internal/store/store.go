// Package store persists scored predictions and model version history.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/config"
	"github.com/sells-group/dropout-risk/internal/model"
)

// DefaultListLimit caps ListPredictions when the filter sets no limit.
const DefaultListLimit = 100

// PredictionFilter specifies criteria for listing predictions.
type PredictionFilter struct {
	Tier      model.Tier             `json:"tier,omitempty"`
	Source    model.PredictionSource `json:"source,omitempty"`
	StudentID string                 `json:"student_id,omitempty"`
	Since     time.Time              `json:"since,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for prediction history.
type Store interface {
	// Predictions
	SavePredictions(ctx context.Context, recs []model.PredictionRecord) error
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PredictionRecord, error)
	TierCounts(ctx context.Context, since time.Time) (map[model.Tier]int, error)

	// Model versions
	RecordModelVersion(ctx context.Context, mv model.ModelVersion) error
	LatestModelVersion(ctx context.Context) (*model.ModelVersion, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates and migrates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// prepareRecords assigns an ID and creation time to records that lack them.
func prepareRecords(recs []model.PredictionRecord) {
	now := time.Now().UTC()
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.New().String()
		}
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		} else {
			recs[i].CreatedAt = recs[i].CreatedAt.UTC()
		}
	}
}

const predictionColumns = "id, student_id, probability, risk_tier, low_confidence, model_version, source, created_at"

var predictionColumnList = []string{
	"id", "student_id", "probability", "risk_tier", "low_confidence", "model_version", "source", "created_at",
}

func predictionRow(r model.PredictionRecord) []any {
	return []any{
		r.ID, r.StudentID, r.Probability, string(r.RiskTier), r.LowConfidence,
		r.ModelVersion, string(r.Source), r.CreatedAt,
	}
}

// listQuery builds the ListPredictions statement. placeholder renders the
// n-th bind parameter for the driver.
func listQuery(filter PredictionFilter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}
	if filter.Tier != "" {
		add("risk_tier = %s", string(filter.Tier))
	}
	if filter.Source != "" {
		add("source = %s", string(filter.Source))
	}
	if filter.StudentID != "" {
		add("student_id = %s", filter.StudentID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= %s", filter.Since.UTC())
	}

	var b strings.Builder
	b.WriteString("SELECT " + predictionColumns + " FROM predictions")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit)
	b.WriteString(" LIMIT " + placeholder(len(args)))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		b.WriteString(" OFFSET " + placeholder(len(args)))
	}
	return b.String(), args
}

// emptyTierCounts returns a map with every tier present at zero.
func emptyTierCounts() map[model.Tier]int {
	counts := make(map[model.Tier]int, len(model.Tiers))
	for _, t := range model.Tiers {
		counts[t] = 0
	}
	return counts
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = Noop{}
)
