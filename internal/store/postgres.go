package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/db"
	"github.com/sells-group/dropout-risk/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool. Transient
// connection failures are retried.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id             TEXT PRIMARY KEY,
	student_id     TEXT NOT NULL DEFAULT '',
	probability    DOUBLE PRECISION NOT NULL,
	risk_tier      TEXT NOT NULL,
	low_confidence BOOLEAN NOT NULL DEFAULT false,
	model_version  TEXT NOT NULL,
	source         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS model_versions (
	version   TEXT PRIMARY KEY,
	path      TEXT NOT NULL,
	features  INTEGER NOT NULL,
	classes   JSONB NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_risk_tier ON predictions(risk_tier);
CREATE INDEX IF NOT EXISTS idx_predictions_student_id ON predictions(student_id);
CREATE INDEX IF NOT EXISTS idx_model_versions_loaded_at ON model_versions(loaded_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SavePredictions bulk-loads recs with COPY, assigning IDs and creation
// times in place.
func (s *PostgresStore) SavePredictions(ctx context.Context, recs []model.PredictionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	prepareRecords(recs)

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = predictionRow(r)
	}
	n, err := db.CopyFrom(ctx, s.pool, "predictions", predictionColumnList, rows)
	if err != nil {
		return eris.Wrap(err, "postgres: save predictions")
	}
	if int(n) != len(recs) {
		return eris.Errorf("postgres: saved %d of %d predictions", n, len(recs))
	}
	return nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PredictionRecord, error) {
	query, args := listQuery(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	var out []model.PredictionRecord
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list predictions")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate predictions")
}

func (s *PostgresStore) TierCounts(ctx context.Context, since time.Time) (map[model.Tier]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT risk_tier, COUNT(*) FROM predictions WHERE created_at >= $1 GROUP BY risk_tier`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tier counts")
	}
	defer rows.Close()

	counts := emptyTierCounts()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tier count")
		}
		counts[model.Tier(tier)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate tier counts")
}

func (s *PostgresStore) RecordModelVersion(ctx context.Context, mv model.ModelVersion) error {
	classes, err := json.Marshal(mv.Classes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal classes")
	}
	loadedAt := mv.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = time.Now()
	}

	_, err = db.Upsert(ctx, s.pool, db.UpsertConfig{
		Table:        "model_versions",
		Columns:      []string{"version", "path", "features", "classes", "loaded_at"},
		ConflictKeys: []string{"version"},
	}, [][]any{{mv.Version, mv.Path, mv.Features, classes, loadedAt.UTC()}})
	return eris.Wrapf(err, "postgres: record model version %s", mv.Version)
}

// LatestModelVersion returns the most recently loaded version, or nil if
// none has been recorded.
func (s *PostgresStore) LatestModelVersion(ctx context.Context) (*model.ModelVersion, error) {
	var mv model.ModelVersion
	var classes []byte
	err := s.pool.QueryRow(ctx,
		`SELECT version, path, features, classes, loaded_at FROM model_versions ORDER BY loaded_at DESC LIMIT 1`,
	).Scan(&mv.Version, &mv.Path, &mv.Features, &classes, &mv.LoadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest model version")
	}
	if err := json.Unmarshal(classes, &mv.Classes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal classes")
	}
	return &mv, nil
}
