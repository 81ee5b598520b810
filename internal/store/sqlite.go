package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dropout-risk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	id             TEXT PRIMARY KEY,
	student_id     TEXT NOT NULL DEFAULT '',
	probability    REAL NOT NULL,
	risk_tier      TEXT NOT NULL,
	low_confidence INTEGER NOT NULL DEFAULT 0,
	model_version  TEXT NOT NULL,
	source         TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS model_versions (
	version   TEXT PRIMARY KEY,
	path      TEXT NOT NULL,
	features  INTEGER NOT NULL,
	classes   TEXT NOT NULL,
	loaded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_risk_tier ON predictions(risk_tier);
CREATE INDEX IF NOT EXISTS idx_predictions_student_id ON predictions(student_id);
CREATE INDEX IF NOT EXISTS idx_model_versions_loaded_at ON model_versions(loaded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePredictions inserts recs in one transaction, assigning IDs and
// creation times in place.
func (s *SQLiteStore) SavePredictions(ctx context.Context, recs []model.PredictionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	prepareRecords(recs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO predictions (`+predictionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert prediction")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, predictionRow(r)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert prediction %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit predictions")
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.PredictionRecord, error) {
	query, args := listQuery(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PredictionRecord
	for rows.Next() {
		r, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate predictions")
}

func (s *SQLiteStore) TierCounts(ctx context.Context, since time.Time) (map[model.Tier]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT risk_tier, COUNT(*) FROM predictions WHERE created_at >= ? GROUP BY risk_tier`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tier counts")
	}
	defer rows.Close() //nolint:errcheck

	counts := emptyTierCounts()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tier count")
		}
		counts[model.Tier(tier)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate tier counts")
}

func (s *SQLiteStore) RecordModelVersion(ctx context.Context, mv model.ModelVersion) error {
	classes, err := json.Marshal(mv.Classes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal classes")
	}
	loadedAt := mv.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_versions (version, path, features, classes, loaded_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(version) DO UPDATE SET
		   path = excluded.path,
		   features = excluded.features,
		   classes = excluded.classes,
		   loaded_at = excluded.loaded_at`,
		mv.Version, mv.Path, mv.Features, string(classes), loadedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record model version %s", mv.Version)
}

// LatestModelVersion returns the most recently loaded version, or nil if
// none has been recorded.
func (s *SQLiteStore) LatestModelVersion(ctx context.Context) (*model.ModelVersion, error) {
	var mv model.ModelVersion
	var classes string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, path, features, classes, loaded_at FROM model_versions ORDER BY loaded_at DESC LIMIT 1`,
	).Scan(&mv.Version, &mv.Path, &mv.Features, &classes, &mv.LoadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest model version")
	}
	if err := json.Unmarshal([]byte(classes), &mv.Classes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal classes")
	}
	return &mv, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPrediction(row scannable) (model.PredictionRecord, error) {
	var r model.PredictionRecord
	var tier, source string
	err := row.Scan(&r.ID, &r.StudentID, &r.Probability, &tier, &r.LowConfidence, &r.ModelVersion, &source, &r.CreatedAt)
	if err != nil {
		return r, eris.Wrap(err, "scan prediction")
	}
	r.RiskTier = model.Tier(tier)
	r.Source = model.PredictionSource(source)
	return r, nil
}
