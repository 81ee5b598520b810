package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for an upsert.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// Upsert writes rows with a single INSERT ... ON CONFLICT DO UPDATE
// statement and returns the number of rows affected.
func Upsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, args, err := upsertSQL(cfg, rows)
	if err != nil {
		return 0, err
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(cfg UpsertConfig, rows [][]any) (string, []any, error) {
	if len(cfg.Columns) == 0 {
		return "", nil, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", nil, eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	args := make([]any, 0, len(rows)*len(cfg.Columns))
	values := make([]string, len(rows))
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return "", nil, eris.Errorf("db: upsert: row %d has %d values for %d columns", i, len(row), len(cfg.Columns))
		}
		ph := make([]string, len(row))
		for j, v := range row {
			args = append(args, v)
			ph[j] = fmt.Sprintf("$%d", len(args))
		}
		values[i] = "(" + strings.Join(ph, ", ") + ")"
	}

	action := "DO NOTHING"
	if len(updateCols) > 0 {
		set := make([]string, len(updateCols))
		for i, col := range updateCols {
			id := pgx.Identifier{col}.Sanitize()
			set[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		identifier(cfg.Table).Sanitize(),
		quoteAndJoin(cfg.Columns),
		strings.Join(values, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	)
	return query, args, nil
}

// identifier splits schema-qualified table names like "audit.predictions".
func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
