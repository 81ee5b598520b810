package features

import (
	"github.com/sells-group/dropout-risk/internal/apperr"
)

// Align reindexes records against the expected columns. Missing numeric
// columns become 0 and missing categorical columns become UnknownCategory;
// columns not in the expected set are dropped. Numeric columns are coerced
// to numbers, with unparseable values becoming 0.
func Align(recs []Record, expected []Column) (*Table, error) {
	if len(expected) == 0 {
		return nil, apperr.New(apperr.MissingFeatureSchema, "bundle exposes no expected features")
	}

	cols := make([]Column, len(expected))
	copy(cols, expected)

	t := &Table{Columns: cols, Rows: make([][]Value, len(recs))}
	for i, rec := range recs {
		row := make([]Value, len(cols))
		for j, col := range cols {
			row[j] = alignValue(rec, col)
		}
		t.Rows[i] = row
	}
	return t, nil
}

func alignValue(rec Record, col Column) Value {
	v, ok := rec[col.Name]
	if col.Kind == Categorical {
		if !ok {
			return Str(UnknownCategory)
		}
		return Str(v.String())
	}
	if !ok {
		return Num(0)
	}
	f, ok := v.Float()
	if !ok {
		return Num(0)
	}
	return Num(f)
}
