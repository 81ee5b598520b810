// Package features normalizes raw student records and aligns them to the
// feature schema a trained bundle expects.
package features

import (
	"strconv"
)

// Kind is the type of a feature column.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

// UnknownCategory is the default for missing categorical values.
const UnknownCategory = "Unknown"

// Value is a normalized scalar: either a number or a categorical string.
type Value struct {
	Num   float64
	Str   string
	IsStr bool
}

// Num returns a numeric Value.
func Num(f float64) Value { return Value{Num: f} }

// Str returns a categorical Value.
func Str(s string) Value { return Value{Str: s, IsStr: true} }

// Float returns the numeric form of v. Strings that do not parse yield ok=false.
func (v Value) Float() (float64, bool) {
	if !v.IsStr {
		return v.Num, true
	}
	f, err := parseNumber(v.Str)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String returns the categorical form of v.
func (v Value) String() string {
	if v.IsStr {
		return v.Str
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Any returns v as a JSON-friendly value.
func (v Value) Any() any {
	if v.IsStr {
		return v.Str
	}
	return v.Num
}

// Record is a normalized feature record keyed by canonical feature name.
type Record map[string]Value

// Column names one expected model input and its kind.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Table is a record batch aligned to an ordered column set.
type Table struct {
	Columns []Column
	Rows    [][]Value
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Row returns a single-row table holding row i.
func (t *Table) Row(i int) *Table {
	return &Table{Columns: t.Columns, Rows: [][]Value{t.Rows[i]}}
}
