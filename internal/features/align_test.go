package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dropout-risk/internal/apperr"
)

var testColumns = []Column{
	{Name: "attendance", Kind: Numeric},
	{Name: "avg_score", Kind: Numeric},
	{Name: "course", Kind: Categorical},
	{Name: "debtor", Kind: Numeric},
}

func TestAlign_OrderAndDefaults(t *testing.T) {
	recs := []Record{
		{"debtor": Num(1), "attendance": Num(80)},
	}

	tbl, err := Align(recs, testColumns)
	require.NoError(t, err)

	assert.Equal(t, []string{"attendance", "avg_score", "course", "debtor"}, Names(tbl.Columns))
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, []Value{Num(80), Num(0), Str(UnknownCategory), Num(1)}, tbl.Rows[0])
}

func TestAlign_DropsExtraKeys(t *testing.T) {
	base := Record{"attendance": Num(70), "course": Str("Nursing")}
	extra := Record{"attendance": Num(70), "course": Str("Nursing"), "zodiac": Str("Leo"), "shoe_size": Num(42)}

	a, err := Align([]Record{base}, testColumns)
	require.NoError(t, err)
	b, err := Align([]Record{extra}, testColumns)
	require.NoError(t, err)

	assert.Equal(t, a.Columns, b.Columns)
	assert.Equal(t, a.Rows, b.Rows)
}

func TestAlign_CoercesNumericColumns(t *testing.T) {
	recs := []Record{
		{"attendance": Str("high"), "avg_score": Str("55.5"), "course": Num(9254), "debtor": Str("7")},
	}

	tbl, err := Align(recs, testColumns)
	require.NoError(t, err)

	assert.Equal(t, []Value{Num(0), Num(55.5), Str("9254"), Num(7)}, tbl.Rows[0])
}

func TestAlign_AllMissing(t *testing.T) {
	tbl, err := Align([]Record{{}, {}}, testColumns)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	for _, row := range tbl.Rows {
		assert.Equal(t, []Value{Num(0), Num(0), Str(UnknownCategory), Num(0)}, row)
	}
}

func TestAlign_MissingSchema(t *testing.T) {
	_, err := Align([]Record{{"attendance": Num(1)}}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.MissingFeatureSchema))
}

func TestAlign_DoesNotAliasExpectedSlice(t *testing.T) {
	cols := []Column{{Name: "attendance", Kind: Numeric}}
	tbl, err := Align([]Record{{}}, cols)
	require.NoError(t, err)

	cols[0].Name = "mutated"
	assert.Equal(t, "attendance", tbl.Columns[0].Name)
}

func TestTable_Row(t *testing.T) {
	tbl, err := Align([]Record{{"attendance": Num(1)}, {"attendance": Num(2)}}, testColumns)
	require.NoError(t, err)

	one := tbl.Row(1)
	require.Equal(t, 1, one.Len())
	assert.Equal(t, Num(2), one.Rows[0][0])
	assert.Equal(t, 0, (*Table)(nil).Len())
}
