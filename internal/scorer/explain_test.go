package scorer

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankAttributions(t *testing.T) {
	names := []string{"g", "a", "c", "b", "e", "d", "f", "h"}
	values := []float64{0.05, -0.5, 0.25, 0.25, math.NaN(), 0.12344, -0.00001, 0.3}

	got := rankAttributions(names, values, TopK)
	require.Len(t, got, TopK)

	assert.Equal(t, "a", got[0].Feature)
	assert.Equal(t, -0.5, got[0].Value)
	assert.Equal(t, "h", got[1].Feature)
	assert.Equal(t, "b", got[2].Feature, "ties break by name")
	assert.Equal(t, "c", got[3].Feature)
	assert.Equal(t, "d", got[4].Feature)
	assert.Equal(t, 0.123, got[4].Value)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, math.Abs(got[i-1].Value), math.Abs(got[i].Value))
	}
}

func TestRankAttributions_NegativeZero(t *testing.T) {
	got := rankAttributions([]string{"x"}, []float64{-0.0001}, TopK)
	require.Len(t, got, 1)
	assert.False(t, math.Signbit(got[0].Value))
}

func TestExplain(t *testing.T) {
	b := newFakeBundle("v1", 0.6)
	got := Explain(b, []float64{1, 2, 0}, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "num__avg_score", got[0].Feature)
	assert.Equal(t, -0.35, got[0].Value)
}

func TestExplain_Fallbacks(t *testing.T) {
	t.Run("not an explainer", func(t *testing.T) {
		got := Explain(plainBundle{newFakeBundle("v1", 0.6)}, []float64{1, 2, 0}, 0)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
	t.Run("contribution error", func(t *testing.T) {
		b := newFakeBundle("v1", 0.6)
		b.contribErr = errors.New("boom")
		got := Explain(b, []float64{1, 2, 0}, 0)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
	t.Run("shape mismatch", func(t *testing.T) {
		b := newFakeBundle("v1", 0.6)
		b.contrib = []float64{0.1}
		got := Explain(b, []float64{1, 2, 0}, 0)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}
