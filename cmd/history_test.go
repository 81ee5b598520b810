package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dropout-risk/internal/model"
)

func TestFormatHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	recs := []model.PredictionRecord{
		{StudentID: "S-1", Probability: 0.91, RiskTier: model.TierVeryHigh, Source: model.SourceBatch, ModelVersion: "rf-1", CreatedAt: at},
		{Probability: 0.5, RiskTier: model.TierModerate, LowConfidence: true, Source: model.SourceInteractive, ModelVersion: "rf-1", CreatedAt: at},
	}

	var buf bytes.Buffer
	formatHistory(&buf, recs)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CREATED"))
	assert.Contains(t, lines[1], "2026-03-01 09:30:00")
	assert.Contains(t, lines[1], "0.910")
	assert.Contains(t, lines[1], "Very High")
	assert.Contains(t, lines[2], " - ")
	assert.Contains(t, lines[2], "Moderate*")
}
