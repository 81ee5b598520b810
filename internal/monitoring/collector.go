package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dropout-risk/internal/model"
	"github.com/sells-group/dropout-risk/internal/store"
)

// Snapshot holds a point-in-time view of recent predictions.
type Snapshot struct {
	Total           int                `json:"total"`
	TierCounts      map[model.Tier]int `json:"tier_counts"`
	AtRiskShare     float64            `json:"at_risk_share"`
	LowConfidence   int                `json:"low_confidence"`
	MeanProbability float64            `json:"mean_probability"`
	ActiveModel     string             `json:"active_model,omitempty"`
	LatestRecorded  string             `json:"latest_recorded_model,omitempty"`
	LookbackHours   int                `json:"lookback_hours"`
	CollectedAt     time.Time          `json:"collected_at"`
}

// sampleLimit caps the predictions read to compute means.
const sampleLimit = 10000

// ActiveVersion reports the version of the model currently serving.
type ActiveVersion func() (string, bool)

// Collector summarizes prediction history from the store.
type Collector struct {
	store  store.Store
	active ActiveVersion
}

// NewCollector creates a new snapshot collector. active may be nil.
func NewCollector(st store.Store, active ActiveVersion) *Collector {
	return &Collector{store: st, active: active}
}

// Collect gathers a snapshot of predictions over the given lookback window.
// High and Very High predictions count toward AtRiskShare.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.store.TierCounts(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: tier counts")
	}
	snap.TierCounts = counts

	var atRisk int
	for tier, n := range counts {
		snap.Total += n
		if tier.Rank() >= model.TierHigh.Rank() {
			atRisk += n
		}
	}
	if snap.Total > 0 {
		snap.AtRiskShare = float64(atRisk) / float64(snap.Total)
	}

	recs, err := c.store.ListPredictions(ctx, store.PredictionFilter{Since: cutoff, Limit: sampleLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list predictions")
	}
	var sum float64
	for _, r := range recs {
		sum += r.Probability
		if r.LowConfidence {
			snap.LowConfidence++
		}
	}
	if len(recs) > 0 {
		snap.MeanProbability = sum / float64(len(recs))
	}

	latest, err := c.store.LatestModelVersion(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest model version")
	}
	if latest != nil {
		snap.LatestRecorded = latest.Version
	}
	if c.active != nil {
		if v, ok := c.active(); ok {
			snap.ActiveModel = v
		}
	}

	return snap, nil
}
