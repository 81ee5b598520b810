// Package monitoring exports scoring metrics to Prometheus and summarizes
// recent prediction history.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/dropout-risk/internal/apperr"
	"github.com/sells-group/dropout-risk/internal/model"
)

// Metrics holds the scoring service's Prometheus collectors. It implements
// scorer.Observer.
type Metrics struct {
	Predictions   *prometheus.CounterVec
	LowConfidence prometheus.Counter
	Errors        *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	Reloads       *prometheus.CounterVec
	ActiveModel   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropout_predictions_total",
				Help: "Total number of scored records by risk tier.",
			},
			[]string{"tier"},
		),
		LowConfidence: f.NewCounter(
			prometheus.CounterOpts{
				Name: "dropout_low_confidence_predictions_total",
				Help: "Total number of predictions reported with low confidence.",
			},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropout_scoring_errors_total",
				Help: "Total number of failed scoring requests by error kind.",
			},
			[]string{"kind"},
		),
		Latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropout_scoring_latency_seconds",
				Help:    "Latency of scoring requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"batch"},
		),
		Reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropout_model_reloads_total",
				Help: "Total number of model reload attempts by result.",
			},
			[]string{"result"},
		),
		ActiveModel: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dropout_model_info",
				Help: "Set to 1 for the active model version.",
			},
			[]string{"version"},
		),
	}
}

// ObservePrediction records one scored record.
func (m *Metrics) ObservePrediction(tier model.Tier, lowConfidence bool) {
	m.Predictions.WithLabelValues(string(tier)).Inc()
	if lowConfidence {
		m.LowConfidence.Inc()
	}
}

// ObserveError records a failed request.
func (m *Metrics) ObserveError(kind apperr.Kind) {
	if kind == "" {
		kind = "internal"
	}
	m.Errors.WithLabelValues(string(kind)).Inc()
}

// ObserveLatency records the duration of a scoring request.
func (m *Metrics) ObserveLatency(batch bool, d time.Duration) {
	m.Latency.WithLabelValues(strconv.FormatBool(batch)).Observe(d.Seconds())
}

// ObserveReload records a reload attempt. A successful reload moves the
// info gauge to the new version.
func (m *Metrics) ObserveReload(ok bool, version string) {
	if !ok {
		m.Reloads.WithLabelValues("failure").Inc()
		return
	}
	m.Reloads.WithLabelValues("success").Inc()
	m.ActiveModel.Reset()
	m.ActiveModel.WithLabelValues(version).Set(1)
}
