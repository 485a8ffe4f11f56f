package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Ingestion outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeRegression = "regression"
	OutcomeDryRun     = "dry_run"
	OutcomeError      = "error"
)

// Metrics holds the ingestion metrics on a private registry, so a one-shot
// CLI run pushes exactly what it observed.
type Metrics struct {
	Registry *prometheus.Registry

	IngestionsTotal *prometheus.CounterVec
	VerdictsTotal   *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	StoreConflicts  *prometheus.CounterVec
	LastIngestion   *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtrack_ingestions_total",
			Help: "Total number of benchmark ingestions by outcome",
		},
		[]string{"tool", "outcome"},
	)

	m.VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtrack_verdicts_total",
			Help: "Total number of verdicts by kind",
		},
		[]string{"tool", "kind"},
	)

	m.IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "benchtrack_ingest_duration_seconds",
			Help:    "Duration of an ingestion from load to append",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	m.StoreConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtrack_store_conflicts_total",
			Help: "Appends rejected because the history changed concurrently",
		},
		[]string{"tool"},
	)

	m.LastIngestion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "benchtrack_last_ingestion_timestamp_seconds",
			Help: "Unix time of the last completed ingestion",
		},
		[]string{"tool"},
	)

	m.Registry.MustRegister(
		m.IngestionsTotal,
		m.VerdictsTotal,
		m.IngestDuration,
		m.StoreConflicts,
		m.LastIngestion,
	)

	return m
}

// ObserveIngestion records one finished ingestion.
func (m *Metrics) ObserveIngestion(tool, outcome string, d time.Duration) {
	m.IngestionsTotal.WithLabelValues(tool, outcome).Inc()
	m.IngestDuration.WithLabelValues(tool).Observe(d.Seconds())
	if outcome != OutcomeError {
		m.LastIngestion.WithLabelValues(tool).SetToCurrentTime()
	}
}

// ObserveVerdict counts one verdict of the given kind.
func (m *Metrics) ObserveVerdict(tool, kind string) {
	m.VerdictsTotal.WithLabelValues(tool, kind).Inc()
}

// ObserveConflict counts one rejected append.
func (m *Metrics) ObserveConflict(tool string) {
	m.StoreConflicts.WithLabelValues(tool).Inc()
}

// Push sends the registry to a Prometheus Pushgateway, grouped by series.
// The grouping label must not collide with a collector label, or the client
// rejects the push before sending it.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, series string) error {
	err := push.New(gatewayURL, job).
		Gatherer(m.Registry).
		Grouping("series", series).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
