package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports refresh progress to Prometheus.
type Metrics struct {
	state        *prometheus.GaugeVec
	rowsImported prometheus.Counter
	rowsSkipped  prometheus.Counter
	batches      prometheus.Counter
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	lastSuccess  prometheus.Gauge
}

// NewMetrics registers the refresh collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fsamaps_refresh_state",
			Help: "1 for the state the refresh job is currently in, 0 otherwise",
		}, []string{"state"}),
		rowsImported: f.NewCounter(prometheus.CounterOpts{
			Name: "fsamaps_refresh_rows_imported_total",
			Help: "Businesses committed by refresh runs",
		}),
		rowsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "fsamaps_refresh_rows_skipped_total",
			Help: "Feed rows skipped by refresh runs",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: "fsamaps_refresh_batches_total",
			Help: "Batches committed by refresh runs",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsamaps_refresh_runs_total",
			Help: "Completed refresh runs by result and feed source",
		}, []string{"result", "source"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fsamaps_refresh_duration_seconds",
			Help:    "Wall-clock duration of successful refresh runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "fsamaps_refresh_last_success_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		}),
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) observeFlush(delta Progress) {
	if m == nil {
		return
	}
	m.batches.Add(float64(delta.Batches))
	m.rowsImported.Add(float64(delta.Imported))
	m.rowsSkipped.Add(float64(delta.Skipped))
}

func (m *Metrics) observeRun(result, source string, seconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result, source).Inc()
	if result == "success" {
		m.duration.Observe(seconds)
		m.lastSuccess.Set(finishedUnix)
	}
}
