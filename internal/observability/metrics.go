package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meteogram"

// Metrics holds the Prometheus collectors for source fetches and refresh runs.
type Metrics struct {
	FetchRequests *prometheus.CounterVec   // labels: source, outcome={success,error}
	FetchDuration *prometheus.HistogramVec // labels: source
	FetchRows     prometheus.Histogram
	NoSource      prometheus.Counter

	// FallbackAttempts counts each backing source tried by a fallback client.
	FallbackAttempts *prometheus.CounterVec // labels: client, source, outcome

	RefreshRuns      prometheus.Counter
	RefreshFailures  *prometheus.CounterVec // labels: location
	RefreshLastStart prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.FetchRows,
		m.NoSource,
		m.FallbackAttempts,
		m.RefreshRuns,
		m.RefreshFailures,
		m.RefreshLastStart,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Source fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a source fetch including fallback attempts.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		FetchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_rows",
			Help:      "Rows in a successfully fetched canonical table.",
			Buckets:   []float64{1, 6, 12, 24, 48, 72, 168},
		}),
		NoSource: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_source_total",
			Help:      "Fetches rejected because no source was reachable.",
		}),
		FallbackAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_attempts_total",
			Help:      "Sources tried by a fallback client, by outcome.",
		}, []string{"client", "source", "outcome"}),
		RefreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Completed scheduled refresh runs.",
		}),
		RefreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Locations that failed during a refresh run.",
		}, []string{"location"}),
		RefreshLastStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_last_start_timestamp_seconds",
			Help:      "Unix time the last refresh run started.",
		}),
	}
}
