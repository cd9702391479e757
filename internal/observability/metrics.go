package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "malaga_opendata"

// Metrics holds the Prometheus collectors for the API and its upstream feeds.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec   // labels: route, status
	HTTPRequestDuration *prometheus.HistogramVec // labels: route

	// Upstream fetch metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: source, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: source

	RecordsSkipped *prometheus.CounterVec // labels: feed={stops,buses}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.RecordsSkipped,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream feed requests by source and outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Feed records skipped for missing or malformed fields.",
		}, []string{"feed"}),
	}
}
