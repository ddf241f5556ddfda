// Package metrics defines the Prometheus collectors of the query platform
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseBytes    *prometheus.HistogramVec
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryRowsCount       prometheus.Histogram
	NodesEvaluatedTotal  *prometheus.CounterVec
	NodeLatency          *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	JobsTotal            *prometheus.CounterVec
	JobsInFlight         prometheus.Gauge
	CorpusDocuments      prometheus.Gauge
	CorpusTagInstances   prometheus.Gauge
	SnapshotLoadsTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		HTTPResponseBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response body size by route; query responses grow with row count.",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"path"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_queries_total",
				Help: "Total corpus queries by outcome (ok, empty, invalid, cancelled, error).",
			},
			[]string{"outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_query_latency_seconds",
				Help:    "End-to-end query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
			},
			[]string{"cache_status"},
		),
		QueryRowsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "corpus_query_rows",
				Help:    "Number of result rows per query.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
		),
		NodesEvaluatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_query_nodes_evaluated_total",
				Help: "Query nodes evaluated, by node kind.",
			},
			[]string{"kind"},
		),
		NodeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corpus_query_node_latency_seconds",
				Help:    "Evaluation latency of a single query node, by node kind.",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.025, 0.1, 0.5, 2.5},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_jobs_total",
				Help: "Background query jobs by final status.",
			},
			[]string{"status"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "query_jobs_in_flight",
				Help: "Background query jobs queued or running.",
			},
		),
		CorpusDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_documents",
				Help: "Documents in the loaded corpus snapshot.",
			},
		),
		CorpusTagInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_tag_instances",
				Help: "Tag instances in the loaded corpus snapshot.",
			},
		),
		SnapshotLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_snapshot_loads_total",
				Help: "Snapshot load attempts by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HTTPResponseBytes,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryRowsCount,
		m.NodesEvaluatedTotal,
		m.NodeLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobsTotal,
		m.JobsInFlight,
		m.CorpusDocuments,
		m.CorpusTagInstances,
		m.SnapshotLoadsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
