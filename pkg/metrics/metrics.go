// Package metrics defines the Prometheus collectors used by the sync pipeline
// and the search API, and exposes an HTTP handler for scraping.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SyncJobsTotal        *prometheus.CounterVec
	SyncJobDuration      *prometheus.HistogramVec
	DocsIndexedTotal     prometheus.Counter
	DocsInvalidTotal     prometheus.Counter
	BatchFailuresTotal   prometheus.Counter
	RetriesTotal         *prometheus.CounterVec
	QueueJobs            *prometheus.GaugeVec
	AlertsTotal          *prometheus.CounterVec
	ChangeEventsTotal    *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	reg prometheus.Registerer
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
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
		SyncJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_jobs_total",
				Help: "Sync jobs finished, by job type and final status.",
			},
			[]string{"type", "status"},
		),
		SyncJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_job_duration_seconds",
				Help:    "Wall-clock duration of sync jobs in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"type"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_documents_indexed_total",
				Help: "Documents successfully written to the search index.",
			},
		),
		DocsInvalidTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_documents_invalid_total",
				Help: "Documents dropped because they failed validation.",
			},
		),
		BatchFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_batch_failures_total",
				Help: "Rebuild batches that failed after exhausting retries.",
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_retries_total",
				Help: "Retry attempts against the search engine, by operation.",
			},
			[]string{"operation"},
		),
		QueueJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sync_queue_jobs",
				Help: "Jobs in the sync queue by state.",
			},
			[]string{"state"},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_alerts_total",
				Help: "Alerts emitted by type (success, warning, error).",
			},
			[]string{"type"},
		),
		ChangeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_change_events_total",
				Help: "Entity change events consumed, by outcome.",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by kind (search, autocomplete, similar) and result.",
			},
			[]string{"kind", "result"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SyncJobsTotal,
		m.SyncJobDuration,
		m.DocsIndexedTotal,
		m.DocsInvalidTotal,
		m.BatchFailuresTotal,
		m.RetriesTotal,
		m.QueueJobs,
		m.AlertsTotal,
		m.ChangeEventsTotal,
		m.CircuitBreakerState,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Register adds an extra collector, such as a connection pool exporter, to
// the registry m was created with. Registering the same collector twice is
// not an error.
func (m *Metrics) Register(c prometheus.Collector) error {
	err := m.reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
