package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Transfer metrics
var (
	// TransfersTotal counts transfer attempts by outcome.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Total number of transfer requests by outcome",
		},
		[]string{"outcome"},
	)

	// TransferDuration tracks end-to-end transfer latency.
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_duration_seconds",
			Help:    "Duration of transfer processing in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// StaleVersionConflicts counts optimistic version conflicts by repository.
	StaleVersionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_version_conflicts_total",
			Help: "Total number of optimistic version conflicts",
		},
		[]string{"repository"},
	)
)

// Database metrics
var (
	// DBPoolConnectionsInUse gauges the number of in-use database connections.
	DBPoolConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	// DBPoolConnectionsIdle gauges the number of idle database connections.
	DBPoolConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// Outbox metrics
var (
	// OutboxPendingRecords gauges the number of unpublished outbox records.
	OutboxPendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_records",
			Help: "Number of unpublished records in the outbox",
		},
	)

	// OutboxPublishedTotal counts successfully published outbox records.
	OutboxPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox records published to the bus",
		},
	)

	// OutboxRetriesTotal counts retry transitions of outbox records.
	OutboxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of outbox publish retries scheduled",
		},
	)

	// OutboxFailedTotal counts records that exhausted their retries.
	OutboxFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_failed_total",
			Help: "Total number of outbox records marked FAILED",
		},
	)

	// PublishDuration tracks bus publish latency including the broker ack.
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_publish_duration_seconds",
			Help:    "Duration of bus publishes in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := normalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths to avoid cardinality explosion.
// Replaces account IDs with a placeholder.
func normalizePath(path string) string {
	if len(path) > 10 && path[:10] == "/accounts/" {
		return "/accounts/{id}/balance"
	}
	return path
}

// RecordTransfer increments the transfer counter for the given outcome.
// Side effects: records a Prometheus metric.
func RecordTransfer(outcome string) {
	TransfersTotal.WithLabelValues(outcome).Inc()
}

// RecordStaleVersionConflict increments the version conflict counter.
// Side effects: records a Prometheus metric.
func RecordStaleVersionConflict(repository string) {
	StaleVersionConflicts.WithLabelValues(repository).Inc()
}
