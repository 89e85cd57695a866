// Package metrics provides Prometheus metrics for the Clippy server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clippy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clippy_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storageBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_storage_bytes_written_total",
			Help: "Total bytes written to storage",
		},
		[]string{"backend"},
	)

	// Queue metrics
	queuePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clippy_queue_pending",
			Help: "Number of work items waiting to be dispatched",
		},
		[]string{"queue"},
	)

	queueInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clippy_queue_in_flight",
			Help: "Number of work items currently being processed",
		},
		[]string{"queue"},
	)

	queueProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_queue_processed_total",
			Help: "Total processed work items",
		},
		[]string{"queue", "status"},
	)

	queueProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clippy_queue_process_duration_seconds",
			Help:    "Time spent processing a single work item",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"queue"},
	)

	queueReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_queue_reloads_total",
			Help: "Total reload passes against the source of truth",
		},
		[]string{"queue", "status"},
	)

	// Cache metrics
	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_cache_requests_total",
			Help: "Total cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	cacheExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clippy_cache_expired_total",
			Help: "Total cache entries evicted by expiry",
		},
		[]string{"cache"},
	)

	cacheKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clippy_cache_keys",
			Help: "Number of keys currently cached",
		},
		[]string{"cache"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clippy_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clippy_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordStorageWrite records bytes written to a backend.
func RecordStorageWrite(backend string, bytes int64) {
	storageBytesWritten.WithLabelValues(backend).Add(float64(bytes))
}

// SetQueueDepth sets the pending and in-flight gauges for a queue.
func SetQueueDepth(queue string, pending, inFlight int) {
	queuePending.WithLabelValues(queue).Set(float64(pending))
	queueInFlight.WithLabelValues(queue).Set(float64(inFlight))
}

// RecordQueueItem records the outcome of one processed work item.
func RecordQueueItem(queue string, duration time.Duration, success bool) {
	queueProcessedTotal.WithLabelValues(queue, status(success)).Inc()
	queueProcessDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordQueueReload records a reload pass.
func RecordQueueReload(queue string, success bool) {
	queueReloadsTotal.WithLabelValues(queue, status(success)).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheRequestsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCacheExpired records expired evictions.
func RecordCacheExpired(cache string, n int) {
	cacheExpiredTotal.WithLabelValues(cache).Add(float64(n))
}

// SetCacheKeys sets the current key count of a cache.
func SetCacheKeys(cache string, n int) {
	cacheKeys.WithLabelValues(cache).Set(float64(n))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}
