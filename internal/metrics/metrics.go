// Package metrics provides Prometheus metrics collection for the feedcache
// service, plus the in-process recorder the consumption policy reports to.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Data source labels recorded by the consumption policy.
const (
	SourceLiveFresh       = "live_fresh"
	SourceBackgroundCache = "background_cache"
	SourceBackgroundMiss  = "background_miss"
	SourceAPIFallback     = "api_fallback"
	SourceSync            = "sync"
)

var (
	// HTTPRequestDuration tracks ops API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// HTTPRequestTotal tracks total ops API requests.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	// CacheOperationsTotal tracks cache reads by result.
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "result"},
	)

	// DataSourceTotal tracks which path served each consumption call.
	DataSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "data_source_total",
			Help: "Consumption policy results by data source",
		},
		[]string{"source"},
	)

	// FetchDuration tracks upstream fetch duration.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// BackgroundTasksTotal tracks background fetch task outcomes.
	BackgroundTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_tasks_total",
			Help: "Background fetch tasks by status",
		},
		[]string{"status"},
	)

	// BackgroundQueueDepth tracks the number of queued background tasks.
	BackgroundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "background_queue_depth",
			Help: "Number of queued background fetch tasks",
		},
	)

	// BackgroundRunning tracks the number of running background tasks.
	BackgroundRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "background_running_tasks",
			Help: "Number of background fetch tasks currently running",
		},
	)

	// CacheEntries tracks the current cache store size.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Number of entries in the cache store",
		},
	)
)

// PrometheusMiddleware returns a Gin middleware that collects HTTP metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration)
		HTTPRequestTotal.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordTask records a background task outcome.
func RecordTask(status string) {
	BackgroundTasksTotal.WithLabelValues(status).Inc()
}
