package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_export_jobs_created_total",
			Help: "Total number of export jobs admitted to the queue",
		},
		[]string{"kind", "priority"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_export_jobs_finished_total",
			Help: "Total number of export jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipexport_export_jobs_retried_total",
			Help: "Total number of automatic and manual retries",
		},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipexport_export_jobs_in_progress",
			Help: "Number of export jobs currently processing",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipexport_export_queue_depth",
			Help: "Number of export jobs waiting in the queue",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_export_job_duration_seconds",
			Help:    "Wall clock time spent processing export jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
		[]string{"preset"},
	)

	// Render Metrics
	EncodeSpeed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_encode_speed_ratio",
			Help:    "Encode speed relative to realtime as reported by ffmpeg",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"codec"},
	)

	OutputSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_output_size_bytes",
			Help:    "Size of finished exports",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 14), // 256KB to 2GB
		},
		[]string{"preset"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_stage_duration_seconds",
			Help:    "Time spent per export stage (probe, autocrop, subtitles, encode, upload)",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_storage_operation_duration_seconds",
			Help:    "Object storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_storage_bytes_transferred_total",
			Help: "Total bytes transferred to and from object storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipexport_database_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipexport_errors_total",
			Help: "Total number of errors by component and kind",
		},
		[]string{"component", "kind"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job admission
func RecordJobCreated(kind, priority string) {
	JobsCreatedTotal.WithLabelValues(kind, priority).Inc()
}

// RecordJobFinished records a job reaching a terminal status
func RecordJobFinished(status, preset string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		JobDuration.WithLabelValues(preset).Observe(duration)
	}
}

// RecordJobRetried records a retry being scheduled
func RecordJobRetried() {
	JobsRetriedTotal.Inc()
}

// UpdateJobMetrics updates current job metrics
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordEncodeSpeed records ffmpeg's reported speed multiplier
func RecordEncodeSpeed(codec string, speed float64) {
	if speed > 0 {
		EncodeSpeed.WithLabelValues(codec).Observe(speed)
	}
}

// RecordOutput records the size of a finished export
func RecordOutput(preset string, size int64) {
	OutputSizeBytes.WithLabelValues(preset).Observe(float64(size))
}

// RecordStage records how long an export stage took
func RecordStage(stage string, duration float64) {
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}
