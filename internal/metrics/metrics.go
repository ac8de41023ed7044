package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagrab_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_jobs_created_total",
			Help: "Total number of download jobs created",
		},
		[]string{"platform", "format"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagrab_jobs_in_progress",
			Help: "Number of jobs currently running",
		},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagrab_job_duration_seconds",
			Help:    "End-to-end job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"platform"},
	)

	// Download Metrics
	DownloadedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_downloaded_bytes_total",
			Help: "Total bytes fetched from platforms",
		},
		[]string{"platform"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_retries_total",
			Help: "Total number of download retries by error class",
		},
		[]string{"error_class"},
	)

	// Transcode Metrics
	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagrab_transcodes_total",
			Help: "Total number of transcode runs by profile",
		},
		[]string{"profile", "outcome"},
	)

	TranscodeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagrab_transcode_queue_depth",
			Help: "Number of jobs waiting for a transcode slot",
		},
	)

	TranscodeActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediagrab_transcode_active_workers",
			Help: "Number of transcode slots currently busy",
		},
	)

	TranscodeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediagrab_transcode_duration_seconds",
			Help:    "Transcode run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Artifact Metrics
	ArtifactBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediagrab_artifact_size_bytes",
			Help:    "Size of produced artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 12), // 1MB to 2GB
		},
	)

	ArtifactsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagrab_artifacts_cleaned_total",
			Help: "Total number of job directories removed by cleanup",
		},
	)
)

// RecordHTTPRequest records one served request in the HTTP counters
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
