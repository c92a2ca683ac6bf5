// Package metrics provides Prometheus metrics for LogTrap.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "logtrap"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and
	// status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPTeamRequestsTotal counts authenticated requests by team and
	// status class.
	HTTPTeamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "team_requests_total",
			Help:      "Total number of authenticated HTTP requests per team",
		},
		[]string{"team", "class"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Evaluation metrics
var (
	// EvaluationRecordsTotal counts records passed through trap evaluation.
	EvaluationRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "records_total",
			Help:      "Total log records evaluated against traps",
		},
	)

	// EvaluationMatchesTotal counts trap matches by trap type.
	EvaluationMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "matches_total",
			Help:      "Total trap matches",
		},
		[]string{"type"},
	)

	// EvaluationDuration tracks per-record evaluation latency.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "duration_seconds",
			Help:      "Per-record trap evaluation latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// EvaluationErrors counts fail-closed evaluation errors by source.
	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "errors_total",
			Help:      "Total evaluation errors treated as no match",
		},
		[]string{"source"}, // load, count, trigger, pattern
	)

	// RegexTimeouts counts regex matches aborted by the time budget.
	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "regex_timeouts_total",
			Help:      "Total regex matches aborted by the match timeout",
		},
	)

	// PatternCacheEntries tracks compiled patterns held in the cache.
	PatternCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "pattern_cache_entries",
			Help:      "Number of compiled patterns in the pattern cache",
		},
	)

	// PatternCacheResets counts full pattern cache clears.
	PatternCacheResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "pattern_cache_resets_total",
			Help:      "Total times the pattern cache was cleared on reaching capacity",
		},
	)
)

// Alert metrics
var (
	// AlertsFiredTotal counts persisted alert firings by severity.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Total alerts fired",
		},
		[]string{"severity"},
	)

	// AlertsThrottledTotal counts rule firings suppressed by throttling.
	AlertsThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "throttled_total",
			Help:      "Total alert firings suppressed by rule throttle",
		},
	)

	// AlertsFireErrors counts per-rule firing failures.
	AlertsFireErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fire_errors_total",
			Help:      "Total per-rule alert firing failures",
		},
	)

	// AlertTransitionsTotal counts lifecycle transitions by target status.
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Total alert lifecycle transitions",
		},
		[]string{"status"},
	)

	// DeliveryTotal counts notification deliveries by result.
	DeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Total notification deliveries",
		},
		[]string{"result"}, // delivered, failed, unknown_channel, dropped, panic
	)

	// DeliveryQueueDepth tracks tasks waiting for a delivery worker.
	DeliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_depth",
			Help:      "Delivery tasks waiting for a worker",
		},
	)
)

// Sweep metrics
var (
	// SweepRunsTotal counts scheduled sweep runs.
	SweepRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total scheduled trap sweeps",
		},
	)

	// SweepFailuresTotal counts traps whose sweep evaluation failed.
	SweepFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "failures_total",
			Help:      "Total trap evaluations that failed during a sweep",
		},
	)
)

// Ingest metrics
var (
	// IngestRecordsTotal counts ingested records by source.
	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total log records ingested",
		},
		[]string{"source"}, // http, kafka
	)

	// IngestDecodeErrors counts messages that could not be decoded.
	IngestDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Total ingested messages that failed to decode",
		},
	)
)

// Buffer metrics
var (
	// BufferPending tracks entries waiting to be flushed.
	BufferPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "pending_entries",
			Help:      "Log entries waiting to be flushed to storage",
		},
	)

	// BufferDroppedTotal counts dropped entries due to backpressure.
	BufferDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "dropped_total",
			Help:      "Total entries dropped due to buffer overflow",
		},
	)

	// BufferFlushesTotal counts flush operations.
	BufferFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flushes_total",
			Help:      "Total buffer flush operations",
		},
	)

	// BufferInsertedTotal counts successfully inserted entries.
	BufferInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "inserted_total",
			Help:      "Total entries inserted to storage",
		},
	)

	// BufferFlushErrors counts flush errors.
	BufferFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flush_errors_total",
			Help:      "Total buffer flush errors",
		},
	)
)

// Storage metrics
var (
	// StorageQueryDuration tracks query latency.
	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "backend"},
	)

	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation", "backend"},
	)
)

// Cache metrics
var (
	// CacheRequestsTotal counts trap cache lookups by result.
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total active-trap cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts",
		},
		[]string{"result"}, // ok, missing, malformed, invalid
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
