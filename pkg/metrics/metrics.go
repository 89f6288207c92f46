package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_tasks_total",
			Help: "Total number of tasks run",
		},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_task_duration_seconds",
			Help:    "Time taken to run a task to completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resource metrics
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_resources_total",
			Help: "Total number of stored resources by creation action",
		},
		[]string{"action"},
	)

	ResourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_resource_failures_total",
			Help: "Total number of resources that failed to apply",
		},
		[]string{"action"},
	)

	// Source metrics
	SourcesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_sources_fetched_total",
			Help: "Total number of sources fetched by kind",
		},
		[]string{"kind"},
	)

	SourcesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_sources_skipped_total",
			Help: "Total number of sources skipped because their revision was unchanged",
		},
	)

	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_source_fetch_duration_seconds",
			Help:    "Time taken to fetch a source's body",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Destination metrics
	BytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_bytes_written_total",
			Help: "Total number of bytes written to destinations",
		},
	)

	DestinationWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_destination_write_duration_seconds",
			Help:    "Time taken to stage, hash, and swap in one destination",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	DestinationsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_destinations_written_total",
			Help: "Total number of destinations actually changed on disk",
		},
		[]string{"type"},
	)

	DestinationsUnchangedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_destinations_unchanged_total",
			Help: "Total number of destination writes that canceled because the content already matched",
		},
	)

	OrphansPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_orphans_purged_total",
			Help: "Total number of destination or source rows removed because they were no longer emitted",
		},
		[]string{"level"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_cache_hits_total",
			Help: "Total number of cache entries reused without a network round trip",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetch_cache_misses_total",
			Help: "Total number of cache lookups that required a network fetch",
		},
	)

	CacheSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_cache_sweep_duration_seconds",
			Help:    "Time taken to sweep expired entries from the cache at the end of a task",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Platform metrics
	PlatformRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_platform_requests_total",
			Help: "Total number of platform API requests by scheme and status",
		},
		[]string{"scheme", "status"},
	)

	PlatformRateLimitRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_platform_rate_limit_remaining",
			Help: "Remaining requests in the platform's current rate limit window",
		},
		[]string{"scheme"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(ResourceFailuresTotal)
	prometheus.MustRegister(SourcesFetchedTotal)
	prometheus.MustRegister(SourcesSkippedTotal)
	prometheus.MustRegister(SourceFetchDuration)
	prometheus.MustRegister(BytesWrittenTotal)
	prometheus.MustRegister(DestinationWriteDuration)
	prometheus.MustRegister(DestinationsWrittenTotal)
	prometheus.MustRegister(DestinationsUnchangedTotal)
	prometheus.MustRegister(OrphansPurgedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheSweepDuration)
	prometheus.MustRegister(PlatformRequestsTotal)
	prometheus.MustRegister(PlatformRateLimitRemaining)
}

// Handler returns the Prometheus HTTP handler. The CLI mounts it under
// /metrics only when --metrics-addr is set.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
