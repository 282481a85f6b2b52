// Package metrics provides Prometheus metrics for the skill stats engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every metric the engine exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Event log
	eventsAppended     *prometheus.CounterVec
	eventAppendErrors  prometheus.Counter
	eventsDuplicate    prometheus.Counter
	eventsProcessed    prometheus.Counter
	missingSkillGroups prometheus.Counter

	// Batch processor
	batchDuration      prometheus.Histogram
	batchEvents        prometheus.Histogram
	drainReschedules   prometheus.Counter
	dailyBucketUpserts prometheus.Counter

	// Leaderboard
	snapshotsPublished  prometheus.Counter
	snapshotsPruned     prometheus.Counter
	snapshotPruneErrors prometheus.Counter
	snapshotItems       prometheus.Gauge
	publishDuration     prometheus.Histogram
	trendingReads       *prometheus.CounterVec

	// Task queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	taskRuns           *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	lockContention     *prometheus.CounterVec

	// Repository
	repositoryLatency  *prometheus.HistogramVec
	unprocessedBacklog prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager registered on the configured registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "skillstats",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.HistogramVec {
	return auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.eventsAppended = m.counterVec(auto, "events_appended_total", "Stat events appended to the log", "kind")
	m.eventAppendErrors = m.counter(auto, "event_append_errors_total", "Stat events that failed to persist")
	m.eventsDuplicate = m.counter(auto, "events_duplicate_total", "Client events dropped as retries of an already accepted event id")
	m.eventsProcessed = m.counter(auto, "events_processed_total", "Stat events marked processed by the batch processor")
	m.missingSkillGroups = m.counter(auto, "missing_skill_groups_total", "Event groups whose skill no longer exists")

	m.batchDuration = m.histogram(auto, "batch_duration_milliseconds", "Duration of one batch processor run", m.histogramBuckets)
	m.batchEvents = m.histogram(auto, "batch_events", "Events fetched per batch processor run",
		[]float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000})
	m.drainReschedules = m.counter(auto, "drain_reschedules_total", "Batch runs that re-enqueued themselves because the batch was full")
	m.dailyBucketUpserts = m.counter(auto, "daily_bucket_upserts_total", "Daily bucket upserts")

	m.snapshotsPublished = m.counter(auto, "snapshots_published_total", "Leaderboard snapshots written")
	m.snapshotsPruned = m.counter(auto, "snapshots_pruned_total", "Leaderboard snapshots deleted by retention")
	m.snapshotPruneErrors = m.counter(auto, "snapshot_prune_errors_total", "Retention passes that failed after a successful publish")
	m.snapshotItems = m.gauge(auto, "snapshot_items", "Items in the most recently published snapshot")
	m.publishDuration = m.histogram(auto, "publish_duration_milliseconds", "Duration of one leaderboard rebuild", m.histogramBuckets)
	m.trendingReads = m.counterVec(auto, "trending_reads_total", "Trending reads by source", "source")

	m.queueSize = m.gauge(auto, "task_queue_size", "Tasks waiting in the queue")
	m.queueCapacity = m.gauge(auto, "task_queue_capacity", "Task queue capacity")
	m.queueUtilization = m.gauge(auto, "task_queue_utilization", "Task queue utilization (0-1)")
	m.queueEnqueued = m.counter(auto, "task_queue_enqueued_total", "Tasks enqueued")
	m.queueDequeued = m.counter(auto, "task_queue_dequeued_total", "Tasks dequeued")
	m.queueEnqueueErrors = m.counter(auto, "task_queue_enqueue_errors_total", "Tasks rejected by the queue")
	m.workerCount = m.gauge(auto, "worker_count", "Task workers running")
	m.taskRuns = m.counterVec(auto, "task_runs_total", "Task runs by task and outcome", "task", "status")
	m.taskDuration = m.histogramVec(auto, "task_duration_milliseconds", "Task run duration", "task")
	m.lockContention = m.counterVec(auto, "lock_contention_total", "Task runs deferred because another run held the lock", "task")

	m.repositoryLatency = m.histogramVec(auto, "repository_latency_milliseconds", "Store operation latency", "op")
	m.unprocessedBacklog = m.gauge(auto, "unprocessed_events", "Stat events not yet processed")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec(auto, "http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventAppended counts one appended event of the given kind.
func RecordEventAppended(kind string) {
	globalManager.eventsAppended.WithLabelValues(kind).Inc()
}

// RecordEventAppendError counts a failed append.
func RecordEventAppendError() {
	globalManager.eventAppendErrors.Inc()
}

// RecordEventDuplicate counts a client retry dropped by the ingest deduper.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventsProcessed adds n to the processed events counter.
func RecordEventsProcessed(n int) {
	globalManager.eventsProcessed.Add(float64(n))
}

// RecordMissingSkillGroup counts a group whose skill was deleted.
func RecordMissingSkillGroup() {
	globalManager.missingSkillGroups.Inc()
}

// RecordBatch records the duration and fetched size of one batch run.
func RecordBatch(durationMs float64, events int) {
	globalManager.batchDuration.Observe(durationMs)
	globalManager.batchEvents.Observe(float64(events))
}

// RecordDrainReschedule counts a drain continuation.
func RecordDrainReschedule() {
	globalManager.drainReschedules.Inc()
}

// RecordDailyBucketUpsert counts one daily bucket write.
func RecordDailyBucketUpsert() {
	globalManager.dailyBucketUpserts.Inc()
}

// RecordSnapshotPublished counts a published snapshot and records its size.
func RecordSnapshotPublished(items int, durationMs float64) {
	globalManager.snapshotsPublished.Inc()
	globalManager.snapshotItems.Set(float64(items))
	globalManager.publishDuration.Observe(durationMs)
}

// RecordSnapshotsPruned adds n to the pruned snapshots counter.
func RecordSnapshotsPruned(n int) {
	globalManager.snapshotsPruned.Add(float64(n))
}

// RecordSnapshotPruneError counts a failed retention pass.
func RecordSnapshotPruneError() {
	globalManager.snapshotPruneErrors.Inc()
}

// RecordTrendingRead counts a trending read served from source
// (snapshot, cache or fallback).
func RecordTrendingRead(source string) {
	globalManager.trendingReads.WithLabelValues(source).Inc()
}

// UpdateQueueSize sets the current task queue depth.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the task queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the task queue utilization.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an accepted task.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a dequeued task.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected task.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordTaskRun counts a task run with status ok, error or deferred and
// records its duration.
func RecordTaskRun(task, status string, durationMs float64) {
	globalManager.taskRuns.WithLabelValues(task, status).Inc()
	globalManager.taskDuration.WithLabelValues(task).Observe(durationMs)
}

// RecordLockContention counts a task deferred by single-flight.
func RecordLockContention(task string) {
	globalManager.lockContention.WithLabelValues(task).Inc()
}

// RecordRepositoryLatency records one store operation.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateUnprocessedBacklog sets the number of events waiting for the processor.
func UpdateUnprocessedBacklog(n int) {
	globalManager.unprocessedBacklog.Set(float64(n))
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error attributed to component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it before anything records or serves metrics.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
