// Package metrics provides Prometheus metrics for the reelrank ranking engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by callers.
const (
	KindReorder = "reorder"
	KindDelete  = "delete"
	KindAppend  = "append"

	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
)

const (
	namespace = "reelrank"
	subsystem = "rankings"
)

// latencyBuckets are milliseconds, shared by every latency histogram.
var latencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500} //nolint:gochecknoglobals // read-only

// Manager owns every collector of the service.
type Manager struct {
	registry prometheus.Registerer

	// Ranking engine
	mutations       *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	droppedGestures *prometheus.CounterVec
	persistLatency  *prometheus.HistogramVec
	rankedItems     *prometheus.GaugeVec

	// Repository
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	breakerState      *prometheus.GaugeVec

	// Mutation queues
	queueSize          *prometheus.GaugeVec
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge

	// Server
	dedupeHits          prometheus.Counter
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(customRegistry)
}

// NewManager creates a metrics manager and registers its collectors on reg,
// or on the default registerer when reg is nil.
func NewManager(reg prometheus.Registerer) *Manager {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Manager{registry: reg}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.mutations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutations_total",
		Help:      "Ranking mutations by kind and outcome",
	}, []string{"kind", "outcome"})

	m.rollbacks = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rollbacks_total",
		Help:      "Optimistic mutations reverted after a persistence failure",
	}, []string{"kind"})

	m.reloads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reloads_total",
		Help:      "Partition reloads from the remote repository by outcome",
	}, []string{"outcome"})

	m.droppedGestures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dropped_gestures_total",
		Help:      "Gestures rejected before reaching the repository",
	}, []string{"reason"})

	m.persistLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "persist_latency_milliseconds",
		Help:      "Latency of persistence calls issued by the ranking store",
		Buckets:   latencyBuckets,
	}, []string{"kind"})

	m.rankedItems = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ranked_items",
		Help:      "Items in the most recently observed list per content type",
	}, []string{"content_type"})

	m.repositoryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "repository_latency_milliseconds",
		Help:      "Repository operation latency",
		Buckets:   latencyBuckets,
	}, []string{"op"})

	m.repositoryErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "repository_errors_total",
		Help:      "Repository operation errors",
	}, []string{"op"})

	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_hits_total",
		Help:      "Ranking list cache hits",
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_misses_total",
		Help:      "Ranking list cache misses",
	})

	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	m.queueSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutation_queue_size",
		Help:      "Pending mutations per partition queue",
	}, []string{"partition"})

	m.queueEnqueueErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutation_queue_enqueue_errors_total",
		Help:      "Mutations that could not be queued",
	}, []string{"reason"})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mutation_workers",
		Help:      "Running per-partition mutation workers",
	})

	m.dedupeHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_dedupe_hits_total",
		Help:      "Mutation requests skipped because their request id was already applied",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration",
		Buckets:   latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "errors_by_endpoint_total",
		Help:      "HTTP errors by endpoint",
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "Heap bytes allocated",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordMutation counts a ranking mutation outcome.
func RecordMutation(kind, outcome string) {
	globalManager.mutations.WithLabelValues(kind, outcome).Inc()
}

// RecordRollback counts a reverted optimistic mutation.
func RecordRollback(kind string) {
	globalManager.rollbacks.WithLabelValues(kind).Inc()
}

// RecordReload counts a partition reload.
func RecordReload(outcome string) {
	globalManager.reloads.WithLabelValues(outcome).Inc()
}

// RecordDroppedGesture counts a gesture rejected before persistence.
func RecordDroppedGesture(reason string) {
	globalManager.droppedGestures.WithLabelValues(reason).Inc()
}

// RecordPersistLatency records persistence latency in milliseconds.
func RecordPersistLatency(kind string, latencyMs float64) {
	globalManager.persistLatency.WithLabelValues(kind).Observe(latencyMs)
}

// UpdateRankedItems sets the observed list length for a content type.
func UpdateRankedItems(contentType string, n int) {
	globalManager.rankedItems.WithLabelValues(contentType).Set(float64(n))
}

// RecordRepositoryLatency records repository latency in milliseconds.
func RecordRepositoryLatency(op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordRepositoryError counts a failed repository operation.
func RecordRepositoryError(op string) {
	globalManager.repositoryErrors.WithLabelValues(op).Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// UpdateBreakerState sets the numeric circuit breaker state.
func UpdateBreakerState(name string, state int) {
	globalManager.breakerState.WithLabelValues(name).Set(float64(state))
}

// UpdateQueueSize sets the pending mutations of a partition queue.
func UpdateQueueSize(partition string, size int) {
	globalManager.queueSize.WithLabelValues(partition).Set(float64(size))
}

// RecordQueueEnqueueError counts a mutation that could not be queued.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the running mutation worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordDedupeHit counts a skipped duplicate mutation request.
func RecordDedupeHit() {
	globalManager.dedupeHits.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry backing the package-level helpers.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
