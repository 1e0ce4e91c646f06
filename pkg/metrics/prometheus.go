// Package metrics provides Prometheus metrics for the profiler service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Recomputation outcomes.
const (
	OutcomeCommitted      = "committed"
	OutcomeRedelivered    = "redelivered"
	OutcomeNoData         = "no_data"
	OutcomeConfigMismatch = "config_mismatch"
	OutcomeStaleExhausted = "stale_exhausted"
	OutcomeError          = "error"
)

// Manager manages all Prometheus metrics for the profiler service.
type Manager struct {
	namespace       string
	subsystem       string
	buckets         []float64
	enabled         bool
	refreshInterval time.Duration
	constLabels     map[string]string
	metricPrefix    string
	registry        prometheus.Registerer

	// Classification metrics
	submissionsReceived  *prometheus.CounterVec
	submissionsDuplicate prometheus.Counter
	recomputations       *prometheus.CounterVec
	recomputeLatency     prometheus.Histogram
	staleWriteRetries    prometheus.Counter
	configMismatches     prometheus.Counter
	versionsCommitted    prometheus.Counter
	assignments          *prometheus.CounterVec
	lowConfidence        prometheus.Counter
	tieBreaks            prometheus.Counter
	studentsClassified   prometheus.Gauge
	openFailures         prometheus.Gauge

	// Notification metrics
	notificationsSent    *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository metrics
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec
	repositoryShards  prometheus.Gauge

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerPartitions        prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Error metrics
	errorsByComponent *prometheus.CounterVec
}

//nolint:gochecknoglobals // process-wide manager behind the Record*/Update* functions
var (
	globalManager *Manager
	// customRegistry is what GET /healthz exposes. Runtime collectors join
	// it only through RegisterRuntimeCollectors.
	customRegistry = prometheus.NewRegistry()
)

func init() { //nolint:gochecknoinits // the manager must exist before any Record* call
	globalManager = NewManager(WithRegistry(customRegistry))
}

var runtimeOnce sync.Once //nolint:gochecknoglobals // guards one-time collector registration

// RegisterRuntimeCollectors adds Go runtime and process metrics to the
// exported registry. Later calls are no-ops.
func RegisterRuntimeCollectors() {
	runtimeOnce.Do(func() {
		customRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "profiler",
		subsystem:       "engine",
		buckets:         prometheus.DefBuckets,
		enabled:         true,
		refreshInterval: defaultRefreshInterval,
		registry:        prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Collectors still work but nothing is exported.
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval returns how often periodic gauges should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// RefreshInterval returns the global manager's gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.constLabels, Buckets: buckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.submissionsReceived = auto.NewCounterVec(
		m.counterOpts("submissions_received_total", "Submissions accepted for processing by assessment type"),
		[]string{"assessment_type"},
	)
	m.submissionsDuplicate = auto.NewCounter(
		m.counterOpts("submissions_duplicate_total", "Redelivered submissions detected at ingress"),
	)
	m.recomputations = auto.NewCounterVec(
		m.counterOpts("recomputations_total", "Recomputations by outcome"),
		[]string{"outcome"},
	)
	m.recomputeLatency = auto.NewHistogram(
		m.histogramOpts("recompute_latency_milliseconds", "Normalize, aggregate, classify and commit latency", m.buckets),
	)
	m.staleWriteRetries = auto.NewCounter(
		m.counterOpts("stale_write_retries_total", "Compare-and-commit attempts that lost a race"),
	)
	m.configMismatches = auto.NewCounter(
		m.counterOpts("config_mismatches_total", "Submissions rejected by the weight table"),
	)
	m.versionsCommitted = auto.NewCounter(
		m.counterOpts("classification_versions_total", "Classification versions committed"),
	)
	m.assignments = auto.NewCounterVec(
		m.counterOpts("category_assignments_total", "Committed category labels by role"),
		[]string{"role", "category"},
	)
	m.lowConfidence = auto.NewCounter(
		m.counterOpts("low_confidence_total", "Committed versions whose primary is low confidence"),
	)
	m.tieBreaks = auto.NewCounter(
		m.counterOpts("speed_tie_breaks_total", "Committed versions decided by processing speed"),
	)
	m.studentsClassified = auto.NewGauge(
		m.gaugeOpts("students_classified", "Students with a current classification"),
	)
	m.openFailures = auto.NewGauge(
		m.gaugeOpts("open_failures", "Failures awaiting manual inspection"),
	)

	m.notificationsSent = auto.NewCounterVec(
		m.counterOpts("notifications_sent_total", "ClassificationUpdated notifications delivered"),
		[]string{"notifier"},
	)
	m.notificationFailures = auto.NewCounterVec(
		m.counterOpts("notification_failures_total", "ClassificationUpdated notifications that failed"),
		[]string{"notifier"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.buckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.repositoryLatency = auto.NewHistogramVec(
		m.histogramOpts("repository_operation_latency_milliseconds", "Store operation latency in milliseconds",
			[]float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250}),
		[]string{"operation"},
	)
	m.repositoryErrors = auto.NewCounterVec(
		m.counterOpts("repository_errors_total", "Store operation errors"),
		[]string{"operation"},
	)
	m.repositoryShards = auto.NewGauge(
		m.gaugeOpts("repository_shard_count", "Number of in-memory store shards"),
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the submission queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum capacity of the submission queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (0-1)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Events enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Enqueue attempts rejected by backpressure"))

	m.workerPartitions = auto.NewGauge(m.gaugeOpts("worker_partitions", "Number of per-student serialization partitions"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Partitions currently processing an event"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Per-event processing latency in milliseconds", m.buckets),
	)
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Events whose processing returned an error"))

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
}

// Classification Metrics Functions.

// RecordSubmissionReceived counts an accepted submission.
func RecordSubmissionReceived(assessmentType string) {
	globalManager.submissionsReceived.WithLabelValues(assessmentType).Inc()
}

// RecordSubmissionDuplicate counts a redelivered submission.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordRecomputation counts a finished recomputation and its latency.
func RecordRecomputation(outcome string, latencyMs float64) {
	globalManager.recomputations.WithLabelValues(outcome).Inc()
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordStaleWriteRetry counts a lost compare-and-commit race.
func RecordStaleWriteRetry() {
	globalManager.staleWriteRetries.Inc()
}

// RecordConfigMismatch counts a submission rejected by the weight table.
func RecordConfigMismatch() {
	globalManager.configMismatches.Inc()
}

// RecordVersionCommitted counts a committed version and its labels.
func RecordVersionCommitted(primary, secondary string, lowConfidence, tieBreak bool) {
	globalManager.versionsCommitted.Inc()
	globalManager.assignments.WithLabelValues("primary", primary).Inc()
	if secondary != "" {
		globalManager.assignments.WithLabelValues("secondary", secondary).Inc()
	}
	if lowConfidence {
		globalManager.lowConfidence.Inc()
	}
	if tieBreak {
		globalManager.tieBreaks.Inc()
	}
}

// UpdateStudentsClassified sets the number of classified students.
func UpdateStudentsClassified(count int) {
	globalManager.studentsClassified.Set(float64(count))
}

// UpdateOpenFailures sets the number of failures awaiting inspection.
func UpdateOpenFailures(count int) {
	globalManager.openFailures.Set(float64(count))
}

// Notification Metrics Functions.

// RecordNotificationSent counts a delivered notification.
func RecordNotificationSent(notifier string) {
	globalManager.notificationsSent.WithLabelValues(notifier).Inc()
}

// RecordNotificationFailure counts a failed notification.
func RecordNotificationFailure(notifier string) {
	globalManager.notificationFailures.WithLabelValues(notifier).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository Metrics Functions.

// RecordRepositoryOperation records a store operation latency and, when err
// is non-nil, an error for that operation.
func RecordRepositoryOperation(operation string, latencyMs float64, err error) {
	globalManager.repositoryLatency.WithLabelValues(operation).Observe(latencyMs)
	if err != nil {
		globalManager.repositoryErrors.WithLabelValues(operation).Inc()
	}
}

// UpdateRepositoryShardCount sets the total number of repository shards.
func UpdateRepositoryShardCount(count int) {
	globalManager.repositoryShards.Set(float64(count))
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerPartitions sets the number of partitions.
func UpdateWorkerPartitions(count int) {
	globalManager.workerPartitions.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy partitions.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Since returns the milliseconds elapsed since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
