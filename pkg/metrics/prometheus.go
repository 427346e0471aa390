package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow outcomes accepted by RecordWorkflowOutcome.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Manager owns every Prometheus collector for the service.
type Manager struct {
	namespace       string
	subsystem       string
	durationBuckets []float64
	registry        prometheus.Registerer

	// Workflow metrics
	workflowOutcomes *prometheus.CounterVec
	workflowFailures *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	engineRuns       *prometheus.CounterVec

	// Pipeline metrics
	footprintCells   prometheus.Histogram
	dilatedCells     prometheus.Histogram
	clippedCells     prometheus.Histogram
	hydrographRows   prometheus.Counter
	hydrographSkips  prometheus.Counter
	hydrographVolume prometheus.Histogram

	// Service metrics
	queueSize      prometheus.Gauge
	queueCapacity  prometheus.Gauge
	queueRejected  prometheus.Counter
	workerCount    prometheus.Gauge
	workerBusy     prometheus.Gauge
	runsSubmitted  prometheus.Counter
	runsDuplicate  prometheus.Counter
	scheduledSweep prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "runout",
		subsystem:       "workflow",
		durationBuckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		registry:        prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)
	cellBuckets := prometheus.ExponentialBuckets(1, 4, 12)

	m.workflowOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_total",
		Help:      "Workflow instances by terminal outcome",
	}, []string{"outcome"})

	m.workflowFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "failures_total",
		Help:      "Failed workflow instances by stage and violated invariant",
	}, []string{"stage", "kind"})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent per workflow stage",
		Buckets:   m.durationBuckets,
	}, []string{"stage"})

	m.engineRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "engine_invocations_total",
		Help:      "Simulation engine invocations by stage and result",
	}, []string{"stage", "result"})

	m.footprintCells = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "footprint_cells",
		Help:      "Coarse cells above the flow threshold",
		Buckets:   cellBuckets,
	})

	m.dilatedCells = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dilated_footprint_cells",
		Help:      "Coarse cells in the footprint after dilation",
		Buckets:   cellBuckets,
	})

	m.clippedCells = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "clipped_fine_cells",
		Help:      "Fine DEM cells kept by the clip stencil",
		Buckets:   cellBuckets,
	})

	m.hydrographRows = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "hydrograph_rows_total",
		Help:      "Hydrograph data rows accepted",
	})

	m.hydrographSkips = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "hydrograph_rows_skipped_total",
		Help:      "Malformed hydrograph rows skipped",
	})

	m.hydrographVolume = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "hydrograph_scaled_volume_cubic_meters",
		Help:      "Integrated volume of scaled hydrographs",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Workflow plans waiting for a worker",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum number of queued workflow plans",
	})

	m.queueRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_rejected_total",
		Help:      "Plans rejected because the queue was full or closed",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Configured workflow workers",
	})

	m.workerBusy = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_busy",
		Help:      "Workers currently executing a workflow",
	})

	m.runsSubmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_submitted_total",
		Help:      "Workflow plans accepted for execution",
	})

	m.runsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "runs_duplicate_total",
		Help:      "Submissions ignored because the run id already exists",
	})

	m.scheduledSweep = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scheduled_sweeps_total",
		Help:      "Sweeps triggered by the cron schedule",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"endpoint", "method", "status_code"})
}

// RecordWorkflowOutcome counts a terminal workflow outcome.
func RecordWorkflowOutcome(outcome string) error {
	switch outcome {
	case OutcomeDone, OutcomeFailed, OutcomeCancelled:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}
	globalManager.workflowOutcomes.WithLabelValues(outcome).Inc()
	return nil
}

// RecordWorkflowFailure counts a failure by stage and error kind.
func RecordWorkflowFailure(stage, kind string) {
	globalManager.workflowFailures.WithLabelValues(stage, kind).Inc()
}

// ObserveStageDuration records the wall time of one workflow stage.
func ObserveStageDuration(stage string, seconds float64) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordEngineInvocation counts an engine call; result is "ok" or "error".
func RecordEngineInvocation(stage, result string) {
	globalManager.engineRuns.WithLabelValues(stage, result).Inc()
}

// ObserveFootprint records thresholded, dilated and clipped cell counts.
func ObserveFootprint(footprint, dilated, clipped int) {
	globalManager.footprintCells.Observe(float64(footprint))
	globalManager.dilatedCells.Observe(float64(dilated))
	globalManager.clippedCells.Observe(float64(clipped))
}

// RecordHydrograph records accepted and skipped rows and the scaled volume.
func RecordHydrograph(rows, skipped int, scaledVolume float64) {
	globalManager.hydrographRows.Add(float64(rows))
	globalManager.hydrographSkips.Add(float64(skipped))
	globalManager.hydrographVolume.Observe(scaledVolume)
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejected counts a plan that could not be enqueued.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// WorkerBusy adjusts the busy-worker gauge by delta.
func WorkerBusy(delta int) {
	globalManager.workerBusy.Add(float64(delta))
}

// RecordRunSubmitted counts an accepted submission.
func RecordRunSubmitted() {
	globalManager.runsSubmitted.Inc()
}

// RecordRunDuplicate counts a submission for an existing run id.
func RecordRunDuplicate() {
	globalManager.runsDuplicate.Inc()
}

// RecordScheduledSweep counts a cron-triggered sweep.
func RecordScheduledSweep() {
	globalManager.scheduledSweep.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
