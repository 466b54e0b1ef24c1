// Package metrics provides Prometheus metrics for the forcedeck ingestion pipelines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeDropped = "dropped"
	OutcomeRetried = "retried"
)

// Manager owns every Prometheus collector used by forcedeck.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Fetch orchestrator
	fetchRequests  *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	batches        prometheus.Counter
	batchDuration  prometheus.Histogram
	inFlight       prometheus.Gauge
	authRefreshes  *prometheus.CounterVec
	testsDeduped   prometheus.Counter
	testsDropped   *prometheus.CounterVec
	requestsPaused prometheus.Histogram

	// Pipelines
	recordsAssembled *prometheus.CounterVec
	compositeScores  *prometheus.HistogramVec
	pipelineDuration *prometheus.HistogramVec
	pipelineFailures *prometheus.CounterVec

	// Sink
	rowsUploaded   *prometheus.CounterVec
	columnsDropped *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec

	// Status server
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // custom registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "forcedeck",
		subsystem:        "ingest",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	latencyBuckets := []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	m.fetchRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("fetch_requests_total"),
		Help:        "Remote API requests by endpoint and outcome",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "outcome"})

	m.fetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("fetch_latency_milliseconds"),
		Help:        "Latency of a single trial fetch including its retry",
		Buckets:     latencyBuckets,
		ConstLabels: m.customLabels,
	})

	m.batches = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_total"),
		Help:        "Fetch batches completed",
		ConstLabels: m.customLabels,
	})

	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batch_duration_milliseconds"),
		Help:        "Wall time from batch dispatch to the last response",
		Buckets:     latencyBuckets,
		ConstLabels: m.customLabels,
	})

	m.inFlight = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("fetch_in_flight"),
		Help:        "Trial fetches currently in flight",
		ConstLabels: m.customLabels,
	})

	m.authRefreshes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("auth_refreshes_total"),
		Help:        "Access token refreshes by reason",
		ConstLabels: m.customLabels,
	}, []string{"reason"})

	m.testsDeduped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("tests_deduplicated_total"),
		Help:        "Test ids listed more than once and fetched only once",
		ConstLabels: m.customLabels,
	})

	m.testsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("tests_dropped_total"),
		Help:        "Tests omitted from output by pipeline and reason",
		ConstLabels: m.customLabels,
	}, []string{"pipeline", "reason"})

	m.requestsPaused = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("rate_limit_wait_milliseconds"),
		Help:        "Time a request waited on the request rate limiter",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})

	m.recordsAssembled = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("records_assembled_total"),
		Help:        "Output records assembled by pipeline",
		ConstLabels: m.customLabels,
	}, []string{"pipeline"})

	m.compositeScores = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("best_trial_score"),
		Help:        "Best-trial score before batch normalization",
		Buckets:     []float64{-3, -2, -1, -0.5, 0, 0.5, 1, 2, 3},
		ConstLabels: m.customLabels,
	}, []string{"pipeline"})

	m.pipelineDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pipeline_duration_seconds"),
		Help:        "Wall time of one pipeline invocation",
		Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		ConstLabels: m.customLabels,
	}, []string{"pipeline"})

	m.pipelineFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pipeline_failures_total"),
		Help:        "Pipeline invocations that ended in error",
		ConstLabels: m.customLabels,
	}, []string{"pipeline"})

	m.rowsUploaded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sink_rows_total"),
		Help:        "Rows appended to the sink by table",
		ConstLabels: m.customLabels,
	}, []string{"table"})

	m.columnsDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sink_columns_dropped_total"),
		Help:        "Columns dropped because the destination schema does not know them",
		ConstLabels: m.customLabels,
	}, []string{"table"})

	m.sinkErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sink_errors_total"),
		Help:        "Failed sink appends by table",
		ConstLabels: m.customLabels,
	}, []string{"table"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        m.name("requests_total"),
		Help:        "Status server requests by endpoint, method and status",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status"})

	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        m.name("request_duration_milliseconds"),
		Help:        "Status server request latency",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method"})
}

// Fetch orchestrator functions.

// RecordFetch counts one remote request outcome for an endpoint.
func RecordFetch(endpoint, outcome string) {
	globalManager.fetchRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordFetchLatency records the latency of one trial fetch.
func RecordFetchLatency(latencyMs float64) {
	globalManager.fetchLatency.Observe(latencyMs)
}

// RecordBatch records a completed batch and its duration.
func RecordBatch(durationMs float64) {
	globalManager.batches.Inc()
	globalManager.batchDuration.Observe(durationMs)
}

// UpdateInFlight sets the number of in-flight fetches.
func UpdateInFlight(n int) {
	globalManager.inFlight.Set(float64(n))
}

// RecordAuthRefresh counts a token refresh ("expired", "unauthorized", "initial").
func RecordAuthRefresh(reason string) {
	globalManager.authRefreshes.WithLabelValues(reason).Inc()
}

// RecordTestDeduplicated counts a duplicate test id.
func RecordTestDeduplicated() {
	globalManager.testsDeduped.Inc()
}

// RecordTestDropped counts a test omitted from a pipeline's output.
func RecordTestDropped(pipeline, reason string) {
	globalManager.testsDropped.WithLabelValues(pipeline, reason).Inc()
}

// RecordRateLimitWait records time spent waiting on the rate limiter.
func RecordRateLimitWait(waitMs float64) {
	globalManager.requestsPaused.Observe(waitMs)
}

// Pipeline functions.

// RecordRecordAssembled counts an assembled output record.
func RecordRecordAssembled(pipeline string) {
	globalManager.recordsAssembled.WithLabelValues(pipeline).Inc()
}

// RecordBestScore observes the selected trial's score.
func RecordBestScore(pipeline string, score float64) {
	globalManager.compositeScores.WithLabelValues(pipeline).Observe(score)
}

// RecordPipelineDuration observes one pipeline invocation.
func RecordPipelineDuration(pipeline string, d time.Duration) {
	globalManager.pipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// RecordPipelineFailure counts a failed pipeline invocation.
func RecordPipelineFailure(pipeline string) {
	globalManager.pipelineFailures.WithLabelValues(pipeline).Inc()
}

// Sink functions.

// RecordRowsUploaded counts rows appended to a table.
func RecordRowsUploaded(table string, n int) {
	globalManager.rowsUploaded.WithLabelValues(table).Add(float64(n))
}

// RecordColumnsDropped counts columns filtered out by the destination schema.
func RecordColumnsDropped(table string, n int) {
	globalManager.columnsDropped.WithLabelValues(table).Add(float64(n))
}

// RecordSinkError counts a failed append.
func RecordSinkError(table string) {
	globalManager.sinkErrors.WithLabelValues(table).Inc()
}

// Status server functions.

// RecordHTTPRequest counts one status server request and its latency.
func RecordHTTPRequest(endpoint, method, status string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	globalManager.httpDuration.WithLabelValues(endpoint, method).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
