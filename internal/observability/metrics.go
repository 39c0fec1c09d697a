package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queuePending  *prometheus.GaugeVec
	enqueueTotal  *prometheus.CounterVec
	taskTotal     *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	rejectedTotal *prometheus.CounterVec
	activeQueues  prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	loopRunTotal       *prometheus.CounterVec
	loopRunDuration    prometheus.Histogram
	loopIterations     prometheus.Histogram
	modelRetriesTotal  *prometheus.CounterVec
	modelCallDuration  *prometheus.HistogramVec
	guardRejectedTotal *prometheus.CounterVec
	storeMutations     *prometheus.CounterVec

	sessionSaveDuration prometheus.Histogram
	sessionLoadDuration prometheus.Histogram
	activeSessions      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// queue keys are unbounded (one per conversation), so queue metrics are
// labelled by key kind, the part before the first ':'.
func keyKind(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queuePending: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "taskqueue_pending",
					Help: "Pending operations by queue kind.",
				},
				[]string{"kind"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskqueue_enqueue_total",
					Help: "Total enqueue operations by queue kind.",
				},
				[]string{"kind"},
			),
			taskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskqueue_task_total",
					Help: "Settled operations by queue kind and status.",
				},
				[]string{"kind", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskqueue_task_duration_seconds",
					Help:    "Operation execution duration in seconds by queue kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			rejectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskqueue_rejected_total",
					Help: "Operations rejected without running, by queue kind and reason.",
				},
				[]string{"kind", "reason"},
			),
			activeQueues: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "taskqueue_active_queues",
					Help: "Live queues held by registries.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			loopRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_loop_run_total",
					Help: "Agent loop runs by terminal status.",
				},
				[]string{"status"},
			),
			loopRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_loop_run_duration_seconds",
					Help:    "Agent loop run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			loopIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_loop_iterations",
					Help:    "Tool rounds per agent loop run.",
					Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
				},
			),
			modelRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_retries_total",
					Help: "Model call retries by provider.",
				},
				[]string{"provider"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model call duration in seconds by provider and status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider", "status"},
			),
			guardRejectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "input_guard_rejections_total",
					Help: "Rejected user inputs by reason.",
				},
				[]string{"reason"},
			),
			storeMutations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_mutations_total",
					Help: "Applied store mutations by kind and status.",
				},
				[]string{"mutation", "status"},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "session_active",
					Help: "Session files on disk.",
				},
			),
		}

		prometheus.MustRegister(
			m.queuePending,
			m.enqueueTotal,
			m.taskTotal,
			m.taskDuration,
			m.rejectedTotal,
			m.activeQueues,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.loopRunTotal,
			m.loopRunDuration,
			m.loopIterations,
			m.modelRetriesTotal,
			m.modelCallDuration,
			m.guardRejectedTotal,
			m.storeMutations,
			m.sessionSaveDuration,
			m.sessionLoadDuration,
			m.activeSessions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(key string, pending int) {
	m := getMetrics()
	kind := keyKind(key)
	m.enqueueTotal.WithLabelValues(kind).Inc()
	m.queuePending.WithLabelValues(kind).Set(float64(pending))
}

func RecordQueueCompletion(key string, duration time.Duration, success bool, pending int) {
	m := getMetrics()
	kind := keyKind(key)
	m.taskTotal.WithLabelValues(kind, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.queuePending.WithLabelValues(kind).Set(float64(pending))
}

func RecordQueueRejected(key, reason string, count int) {
	if count <= 0 {
		return
	}
	m := getMetrics()
	kind := keyKind(key)
	m.rejectedTotal.WithLabelValues(kind, reason).Add(float64(count))
	m.queuePending.WithLabelValues(kind).Set(0)
}

func SetActiveQueues(count int) {
	getMetrics().activeQueues.Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordLoopRun(status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.loopRunTotal.WithLabelValues(status).Inc()
	m.loopRunDuration.Observe(duration.Seconds())
	m.loopIterations.Observe(float64(iterations))
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	getMetrics().modelCallDuration.WithLabelValues(provider, statusLabel(success)).Observe(duration.Seconds())
}

func RecordModelRetry(provider string) {
	getMetrics().modelRetriesTotal.WithLabelValues(provider).Inc()
}

func RecordGuardRejection(reason string) {
	getMetrics().guardRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordStoreMutation(mutation string, success bool) {
	getMetrics().storeMutations.WithLabelValues(mutation, statusLabel(success)).Inc()
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}
