package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the fleetplay controller.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskRetries   *prometheus.CounterVec

	// Dispatch metrics
	batchesDispatched *prometheus.CounterVec
	nodesAttempted    *prometheus.CounterVec
	nodeFailures      *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Policy metrics
	policyDenials *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of playbook runs started",
			},
			[]string{"playbook", "run_as"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of playbook runs completed",
			},
			[]string{"playbook", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of playbook runs in seconds",
				Buckets:   buckets,
			},
			[]string{"playbook", "status"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"agent", "action", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"agent", "action"},
		),
		taskRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of retry rounds dispatched for failed node subsets",
			},
			[]string{"agent", "action"},
		),

		batchesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_dispatched_total",
				Help:      "Total number of RPC batches dispatched",
			},
			[]string{"agent", "action"},
		),
		nodesAttempted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_attempted_total",
				Help:      "Total number of per-node invocations attempted",
			},
			[]string{"agent", "action"},
		),
		nodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_failures_total",
				Help:      "Total number of per-node failures by outcome",
			},
			[]string{"status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of batch dispatches in seconds",
				Buckets:   buckets,
			},
			[]string{"agent", "action"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"kind"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of runs blocked by policy",
			},
			[]string{"policy", "severity"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.taskRetries,
		m.batchesDispatched,
		m.nodesAttempted,
		m.nodeFailures,
		m.dispatchDuration,
		m.errorsByKind,
		m.policyDenials,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(playbook, runAs string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(playbook, runAs).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(playbook, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(playbook, status).Inc()
	m.runDuration.WithLabelValues(playbook, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Task Metrics

// RecordTaskExecution records the execution of a task.
func (m *Metrics) RecordTaskExecution(agent, action, status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(agent, action, status).Inc()
	m.taskDuration.WithLabelValues(agent, action).Observe(duration.Seconds())
}

// RecordTaskRetry records one retry round for a task.
func (m *Metrics) RecordTaskRetry(agent, action string) {
	if m.taskRetries == nil {
		return
	}
	m.taskRetries.WithLabelValues(agent, action).Inc()
}

// Dispatch Metrics

// RecordDispatch records one dispatched batch and the nodes it carried.
func (m *Metrics) RecordDispatch(agent, action string, nodes int, duration time.Duration) {
	if m.batchesDispatched == nil {
		return
	}
	m.batchesDispatched.WithLabelValues(agent, action).Inc()
	m.nodesAttempted.WithLabelValues(agent, action).Add(float64(nodes))
	m.dispatchDuration.WithLabelValues(agent, action).Observe(duration.Seconds())
}

// RecordNodeFailure records a per-node failure by outcome status
// (failed, timeout, unreachable).
func (m *Metrics) RecordNodeFailure(status string) {
	if m.nodeFailures == nil {
		return
	}
	m.nodeFailures.WithLabelValues(status).Inc()
}

// Error Metrics

// RecordError records an error by its classification.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Policy Metrics

// RecordPolicyDenial records a run blocked by policy.
func (m *Metrics) RecordPolicyDenial(policy, severity string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(policy, severity).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
