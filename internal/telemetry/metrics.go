package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the agent, narrowed from the
// teacher's plan-unit/resource/provider metric set to the Audit/Apply/
// Revert/DetectDrift operations this agent exposes.
type Metrics struct {
	config MetricsConfig

	commandsStarted   *prometheus.CounterVec
	commandsCompleted *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec

	policiesApplied *prometheus.CounterVec
	applyDuration   *prometheus.HistogramVec

	mechanismCalls    *prometheus.CounterVec
	mechanismDuration *prometheus.HistogramVec
	mechanismErrors   *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	driftDetections *prometheus.CounterVec
	activeConnections prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		commandsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "commands_started_total", Help: "Total IPC commands started"},
			[]string{"command"},
		),
		commandsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "commands_completed_total", Help: "Total IPC commands completed"},
			[]string{"command", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "command_duration_seconds", Help: "Duration of IPC command handling", Buckets: buckets},
			[]string{"command", "status"},
		),

		policiesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "policies_applied_total", Help: "Total policy apply attempts"},
			[]string{"policy_id", "status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "policy_apply_duration_seconds", Help: "Duration of a single policy apply", Buckets: buckets},
			[]string{"mechanism"},
		),

		mechanismCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "mechanism_calls_total", Help: "Total executor invocations"},
			[]string{"mechanism", "operation"},
		),
		mechanismDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "mechanism_call_duration_seconds", Help: "Duration of executor invocations", Buckets: buckets},
			[]string{"mechanism", "operation"},
		),
		mechanismErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "mechanism_errors_total", Help: "Total executor failures"},
			[]string{"mechanism", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "errors_by_class_total", Help: "Total errors by error class"},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "errors_by_code_total", Help: "Total errors by wire error code"},
			[]string{"code"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "drift_detections_total", Help: "Total drifted policies found"},
			[]string{"policy_id"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_connections", Help: "Current number of open IPC connections"},
		),
	}

	registry.MustRegister(
		m.commandsStarted, m.commandsCompleted, m.commandDuration,
		m.policiesApplied, m.applyDuration,
		m.mechanismCalls, m.mechanismDuration, m.mechanismErrors,
		m.errorsByClass, m.errorsByCode,
		m.driftDetections, m.activeConnections,
	)

	return m, nil
}

// RecordCommandStarted increments the started counter for a command type.
func (m *Metrics) RecordCommandStarted(command string) {
	if m.commandsStarted == nil {
		return
	}
	m.commandsStarted.WithLabelValues(command).Inc()
}

// RecordCommandCompleted records a completed command with its status and duration.
func (m *Metrics) RecordCommandCompleted(command, status string, duration time.Duration) {
	if m.commandsCompleted == nil {
		return
	}
	m.commandsCompleted.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command, status).Observe(duration.Seconds())
}

// RecordPolicyApplied records one policy's apply outcome.
func (m *Metrics) RecordPolicyApplied(policyID, status, mechanism string, duration time.Duration) {
	if m.policiesApplied == nil {
		return
	}
	m.policiesApplied.WithLabelValues(policyID, status).Inc()
	m.applyDuration.WithLabelValues(mechanism).Observe(duration.Seconds())
}

// RecordMechanismCall records an executor invocation.
func (m *Metrics) RecordMechanismCall(mechanism, operation string, duration time.Duration, err error) {
	if m.mechanismCalls == nil {
		return
	}
	m.mechanismCalls.WithLabelValues(mechanism, operation).Inc()
	m.mechanismDuration.WithLabelValues(mechanism, operation).Observe(duration.Seconds())
	if err != nil {
		m.mechanismErrors.WithLabelValues(mechanism, operation).Inc()
	}
}

// RecordError records an error by class and, if present, wire error code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordDriftDetection records one policy found drifted.
func (m *Metrics) RecordDriftDetection(policyID string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(policyID).Inc()
}

// SetActiveConnections sets the current open-connection gauge.
func (m *Metrics) SetActiveConnections(count float64) {
	if m.activeConnections == nil {
		return
	}
	m.activeConnections.Set(count)
}

// Timer times an operation for later observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer starts an HTTP server exposing the metrics endpoint,
// used only for local operator visibility (spec.md explicitly scopes
// remote telemetry export out). It binds to config.ListenAddress as given;
// the default ":9090" listens on all interfaces.
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
		_ = server.ListenAndServe()
	}()

	return nil
}
