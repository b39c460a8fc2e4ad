package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for scenario runs, migrations and dry runs.
// A nil *Metrics, or one built with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Node metrics
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	nodeRetries    *prometheus.CounterVec

	// Failure metrics
	errorsByCode *prometheus.CounterVec
	deadLetters  *prometheus.CounterVec

	// Tooling metrics
	migrations  *prometheus.CounterVec
	simulations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the collectors on a private registry. Disabled
// metrics register nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted:   counter("runs_started_total", "Scenario runs started", "trigger_key"),
		runsCompleted: counter("runs_completed_total", "Scenario runs that reached a terminal status", "status"),
		runDuration:   histogram("run_duration_seconds", "Duration of scenario runs", "status"),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_runs",
			Help:      "Scenario runs currently executing",
		}),

		nodeExecutions: counter("node_executions_total", "Node executions by type and outcome", "node_type", "status"),
		nodeDuration:   histogram("node_duration_seconds", "Duration of node executions including retries", "node_type"),
		nodeRetries:    counter("node_retries_total", "Node retry attempts by error code", "node_type", "code"),

		errorsByCode: counter("errors_by_code_total", "Run failures by error code", "code"),
		deadLetters:  counter("dead_letters_total", "Dead-lettered run failures", "code"),

		migrations:  counter("node_migrations_total", "Node config migrations by outcome", "outcome"),
		simulations: counter("simulations_total", "Dry runs by outcome", "outcome"),
	}

	if err := registerAll(m.registry,
		m.runsStarted, m.runsCompleted, m.runDuration, m.activeRuns,
		m.nodeExecutions, m.nodeDuration, m.nodeRetries,
		m.errorsByCode, m.deadLetters,
		m.migrations, m.simulations,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg *prometheus.Registry, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(triggerKey string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(triggerKey).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordRunRejected records a run that reached a terminal status without ever
// running, such as a run of a disabled scenario.
func (m *Metrics) RecordRunRejected(status string) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
}

// Node Metrics

// RecordNodeExecution records one node execution, retries included.
func (m *Metrics) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	if m == nil || m.nodeExecutions == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordNodeRetry records a retried node attempt.
func (m *Metrics) RecordNodeRetry(nodeType, code string) {
	if m == nil || m.nodeRetries == nil {
		return
	}
	m.nodeRetries.WithLabelValues(nodeType, code).Inc()
}

// Failure Metrics

// RecordError records a run failure by code.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// RecordDeadLetter records a dead-lettered failure.
func (m *Metrics) RecordDeadLetter(code string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(code).Inc()
}

// Tooling Metrics

// Migration and simulation outcome labels.
const (
	MigrationMigrated  = "migrated"
	MigrationUnchanged = "unchanged"
	MigrationDryRun    = "dry_run"
	MigrationFailed    = "failed"

	SimulationValid   = "valid"
	SimulationInvalid = "invalid"
	SimulationError   = "error"
)

// RecordMigration records a node migration outcome (migrated, unchanged, dry_run, failed).
func (m *Metrics) RecordMigration(outcome string) {
	if m == nil || m.migrations == nil {
		return
	}
	m.migrations.WithLabelValues(outcome).Inc()
}

// RecordSimulation records a dry-run outcome (valid, invalid, error).
func (m *Metrics) RecordSimulation(outcome string) {
	if m == nil || m.simulations == nil {
		return
	}
	m.simulations.WithLabelValues(outcome).Inc()
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m == nil || !m.config.Enabled {
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", m.config.ListenAddress).Str("path", m.config.Path).Msg("Metrics server started")
	return nil
}
