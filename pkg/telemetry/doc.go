// Package telemetry provides logging, tracing and metrics for scenario runs.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus). Components never reach for
// globals: they are handed a zerolog.Logger, a *Tracer and a *Metrics at
// construction time.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Structured Logging
//
// Every log line emitted while a run executes carries scenario_id, run_id and
// correlation_id; node-level lines add node_id and node_type:
//
//	runLog := telemetry.RunLogger(tel.Logger, scenarioID, runID, correlationID)
//	nodeLog := telemetry.NodeLogger(runLog, node.ID, node.Type)
//	nodeLog.Info().Int("attempt", 2).Msg("Retrying node")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// One scenario.run span covers a run and one scenario.node span covers each
// node, retries included:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, scenarioID, runID, correlationID, triggerKey)
//	defer telemetry.EndSpan(span, err)
//
// Exporters: otlp (gRPC), stdout (pretty JSON on stderr), none. A disabled or
// nil tracer produces no-op spans.
//
// # Metrics
//
// Available metrics (prefixed with the configured namespace):
//
// Run Metrics:
//   - runs_started_total{trigger_key}
//   - runs_completed_total{status}
//   - run_duration_seconds{status}
//   - active_runs
//
// Node Metrics:
//   - node_executions_total{node_type, status}
//   - node_duration_seconds{node_type}
//   - node_retries_total{node_type, code}
//
// Failure Metrics:
//   - errors_by_code_total{code}
//   - dead_letters_total{code}
//
// Tooling Metrics:
//   - node_migrations_total{outcome}
//   - simulations_total{outcome}
//
// All recording methods are safe on a nil or disabled *Metrics.
package telemetry
