package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// PolicyChecker gates scenario execution after the graph is loaded. A non-nil
// error denies the run.
type PolicyChecker interface {
	CheckScenario(ctx context.Context, scenario *engine.Scenario, graph *engine.Graph) error
}

// Config wires a Runner.
type Config struct {
	Graph     engine.GraphReader
	Catalog   *registry.Catalog
	Lifecycle *Lifecycle

	// Profiles resolves named retry policies. Defaults to the built-in profiles.
	Profiles *engine.RetryProfiles

	// RetryProfile is the profile used when a request names none. Defaults to "standard".
	RetryProfile string

	// Policy is optional.
	Policy PolicyChecker

	Logger  zerolog.Logger
	Tracer  *telemetry.Tracer
	Metrics *telemetry.Metrics
}

// ExecuteRequest describes one scenario execution.
type ExecuteRequest struct {
	ScenarioID string
	// RunID identifies an existing pending run. Empty creates one.
	RunID         string
	Payload       map[string]interface{}
	CorrelationID string
	TriggerKey    string
	// RetryProfile overrides the runner's default profile.
	RetryProfile string
}

// StepResult records the outcome of one node.
type StepResult struct {
	NodeID   string            `json:"node_id"`
	NodeType string            `json:"node_type"`
	Status   engine.StepStatus `json:"status"`
	Attempts int               `json:"attempts"`
	Duration time.Duration     `json:"duration"`
	Error    *engine.RunError  `json:"error,omitempty"`
}

// ExecutionResult is the outcome of ExecuteScenario.
type ExecutionResult struct {
	Success       bool                     `json:"success"`
	ScenarioID    string                   `json:"scenario_id"`
	RunID         string                   `json:"run_id"`
	CorrelationID string                   `json:"correlation_id"`
	NodesExecuted int                      `json:"nodes_executed"`
	TotalDuration time.Duration            `json:"total_duration"`
	GraphSource   engine.GraphSource       `json:"graph_source,omitempty"`
	Steps         []StepResult             `json:"steps,omitempty"`
	Outputs       map[string]engine.NodeIO `json:"outputs,omitempty"`
	Error         *engine.RunError         `json:"error,omitempty"`
}

// Runner executes scenarios: strictly sequential node execution in topological
// order, per-node retries, fail-fast on the first failing node.
type Runner struct {
	graph        engine.GraphReader
	catalog      *registry.Catalog
	lifecycle    *Lifecycle
	profiles     *engine.RetryProfiles
	retryProfile string
	policy       PolicyChecker
	logger       zerolog.Logger
	tracer       *telemetry.Tracer
	metrics      *telemetry.Metrics
	now          func() time.Time
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Graph == nil || cfg.Catalog == nil || cfg.Lifecycle == nil {
		return nil, engine.Errorf(engine.ErrCodeInvalidConfig, "runner requires a graph reader, a catalog and a lifecycle manager")
	}
	profiles := cfg.Profiles
	if profiles == nil {
		var err error
		if profiles, err = engine.NewRetryProfiles(nil, engine.RetryProfileStandard); err != nil {
			return nil, err
		}
	}
	retryProfile := cfg.RetryProfile
	if retryProfile == "" {
		retryProfile = engine.RetryProfileStandard
	}

	return &Runner{
		graph:        cfg.Graph,
		catalog:      cfg.Catalog,
		lifecycle:    cfg.Lifecycle,
		profiles:     profiles,
		retryProfile: retryProfile,
		policy:       cfg.Policy,
		logger:       telemetry.ComponentLogger(cfg.Logger, "runner"),
		tracer:       cfg.Tracer,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}, nil
}

// ExecuteScenario runs a scenario to completion or to its first failing node.
// Failures are reported in the result, never as a panic or a bare error.
func (r *Runner) ExecuteScenario(ctx context.Context, req ExecuteRequest) *ExecutionResult {
	start := r.now()
	if req.CorrelationID == "" {
		req.CorrelationID = newCorrelationID()
	}

	result := &ExecutionResult{
		ScenarioID:    req.ScenarioID,
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		Outputs:       make(map[string]engine.NodeIO),
	}
	defer func() {
		result.TotalDuration = r.now().Sub(start)
	}()

	ref := RunRef{
		ScenarioID:    req.ScenarioID,
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		TriggerKey:    req.TriggerKey,
	}

	if req.ScenarioID == "" {
		result.Error = engine.NewRunError(engine.Errorf(engine.ErrCodeInvalidInput, "scenario id is required"), 0, true, r.now().UTC())
		return result
	}

	run, err := r.lifecycle.EnsureRun(ctx, ref)
	if err != nil {
		result.Error = engine.NewRunError(err, 0, true, r.now().UTC())
		return result
	}
	ref.RunID = run.ID
	result.RunID = run.ID

	logger := telemetry.RunLogger(r.logger, ref.ScenarioID, ref.RunID, ref.CorrelationID)
	ctx, span := r.tracer.StartRunSpan(ctx, ref.ScenarioID, ref.RunID, ref.CorrelationID, ref.TriggerKey)
	var runErr error
	defer func() { telemetry.EndSpan(span, runErr) }()

	fail := func(err error, attempts int) *ExecutionResult {
		runErr = err
		retryable := engine.IsRetryable(err)
		opts := FailOptions{
			IsFatal:      !retryable,
			RetryCount:   max(attempts-1, 0),
			TriggerAlert: retryable && attempts > 1,
		}
		r.lifecycle.MarkFailed(ctx, ref, err, opts)
		result.Error = engine.NewRunError(err, opts.RetryCount, opts.IsFatal, r.now().UTC())
		return result
	}

	// Preconditions fail the run straight from pending.
	scenario, err := r.graph.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		if !engine.HasCode(err, engine.ErrCodeNotFound) {
			err = engine.NewError(engine.ErrCodeInternal, "failed to load scenario", err)
		}
		return fail(engine.AsEngineError(err).WithRetryable(false), 0)
	}
	if !scenario.Enabled {
		return fail(engine.Errorf(engine.ErrCodeScenarioDisabled, "scenario %s is disabled", scenario.ID), 0)
	}
	if ref.TriggerKey == "" {
		ref.TriggerKey = scenario.EffectiveConfig(true).TriggerKey
	}

	r.lifecycle.MarkRunning(ctx, ref)
	logger.Info().Str("trigger_key", ref.TriggerKey).Msg("Executing scenario")

	graph, err := engine.LoadGraph(ctx, r.graph, scenario.ID, logger)
	if err != nil {
		return fail(engine.AsEngineError(err).WithRetryable(false), 0)
	}
	result.GraphSource = graph.Source

	if check := engine.ValidateAcyclic(graph.Nodes, graph.Edges); !check.Valid {
		// Ordering falls back to stored node order rather than aborting.
		logger.Warn().Str("reason", check.Error).Msg("Scenario graph is not acyclic, using best-effort order")
	}

	if r.policy != nil {
		if err := r.policy.CheckScenario(ctx, scenario, graph); err != nil {
			if !engine.HasCode(err, engine.ErrCodePolicyViolation) {
				err = engine.NewError(engine.ErrCodePolicyViolation, "scenario denied by policy", err)
			}
			return fail(engine.AsEngineError(err).WithRetryable(false), 0)
		}
	}

	profile := req.RetryProfile
	if profile == "" {
		profile = r.retryProfile
	}
	policy := r.profiles.Get(profile)

	trigger := engine.NewNodeIO(ref.CorrelationID, req.Payload)
	trigger.Metadata["trigger_key"] = ref.TriggerKey
	outputs := result.Outputs

	for step, node := range engine.TopologicalOrder(graph.Nodes, graph.Edges) {
		input := engine.ResolveInput(node, step, graph.Edges, outputs, trigger)

		out, attempts, err := r.runNode(ctx, ref, scenario.ID, node, step, input, policy, logger)
		stepResult := StepResult{NodeID: node.ID, NodeType: node.Type, Attempts: attempts}
		if err != nil {
			stepResult.Status = engine.StepStatusError
			stepResult.Error = engine.NewRunError(err, max(attempts-1, 0), !engine.IsRetryable(err), r.now().UTC())
			result.Steps = append(result.Steps, stepResult)
			return fail(err, attempts)
		}

		stepResult.Status = engine.StepStatusSuccess
		result.Steps = append(result.Steps, stepResult)
		outputs[node.ID] = out
		result.NodesExecuted++
	}

	r.lifecycle.MarkSucceeded(ctx, ref)
	result.Success = true
	logger.Info().Int("nodes_executed", result.NodesExecuted).Dur("duration", r.now().Sub(start)).Msg("Scenario succeeded")
	return result
}

// runNode executes one node under the retry policy and returns its output, the
// number of attempts made and the final error.
func (r *Runner) runNode(
	ctx context.Context,
	ref RunRef,
	scenarioID string,
	node engine.Node,
	step int,
	input engine.NodeIO,
	policy engine.RetryPolicy,
	runLogger zerolog.Logger,
) (out engine.NodeIO, attempts int, err error) {
	started := r.now()
	logger := telemetry.NodeLogger(runLogger, node.ID, node.Type)

	ctx, span := r.tracer.StartNodeSpan(ctx, node.ID, node.Type, step)
	defer func() {
		span.SetAttributes(telemetry.AttrAttempts.Int(attempts))
		telemetry.EndSpan(span, err)

		status := engine.StepStatusSuccess
		if err != nil {
			status = engine.StepStatusError
		}
		r.metrics.RecordNodeExecution(node.Type, string(status), r.now().Sub(started))
	}()

	info, err := r.catalog.Lookup(node.Type)
	if err != nil {
		return out, 0, engine.AsEngineError(err).WithNode(node.ID)
	}
	if info.Executor == nil {
		return out, 0, engine.Errorf(engine.ErrCodeInvalidConfig, "node type %q has no execute capability", node.Type).WithNode(node.ID)
	}

	config, err := engine.ParseConfig(node.Config)
	if err != nil {
		return out, 0, engine.AsEngineError(err).WithNode(node.ID)
	}
	validated, err := info.ValidateConfig(config)
	if err != nil {
		return out, 0, engine.AsEngineError(err).WithNode(node.ID)
	}

	onRetry := func(attempt int, err error, delay time.Duration) {
		code := engine.CodeOf(err)
		r.metrics.RecordNodeRetry(node.Type, string(code))
		span.AddEvent("retry", trace.WithAttributes(
			telemetry.AttrErrorCode.String(string(code)),
			telemetry.AttrAttempts.Int(attempt),
		))
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("policy", policy.Name).Msg("Node attempt failed, retrying")
	}

	attempts, err = engine.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		ec := registry.ExecutionContext{
			ScenarioID:    scenarioID,
			RunID:         ref.RunID,
			NodeID:        node.ID,
			NodeType:      node.Type,
			CorrelationID: ref.CorrelationID,
			Attempt:       attempt,
			Logger:        logger.With().Int("attempt", attempt).Logger(),
		}
		result, err := invoke(ctx, info.Executor, ec, input, validated)
		if err != nil {
			return err
		}
		if err := info.ValidateOutput(result.Data); err != nil {
			return err
		}
		out = result
		return nil
	}, onRetry)
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Str("code", string(engine.CodeOf(err))).Msg("Node failed")
		return engine.NodeIO{}, attempts, engine.AsEngineError(err).WithNode(node.ID)
	}

	out.CorrelationID = ref.CorrelationID
	if out.Metadata == nil {
		out.Metadata = make(map[string]interface{})
	}
	out.Metadata["node_id"] = node.ID
	out.Metadata["attempts"] = attempts

	logger.Debug().Int("attempts", attempts).Msg("Node succeeded")
	return out, attempts, nil
}

func newCorrelationID() string {
	return uuid.New().String()
}

// invoke calls the executor, converting a panic into a fatal UNEXPECTED_ERROR.
func invoke(ctx context.Context, exec registry.Executor, ec registry.ExecutionContext, input engine.NodeIO, config interface{}) (out engine.NodeIO, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = engine.NewError(engine.ErrCodeUnexpected, "node executor panicked", fmt.Errorf("%v", rec)).
				WithRetryable(false)
		}
	}()
	return exec.Execute(ctx, ec, input, config)
}
