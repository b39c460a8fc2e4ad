package runner

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// TriggerEvent is one trigger firing for a scenario.
type TriggerEvent struct {
	ScenarioID string `json:"scenario_id" yaml:"scenario_id"`

	// TriggerKey defaults to the scenario's configured trigger.
	TriggerKey string `json:"trigger_key,omitempty" yaml:"trigger_key,omitempty"`

	// Payload seeds the run. When nil, the trigger's fire capability produces it.
	Payload map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	RetryProfile  string `json:"retry_profile,omitempty" yaml:"retry_profile,omitempty"`
}

// Trigger creates a pending run for the event and executes it.
func (r *Runner) Trigger(ctx context.Context, ev TriggerEvent) *ExecutionResult {
	req := ExecuteRequest{
		ScenarioID:    ev.ScenarioID,
		Payload:       ev.Payload,
		CorrelationID: ev.CorrelationID,
		TriggerKey:    ev.TriggerKey,
		RetryProfile:  ev.RetryProfile,
	}
	if req.CorrelationID == "" {
		req.CorrelationID = newCorrelationID()
	}

	scenario, err := r.graph.GetScenario(ctx, ev.ScenarioID)
	if err == nil {
		cfg := scenario.EffectiveConfig(true)
		if req.TriggerKey == "" {
			req.TriggerKey = cfg.TriggerKey
		}
		if req.Payload == nil && scenario.Enabled {
			payload, err := r.fire(ctx, req.TriggerKey, cfg.TriggerConfig)
			if err != nil {
				return r.failBeforeExecution(ctx, req, err)
			}
			req.Payload = payload
		}
	}
	// A missing scenario is reported by ExecuteScenario against the created run.

	run, err := r.lifecycle.CreateRun(ctx, RunRef{
		ScenarioID:    req.ScenarioID,
		CorrelationID: req.CorrelationID,
		TriggerKey:    req.TriggerKey,
	})
	if err != nil {
		return &ExecutionResult{
			ScenarioID:    req.ScenarioID,
			CorrelationID: req.CorrelationID,
			Error:         engine.NewRunError(err, 0, true, r.now().UTC()),
		}
	}
	req.RunID = run.ID
	return r.ExecuteScenario(ctx, req)
}

// fire produces a payload through the trigger's fire capability. Triggers
// without one yield an empty payload.
func (r *Runner) fire(ctx context.Context, key string, config map[string]interface{}) (map[string]interface{}, error) {
	def, err := r.catalog.Trigger(key)
	if err != nil {
		return nil, err
	}
	if def.Firer == nil {
		return map[string]interface{}{}, nil
	}

	var validated interface{} = config
	if def.Schema != nil {
		var violations []registry.Violation
		if validated, violations = def.Schema.Validate(config); len(violations) > 0 {
			return nil, registry.ViolationsError(engine.ErrCodeInvalidConfig, key+" trigger config", violations)
		}
	}
	return def.Firer.Fire(ctx, validated)
}

// failBeforeExecution records a run that could not be started because its
// trigger failed to fire.
func (r *Runner) failBeforeExecution(ctx context.Context, req ExecuteRequest, err error) *ExecutionResult {
	ref := RunRef{ScenarioID: req.ScenarioID, CorrelationID: req.CorrelationID, TriggerKey: req.TriggerKey}
	result := &ExecutionResult{ScenarioID: req.ScenarioID, CorrelationID: req.CorrelationID}

	if run, createErr := r.lifecycle.CreateRun(ctx, ref); createErr == nil {
		ref.RunID = run.ID
		result.RunID = run.ID
	}

	retryable := engine.IsRetryable(err)
	if ref.RunID != "" {
		r.lifecycle.MarkFailed(ctx, ref, err, FailOptions{IsFatal: !retryable})
	}
	result.Error = engine.NewRunError(err, 0, !retryable, r.now().UTC())
	return result
}

// Dispatcher runs independent trigger events concurrently. Runs share only the
// read-only catalog; each keeps its own node outputs.
type Dispatcher struct {
	runner      *Runner
	concurrency int
	logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher running at most concurrency events at once.
func NewDispatcher(r *Runner, concurrency int, logger zerolog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Dispatcher{
		runner:      r,
		concurrency: concurrency,
		logger:      telemetry.ComponentLogger(logger, "dispatcher"),
	}
}

// Dispatch triggers every event and returns the results in input order. Events
// not yet started when ctx is cancelled are reported as cancelled without
// creating a run.
func (d *Dispatcher) Dispatch(ctx context.Context, events []TriggerEvent) []*ExecutionResult {
	results := make([]*ExecutionResult, len(events))

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for i, ev := range events {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = &ExecutionResult{
					ScenarioID:    ev.ScenarioID,
					CorrelationID: ev.CorrelationID,
					Error:         engine.NewRunError(engine.NewError(engine.ErrCodeUnexpected, "dispatch cancelled", err), 0, false, d.runner.now().UTC()),
				}
				return nil
			}
			results[i] = d.runner.Trigger(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	d.logger.Info().Int("events", len(events)).Int("succeeded", succeeded).Msg("Dispatch complete")
	return results
}
