package dryrun

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// Options control a simulation.
type Options struct {
	// TriggerPayload replaces the synthetic payload when set.
	TriggerPayload map[string]interface{}
	// UsePublished simulates the published config when one exists.
	UsePublished  bool
	CorrelationID string
}

// NodeResult is the simulated outcome of one node.
type NodeResult struct {
	NodeID   string                 `json:"node_id"`
	NodeType string                 `json:"node_type"`
	Step     int                    `json:"step"`
	Status   engine.StepStatus      `json:"status"`
	MockKind MockKind               `json:"mock_kind,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    *engine.EngineError    `json:"error,omitempty"`
}

// Result is the outcome of SimulateScenario.
type Result struct {
	Valid          bool                   `json:"valid"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	GraphSource    engine.GraphSource     `json:"graph_source,omitempty"`
	TriggerKey     string                 `json:"trigger_key,omitempty"`
	TriggerPayload map[string]interface{} `json:"trigger_payload,omitempty"`
	NodeResults    []NodeResult           `json:"node_results"`
	// FlowTaken lists the node ids visited in order, the failing node included.
	FlowTaken []string            `json:"flow_taken"`
	Error     *engine.EngineError `json:"error,omitempty"`
}

// Simulator previews scenarios with synthetic node outputs. It resolves node
// types for validation and categorization only; executors are never reached.
type Simulator struct {
	graph   engine.GraphReader
	catalog *registry.Catalog
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	now     func() time.Time
}

// New creates a simulator. Metrics and tracer may be nil.
func New(graph engine.GraphReader, catalog *registry.Catalog, logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Simulator {
	return &Simulator{
		graph:   graph,
		catalog: catalog,
		logger:  telemetry.ComponentLogger(logger, "dryrun"),
		metrics: metrics,
		tracer:  tracer,
		now:     time.Now,
	}
}

// SimulateScenario walks the scenario in execution order, producing a mock output
// per node. It stops at the first node whose mock generation fails. Errors are
// returned only when the scenario or its nodes cannot be loaded; an invalid graph
// is reported through Result.
func (s *Simulator) SimulateScenario(ctx context.Context, scenarioID string, opts Options) (result *Result, err error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx, span := s.tracer.Start(ctx, telemetry.SpanSimulate,
		telemetry.AttrScenarioID.String(scenarioID),
		telemetry.AttrCorrelationID.String(correlationID),
	)
	defer func() {
		switch {
		case err != nil:
			s.metrics.RecordSimulation(telemetry.SimulationError)
			telemetry.EndSpan(span, err)
		case !result.Valid:
			s.metrics.RecordSimulation(telemetry.SimulationInvalid)
			telemetry.EndSpan(span, result.Error)
		default:
			s.metrics.RecordSimulation(telemetry.SimulationValid)
			telemetry.EndSpan(span, nil)
		}
	}()

	logger := telemetry.RunLogger(s.logger, scenarioID, "", correlationID)

	scenario, err := s.graph.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	cfg := scenario.EffectiveConfig(opts.UsePublished)

	graph, err := engine.LoadGraph(ctx, s.graph, scenarioID, logger)
	if err != nil {
		return nil, err
	}

	result = &Result{
		CorrelationID: correlationID,
		GraphSource:   graph.Source,
		TriggerKey:    cfg.TriggerKey,
		NodeResults:   []NodeResult{},
		FlowTaken:     []string{},
	}

	if check := engine.ValidateAcyclic(graph.Nodes, graph.Edges); !check.Valid {
		result.Error = engine.NewError(engine.ErrCodeCycleDetected, check.Error, nil).WithRetryable(false)
		logger.Warn().Str("reason", check.Error).Msg("Simulation rejected")
		return result, nil
	}

	payload := opts.TriggerPayload
	if payload == nil {
		payload = SyntheticPayload(s.catalog, cfg.TriggerKey, s.now())
	}
	result.TriggerPayload = payload

	trigger := engine.NewNodeIO(correlationID, payload)
	trigger.Metadata["trigger_key"] = cfg.TriggerKey
	trigger.Metadata["dry_run"] = true

	outputs := make(map[string]engine.NodeIO, len(graph.Nodes))
	for step, node := range engine.TopologicalOrder(graph.Nodes, graph.Edges) {
		if err := ctx.Err(); err != nil {
			result.Error = engine.NewError(engine.ErrCodeTimeout, "simulation cancelled", err)
			return result, nil
		}

		input := engine.ResolveInput(node, step, graph.Edges, outputs, trigger)
		nr := NodeResult{
			NodeID:   node.ID,
			NodeType: node.Type,
			Step:     step,
			Input:    input.Data,
		}
		result.FlowTaken = append(result.FlowTaken, node.ID)

		out, kind, err := s.simulateNode(node, input)
		nr.MockKind = kind
		if err != nil {
			nr.Status = engine.StepStatusError
			nr.Error = engine.AsEngineError(err)
			result.NodeResults = append(result.NodeResults, nr)
			result.Error = nr.Error
			logger.Info().
				Str("node_id", node.ID).
				Str("node_type", node.Type).
				Str("error_code", string(nr.Error.Code)).
				Msg("Simulation halted")
			return result, nil
		}

		nr.Status = engine.StepStatusSuccess
		nr.Output = out.Data
		result.NodeResults = append(result.NodeResults, nr)
		outputs[node.ID] = out
	}

	result.Valid = true
	logger.Debug().Int("nodes", len(result.NodeResults)).Msg("Simulation completed")
	return result, nil
}

// simulateNode validates the node config when its type is registered and
// generates a mock output. Unregistered types fall back to heuristics.
func (s *Simulator) simulateNode(node engine.Node, input engine.NodeIO) (engine.NodeIO, MockKind, error) {
	config, err := engine.ParseConfig(node.Config)
	if err != nil {
		return engine.NodeIO{}, "", err
	}

	category := ""
	if info, lookupErr := s.catalog.Lookup(node.Type); lookupErr == nil {
		category = info.Category
		validated, err := info.ValidateConfig(config)
		if err != nil {
			return engine.NodeIO{}, "", err
		}
		if m, ok := validated.(map[string]interface{}); ok {
			config = m
		}
	}

	kind := KindFor(node.Type, category)
	data, err := generators[kind](node.Type, config, input)
	if err != nil {
		return engine.NodeIO{}, kind, err
	}

	out := engine.NewNodeIO(input.CorrelationID, data)
	out.Metadata["node_id"] = node.ID
	out.Metadata["mock"] = string(kind)
	return out, kind, nil
}
