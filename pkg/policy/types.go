package policy

import (
	"time"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run and is always reported first.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego policy evaluated against scenario graphs. Its module must
// define a `deny` set; each member is a message string or an object with
// message, severity and node fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine. Reloads keep them.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as the source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// NodeID is the offending node, when the finding is about one.
	NodeID string `json:"node_id,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate. A failing policy does not
	// deny the operation.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies are evaluated against, available as `input`.
type Input struct {
	Scenario InputScenario `json:"scenario"`
	Nodes    []InputNode   `json:"nodes"`
	Edges    []InputEdge   `json:"edges"`
	Context  Context       `json:"context"`
}

// InputScenario is the scenario as seen by policies.
type InputScenario struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	TriggerKey string `json:"trigger_key"`
}

// InputNode is a node with its config parsed into an object.
type InputNode struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Label  string                 `json:"label,omitempty"`
	Config map[string]interface{} `json:"config"`
}

// InputEdge is a dependency edge. Source is "trigger" for trigger edges.
type InputEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Context provides evaluation context.
type Context struct {
	// Operation is what is being gated, e.g. "execute" or "simulate".
	Operation string `json:"operation"`

	// Environment is the deployment environment (e.g. "production").
	Environment string `json:"environment,omitempty"`

	// MaxNodes is the node-count limit enforced by the built-in node-limit policy.
	MaxNodes int `json:"max_nodes"`

	Timestamp time.Time `json:"timestamp"`
}

// Bundle is a versioned collection of policies loaded from one JSON document.
type Bundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}

// NewInput builds the policy input for a scenario graph. Node configs that are
// not JSON objects are passed as empty objects.
func NewInput(scenario *engine.Scenario, graph *engine.Graph, ctx Context) *Input {
	in := &Input{
		Nodes:   make([]InputNode, 0, len(graph.Nodes)),
		Edges:   make([]InputEdge, 0, len(graph.Edges)),
		Context: ctx,
	}
	if scenario != nil {
		in.Scenario = InputScenario{
			ID:         scenario.ID,
			Name:       scenario.Name,
			Enabled:    scenario.Enabled,
			TriggerKey: scenario.DraftConfig.TriggerKey,
		}
	}
	for _, n := range graph.Nodes {
		config, err := engine.ParseConfig(n.Config)
		if err != nil {
			config = map[string]interface{}{}
		}
		in.Nodes = append(in.Nodes, InputNode{ID: n.ID, Type: n.Type, Label: n.Label, Config: config})
	}
	for _, e := range graph.Edges {
		in.Edges = append(in.Edges, InputEdge{Source: e.SourceNodeID, Target: e.TargetNodeID})
	}
	return in
}
