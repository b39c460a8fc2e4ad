package engine

import (
	"time"
)

// TriggerSourceID is the sentinel source id of edges that start at the scenario trigger.
const TriggerSourceID = "trigger"

// Scenario is a user-defined automation workflow: one trigger plus a DAG of nodes.
type Scenario struct {
	// ID is the opaque scenario identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable scenario name.
	Name string `json:"name" yaml:"name"`

	// Enabled controls whether trigger firings execute the scenario.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DraftConfig is the working configuration edited by the builder.
	DraftConfig ScenarioConfig `json:"draft_config" yaml:"draft_config"`

	// PublishedConfig is the last published configuration, if any.
	PublishedConfig *ScenarioConfig `json:"published_config,omitempty" yaml:"published_config,omitempty"`

	// CreatedAt is when the scenario was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is when the scenario was last updated.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// EffectiveConfig returns the published config when requested and present, else the draft.
func (s *Scenario) EffectiveConfig(usePublished bool) ScenarioConfig {
	if usePublished && s.PublishedConfig != nil {
		return *s.PublishedConfig
	}
	return s.DraftConfig
}

// ScenarioConfig is a versioned scenario configuration.
type ScenarioConfig struct {
	// TriggerKey identifies the trigger definition that starts the scenario.
	TriggerKey string `json:"trigger_key" yaml:"trigger_key"`

	// TriggerConfig is the trigger-specific configuration.
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty" yaml:"trigger_config,omitempty"`
}

// Node is one step in a scenario.
type Node struct {
	// ID is the node identifier, scoped to one scenario.
	ID string `json:"id" yaml:"id"`

	// ScenarioID is the owning scenario.
	ScenarioID string `json:"scenario_id" yaml:"-"`

	// Type must resolve in the type registry.
	Type string `json:"type" yaml:"type"`

	// Label is the display label.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Config is the persisted configuration. Stores may hand it back either as a
	// serialized JSON string or as a structured value; it is only interpreted
	// through the node type's schema and migrate capability.
	Config interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	// Order is the stored display order. Execution order is derived from edges.
	Order int `json:"order" yaml:"order"`
}

// Edge is a directed dependency from a source node (or the trigger sentinel) to a target node.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	ScenarioID   string `json:"scenario_id,omitempty" yaml:"-"`
	SourceNodeID string `json:"source_node_id" yaml:"source"`
	TargetNodeID string `json:"target_node_id" yaml:"target"`
}

// FromTrigger reports whether the edge starts at the trigger sentinel.
func (e Edge) FromTrigger() bool {
	return e.SourceNodeID == TriggerSourceID
}

// Connection is the legacy representation of an edge, kept for scenarios created
// before graph edges existed.
type Connection struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	ScenarioID string `json:"scenario_id,omitempty" yaml:"-"`
	FromNodeID string `json:"from_node_id" yaml:"from"`
	ToNodeID   string `json:"to_node_id" yaml:"to"`
}

// Edge converts the legacy connection into a graph edge.
func (c Connection) Edge() Edge {
	return Edge{
		ID:           c.ID,
		ScenarioID:   c.ScenarioID,
		SourceNodeID: c.FromNodeID,
		TargetNodeID: c.ToNodeID,
	}
}

// NodeIO is the unit of data passed along edges.
type NodeIO struct {
	// CorrelationID is assigned once per run and threaded unchanged through every node.
	CorrelationID string `json:"correlation_id"`

	// Data is the payload.
	Data map[string]interface{} `json:"data"`

	// Metadata carries execution annotations.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewNodeIO creates a NodeIO with non-nil maps.
func NewNodeIO(correlationID string, data map[string]interface{}) NodeIO {
	if data == nil {
		data = make(map[string]interface{})
	}
	return NodeIO{
		CorrelationID: correlationID,
		Data:          data,
		Metadata:      make(map[string]interface{}),
	}
}

// ScenarioRun is one execution of a scenario, created per trigger firing.
type ScenarioRun struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// ScenarioID is the scenario being executed.
	ScenarioID string `json:"scenario_id"`

	// Status is the lifecycle status. Only the run lifecycle manager writes it.
	Status RunStatus `json:"status"`

	// CorrelationID is the run's correlation id.
	CorrelationID string `json:"correlation_id"`

	// TriggerKey is the trigger that fired the run.
	TriggerKey string `json:"trigger_key,omitempty"`

	// StartedAt is when the run record was created.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is set on the terminal transition.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the failure record of a failed run.
	Error *RunError `json:"error,omitempty"`
}

// RunLogEntry is a structured completion or failure log record for a run.
type RunLogEntry struct {
	ID            int64                  `json:"id,omitempty"`
	ScenarioID    string                 `json:"scenario_id"`
	RunID         string                 `json:"run_id"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Status        RunStatus              `json:"status"`
	StartTime     time.Time              `json:"start_time"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	DeadLetter    bool                   `json:"dead_letter,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NodePatch is a partial update of a node record. Nil fields are left untouched.
type NodePatch struct {
	Type   *string
	Config interface{}
	// SetConfig distinguishes "set config to nil" from "leave config alone".
	SetConfig bool
}

// Empty reports whether the patch changes nothing.
func (p NodePatch) Empty() bool {
	return p.Type == nil && !p.SetConfig
}

// MigrationResult is produced once per node migration attempt.
type MigrationResult struct {
	Success       bool         `json:"success"`
	NodeID        string       `json:"node_id"`
	OldType       string       `json:"old_type,omitempty"`
	NewType       string       `json:"new_type,omitempty"`
	ConfigChanged bool         `json:"config_changed"`
	Persisted     bool         `json:"persisted"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Error         *EngineError `json:"error,omitempty"`
}
