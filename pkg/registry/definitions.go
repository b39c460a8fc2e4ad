package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Violation is one reason a value was rejected by a schema.
type Violation struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Schema accepts or rejects an arbitrary configuration value. On success it
// returns the validated value, which may be a typed value or a value with
// defaults applied.
type Schema interface {
	Validate(value interface{}) (interface{}, []Violation)
}

// SchemaFunc adapts a function to the Schema interface.
type SchemaFunc func(value interface{}) (interface{}, []Violation)

// Validate implements Schema.
func (f SchemaFunc) Validate(value interface{}) (interface{}, []Violation) {
	return f(value)
}

// ViolationsError converts schema violations into a classified error.
func ViolationsError(code engine.ErrorCode, subject string, violations []Violation) *engine.EngineError {
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.String())
	}
	return engine.Errorf(code, "%s failed validation: %s", subject, strings.Join(msgs, "; ")).
		WithDetail("violations", violations)
}

// ExecutionContext identifies one invocation of a node executor.
type ExecutionContext struct {
	ScenarioID    string
	RunID         string
	NodeID        string
	NodeType      string
	CorrelationID string

	// Attempt is the 1-based attempt number under the retry policy.
	Attempt int

	// Logger carries the run and node fields.
	Logger zerolog.Logger
}

// Executor is the execute capability of node and action types.
type Executor interface {
	Execute(ctx context.Context, ec ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, ec ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, ec ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error) {
	return f(ctx, ec, input, config)
}

// Migrator is the optional migrate capability. Implementations must be
// idempotent: migrating an already-migrated config returns it unchanged.
type Migrator interface {
	Migrate(oldConfig interface{}) (interface{}, error)
}

// MigratorFunc adapts a function to the Migrator interface.
type MigratorFunc func(oldConfig interface{}) (interface{}, error)

// Migrate implements Migrator.
func (f MigratorFunc) Migrate(oldConfig interface{}) (interface{}, error) {
	return f(oldConfig)
}

// Firer is the fire capability of trigger types. It turns a trigger's
// configuration into the payload that seeds a run.
type Firer interface {
	Fire(ctx context.Context, config interface{}) (map[string]interface{}, error)
}

// FirerFunc adapts a function to the Firer interface.
type FirerFunc func(ctx context.Context, config interface{}) (map[string]interface{}, error)

// Fire implements Firer.
func (f FirerFunc) Fire(ctx context.Context, config interface{}) (map[string]interface{}, error) {
	return f(ctx, config)
}

// NodeDefinition describes a node type.
type NodeDefinition struct {
	Type          string
	Description   string
	Category      string
	SchemaVersion int
	Schema        Schema
	Executor      Executor
	Migrator      Migrator
}

// TriggerDefinition describes a trigger type.
type TriggerDefinition struct {
	Key         string
	Description string
	Schema      Schema
	Firer       Firer

	// SamplePayload is the synthetic payload used by dry runs.
	SamplePayload map[string]interface{}
}

// ActionDefinition describes an action type. Actions are usable directly as
// node types; their output is validated against OutputSchema when set.
type ActionDefinition struct {
	Type         string
	Description  string
	Category     string
	InputSchema  Schema
	OutputSchema Schema
	Executor     Executor
	Migrator     Migrator
}

// Kind distinguishes where a resolved node type came from.
type Kind string

const (
	KindNode   Kind = "node"
	KindAction Kind = "action"
)

// TypeInfo is a node type resolved against the catalog.
type TypeInfo struct {
	Type          string
	Kind          Kind
	Category      string
	Description   string
	SchemaVersion int
	Schema        Schema
	OutputSchema  Schema
	Executor      Executor
	Migrator      Migrator
}

// CanMigrate reports whether the type declares a migrate capability.
func (t TypeInfo) CanMigrate() bool {
	return t.Migrator != nil
}

// ValidateConfig validates a node config against the type's schema. Types without
// a schema accept any config unchanged.
func (t TypeInfo) ValidateConfig(config interface{}) (interface{}, error) {
	if t.Schema == nil {
		return config, nil
	}
	validated, violations := t.Schema.Validate(config)
	if len(violations) > 0 {
		return nil, ViolationsError(engine.ErrCodeInvalidConfig, fmt.Sprintf("%s config", t.Type), violations)
	}
	return validated, nil
}

// ValidateOutput validates executor output data against the output schema.
func (t TypeInfo) ValidateOutput(data map[string]interface{}) error {
	if t.OutputSchema == nil {
		return nil
	}
	if _, violations := t.OutputSchema.Validate(data); len(violations) > 0 {
		return ViolationsError(engine.ErrCodeInvalidInput, fmt.Sprintf("%s output", t.Type), violations).
			WithRetryable(false)
	}
	return nil
}
