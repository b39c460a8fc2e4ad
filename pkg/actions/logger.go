package actions

import (
	"context"
	"maps"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// LoggerConfig configures the logger action.
type LoggerConfig struct {
	Level   string `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message,omitempty" validate:"max=2048"`

	// IncludeInput logs the input data alongside the message.
	IncludeInput bool `json:"include_input,omitempty"`
}

func loggerDefinition() registry.ActionDefinition {
	return registry.ActionDefinition{
		Type:        TypeLogger,
		Description: "Writes a structured log line and passes its input through",
		Category:    CategoryLogging,
		InputSchema: registry.NewStructSchema[LoggerConfig](),
		Executor:    registry.ExecutorFunc(executeLogger),
	}
}

func executeLogger(ctx context.Context, ec registry.ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error) {
	cfg, _ := config.(LoggerConfig)

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	msg := cfg.Message
	if msg == "" {
		msg = "Scenario logger node"
	}

	event := ec.Logger.WithLevel(level)
	if cfg.IncludeInput {
		event = event.Interface("input", input.Data)
	}
	event.Msg(msg)

	out := engine.NewNodeIO(input.CorrelationID, maps.Clone(input.Data))
	out.Metadata["logged"] = true
	out.Metadata["level"] = level.String()
	return out, nil
}
