package actions

import (
	"context"
	"maps"
	"time"

	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// Built-in trigger keys.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
)

const scheduleSchema = `
#Schedule: {
	cron:     string & !=""
	timezone: *"UTC" | string
}
`

// ManualTriggerConfig configures the manual trigger.
type ManualTriggerConfig struct {
	// Payload seeds runs fired without an explicit payload.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScheduleTriggerConfig is the validated schedule trigger configuration.
type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
}

// TriggerDefinitions returns the built-in trigger definitions.
func TriggerDefinitions() []registry.TriggerDefinition {
	return []registry.TriggerDefinition{
		{
			Key:         TriggerManual,
			Description: "Started by an operator, optionally with a fixed payload",
			Schema:      registry.NewStructSchema[ManualTriggerConfig](),
			Firer:       registry.FirerFunc(fireManual),
			SamplePayload: map[string]interface{}{
				"triggered_by": "operator@example.com",
				"note":         "manual run",
			},
		},
		{
			Key:         TriggerSchedule,
			Description: "Fired by an external scheduler on a cron expression",
			Schema:      registry.MustCUESchema(scheduleSchema, "#Schedule"),
			Firer:       registry.FirerFunc(fireSchedule),
		},
		{
			// Webhook payloads arrive with the request; there is nothing to fire.
			Key:         TriggerWebhook,
			Description: "Fired by an inbound HTTP request",
			SamplePayload: map[string]interface{}{
				"headers": map[string]interface{}{"content-type": "application/json"},
				"body":    map[string]interface{}{"event": "sample.created", "id": "evt_123"},
			},
		},
	}
}

func fireManual(_ context.Context, config interface{}) (map[string]interface{}, error) {
	cfg, err := decodeConfig[ManualTriggerConfig](config)
	if err != nil {
		return nil, err
	}
	payload := maps.Clone(cfg.Payload)
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["triggered_at"] = time.Now().UTC().Format(time.RFC3339)
	return payload, nil
}

func fireSchedule(_ context.Context, config interface{}) (map[string]interface{}, error) {
	cfg, err := decodeConfig[ScheduleTriggerConfig](config)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"scheduled_at": time.Now().UTC().Format(time.RFC3339),
		"cron":         cfg.Cron,
		"timezone":     cfg.Timezone,
	}, nil
}
