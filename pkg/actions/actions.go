// Package actions provides the built-in action vocabulary (logger, http_request,
// data_transform, webhook_send) and the built-in triggers (manual, schedule,
// webhook).
//
// The built-ins are illustrative defaults usable directly as node types.
// Deployments register richer executors through the registry.
package actions

import (
	"net/http"
	"time"

	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// Built-in action types.
const (
	TypeLogger        = "logger"
	TypeHTTPRequest   = "http_request"
	TypeDataTransform = "data_transform"
	TypeWebhookSend   = "webhook_send"
)

// Categories group action types for discovery and dry-run mock selection.
const (
	CategoryLogging   = "logging"
	CategoryHTTP      = "http"
	CategoryTransform = "transform"
	CategoryWebhook   = "webhook"
)

// Options configures the built-in actions.
type Options struct {
	// HTTPClient is used by http_request and webhook_send. Defaults to a client
	// without a global timeout; each request carries its own.
	HTTPClient *http.Client

	// ScriptTimeout bounds data_transform scripts. Defaults to 5s.
	ScriptTimeout time.Duration

	// UserAgent is sent by the HTTP actions.
	UserAgent string
}

func (o *Options) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.ScriptTimeout <= 0 {
		o.ScriptTimeout = 5 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "scenarioflow"
	}
}

// Definitions returns the built-in action definitions.
func Definitions(opts Options) []registry.ActionDefinition {
	opts.setDefaults()

	return []registry.ActionDefinition{
		loggerDefinition(),
		httpRequestDefinition(opts),
		dataTransformDefinition(opts),
		webhookSendDefinition(opts),
	}
}

// RegisterBuiltins registers the built-in actions and triggers into the catalog.
func RegisterBuiltins(c *registry.Catalog, opts Options) error {
	for _, def := range Definitions(opts) {
		if err := c.RegisterAction(def); err != nil {
			return err
		}
	}
	for _, def := range TriggerDefinitions() {
		if err := c.RegisterTrigger(def); err != nil {
			return err
		}
	}
	return nil
}
