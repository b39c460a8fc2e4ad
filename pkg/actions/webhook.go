package actions

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Scenarioflow-Signature"

const webhookSchemas = `
#WebhookSend: {
	url:        string & =~"^https?://"
	secret?:    string & !=""
	headers?: {[string]: string}
	timeout_ms: *5000 | int & >0 & <=60000
}

#WebhookResult: {
	delivered: true
	status:    int
	...
}
`

// WebhookSendConfig is the validated webhook_send configuration.
type WebhookSendConfig struct {
	URL       string            `json:"url"`
	Secret    string            `json:"secret,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutMS int               `json:"timeout_ms"`
}

// WebhookEnvelope is the body posted by webhook_send.
type WebhookEnvelope struct {
	CorrelationID string                 `json:"correlation_id"`
	ScenarioID    string                 `json:"scenario_id"`
	RunID         string                 `json:"run_id"`
	NodeID        string                 `json:"node_id"`
	SentAt        time.Time              `json:"sent_at"`
	Data          map[string]interface{} `json:"data"`
}

func webhookSendDefinition(opts Options) registry.ActionDefinition {
	a := &httpAction{client: opts.HTTPClient, userAgent: opts.UserAgent}
	return registry.ActionDefinition{
		Type:         TypeWebhookSend,
		Description:  "Posts the node input to a webhook, optionally signed",
		Category:     CategoryWebhook,
		InputSchema:  registry.MustCUESchema(webhookSchemas, "#WebhookSend"),
		OutputSchema: registry.MustCUESchema(webhookSchemas, "#WebhookResult"),
		Executor:     registry.ExecutorFunc(a.sendWebhook),
	}
}

func (a *httpAction) sendWebhook(ctx context.Context, ec registry.ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error) {
	cfg, err := decodeConfig[WebhookSendConfig](config)
	if err != nil {
		return engine.NodeIO{}, err
	}

	envelope := WebhookEnvelope{
		CorrelationID: input.CorrelationID,
		ScenarioID:    ec.ScenarioID,
		RunID:         ec.RunID,
		NodeID:        ec.NodeID,
		SentAt:        time.Now().UTC(),
		Data:          input.Data,
	}
	body, err := gojson.Marshal(envelope)
	if err != nil {
		return engine.NodeIO{}, engine.NewError(engine.ErrCodeInvalidInput, "webhook body is not serializable", err)
	}

	headers := map[string]string{
		"User-Agent":       a.userAgent,
		"X-Correlation-ID": input.CorrelationID,
	}
	maps.Copy(headers, cfg.Headers)

	signature := ""
	if cfg.Secret != "" {
		signature = Sign(cfg.Secret, body)
		headers[SignatureHeader] = signature
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	resp, err := doRequest(reqCtx, a.client, "POST", cfg.URL, headers, body)
	if err != nil {
		return engine.NodeIO{}, err
	}

	ec.Logger.Info().Int("status", resp.Status).Msg("Webhook delivered")

	out := engine.NewNodeIO(input.CorrelationID, map[string]interface{}{
		"delivered": true,
		"status":    resp.Status,
	})
	if signature != "" {
		out.Metadata["signature"] = signature
	}
	return out, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
