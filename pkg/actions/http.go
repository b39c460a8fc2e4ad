package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

const httpSchemas = `
#HTTPRequest: {
	url:        string & =~"^https?://"
	method:     *"GET" | "POST" | "PUT" | "PATCH" | "DELETE" | "HEAD"
	headers?: {[string]: string}
	query?: {[string]: string}
	body?:      _
	send_input: *false | bool
	timeout_ms: *10000 | int & >0 & <=300000
}

#HTTPResponse: {
	status: int & >=100 & <600
	headers: {[string]: string}
	body?: _
}
`

var (
	httpRequestSchema  = registry.MustCUESchema(httpSchemas, "#HTTPRequest")
	httpResponseSchema = registry.MustCUESchema(httpSchemas, "#HTTPResponse")
)

// HTTPRequestConfig is the validated http_request configuration.
type HTTPRequestConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Query     map[string]string `json:"query,omitempty"`
	Body      interface{}       `json:"body,omitempty"`
	SendInput bool              `json:"send_input"`
	TimeoutMS int               `json:"timeout_ms"`
}

func httpRequestDefinition(opts Options) registry.ActionDefinition {
	a := &httpAction{client: opts.HTTPClient, userAgent: opts.UserAgent}
	return registry.ActionDefinition{
		Type:         TypeHTTPRequest,
		Description:  "Calls an HTTP endpoint and returns its status, headers and body",
		Category:     CategoryHTTP,
		InputSchema:  httpRequestSchema,
		OutputSchema: httpResponseSchema,
		Executor:     registry.ExecutorFunc(a.execute),
		Migrator:     registry.MigratorFunc(migrateHTTPRequest),
	}
}

type httpAction struct {
	client    *http.Client
	userAgent string
}

func (a *httpAction) execute(ctx context.Context, ec registry.ExecutionContext, input engine.NodeIO, config interface{}) (engine.NodeIO, error) {
	cfg, err := decodeConfig[HTTPRequestConfig](config)
	if err != nil {
		return engine.NodeIO{}, err
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return engine.NodeIO{}, engine.NewError(engine.ErrCodeInvalidConfig, "invalid url", err)
	}
	if len(cfg.Query) > 0 {
		q := target.Query()
		for k, v := range cfg.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body interface{}
	switch {
	case cfg.Body != nil:
		body = cfg.Body
	case cfg.SendInput:
		body = input.Data
	}

	headers := map[string]string{
		"User-Agent":       a.userAgent,
		"X-Correlation-ID": input.CorrelationID,
	}
	maps.Copy(headers, cfg.Headers)

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	ec.Logger.Debug().Str("method", cfg.Method).Str("url", target.Redacted()).Msg("HTTP request")

	resp, err := doRequest(reqCtx, a.client, cfg.Method, target.String(), headers, body)
	if err != nil {
		return engine.NodeIO{}, err
	}

	ec.Logger.Debug().Int("status", resp.Status).Msg("HTTP response")

	out := engine.NewNodeIO(input.CorrelationID, map[string]interface{}{
		"status":  resp.Status,
		"headers": resp.Headers,
	})
	if resp.Body != nil {
		out.Data["body"] = resp.Body
	}
	return out, nil
}

// migrateHTTPRequest upgrades legacy configs that used endpoint/verb/timeout
// (seconds) to url/method/timeout_ms. Already-migrated configs are returned as is.
func migrateHTTPRequest(old interface{}) (interface{}, error) {
	cfg, err := engine.ParseConfig(old)
	if err != nil {
		return nil, err
	}

	out := maps.Clone(cfg)
	if endpoint, ok := out["endpoint"]; ok {
		if _, has := out["url"]; !has {
			out["url"] = endpoint
		}
		delete(out, "endpoint")
	}
	if verb, ok := out["verb"]; ok {
		if _, has := out["method"]; !has {
			s, isString := verb.(string)
			if !isString {
				return nil, engine.Errorf(engine.ErrCodeInvalidConfig, "legacy verb must be a string, got %T", verb)
			}
			out["method"] = strings.ToUpper(s)
		}
		delete(out, "verb")
	}
	if timeout, ok := out["timeout"]; ok {
		if _, has := out["timeout_ms"]; !has {
			n, isNumber := timeout.(gojson.Number)
			if !isNumber {
				return nil, engine.Errorf(engine.ErrCodeInvalidConfig, "legacy timeout must be a number, got %T", timeout)
			}
			secs, err := n.Float64()
			if err != nil {
				return nil, engine.NewError(engine.ErrCodeInvalidConfig, "legacy timeout is out of range", err)
			}
			out["timeout_ms"] = int(secs * 1000)
		}
		delete(out, "timeout")
	}
	return out, nil
}

type httpResponse struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// doRequest sends a request with an optional JSON body, given either as raw bytes
// or as a value to encode, and decodes the response.
// Non-2xx statuses become classified errors.
func doRequest(ctx context.Context, client *http.Client, method, target string, headers map[string]string, body interface{}) (*httpResponse, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := gojson.Marshal(b)
		if err != nil {
			return nil, engine.NewError(engine.ErrCodeInvalidInput, "request body is not serializable", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeInvalidConfig, "create request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: do request: %w", method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, req.URL.Redacted(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(method, req.URL.Redacted(), resp.StatusCode, raw)
	}

	out := &httpResponse{
		Status:  resp.StatusCode,
		Headers: make(map[string]string, len(resp.Header)),
	}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}

	if len(raw) > 0 {
		var decoded interface{}
		if strings.Contains(resp.Header.Get("Content-Type"), "json") && gojson.Unmarshal(raw, &decoded) == nil {
			out.Body = decoded
		} else {
			out.Body = string(raw)
		}
	}
	return out, nil
}

// statusError maps an HTTP error status onto the taxonomy.
func statusError(method, target string, status int, body []byte) *engine.EngineError {
	code := engine.ErrCodeInvalidInput
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = engine.ErrCodeInvalidCredentials
	case status == http.StatusNotFound:
		code = engine.ErrCodeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = engine.ErrCodeTimeout
	case status == http.StatusTooManyRequests:
		code = engine.ErrCodeRateLimited
	case status >= 500:
		code = engine.ErrCodeServiceUnavailable
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	return engine.Errorf(code, "%s %s: HTTP %d: %s", method, target, status, msg).
		WithDetail("status", status)
}

// decodeConfig turns a validated config into T. Typed values pass through.
func decodeConfig[T any](config interface{}) (T, error) {
	var out T
	if typed, ok := config.(T); ok {
		return typed, nil
	}
	data, err := gojson.Marshal(config)
	if err != nil {
		return out, engine.NewError(engine.ErrCodeInvalidConfig, "config is not serializable", err)
	}
	if err := engine.DecodeJSON(data, &out); err != nil {
		return out, engine.NewError(engine.ErrCodeInvalidConfig, fmt.Sprintf("config does not match %T", out), err)
	}
	return out, nil
}
