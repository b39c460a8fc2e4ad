package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSchema = `
#Webhook: {
	url:        string & =~"^https?://"
	method:     *"POST" | "PUT"
	timeout_ms: *5000 | int & >0
	headers?: {[string]: string}
}
`

func TestCUESchema_AppliesDefaults(t *testing.T) {
	s, err := NewCUESchema(webhookSchema, "#Webhook")
	require.NoError(t, err)
	assert.Equal(t, "#Webhook", s.Name())

	validated, violations := s.Validate(map[string]interface{}{"url": "https://example.com/hook"})
	require.Empty(t, violations)

	cfg, ok := validated.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "POST", cfg["method"])
	assert.Equal(t, json.Number("5000"), cfg["timeout_ms"])
}

func TestCUESchema_Rejects(t *testing.T) {
	s := MustCUESchema(webhookSchema, "#Webhook")

	tests := []struct {
		name  string
		value interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"bad scheme", map[string]interface{}{"url": "ftp://example.com"}},
		{"unknown field", map[string]interface{}{"url": "https://example.com", "extra": true}},
		{"bad method", map[string]interface{}{"url": "https://example.com", "method": "DELETE"}},
		{"negative timeout", map[string]interface{}{"url": "https://example.com", "timeout_ms": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, violations := s.Validate(tt.value)
			assert.NotEmpty(t, violations)
		})
	}
}

func TestNewCUESchema_Errors(t *testing.T) {
	_, err := NewCUESchema("#Broken: {", "#Broken")
	assert.Error(t, err)

	_, err = NewCUESchema(webhookSchema, "#Missing")
	assert.Error(t, err)
}

type smsConfig struct {
	To      string `json:"to" validate:"required,e164"`
	Message string `json:"message" validate:"required,max=160"`
}

func TestStructSchema(t *testing.T) {
	s := NewStructSchema[smsConfig]()

	validated, violations := s.Validate(map[string]interface{}{"to": "+15551234567", "message": "hi"})
	require.Empty(t, violations)
	assert.Equal(t, smsConfig{To: "+15551234567", Message: "hi"}, validated)

	validated, violations = s.Validate(smsConfig{To: "+15551234567", Message: "typed"})
	require.Empty(t, violations)
	assert.Equal(t, "typed", validated.(smsConfig).Message)

	_, violations = s.Validate(map[string]interface{}{"to": "not-a-number"})
	require.Len(t, violations, 2)
	assert.Equal(t, "smsConfig.To", violations[0].Path)

	_, violations = s.Validate(map[string]interface{}{"to": 42})
	assert.NotEmpty(t, violations)
}
