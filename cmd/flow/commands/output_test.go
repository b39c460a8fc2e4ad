package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	payload, err := parsePayload("")
	require.NoError(t, err)
	assert.Nil(t, payload)

	payload, err = parsePayload(`{"user": {"id": 7}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"user": map[string]interface{}{"id": float64(7)}}, payload)

	_, err = parsePayload(`[1, 2]`)
	assert.ErrorContains(t, err, "payload must be a JSON object")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"nodes": 2}))
	assert.Equal(t, "{\n  \"nodes\": 2\n}\n", buf.String())
}
