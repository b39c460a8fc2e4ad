package dryrun

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// MockKind names a family of synthetic outputs.
type MockKind string

const (
	MockHTTP           MockKind = "http"
	MockDatabaseQuery  MockKind = "database.query"
	MockDatabaseInsert MockKind = "database.insert"
	MockDatabaseUpdate MockKind = "database.update"
	MockEmail          MockKind = "email"
	MockFileUpload     MockKind = "file.upload"
	MockFileDownload   MockKind = "file.download"
	MockTransform      MockKind = "transform"
	MockLogger         MockKind = "logger"
	MockWebhook        MockKind = "webhook"
	MockGeneric        MockKind = "generic"
)

// mockGenerator produces a synthetic output for a node. It fails when the
// config lacks what the real executor would need.
type mockGenerator func(nodeType string, config map[string]interface{}, input engine.NodeIO) (map[string]interface{}, error)

var generators = map[MockKind]mockGenerator{
	MockHTTP:           mockHTTP,
	MockDatabaseQuery:  mockDatabaseQuery,
	MockDatabaseInsert: mockDatabaseInsert,
	MockDatabaseUpdate: mockDatabaseUpdate,
	MockEmail:          mockEmail,
	MockFileUpload:     mockFileUpload,
	MockFileDownload:   mockFileDownload,
	MockTransform:      mockTransform,
	MockLogger:         mockLogger,
	MockWebhook:        mockWebhook,
	MockGeneric:        mockGeneric,
}

// categoryKinds maps registered definition categories to mock kinds.
var categoryKinds = map[string]MockKind{
	"http":            MockHTTP,
	"webhook":         MockWebhook,
	"transform":       MockTransform,
	"logging":         MockLogger,
	"email":           MockEmail,
	"database.query":  MockDatabaseQuery,
	"database.insert": MockDatabaseInsert,
	"database.update": MockDatabaseUpdate,
	"file.upload":     MockFileUpload,
	"file.download":   MockFileDownload,
}

// typeRules map type-name words to mock kinds, checked in order. A multi-word
// rule matches when its words appear consecutively in the type name.
var typeRules = []struct {
	kind      MockKind
	fragments []string
}{
	{MockWebhook, []string{"webhook"}},
	{MockHTTP, []string{"http", "api_call"}},
	{MockDatabaseQuery, []string{"database.query", "db.query", "select"}},
	{MockDatabaseInsert, []string{"database.insert", "db.insert", "insert", "create_record"}},
	{MockDatabaseUpdate, []string{"database.update", "db.update", "update_record"}},
	{MockEmail, []string{"email", "mail"}},
	{MockFileUpload, []string{"file.upload", "upload"}},
	{MockFileDownload, []string{"file.download", "download"}},
	{MockTransform, []string{"transform", "filter", "map"}},
	{MockLogger, []string{"logger", "log"}},
}

// KindFor selects the mock kind for a node: by registered category when known,
// else by type-name heuristics.
func KindFor(nodeType, category string) MockKind {
	if kind, ok := categoryKinds[strings.ToLower(category)]; ok {
		return kind
	}
	words := typeWords(nodeType)
	for _, rule := range typeRules {
		for _, f := range rule.fragments {
			if containsWords(words, typeWords(f)) {
				return rule.kind
			}
		}
	}
	return MockGeneric
}

// typeWords splits a type name into lower-case words on '_', '.' and '-'.
func typeWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '.' || r == '-'
	})
}

// containsWords reports whether want occurs as a consecutive run in have.
func containsWords(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	for i := 0; i+len(want) <= len(have); i++ {
		if slices.Equal(have[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

func requireString(config map[string]interface{}, nodeType string, keys ...string) (string, error) {
	for _, k := range keys {
		if v, ok := config[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", engine.Errorf(engine.ErrCodeInvalidConfig, "%s config requires %q", nodeType, keys[0])
}

func optionalString(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func mockHTTP(nodeType string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	url, err := requireString(config, nodeType, "url", "endpoint")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":  200,
		"headers": map[string]interface{}{"Content-Type": "application/json"},
		"body": map[string]interface{}{
			"_mock":  true,
			"url":    url,
			"method": strings.ToUpper(optionalString(config, "method", "GET")),
		},
	}, nil
}

func mockDatabaseQuery(_ string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	return map[string]interface{}{
		"rows": []interface{}{
			map[string]interface{}{"id": 1, "_mock": true},
			map[string]interface{}{"id": 2, "_mock": true},
		},
		"rowCount": 2,
		"query":    optionalString(config, "query", ""),
	}, nil
}

func mockDatabaseInsert(_ string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	return map[string]interface{}{
		"insertedId": "mock_" + uuid.New().String(),
		"rowCount":   1,
		"table":      optionalString(config, "table", ""),
	}, nil
}

func mockDatabaseUpdate(_ string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	return map[string]interface{}{
		"rowCount": 1,
		"updated":  true,
		"table":    optionalString(config, "table", ""),
	}, nil
}

func mockEmail(nodeType string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	to, err := requireString(config, nodeType, "to", "recipient")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"messageId": fmt.Sprintf("<mock-%s@scenarioflow.local>", uuid.New().String()),
		"accepted":  []interface{}{to},
		"status":    "queued",
	}, nil
}

func mockFileUpload(_ string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	name := optionalString(config, "filename", "mock-file.bin")
	return map[string]interface{}{
		"url":      "https://storage.example.com/mock/" + name,
		"filename": name,
		"size":     1024,
		"uploaded": true,
	}, nil
}

func mockFileDownload(_ string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	return map[string]interface{}{
		"path":        optionalString(config, "path", optionalString(config, "url", "")),
		"content":     "",
		"size":        0,
		"contentType": "application/octet-stream",
	}, nil
}

func mockTransform(_ string, _ map[string]interface{}, input engine.NodeIO) (map[string]interface{}, error) {
	out := maps.Clone(input.Data)
	if out == nil {
		out = make(map[string]interface{})
	}
	out["_mockTransform"] = true
	return out, nil
}

func mockLogger(_ string, _ map[string]interface{}, input engine.NodeIO) (map[string]interface{}, error) {
	out := maps.Clone(input.Data)
	if out == nil {
		out = make(map[string]interface{})
	}
	out["_mockLogged"] = true
	return out, nil
}

func mockWebhook(nodeType string, config map[string]interface{}, _ engine.NodeIO) (map[string]interface{}, error) {
	if _, err := requireString(config, nodeType, "url"); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"delivered": true,
		"status":    200,
		"_mock":     true,
	}, nil
}

func mockGeneric(nodeType string, _ map[string]interface{}, input engine.NodeIO) (map[string]interface{}, error) {
	return map[string]interface{}{
		"_mockData":  true,
		"actionType": nodeType,
		"input":      input.Data,
	}, nil
}
