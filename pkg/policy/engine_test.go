package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func scenarioGraph(nodes ...engine.Node) (*engine.Scenario, *engine.Graph) {
	scenario := &engine.Scenario{
		ID:          "sc-1",
		Name:        "Signup flow",
		Enabled:     true,
		DraftConfig: engine.ScenarioConfig{TriggerKey: "webhook"},
	}
	return scenario, &engine.Graph{Nodes: nodes, Edges: engine.LinearEdges(nodes)}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t, Options{})

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin {
			t.Errorf("Expected %s to be marked built-in", p.Name)
		}
	}

	expected := []string{"node-labels", "node-limit", "secure-http", "webhook-signing"}
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected policies %v, got %v", expected, names)
	}
}

func TestCheckScenario_Allowed(t *testing.T) {
	eng := newTestEngine(t, Options{})
	scenario, graph := scenarioGraph(
		engine.Node{ID: "a", Type: "http_request", Label: "Fetch", Config: `{"url":"https://api.example.com"}`},
		engine.Node{ID: "b", Type: "logger", Label: "Log"},
	)

	if err := eng.CheckScenario(context.Background(), scenario, graph); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func TestEvaluateScenario_Findings(t *testing.T) {
	tests := []struct {
		name          string
		environment   string
		nodes         []engine.Node
		expectAllowed bool
		violations    []string
		warnings      []string
	}{
		{
			name:          "plain http outside production warns",
			nodes:         []engine.Node{{ID: "a", Type: "http_request", Label: "A", Config: map[string]interface{}{"url": "http://api.example.com"}}},
			expectAllowed: true,
			warnings:      []string{"secure-http"},
		},
		{
			name:          "plain http in production denies",
			environment:   "production",
			nodes:         []engine.Node{{ID: "a", Type: "http_request", Label: "A", Config: map[string]interface{}{"url": "http://api.example.com"}}},
			expectAllowed: false,
			violations:    []string{"secure-http"},
		},
		{
			name:          "plain http to localhost is fine",
			environment:   "production",
			nodes:         []engine.Node{{ID: "a", Type: "http_request", Label: "A", Config: map[string]interface{}{"url": "http://localhost:8080/hook"}}},
			expectAllowed: true,
		},
		{
			name:          "unsigned webhook and missing label",
			nodes:         []engine.Node{{ID: "a", Type: "webhook_send", Config: map[string]interface{}{"url": "https://hooks.example.com"}}},
			expectAllowed: true,
			warnings:      []string{"node-labels", "webhook-signing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, Options{Environment: tt.environment})
			scenario, graph := scenarioGraph(tt.nodes...)

			result, err := eng.EvaluateScenario(context.Background(), scenario, graph, "execute")
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (%+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if got := policyNames(result.Violations); got != strings.Join(tt.violations, ",") {
				t.Errorf("Expected violations %v, got %s", tt.violations, got)
			}
			if got := policyNames(result.Warnings); got != strings.Join(tt.warnings, ",") {
				t.Errorf("Expected warnings %v, got %s", tt.warnings, got)
			}
			if len(result.EvaluatedPolicies) != 4 {
				t.Errorf("Expected 4 evaluated policies, got %d", len(result.EvaluatedPolicies))
			}
		})
	}
}

func policyNames(vs []Violation) string {
	names := make([]string, 0, len(vs))
	for _, v := range vs {
		names = append(names, v.Policy)
	}
	return strings.Join(names, ",")
}

func TestCheckScenario_NodeLimit(t *testing.T) {
	eng := newTestEngine(t, Options{MaxNodes: 2})

	nodes := make([]engine.Node, 3)
	for i := range nodes {
		nodes[i] = engine.Node{ID: fmt.Sprintf("n%d", i), Type: "logger", Label: "log"}
	}
	scenario, graph := scenarioGraph(nodes...)

	err := eng.CheckScenario(context.Background(), scenario, graph)
	if err == nil {
		t.Fatal("Expected policy violation, got nil")
	}
	if !engine.HasCode(err, engine.ErrCodePolicyViolation) {
		t.Errorf("Expected POLICY_VIOLATION, got %v", err)
	}
	if engine.IsRetryable(err) {
		t.Error("Policy violations must not be retryable")
	}
	if !strings.Contains(err.Error(), "3 nodes, the limit is 2") {
		t.Errorf("Unexpected message: %v", err)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, Options{MaxNodes: 1})
	scenario, graph := scenarioGraph(
		engine.Node{ID: "a", Type: "logger", Label: "A"},
		engine.Node{ID: "b", Type: "logger", Label: "B"},
	)

	if err := eng.DisablePolicy("node-limit"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.CheckScenario(context.Background(), scenario, graph); err != nil {
		t.Fatalf("Expected no error with node-limit disabled, got: %v", err)
	}

	p, err := eng.GetPolicy("node-limit")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.Enabled {
		t.Error("Expected node-limit to be disabled")
	}

	if err := eng.EnablePolicy("node-limit"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.CheckScenario(context.Background(), scenario, graph); err == nil {
		t.Error("Expected violation with node-limit enabled")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddPolicy(t *testing.T) {
	eng := newTestEngine(t, Options{})

	err := eng.AddPolicy(context.Background(), Policy{
		Name:    "no-schedule",
		Enabled: true,
		Rego: `package custom.schedule

import rego.v1

deny contains "Scheduled scenarios are frozen" if {
	input.scenario.trigger_key == "schedule"
}`,
		Severity: SeverityCritical,
	})
	if err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	scenario, graph := scenarioGraph(engine.Node{ID: "a", Type: "logger", Label: "A"})
	scenario.DraftConfig.TriggerKey = "schedule"

	result, err := eng.EvaluateScenario(context.Background(), scenario, graph, "execute")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected denial")
	}
	if result.Violations[0].Severity != SeverityCritical || result.Violations[0].Message != "Scheduled scenarios are frozen" {
		t.Errorf("Unexpected violation: %+v", result.Violations[0])
	}

	if err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package x\ndeny contains"}); err == nil {
		t.Error("Expected compile error")
	}
}

func TestLoadAndReloadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "frozen.rego"), `package custom.frozen

import rego.v1

deny contains {"message": "frozen", "severity": "error"} if {
	input.context.operation == "execute"
}`)

	eng := newTestEngine(t, Options{Paths: []string{dir}})
	if _, err := eng.GetPolicy("frozen"); err != nil {
		t.Fatalf("Expected loaded policy, got: %v", err)
	}

	scenario, graph := scenarioGraph(engine.Node{ID: "a", Type: "logger", Label: "A"})
	if err := eng.CheckScenario(context.Background(), scenario, graph); err == nil {
		t.Fatal("Expected the frozen policy to deny")
	}

	if err := eng.DisablePolicy("node-labels"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	writeFile(t, filepath.Join(dir, "frozen.rego"), denyNothing)

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if err := eng.CheckScenario(context.Background(), scenario, graph); err != nil {
		t.Errorf("Expected reloaded policy to allow, got: %v", err)
	}
	p, err := eng.GetPolicy("node-labels")
	if err != nil {
		t.Fatalf("Built-in policy lost on reload: %v", err)
	}
	if p.Enabled {
		t.Error("Expected disabled state to survive reload")
	}
}

func TestNewInput(t *testing.T) {
	scenario, graph := scenarioGraph(
		engine.Node{ID: "a", Type: "http_request", Config: `{"url":"https://x"}`},
		engine.Node{ID: "b", Type: "logger", Config: "not json"},
	)

	in := NewInput(scenario, graph, Context{Operation: "simulate"})
	if in.Scenario.TriggerKey != "webhook" {
		t.Errorf("Expected trigger key webhook, got %s", in.Scenario.TriggerKey)
	}
	if in.Nodes[0].Config["url"] != "https://x" {
		t.Errorf("Expected parsed config, got %v", in.Nodes[0].Config)
	}
	if len(in.Nodes[1].Config) != 0 {
		t.Errorf("Expected empty config for unparseable node, got %v", in.Nodes[1].Config)
	}
	if len(in.Edges) != 2 || in.Edges[0].Source != engine.TriggerSourceID {
		t.Errorf("Unexpected edges: %+v", in.Edges)
	}
}
