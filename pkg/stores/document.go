package stores

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// ScenarioDocument is the YAML form of a scenario and its graph, used to seed stores.
//
//	id: onboarding
//	name: Onboarding
//	enabled: true
//	draft_config:
//	  trigger_key: user_signup
//	nodes:
//	  - id: fetch
//	    type: http_request
//	    config: {url: "https://api.example.com/users"}
//	edges:
//	  - {source: trigger, target: fetch}
//
// Documents written before graph edges existed may carry `connections` (from/to)
// instead of edges.
type ScenarioDocument struct {
	engine.Scenario `yaml:",inline"`

	Nodes       []engine.Node       `yaml:"nodes"`
	Edges       []engine.Edge       `yaml:"edges,omitempty"`
	Connections []engine.Connection `yaml:"connections,omitempty"`
}

// LoadScenarioDocument reads and parses a scenario document file.
func LoadScenarioDocument(path string) (*ScenarioDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario document: %w", err)
	}
	doc, err := ParseScenarioDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseScenarioDocument parses and checks a scenario document. Nodes without an
// explicit order keep their document position.
func ParseScenarioDocument(data []byte) (*ScenarioDocument, error) {
	var doc ScenarioDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewError(engine.ErrCodeInvalidInput, "invalid scenario document", err)
	}

	if doc.ID == "" {
		return nil, engine.Errorf(engine.ErrCodeInvalidInput, "scenario document has no id")
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	explicitOrder := false
	for _, n := range doc.Nodes {
		if n.Order != 0 {
			explicitOrder = true
			break
		}
	}

	ids := make(map[string]bool, len(doc.Nodes))
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		switch {
		case n.ID == "":
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "node %d has no id", i)
		case n.ID == engine.TriggerSourceID:
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "node id %q is reserved", n.ID)
		case n.Type == "":
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "node %s has no type", n.ID)
		case ids[n.ID]:
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "duplicate node id %s", n.ID)
		}
		ids[n.ID] = true
		n.ScenarioID = doc.ID
		if !explicitOrder {
			n.Order = i
		}
	}

	for _, e := range doc.Edges {
		if e.SourceNodeID != engine.TriggerSourceID && !ids[e.SourceNodeID] {
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "edge source %s is not a node", e.SourceNodeID)
		}
		if !ids[e.TargetNodeID] {
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "edge target %s is not a node", e.TargetNodeID)
		}
	}
	for _, c := range doc.Connections {
		if !ids[c.FromNodeID] || !ids[c.ToNodeID] {
			return nil, engine.Errorf(engine.ErrCodeInvalidInput, "connection %s -> %s references an unknown node", c.FromNodeID, c.ToNodeID)
		}
	}

	return &doc, nil
}

// ImportScenario writes the scenario record and replaces its graph.
func ImportScenario(ctx context.Context, store Store, doc *ScenarioDocument) error {
	sc := doc.Scenario
	if err := store.SaveScenario(ctx, &sc); err != nil {
		return fmt.Errorf("failed to import scenario %s: %w", doc.ID, err)
	}
	if err := store.ReplaceGraph(ctx, doc.ID, doc.Nodes, doc.Edges, doc.Connections); err != nil {
		return fmt.Errorf("failed to import graph of %s: %w", doc.ID, err)
	}
	return nil
}
