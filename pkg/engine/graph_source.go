package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// GraphSource names where a loaded graph's edges came from.
type GraphSource string

const (
	GraphSourceEdges       GraphSource = "edges"
	GraphSourceConnections GraphSource = "connections"
	GraphSourceLinear      GraphSource = "linear"
)

// Graph is a scenario's nodes and the edges that order them.
type Graph struct {
	Nodes  []Node
	Edges  []Edge
	Source GraphSource
}

// LoadGraph loads the nodes and edges of a scenario.
//
// Edges come from the first available source in priority order: graph edges, then
// legacy connection records, then a linear chain synthesized over the nodes in
// their stored order. A source is unavailable when reading it fails or it is empty.
// Failing to read the nodes themselves is an error.
func LoadGraph(ctx context.Context, src GraphReader, scenarioID string, logger zerolog.Logger) (*Graph, error) {
	nodes, err := src.ListNodes(ctx, scenarioID)
	if err != nil {
		return nil, NewError(ErrCodeInternal, "failed to load nodes", err).WithOperation("load_graph")
	}
	nodes = SortByOrder(nodes)

	edges, err := src.ListEdges(ctx, scenarioID)
	if err != nil {
		logger.Warn().Err(err).Str("scenario_id", scenarioID).Msg("Graph edges unavailable, trying legacy connections")
	}
	if err == nil && len(edges) > 0 {
		return &Graph{Nodes: nodes, Edges: edges, Source: GraphSourceEdges}, nil
	}

	conns, err := src.ListConnections(ctx, scenarioID)
	if err != nil {
		logger.Warn().Err(err).Str("scenario_id", scenarioID).Msg("Legacy connections unavailable, using linear order")
	}
	if err == nil && len(conns) > 0 {
		edges = make([]Edge, 0, len(conns))
		for _, c := range conns {
			edges = append(edges, c.Edge())
		}
		return &Graph{Nodes: nodes, Edges: edges, Source: GraphSourceConnections}, nil
	}

	return &Graph{Nodes: nodes, Edges: LinearEdges(nodes), Source: GraphSourceLinear}, nil
}

// LinearEdges chains the nodes one after another, starting at the trigger.
func LinearEdges(nodes []Node) []Edge {
	if len(nodes) == 0 {
		return nil
	}

	edges := make([]Edge, 0, len(nodes))
	prev := TriggerSourceID
	for _, n := range nodes {
		edges = append(edges, Edge{
			ScenarioID:   n.ScenarioID,
			SourceNodeID: prev,
			TargetNodeID: n.ID,
		})
		prev = n.ID
	}
	return edges
}

// SortByOrder returns a copy of nodes stably sorted by their Order field.
func SortByOrder(nodes []Node) []Node {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}
