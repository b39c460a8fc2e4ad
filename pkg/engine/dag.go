package engine

import (
	"fmt"
	"strings"
)

// ValidationResult reports whether a scenario graph is acyclic.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// cycleMessage is the only error reported for cyclic graphs; cycles are reported
// by existence, not enumerated.
const cycleMessage = "Scenario graph contains cycles"

// adjacency maps node ids to the ids of nodes that consume their output, in edge
// order. Edges from the trigger sentinel carry no node-to-node dependency.
func adjacency(nodes []Node, edges []Edge) map[string][]string {
	adj := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		adj[n.ID] = nil
	}
	for _, e := range edges {
		if e.FromTrigger() {
			continue
		}
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
	}
	return adj
}

// ValidateAcyclic checks that the node/edge set forms a DAG using depth-first search
// with a recursion stack. It stops at the first back-edge found.
func ValidateAcyclic(nodes []Node, edges []Edge) ValidationResult {
	adj := adjacency(nodes, edges)
	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool, len(nodes))

	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, next := range adj[id] {
			if !visited[next] {
				if hasCycle(next) {
					return true
				}
			} else if recStack[next] {
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, n := range nodes {
		if !visited[n.ID] && hasCycle(n.ID) {
			return ValidationResult{Valid: false, Error: cycleMessage}
		}
	}

	return ValidationResult{Valid: true}
}

// CheckAcyclic is ValidateAcyclic as a classified error.
func CheckAcyclic(nodes []Node, edges []Edge) error {
	if res := ValidateAcyclic(nodes, edges); !res.Valid {
		return NewError(ErrCodeCycleDetected, res.Error, nil)
	}
	return nil
}

// TopologicalOrder returns the nodes in dependency order using Kahn's algorithm.
//
// Nodes with no incoming node edges are seeded in node-list order; a node becomes
// ready when its last upstream node is dequeued, and dependents are released in
// edge order. When the sort cannot account for every node (a cycle, or an edge
// from an unknown source that never releases its target) the caller's node order
// is returned unchanged so execution always proceeds in some deterministic order.
func TopologicalOrder(nodes []Node, edges []Edge) []Node {
	byID := make(map[string]Node, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		inDegree[n.ID] = 0
	}

	adj := adjacency(nodes, edges)
	for _, e := range edges {
		if e.FromTrigger() {
			continue
		}
		if _, ok := inDegree[e.TargetNodeID]; ok {
			inDegree[e.TargetNodeID]++
		}
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	ordered := make([]Node, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])

		for _, next := range adj[id] {
			if _, ok := inDegree[next]; !ok {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) < len(nodes) {
		fallback := make([]Node, len(nodes))
		copy(fallback, nodes)
		return fallback
	}

	return ordered
}

// ResolveInputEdge returns the first edge targeting nodeID. Only that edge feeds
// the node; additional upstream edges are ignored (no multi-input merge).
func ResolveInputEdge(nodeID string, edges []Edge) (Edge, bool) {
	for _, e := range edges {
		if e.TargetNodeID == nodeID {
			return e, true
		}
	}
	return Edge{}, false
}

// ResolveInput picks the input for the node at position step: the first matching
// upstream node's output, else the trigger output, else an empty-data fallback
// tagged with the step index.
func ResolveInput(node Node, step int, edges []Edge, outputs map[string]NodeIO, trigger NodeIO) NodeIO {
	edge, ok := ResolveInputEdge(node.ID, edges)
	if !ok || edge.FromTrigger() {
		return trigger
	}
	if out, found := outputs[edge.SourceNodeID]; found {
		return out
	}

	fallback := NewNodeIO(trigger.CorrelationID, nil)
	fallback.Metadata["fallback"] = true
	fallback.Metadata["step"] = step
	fallback.Metadata["missing_source"] = edge.SourceNodeID
	return fallback
}

// ToDOT generates a DOT format representation of the scenario graph for visualization.
// The output can be rendered with Graphviz tools.
func ToDOT(nodes []Node, edges []Edge) string {
	var sb strings.Builder

	sb.WriteString("digraph Scenario {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")
	sb.WriteString(fmt.Sprintf("  %q [shape=ellipse, style=filled, fillcolor=%q];\n", TriggerSourceID, "lightyellow"))

	for _, n := range nodes {
		label := n.Type
		if n.Label != "" {
			label = fmt.Sprintf("%s (%s)", n.Label, n.Type)
		}
		sb.WriteString(fmt.Sprintf("  %q [label=%q];\n", n.ID, label))
	}
	sb.WriteString("\n")

	for _, e := range edges {
		style := "style=solid, color=black"
		if e.FromTrigger() {
			style = "style=dashed, color=gray"
		}
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.SourceNodeID, e.TargetNodeID, style))
	}

	sb.WriteString("}\n")
	return sb.String()
}
