// Package engine provides the core types of the scenario execution engine.
//
// # Overview
//
// A scenario is a trigger plus a directed acyclic graph of typed nodes. When the
// trigger fires, a run is created and the nodes execute strictly sequentially in
// dependency order, each node consuming the output of its first upstream edge.
//
// This package holds the pieces every other component builds on:
//
//   - Error taxonomy: a closed set of ErrorCode values with a static retryable
//     classification, EngineError, Classify and RunError
//   - Data model: Scenario, Node, Edge, Connection, NodeIO, ScenarioRun, RunLogEntry
//   - Run status state machine: pending -> running -> succeeded | failed | cancelled
//   - Graph builder: ValidateAcyclic (DFS with a recursion stack) and
//     TopologicalOrder (Kahn's algorithm with a node-order fallback)
//   - Graph loading: LoadGraph with the edges -> connections -> linear chain fallback
//   - Retry policy: named RetryPolicy profiles and Retry
//   - Persistence contracts consumed by the runner, the dry-run simulator and the
//     migration engine
//
// # Ordering
//
// TopologicalOrder seeds its queue in node-list order and releases dependents in
// edge order, so identical input always yields identical output. When the sort
// cannot place every node, the caller's node order is returned instead of an
// error:
//
//	order := engine.TopologicalOrder(graph.Nodes, graph.Edges)
//
// Only the first edge targeting a node feeds it. Multi-input merge is not
// implemented.
//
// # Errors
//
// Every component boundary exchanges *EngineError values. errors.Is matches by
// code:
//
//	if errors.Is(err, engine.NewError(engine.ErrCodeNotFound, "", nil)) {
//	    // handle missing record
//	}
//
// Errors that are not engine errors are classified from their message; anything
// unmatched is UNEXPECTED_ERROR, which is retryable.
package engine
