package engine

import (
	"context"
	"time"
)

// ScenarioReader fetches scenario records.
type ScenarioReader interface {
	// GetScenario retrieves a scenario by ID. A missing scenario is a NOT_FOUND error.
	GetScenario(ctx context.Context, scenarioID string) (*Scenario, error)
}

// NodeReader fetches the nodes of a scenario.
type NodeReader interface {
	// ListNodes returns the scenario's nodes in stored order.
	ListNodes(ctx context.Context, scenarioID string) ([]Node, error)

	// GetNode retrieves a single node by ID. A missing node is a NOT_FOUND error.
	GetNode(ctx context.Context, nodeID string) (*Node, error)
}

// NodeWriter patches node records.
type NodeWriter interface {
	// UpdateNode applies a partial update. Callers never issue empty patches.
	UpdateNode(ctx context.Context, nodeID string, patch NodePatch) error
}

// NodeStore combines node reads and writes, as needed by the migration engine.
type NodeStore interface {
	NodeReader
	NodeWriter
}

// EdgeReader fetches the dependency edges of a scenario.
type EdgeReader interface {
	// ListEdges returns the scenario's graph edges.
	ListEdges(ctx context.Context, scenarioID string) ([]Edge, error)

	// ListConnections returns the scenario's legacy connection records.
	ListConnections(ctx context.Context, scenarioID string) ([]Connection, error)
}

// GraphReader is everything needed to load a scenario and its graph.
type GraphReader interface {
	ScenarioReader
	NodeReader
	EdgeReader
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	ScenarioID string
	Status     RunStatus
	Limit      int
}

// RunStore persists scenario runs. Only the run lifecycle manager writes status.
type RunStore interface {
	// CreateRun persists a new run record.
	CreateRun(ctx context.Context, run *ScenarioRun) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*ScenarioRun, error)

	// UpdateRunStatus moves a run from status `from` to `to` and patches its completion
	// time and error record. It fails with ErrStatusConflict if the stored status is no
	// longer `from`.
	UpdateRunStatus(ctx context.Context, runID string, from, to RunStatus, runErr *RunError, completedAt *time.Time) error

	// ListRuns lists runs, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]ScenarioRun, error)
}

// RunLogStore appends and reads structured run log entries.
type RunLogStore interface {
	// AppendRunLog appends a completion or failure entry. The store assigns ID and CreatedAt.
	AppendRunLog(ctx context.Context, entry *RunLogEntry) error

	// ListRunLogs returns the entries of a run in append order.
	ListRunLogs(ctx context.Context, runID string) ([]RunLogEntry, error)

	// ListDeadLetters returns dead-letter entries, newest first.
	ListDeadLetters(ctx context.Context, limit int) ([]RunLogEntry, error)
}

// LifecycleStore is what the run lifecycle manager persists through.
type LifecycleStore interface {
	RunStore
	RunLogStore
}
