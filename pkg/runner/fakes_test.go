package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// memStore is an in-memory persistence collaborator for runner tests.
type memStore struct {
	mu        sync.Mutex
	scenarios map[string]*engine.Scenario
	nodes     map[string][]engine.Node
	edges     map[string][]engine.Edge
	runs      map[string]*engine.ScenarioRun
	logs      []engine.RunLogEntry

	failUpdates bool
}

func newMemStore() *memStore {
	return &memStore{
		scenarios: make(map[string]*engine.Scenario),
		nodes:     make(map[string][]engine.Node),
		edges:     make(map[string][]engine.Edge),
		runs:      make(map[string]*engine.ScenarioRun),
	}
}

func (m *memStore) addScenario(s *engine.Scenario, nodes []engine.Node, edges []engine.Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarios[s.ID] = s
	for i := range nodes {
		nodes[i].ScenarioID = s.ID
		if nodes[i].Order == 0 {
			nodes[i].Order = i
		}
	}
	m.nodes[s.ID] = nodes
	m.edges[s.ID] = edges
}

func (m *memStore) GetScenario(_ context.Context, id string) (*engine.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeNotFound, "scenario %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListNodes(_ context.Context, scenarioID string) ([]engine.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Node(nil), m.nodes[scenarioID]...), nil
}

func (m *memStore) GetNode(_ context.Context, nodeID string) (*engine.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ns := range m.nodes {
		for _, n := range ns {
			if n.ID == nodeID {
				cp := n
				return &cp, nil
			}
		}
	}
	return nil, engine.Errorf(engine.ErrCodeNotFound, "node %s not found", nodeID)
}

func (m *memStore) ListEdges(_ context.Context, scenarioID string) ([]engine.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.Edge(nil), m.edges[scenarioID]...), nil
}

func (m *memStore) ListConnections(context.Context, string) ([]engine.Connection, error) {
	return nil, nil
}

func (m *memStore) CreateRun(_ context.Context, run *engine.ScenarioRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*engine.ScenarioRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeNotFound, "run %s not found", runID)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID string, from, to engine.RunStatus, runErr *engine.RunError, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates {
		return errors.New("database is locked")
	}
	r, ok := m.runs[runID]
	if !ok {
		return engine.Errorf(engine.ErrCodeNotFound, "run %s not found", runID)
	}
	if r.Status != from {
		return fmt.Errorf("run %s is %s: %w", runID, r.Status, engine.ErrStatusConflict)
	}
	r.Status = to
	r.Error = runErr
	r.CompletedAt = completedAt
	return nil
}

func (m *memStore) ListRuns(_ context.Context, filter engine.RunFilter) ([]engine.ScenarioRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.ScenarioRun
	for _, r := range m.runs {
		if filter.ScenarioID != "" && r.ScenarioID != filter.ScenarioID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) AppendRunLog(_ context.Context, entry *engine.RunLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.logs) + 1)
	entry.CreatedAt = time.Now()
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memStore) ListRunLogs(_ context.Context, runID string) ([]engine.RunLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.RunLogEntry
	for _, e := range m.logs {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListDeadLetters(_ context.Context, limit int) ([]engine.RunLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.RunLogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].DeadLetter {
			out = append(out, m.logs[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) runStatus(runID string) engine.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r.Status
	}
	return ""
}
