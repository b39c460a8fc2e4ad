package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Key prefixes.
const (
	prefixScenario     = "scenario/"
	prefixNode         = "node/"
	prefixScenarioNode = "scenario-node/"
	prefixEdges        = "edges/"
	prefixConnections  = "connections/"
	prefixRun          = "run/"
	prefixRunLog       = "runlog/"
	prefixDeadLetter   = "deadletter/"

	seqRuns    = "seq/runs"
	seqRunLogs = "seq/runlogs"
)

// BadgerStore implements Store on an embedded Badger database. Records are JSON
// documents under key prefixes and node configs are kept structured.
type BadgerStore struct {
	db      *badger.DB
	runSeq  *badger.Sequence
	logSeq  *badger.Sequence
	closers []func() error
}

type runDoc struct {
	Seq uint64             `json:"seq"`
	Run engine.ScenarioRun `json:"run"`
}

// NewBadgerStore opens a Badger database at cfg.Dir, or in memory when Dir is empty.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	runSeq, err := db.GetSequence([]byte(seqRuns), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open run sequence: %w", err)
	}
	logSeq, err := db.GetSequence([]byte(seqRunLogs), 100)
	if err != nil {
		_ = runSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to open run log sequence: %w", err)
	}

	return &BadgerStore{
		db:      db,
		runSeq:  runSeq,
		logSeq:  logSeq,
		closers: []func() error{runSeq.Release, logSeq.Release, db.Close},
	}, nil
}

// Close releases the sequences and closes the database.
func (s *BadgerStore) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck verifies the database accepts reads.
func (s *BadgerStore) HealthCheck(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("database closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// next returns the next value of seq. Badger sequences start at zero, ids start at one.
func next(seq *badger.Sequence) (uint64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to lease sequence: %w", err)
	}
	return n + 1, nil
}

func seqKey(prefix string, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, n))
}

func putJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := gojson.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// getJSON decodes the value at key into v. It reports false when the key is absent.
func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return gojson.Unmarshal(val, v)
	})
}

// scan calls fn for every value under prefix, in key order or reversed.
func scan(txn *badger.Txn, prefix string, reverse bool, fn func(val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := []byte(prefix)
	if reverse {
		start = append(bytes.Clone(start), 0xff)
	}
	for it.Seek(start); it.ValidForPrefix([]byte(prefix)); it.Next() {
		var more bool
		err := it.Item().Value(func(val []byte) error {
			var err error
			more, err = fn(val)
			return err
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// SaveScenario creates or replaces a scenario record.
func (s *BadgerStore) SaveScenario(_ context.Context, sc *engine.Scenario) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var existing engine.Scenario
		found, err := getJSON(txn, []byte(prefixScenario+sc.ID), &existing)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		switch {
		case found:
			sc.CreatedAt = existing.CreatedAt
		case sc.CreatedAt.IsZero():
			sc.CreatedAt = now
		}
		sc.UpdatedAt = now
		return putJSON(txn, []byte(prefixScenario+sc.ID), sc)
	})
}

// GetScenario retrieves a scenario by ID.
func (s *BadgerStore) GetScenario(_ context.Context, id string) (*engine.Scenario, error) {
	sc := &engine.Scenario{}
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, []byte(prefixScenario+id), sc)
		if err != nil {
			return fmt.Errorf("failed to get scenario: %w", err)
		}
		if !found {
			return notFound("scenario", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// ListScenarios returns every scenario ordered by ID.
func (s *BadgerStore) ListScenarios(_ context.Context) ([]engine.Scenario, error) {
	scenarios := []engine.Scenario{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixScenario, false, func(val []byte) (bool, error) {
			var sc engine.Scenario
			if err := gojson.Unmarshal(val, &sc); err != nil {
				return false, err
			}
			scenarios = append(scenarios, sc)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	return scenarios, nil
}

// structuredConfig keeps serialized JSON configs as JSON documents instead of strings.
func structuredConfig(cfg interface{}) interface{} {
	var data []byte
	switch v := cfg.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return cfg
	}
	if len(data) == 0 {
		return nil
	}
	if !gojson.Valid(data) {
		return cfg
	}
	return json.RawMessage(data)
}

// ReplaceGraph replaces the scenario's nodes, edges and connections in one transaction.
func (s *BadgerStore) ReplaceGraph(_ context.Context, scenarioID string, nodes []engine.Node, edges []engine.Edge, conns []engine.Connection) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		indexPrefix := prefixScenarioNode + scenarioID + "/"

		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			nodeID := string(key[len(indexPrefix):])
			if err := txn.Delete([]byte(prefixNode + nodeID)); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for _, n := range nodes {
			n.ScenarioID = scenarioID
			n.Config = structuredConfig(n.Config)
			if err := putJSON(txn, []byte(prefixNode+n.ID), n); err != nil {
				return err
			}
			if err := txn.Set([]byte(indexPrefix+n.ID), nil); err != nil {
				return err
			}
		}

		stored := make([]engine.Edge, len(edges))
		for i, e := range edges {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			e.ScenarioID = scenarioID
			stored[i] = e
		}
		if err := putJSON(txn, []byte(prefixEdges+scenarioID), stored); err != nil {
			return err
		}

		storedConns := make([]engine.Connection, len(conns))
		for i, c := range conns {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.ScenarioID = scenarioID
			storedConns[i] = c
		}
		return putJSON(txn, []byte(prefixConnections+scenarioID), storedConns)
	})
	if err != nil {
		return fmt.Errorf("failed to replace graph: %w", err)
	}
	return nil
}

// ListNodes returns the scenario's nodes in stored order.
func (s *BadgerStore) ListNodes(_ context.Context, scenarioID string) ([]engine.Node, error) {
	nodes := []engine.Node{}
	err := s.db.View(func(txn *badger.Txn) error {
		indexPrefix := []byte(prefixScenarioNode + scenarioID + "/")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = indexPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			nodeID := string(it.Item().Key()[len(indexPrefix):])
			var n engine.Node
			found, err := getJSON(txn, []byte(prefixNode+nodeID), &n)
			if err != nil {
				return err
			}
			if found {
				nodes = append(nodes, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return engine.SortByOrder(nodes), nil
}

// GetNode retrieves a node by ID.
func (s *BadgerStore) GetNode(_ context.Context, nodeID string) (*engine.Node, error) {
	n := &engine.Node{}
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, []byte(prefixNode+nodeID), n)
		if err != nil {
			return fmt.Errorf("failed to get node: %w", err)
		}
		if !found {
			return notFound("node", nodeID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNode applies a partial update to a node.
func (s *BadgerStore) UpdateNode(_ context.Context, nodeID string, patch engine.NodePatch) error {
	if patch.Empty() {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixNode + nodeID)
		var n engine.Node
		found, err := getJSON(txn, key, &n)
		if err != nil {
			return fmt.Errorf("failed to get node: %w", err)
		}
		if !found {
			return notFound("node", nodeID)
		}
		if patch.Type != nil {
			n.Type = *patch.Type
		}
		if patch.SetConfig {
			n.Config = structuredConfig(patch.Config)
		}
		return putJSON(txn, key, n)
	})
}

// ListEdges returns the scenario's edges in stored order.
func (s *BadgerStore) ListEdges(_ context.Context, scenarioID string) ([]engine.Edge, error) {
	edges := []engine.Edge{}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, []byte(prefixEdges+scenarioID), &edges)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return edges, nil
}

// ListConnections returns the scenario's legacy connections in stored order.
func (s *BadgerStore) ListConnections(_ context.Context, scenarioID string) ([]engine.Connection, error) {
	conns := []engine.Connection{}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, []byte(prefixConnections+scenarioID), &conns)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// CreateRun persists a new run record.
func (s *BadgerStore) CreateRun(_ context.Context, run *engine.ScenarioRun) error {
	seq, err := next(s.runSeq)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixRun + run.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("run already exists: %s", run.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putJSON(txn, key, runDoc{Seq: seq, Run: *run})
	})
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *BadgerStore) GetRun(_ context.Context, runID string) (*engine.ScenarioRun, error) {
	var doc runDoc
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, []byte(prefixRun+runID), &doc)
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		if !found {
			return notFound("run", runID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc.Run, nil
}

// UpdateRunStatus moves a run from one status to another and patches its error record
// and completion time. The compare and the write share one transaction.
func (s *BadgerStore) UpdateRunStatus(_ context.Context, runID string, from, to engine.RunStatus, runErr *engine.RunError, completedAt *time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixRun + runID)
		var doc runDoc
		found, err := getJSON(txn, key, &doc)
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		if !found {
			return notFound("run", runID)
		}
		if doc.Run.Status != from {
			return fmt.Errorf("run %s is %s, expected %s: %w", runID, doc.Run.Status, from, engine.ErrStatusConflict)
		}
		doc.Run.Status = to
		doc.Run.Error = runErr
		doc.Run.CompletedAt = completedAt
		return putJSON(txn, key, doc)
	})
}

// ListRuns lists runs matching the filter, most recently created first.
func (s *BadgerStore) ListRuns(_ context.Context, filter engine.RunFilter) ([]engine.ScenarioRun, error) {
	var docs []runDoc
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefixRun, false, func(val []byte) (bool, error) {
			var doc runDoc
			if err := gojson.Unmarshal(val, &doc); err != nil {
				return false, err
			}
			if filter.ScenarioID != "" && doc.Run.ScenarioID != filter.ScenarioID {
				return true, nil
			}
			if filter.Status != "" && doc.Run.Status != filter.Status {
				return true, nil
			}
			docs = append(docs, doc)
			return true, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Seq > docs[j].Seq })
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}

	runs := make([]engine.ScenarioRun, len(docs))
	for i, d := range docs {
		runs[i] = d.Run
	}
	return runs, nil
}

// AppendRunLog appends a run log entry, assigning its ID and creation time.
// Dead-letter entries are also indexed for ListDeadLetters.
func (s *BadgerStore) AppendRunLog(_ context.Context, entry *engine.RunLogEntry) error {
	id, err := next(s.logSeq)
	if err != nil {
		return err
	}

	stored := *entry
	stored.ID = int64(id)
	stored.CreatedAt = time.Now().UTC()

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := putJSON(txn, seqKey(prefixRunLog+entry.RunID+"/", id), stored); err != nil {
			return err
		}
		if stored.DeadLetter {
			return putJSON(txn, seqKey(prefixDeadLetter, id), stored)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	return nil
}

// ListRunLogs returns the entries of a run in append order.
func (s *BadgerStore) ListRunLogs(_ context.Context, runID string) ([]engine.RunLogEntry, error) {
	return s.listLogs(prefixRunLog+runID+"/", false, 0)
}

// ListDeadLetters returns dead-letter entries, newest first.
func (s *BadgerStore) ListDeadLetters(_ context.Context, limit int) ([]engine.RunLogEntry, error) {
	return s.listLogs(prefixDeadLetter, true, limit)
}

func (s *BadgerStore) listLogs(prefix string, reverse bool, limit int) ([]engine.RunLogEntry, error) {
	entries := []engine.RunLogEntry{}
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, prefix, reverse, func(val []byte) (bool, error) {
			var e engine.RunLogEntry
			if err := gojson.Unmarshal(val, &e); err != nil {
				return false, err
			}
			entries = append(entries, e)
			return limit <= 0 || len(entries) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	return entries, nil
}
