package migration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/scenarioflow/pkg/actions"
	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// nodeStore is an in-memory NodeStore that records every patch.
type nodeStore struct {
	mu        sync.Mutex
	nodes     map[string]*engine.Node
	order     []string
	patches   []engine.NodePatch
	updateErr error
}

func newNodeStore(nodes ...engine.Node) *nodeStore {
	s := &nodeStore{nodes: make(map[string]*engine.Node)}
	for i := range nodes {
		n := nodes[i]
		if n.ScenarioID == "" {
			n.ScenarioID = "sc-1"
		}
		s.nodes[n.ID] = &n
		s.order = append(s.order, n.ID)
	}
	return s
}

func (s *nodeStore) ListNodes(_ context.Context, scenarioID string) ([]engine.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Node
	for _, id := range s.order {
		if n := s.nodes[id]; n.ScenarioID == scenarioID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *nodeStore) GetNode(_ context.Context, nodeID string) (*engine.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeNotFound, "node %s not found", nodeID)
	}
	cp := *n
	return &cp, nil
}

func (s *nodeStore) UpdateNode(_ context.Context, nodeID string, patch engine.NodePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.patches = append(s.patches, patch)
	n := s.nodes[nodeID]
	if patch.Type != nil {
		n.Type = *patch.Type
	}
	if patch.SetConfig {
		n.Config = patch.Config
	}
	return nil
}

func (s *nodeStore) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patches)
}

func newCatalog(t *testing.T) *registry.Catalog {
	t.Helper()
	catalog := registry.NewCatalog()
	require.NoError(t, actions.RegisterBuiltins(catalog, actions.Options{}))
	require.NoError(t, catalog.RegisterNode(registry.NodeDefinition{
		Type: "exploding",
		Migrator: registry.MigratorFunc(func(interface{}) (interface{}, error) {
			panic("boom")
		}),
	}))
	require.NoError(t, catalog.RegisterNode(registry.NodeDefinition{
		Type: "rebased",
		Migrator: registry.MigratorFunc(func(old interface{}) (interface{}, error) {
			cfg := old.(map[string]interface{})
			cfg["account_id"] = int64(9007199254740992)
			return cfg, nil
		}),
	}))
	require.NoError(t, catalog.RegisterNode(registry.NodeDefinition{
		Type: "failing",
		Migrator: registry.MigratorFunc(func(interface{}) (interface{}, error) {
			return nil, errors.New("unsupported legacy shape")
		}),
	}))
	catalog.Seal()
	return catalog
}

func newMigrator(t *testing.T, store *nodeStore) *Migrator {
	t.Helper()
	return New(store, newCatalog(t), zerolog.Nop(), nil, nil)
}

func TestMigrateNodeConfig_InPlace(t *testing.T) {
	store := newNodeStore(engine.Node{
		ID:     "n1",
		Type:   actions.TypeHTTPRequest,
		Config: `{"endpoint":"https://api.example.com","verb":"post","timeout":2}`,
	})
	m := newMigrator(t, store)

	res := m.MigrateNodeConfig(context.Background(), "n1", "", Options{CorrelationID: "corr-1"})
	require.Nil(t, res.Error)

	assert.True(t, res.Success)
	assert.True(t, res.ConfigChanged)
	assert.True(t, res.Persisted)
	assert.Equal(t, "corr-1", res.CorrelationID)
	assert.Equal(t, actions.TypeHTTPRequest, res.OldType)
	assert.Equal(t, actions.TypeHTTPRequest, res.NewType)

	require.Equal(t, 1, store.patchCount())
	patch := store.patches[0]
	assert.Nil(t, patch.Type, "type is unchanged and must not be written")
	assert.Equal(t, map[string]interface{}{
		"url":        "https://api.example.com",
		"method":     "POST",
		"timeout_ms": json.Number("2000"),
	}, patch.Config)
}

func TestMigrateNodeConfig_Idempotent(t *testing.T) {
	store := newNodeStore(engine.Node{
		ID:     "n1",
		Type:   actions.TypeHTTPRequest,
		Config: map[string]interface{}{"endpoint": "https://api.example.com"},
	})
	m := newMigrator(t, store)

	first := m.MigrateNodeConfig(context.Background(), "n1", "", Options{})
	require.True(t, first.Success)
	require.True(t, first.Persisted)

	second := m.MigrateNodeConfig(context.Background(), "n1", "", Options{})
	require.True(t, second.Success)
	assert.False(t, second.ConfigChanged)
	assert.False(t, second.Persisted)
	assert.Equal(t, 1, store.patchCount(), "a no-op migration must not issue a write")
}

func TestMigrateNodeConfig_LargeIntegerChangeIsDetected(t *testing.T) {
	store := newNodeStore(engine.Node{ID: "n1", Type: "rebased", Config: `{"account_id":9007199254740993}`})
	m := newMigrator(t, store)

	first := m.MigrateNodeConfig(context.Background(), "n1", "", Options{})
	require.Nil(t, first.Error)
	assert.True(t, first.ConfigChanged, "9007199254740993 and 9007199254740992 differ")
	require.True(t, first.Persisted)
	assert.Equal(t, json.Number("9007199254740992"), store.patches[0].Config.(map[string]interface{})["account_id"])

	second := m.MigrateNodeConfig(context.Background(), "n1", "", Options{})
	require.Nil(t, second.Error)
	assert.False(t, second.ConfigChanged)
	assert.Equal(t, 1, store.patchCount())
}

func TestNumbersEqual(t *testing.T) {
	tests := []struct {
		a, b json.Number
		want bool
	}{
		{"1", "1", true},
		{"1", "1.0", true},
		{"1e3", "1000", true},
		{"9007199254740993", "9007199254740992", false},
		{"0.1", "0.10", true},
		{"2", "3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, numbersEqual(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestMigrateNodeConfig_TypeChange(t *testing.T) {
	store := newNodeStore(engine.Node{
		ID:     "n1",
		Type:   actions.TypeLogger,
		Config: map[string]interface{}{"expression": "output = input"},
	})
	m := newMigrator(t, store)

	res := m.MigrateNodeConfig(context.Background(), "n1", actions.TypeDataTransform, Options{})
	require.Nil(t, res.Error)
	assert.True(t, res.Persisted)

	patch := store.patches[0]
	require.NotNil(t, patch.Type)
	assert.Equal(t, actions.TypeDataTransform, *patch.Type)
	assert.Equal(t, "script", patch.Config.(map[string]interface{})["mode"])
}

func TestMigrateNodeConfig_TypeChangeOnlyWritesType(t *testing.T) {
	store := newNodeStore(engine.Node{
		ID:     "n1",
		Type:   "old_fetch",
		Config: map[string]interface{}{"url": "https://example.com", "method": "GET", "send_input": false, "timeout_ms": 10000},
	})
	m := newMigrator(t, store)

	res := m.MigrateNodeConfig(context.Background(), "n1", actions.TypeHTTPRequest, Options{})
	require.Nil(t, res.Error)
	assert.False(t, res.ConfigChanged)
	assert.True(t, res.Persisted)

	patch := store.patches[0]
	require.NotNil(t, patch.Type)
	assert.False(t, patch.SetConfig)
}

func TestMigrateNodeConfig_DryRunNeverWrites(t *testing.T) {
	store := newNodeStore(
		engine.Node{ID: "ok", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"endpoint": "https://example.com"}},
		engine.Node{ID: "bad", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"endpoint": "ftp://example.com"}},
	)
	m := newMigrator(t, store)

	ok := m.MigrateNodeConfig(context.Background(), "ok", "", Options{DryRun: true})
	assert.True(t, ok.Success)
	assert.True(t, ok.ConfigChanged)
	assert.False(t, ok.Persisted)

	bad := m.MigrateNodeConfig(context.Background(), "bad", "", Options{DryRun: true})
	assert.False(t, bad.Success)
	require.NotNil(t, bad.Error)
	assert.Equal(t, engine.ErrCodeInvalidConfig, bad.Error.Code)
	assert.True(t, bad.ConfigChanged, "config change is known before validation")

	assert.Zero(t, store.patchCount())
}

func TestMigrateNodeConfig_Failures(t *testing.T) {
	tests := []struct {
		name    string
		node    engine.Node
		newType string
		want    engine.ErrorCode
	}{
		{
			name: "missing node",
			node: engine.Node{ID: "other", Type: actions.TypeLogger},
			want: engine.ErrCodeNotFound,
		},
		{
			name:    "unknown target type",
			node:    engine.Node{ID: "n1", Type: actions.TypeLogger},
			newType: "teleport",
			want:    engine.ErrCodeInvalidConfig,
		},
		{
			name: "unparseable config",
			node: engine.Node{ID: "n1", Type: actions.TypeLogger, Config: "{not json"},
			want: engine.ErrCodeInvalidConfig,
		},
		{
			name:    "type change without migrator",
			node:    engine.Node{ID: "n1", Type: actions.TypeHTTPRequest},
			newType: actions.TypeLogger,
			want:    engine.ErrCodeMigrationNotSupported,
		},
		{
			name: "migrator error",
			node: engine.Node{ID: "n1", Type: "failing"},
			want: engine.ErrCodeMigrationFailed,
		},
		{
			name: "migrator panic",
			node: engine.Node{ID: "n1", Type: "exploding"},
			want: engine.ErrCodeMigrationFailed,
		},
		{
			name: "schema rejects migrated config",
			node: engine.Node{ID: "n1", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"verb": "get"}},
			want: engine.ErrCodeInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newNodeStore(tt.node)
			m := newMigrator(t, store)

			res := m.MigrateNodeConfig(context.Background(), "n1", tt.newType, Options{})
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.want, res.Error.Code)
			assert.Equal(t, "n1", res.Error.NodeID)
			assert.Zero(t, store.patchCount())
		})
	}
}

func TestMigrateNodeConfig_PersistFailure(t *testing.T) {
	store := newNodeStore(engine.Node{ID: "n1", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"endpoint": "https://example.com"}})
	store.updateErr = errors.New("disk full")
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)
	m := New(store, newCatalog(t), zerolog.Nop(), metrics, nil)

	res := m.MigrateNodeConfig(context.Background(), "n1", "", Options{})
	assert.False(t, res.Success)
	assert.False(t, res.Persisted)
	require.NotNil(t, res.Error)
	assert.Equal(t, engine.ErrCodeInternal, res.Error.Code)
}

func batchStore() *nodeStore {
	return newNodeStore(
		engine.Node{ID: "a", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"endpoint": "https://a.example.com"}},
		engine.Node{ID: "b", Type: "failing"},
		engine.Node{ID: "c", Type: "legacy_log", Config: map[string]interface{}{"message": "hi"}},
	)
}

func TestMigrateScenarioNodes_StopsAtFirstFailure(t *testing.T) {
	store := batchStore()
	m := newMigrator(t, store)

	batch, err := m.MigrateScenarioNodes(context.Background(), "sc-1", nil, BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	assert.True(t, batch.Stopped)
	require.Len(t, batch.Results, 2)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, engine.ErrCodeMigrationFailed, batch.Errors[0].Code)
	assert.NotEmpty(t, batch.CorrelationID)
	for _, r := range batch.Results {
		assert.Equal(t, batch.CorrelationID, r.CorrelationID)
	}

	node, err := store.GetNode(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "legacy_log", node.Type, "nodes after the failure stay untouched")
}

func TestMigrateScenarioNodes_ContinueOnError(t *testing.T) {
	store := batchStore()
	m := newMigrator(t, store)

	batch, err := m.MigrateScenarioNodes(context.Background(), "sc-1",
		map[string]string{"legacy_log": actions.TypeLogger},
		BatchOptions{ContinueOnError: true},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 2, batch.FailureCount)
	assert.False(t, batch.Stopped)
	require.Len(t, batch.Results, 3)

	// legacy_log -> logger needs a migrator on logger, which it does not have.
	assert.False(t, batch.Results[2].Success)
	assert.Equal(t, engine.ErrCodeMigrationNotSupported, batch.Results[2].Error.Code)
}

func TestMigrateScenarioNodes_MappingByNodeID(t *testing.T) {
	store := newNodeStore(
		engine.Node{ID: "a", Type: "legacy_transform", Config: map[string]interface{}{"expression": "x = 1"}},
		engine.Node{ID: "b", Type: "legacy_transform", Config: map[string]interface{}{"expression": "y = 2"}},
	)
	m := newMigrator(t, store)

	batch, err := m.MigrateScenarioNodes(context.Background(), "sc-1",
		map[string]string{"a": actions.TypeDataTransform},
		BatchOptions{ContinueOnError: true},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	assert.Equal(t, actions.TypeDataTransform, batch.Results[0].NewType)
	assert.Equal(t, engine.ErrCodeInvalidConfig, batch.Results[1].Error.Code, "b stays legacy_transform, which is unregistered")
}

func TestCheckMigrationCompatibility(t *testing.T) {
	m := newMigrator(t, newNodeStore())

	t.Run("already compatible without migrator", func(t *testing.T) {
		c := m.CheckMigrationCompatibility(map[string]interface{}{"message": "hi"}, actions.TypeLogger)
		assert.True(t, c.Compatible)
		assert.False(t, c.CanMigrate)
		assert.False(t, c.MigrationNeeded)
		assert.Empty(t, c.Issues)
	})

	t.Run("incompatible without migrator", func(t *testing.T) {
		c := m.CheckMigrationCompatibility(map[string]interface{}{"level": "loud"}, actions.TypeLogger)
		assert.False(t, c.Compatible)
		assert.False(t, c.CanMigrate)
		assert.NotEmpty(t, c.Issues)
	})

	t.Run("requires and supports migration", func(t *testing.T) {
		c := m.CheckMigrationCompatibility(`{"endpoint":"https://example.com"}`, actions.TypeHTTPRequest)
		assert.True(t, c.Compatible)
		assert.True(t, c.CanMigrate)
		assert.True(t, c.MigrationNeeded)
	})

	t.Run("migration exists but fails", func(t *testing.T) {
		c := m.CheckMigrationCompatibility(map[string]interface{}{"verb": 7}, actions.TypeHTTPRequest)
		assert.False(t, c.Compatible)
		assert.True(t, c.CanMigrate)
		require.Len(t, c.Issues, 1)
		assert.Contains(t, c.Issues[0], "migration failed")
	})

	t.Run("unknown target", func(t *testing.T) {
		c := m.CheckMigrationCompatibility(nil, "teleport")
		assert.False(t, c.Compatible)
		assert.False(t, c.CanMigrate)
		assert.NotEmpty(t, c.Issues)
	})
}

func TestGetAvailableMigrationPaths(t *testing.T) {
	m := newMigrator(t, newNodeStore())

	assert.Equal(t,
		[]string{actions.TypeDataTransform, "exploding", "failing", actions.TypeHTTPRequest, "rebased"},
		m.GetAvailableMigrationPaths(actions.TypeLogger),
	)
	assert.NotContains(t, m.GetAvailableMigrationPaths(actions.TypeHTTPRequest), actions.TypeHTTPRequest)
}
