package dryrun

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/scenarioflow/pkg/actions"
	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// graphStore is an in-memory GraphReader.
type graphStore struct {
	scenarios   map[string]*engine.Scenario
	nodes       map[string][]engine.Node
	edges       map[string][]engine.Edge
	connections map[string][]engine.Connection
	edgesErr    error
}

func newGraphStore() *graphStore {
	return &graphStore{
		scenarios:   make(map[string]*engine.Scenario),
		nodes:       make(map[string][]engine.Node),
		edges:       make(map[string][]engine.Edge),
		connections: make(map[string][]engine.Connection),
	}
}

func (g *graphStore) add(s *engine.Scenario, nodes []engine.Node, edges []engine.Edge) {
	g.scenarios[s.ID] = s
	for i := range nodes {
		nodes[i].ScenarioID = s.ID
		nodes[i].Order = i
	}
	g.nodes[s.ID] = nodes
	g.edges[s.ID] = edges
}

func (g *graphStore) GetScenario(_ context.Context, id string) (*engine.Scenario, error) {
	s, ok := g.scenarios[id]
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeNotFound, "scenario %s not found", id)
	}
	return s, nil
}

func (g *graphStore) ListNodes(_ context.Context, scenarioID string) ([]engine.Node, error) {
	return g.nodes[scenarioID], nil
}

func (g *graphStore) GetNode(_ context.Context, nodeID string) (*engine.Node, error) {
	for _, ns := range g.nodes {
		for i := range ns {
			if ns[i].ID == nodeID {
				return &ns[i], nil
			}
		}
	}
	return nil, engine.Errorf(engine.ErrCodeNotFound, "node %s not found", nodeID)
}

func (g *graphStore) ListEdges(_ context.Context, scenarioID string) ([]engine.Edge, error) {
	if g.edgesErr != nil {
		return nil, g.edgesErr
	}
	return g.edges[scenarioID], nil
}

func (g *graphStore) ListConnections(_ context.Context, scenarioID string) ([]engine.Connection, error) {
	return g.connections[scenarioID], nil
}

type fixture struct {
	store    *graphStore
	calls    *atomic.Int32
	metrics  *telemetry.Metrics
	sim      *Simulator
	scenario *engine.Scenario
}

// newFixture registers the built-ins plus two spy actions, and wraps every
// registered executor so any invocation is counted.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	calls := &atomic.Int32{}
	spy := registry.ExecutorFunc(func(context.Context, registry.ExecutionContext, engine.NodeIO, interface{}) (engine.NodeIO, error) {
		calls.Add(1)
		return engine.NodeIO{}, errors.New("executor must not run during a dry run")
	})

	catalog := registry.NewCatalog()
	for _, def := range actions.Definitions(actions.Options{}) {
		def.Executor = spy
		require.NoError(t, catalog.RegisterAction(def))
	}
	for _, def := range actions.TriggerDefinitions() {
		require.NoError(t, catalog.RegisterTrigger(def))
	}
	require.NoError(t, catalog.RegisterAction(registry.ActionDefinition{
		Type:     "crm_lookup",
		Category: "database.query",
		Executor: spy,
	}))
	require.NoError(t, catalog.RegisterNode(registry.NodeDefinition{
		Type:     "send_invoice",
		Category: "email",
		Executor: spy,
	}))
	catalog.Seal()

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	store := newGraphStore()
	scenario := &engine.Scenario{
		ID:          "sc-1",
		Name:        "Order follow-up",
		Enabled:     true,
		DraftConfig: engine.ScenarioConfig{TriggerKey: "order_created"},
	}
	return &fixture{
		store:    store,
		calls:    calls,
		metrics:  metrics,
		sim:      New(store, catalog, zerolog.Nop(), metrics, nil),
		scenario: scenario,
	}
}

// assertSimulations checks that exactly one simulation was recorded, with outcome.
func assertSimulations(t *testing.T, m *telemetry.Metrics, outcome string) {
	t.Helper()
	expected := `
# HELP test_simulations_total Dry runs by outcome
# TYPE test_simulations_total counter
test_simulations_total{outcome="` + outcome + `"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_simulations_total"))
}

func edge(from, to string) engine.Edge {
	return engine.Edge{SourceNodeID: from, TargetNodeID: to}
}

func TestSimulateScenario_Chain(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "fetch", Type: actions.TypeHTTPRequest, Config: `{"url":"https://api.example.com/orders","method":"POST"}`},
		{ID: "shape", Type: actions.TypeDataTransform, Config: map[string]interface{}{"mode": "pick", "fields": []interface{}{"status"}}},
		{ID: "note", Type: actions.TypeLogger, Config: map[string]interface{}{"message": "done"}},
	}, []engine.Edge{
		edge(engine.TriggerSourceID, "fetch"),
		edge("fetch", "shape"),
		edge("shape", "note"),
	})

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.Nil(t, res.Error)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Equal(t, engine.GraphSourceEdges, res.GraphSource)
	assert.Equal(t, []string{"fetch", "shape", "note"}, res.FlowTaken)
	assert.Equal(t, "ord_mock_001", res.TriggerPayload["order_id"])

	require.Len(t, res.NodeResults, 3)
	for _, nr := range res.NodeResults {
		assert.Equal(t, engine.StepStatusSuccess, nr.Status, nr.NodeID)
	}

	fetch := res.NodeResults[0]
	assert.Equal(t, MockHTTP, fetch.MockKind)
	assert.Equal(t, 200, fetch.Output["status"])
	body := fetch.Output["body"].(map[string]interface{})
	assert.Equal(t, "https://api.example.com/orders", body["url"])
	assert.Equal(t, "POST", body["method"])

	// The transform mock echoes its input, which is the http mock output.
	shape := res.NodeResults[1]
	assert.Equal(t, MockTransform, shape.MockKind)
	assert.Equal(t, 200, shape.Input["status"])
	assert.Equal(t, true, shape.Output["_mockTransform"])

	assert.Equal(t, MockLogger, res.NodeResults[2].MockKind)

	assert.Zero(t, f.calls.Load(), "no executor may run during a dry run")
	assertSimulations(t, f.metrics, telemetry.SimulationValid)
}

func TestSimulateScenario_HaltsOnInvalidConfig(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "a", Type: actions.TypeLogger, Config: map[string]interface{}{"message": "start"}},
		{ID: "b", Type: actions.TypeHTTPRequest, Config: map[string]interface{}{"method": "GET"}},
		{ID: "c", Type: actions.TypeLogger, Config: map[string]interface{}{"message": "never"}},
	}, []engine.Edge{
		edge(engine.TriggerSourceID, "a"),
		edge("a", "b"),
		edge("b", "c"),
	})

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.NotNil(t, res.Error)
	assert.Equal(t, engine.ErrCodeInvalidConfig, res.Error.Code)
	assert.Equal(t, []string{"a", "b"}, res.FlowTaken)

	require.Len(t, res.NodeResults, 2)
	assert.Equal(t, engine.StepStatusSuccess, res.NodeResults[0].Status)
	assert.Equal(t, engine.StepStatusError, res.NodeResults[1].Status)
	assert.Equal(t, engine.ErrCodeInvalidConfig, res.NodeResults[1].Error.Code)

	assert.Zero(t, f.calls.Load())
}

func TestSimulateScenario_RejectsCycle(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "a", Type: actions.TypeLogger},
		{ID: "b", Type: actions.TypeLogger},
	}, []engine.Edge{
		edge(engine.TriggerSourceID, "a"),
		edge("a", "b"),
		edge("b", "a"),
	})

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "cycles")
	assert.Empty(t, res.NodeResults)
	assert.Empty(t, res.FlowTaken)
	assertSimulations(t, f.metrics, telemetry.SimulationInvalid)
}

func TestSimulateScenario_MissingScenario(t *testing.T) {
	f := newFixture(t)

	res, err := f.sim.SimulateScenario(context.Background(), "nope", Options{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotFound))
}

func TestSimulateScenario_MockKinds(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "lookup", Type: "crm_lookup"},
		{ID: "invoice", Type: "send_invoice", Config: map[string]interface{}{"to": "billing@example.com"}},
		{ID: "save", Type: "database.insert", Config: map[string]interface{}{"table": "orders"}},
		{ID: "archive", Type: "file.upload", Config: map[string]interface{}{"filename": "order.pdf"}},
		{ID: "custom", Type: "quantum_entangle"},
	}, nil)

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{
		TriggerPayload: map[string]interface{}{"order_id": "ord_42"},
		CorrelationID:  "corr-fixed",
	})
	require.NoError(t, err)
	require.True(t, res.Valid, "%+v", res.Error)

	assert.Equal(t, engine.GraphSourceLinear, res.GraphSource)
	assert.Equal(t, "corr-fixed", res.CorrelationID)
	assert.Equal(t, map[string]interface{}{"order_id": "ord_42"}, res.TriggerPayload)

	kinds := make(map[string]MockKind)
	for _, nr := range res.NodeResults {
		kinds[nr.NodeID] = nr.MockKind
	}
	assert.Equal(t, map[string]MockKind{
		"lookup":  MockDatabaseQuery,
		"invoice": MockEmail,
		"save":    MockDatabaseInsert,
		"archive": MockFileUpload,
		"custom":  MockGeneric,
	}, kinds)

	assert.Equal(t, 2, res.NodeResults[0].Output["rowCount"])
	assert.Equal(t, []interface{}{"billing@example.com"}, res.NodeResults[1].Output["accepted"])
	assert.Equal(t, "orders", res.NodeResults[2].Output["table"])

	custom := res.NodeResults[4]
	assert.Equal(t, true, custom.Output["_mockData"])
	assert.Equal(t, "quantum_entangle", custom.Output["actionType"])
	assert.NotNil(t, custom.Output["input"])

	assert.Zero(t, f.calls.Load())
}

func TestSimulateScenario_UnregisteredHTTPNeedsURL(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "call", Type: "legacy_http_call", Config: map[string]interface{}{"method": "GET"}},
	}, nil)

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Len(t, res.NodeResults, 1)
	assert.Equal(t, MockHTTP, res.NodeResults[0].MockKind)
	assert.Equal(t, engine.ErrCodeInvalidConfig, res.NodeResults[0].Error.Code)
}

func TestSimulateScenario_UsesPublishedConfig(t *testing.T) {
	f := newFixture(t)
	f.scenario.PublishedConfig = &engine.ScenarioConfig{TriggerKey: "user_signup"}
	f.store.add(f.scenario, []engine.Node{{ID: "a", Type: actions.TypeLogger}}, nil)

	draft, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "order_created", draft.TriggerKey)

	published, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{UsePublished: true})
	require.NoError(t, err)
	assert.Equal(t, "user_signup", published.TriggerKey)
	assert.Equal(t, "usr_mock_001", published.TriggerPayload["user_id"])
}

func TestSimulateScenario_FallsBackToConnections(t *testing.T) {
	f := newFixture(t)
	f.store.add(f.scenario, []engine.Node{
		{ID: "a", Type: actions.TypeLogger},
		{ID: "b", Type: actions.TypeLogger},
	}, nil)
	f.store.edgesErr = errors.New("no such table: scenario_edges")
	f.store.connections["sc-1"] = []engine.Connection{
		{FromNodeID: engine.TriggerSourceID, ToNodeID: "b"},
		{FromNodeID: "b", ToNodeID: "a"},
	}

	res, err := f.sim.SimulateScenario(context.Background(), "sc-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, engine.GraphSourceConnections, res.GraphSource)
	assert.Equal(t, []string{"b", "a"}, res.FlowTaken)
}

func TestSyntheticPayload(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	catalog := registry.NewCatalog()
	require.NoError(t, catalog.RegisterTrigger(registry.TriggerDefinition{
		Key:           "invoice_paid",
		SamplePayload: map[string]interface{}{"invoice_id": "inv_1"},
	}))

	t.Run("registered sample", func(t *testing.T) {
		p := SyntheticPayload(catalog, "invoice_paid", now)
		assert.Equal(t, map[string]interface{}{"invoice_id": "inv_1"}, p)

		p["invoice_id"] = "changed"
		def, err := catalog.Trigger("invoice_paid")
		require.NoError(t, err)
		assert.Equal(t, "inv_1", def.SamplePayload["invoice_id"])
	})

	t.Run("built-in shapes", func(t *testing.T) {
		assert.Equal(t, "POST", SyntheticPayload(catalog, "webhook", now)["method"])
		assert.Equal(t, "2024-03-01T12:00:00Z", SyntheticPayload(catalog, "schedule", now)["scheduled_at"])
		assert.Contains(t, SyntheticPayload(nil, "form_submission", now), "fields")
		assert.Contains(t, SyntheticPayload(nil, "email_received", now), "subject")
	})

	t.Run("unknown trigger", func(t *testing.T) {
		assert.Equal(t, map[string]interface{}{
			"_mockTrigger": true,
			"triggerKey":   "carrier_pigeon",
			"timestamp":    "2024-03-01T12:00:00Z",
		}, SyntheticPayload(catalog, "carrier_pigeon", now))
	})
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		nodeType string
		category string
		want     MockKind
	}{
		{"anything", "http", MockHTTP},
		{"anything", "logging", MockLogger},
		{"http_get", "", MockHTTP},
		{"db_query", "", MockDatabaseQuery},
		{"database.update", "", MockDatabaseUpdate},
		{"send_email", "", MockEmail},
		{"file.download", "", MockFileDownload},
		{"filter_items", "", MockTransform},
		{"outgoing_webhook", "", MockWebhook},
		{"audit_log", "", MockLogger},
		{"db-insert", "", MockDatabaseInsert},
		{"catalog_lookup", "", MockGeneric},
		{"sitemap_fetch", "", MockGeneric},
		{"blog.publish", "", MockGeneric},
		{"dialog_open", "", MockGeneric},
		{"mystery", "", MockGeneric},
		{"mystery", "unheard-of", MockGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.nodeType+"/"+tt.category, func(t *testing.T) {
			assert.Equal(t, tt.want, KindFor(tt.nodeType, tt.category))
		})
	}
}
