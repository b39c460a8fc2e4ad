package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/scenarioflow/pkg/engine"
)

// Supported backends.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Store is the full persistence surface: everything the executor, lifecycle
// manager and migration engine read and write, plus the writes used to seed
// scenarios.
type Store interface {
	engine.GraphReader
	engine.NodeWriter
	engine.LifecycleStore

	// SaveScenario creates or replaces the scenario record.
	SaveScenario(ctx context.Context, scenario *engine.Scenario) error

	// ListScenarios returns every scenario ordered by ID.
	ListScenarios(ctx context.Context) ([]engine.Scenario, error)

	// ReplaceGraph atomically replaces the nodes, edges and legacy connections of a scenario.
	// Edge and connection order is preserved.
	ReplaceGraph(ctx context.Context, scenarioID string, nodes []engine.Node, edges []engine.Edge, conns []engine.Connection) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BadgerStore)(nil)
)

// Config selects and configures a backend.
type Config struct {
	Driver string       `mapstructure:"driver" validate:"oneof=sqlite badger"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Badger BadgerConfig `mapstructure:"badger"`
}

// SQLiteConfig holds SQLite store configuration
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BadgerConfig holds Badger store configuration. An empty Dir runs in memory.
type BadgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// Open creates, initializes and migrates the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		s, err := NewSQLiteStore(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case DriverBadger:
		return NewBadgerStore(cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func notFound(kind, id string) *engine.EngineError {
	return engine.Errorf(engine.ErrCodeNotFound, "%s not found: %s", kind, id).
		WithDetail(kind+"_id", id)
}
