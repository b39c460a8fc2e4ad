package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/scenarioflow/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements Store using SQLite. Node configs are stored as
// serialized JSON text and handed back as strings.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with foreign keys and WAL mode enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// SaveScenario inserts or replaces a scenario record.
func (s *SQLiteStore) SaveScenario(ctx context.Context, sc *engine.Scenario) error {
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	draft, err := gojson.Marshal(sc.DraftConfig)
	if err != nil {
		return fmt.Errorf("failed to encode draft config: %w", err)
	}
	var published sql.NullString
	if sc.PublishedConfig != nil {
		data, err := gojson.Marshal(sc.PublishedConfig)
		if err != nil {
			return fmt.Errorf("failed to encode published config: %w", err)
		}
		published = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO scenarios (id, name, enabled, draft_config, published_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			draft_config = excluded.draft_config,
			published_config = excluded.published_config,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		sc.ID, sc.Name, sc.Enabled, string(draft), published, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save scenario: %w", err)
	}
	return nil
}

const scenarioColumns = `id, name, enabled, draft_config, published_config, created_at, updated_at`

func scanScenario(row interface{ Scan(...any) error }) (*engine.Scenario, error) {
	sc := &engine.Scenario{}
	var draft string
	var published sql.NullString
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Enabled, &draft, &published, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := gojson.Unmarshal([]byte(draft), &sc.DraftConfig); err != nil {
		return nil, fmt.Errorf("failed to decode draft config of %s: %w", sc.ID, err)
	}
	if published.Valid {
		sc.PublishedConfig = &engine.ScenarioConfig{}
		if err := gojson.Unmarshal([]byte(published.String), sc.PublishedConfig); err != nil {
			return nil, fmt.Errorf("failed to decode published config of %s: %w", sc.ID, err)
		}
	}
	return sc, nil
}

// GetScenario retrieves a scenario by ID
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*engine.Scenario, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	sc, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("scenario", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}
	return sc, nil
}

// ListScenarios returns every scenario ordered by ID.
func (s *SQLiteStore) ListScenarios(ctx context.Context) ([]engine.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := []engine.Scenario{}
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scenario: %w", err)
		}
		scenarios = append(scenarios, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scenarios: %w", err)
	}
	return scenarios, nil
}

// ReplaceGraph replaces the scenario's nodes, edges and connections in one transaction.
func (s *SQLiteStore) ReplaceGraph(ctx context.Context, scenarioID string, nodes []engine.Node, edges []engine.Edge, conns []engine.Connection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"edges", "connections", "nodes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE scenario_id = ?`, scenarioID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	now := time.Now().UTC()
	for _, n := range nodes {
		cfg, err := encodeConfig(n.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config of node %s: %w", n.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (id, scenario_id, type, label, config, position, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, scenarioID, n.Type, n.Label, cfg, n.Order, now)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}

	for _, e := range edges {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO edges (id, scenario_id, source_node_id, target_node_id) VALUES (?, ?, ?, ?)`,
			e.ID, scenarioID, e.SourceNodeID, e.TargetNodeID)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e.ID, err)
		}
	}

	for _, c := range conns {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO connections (id, scenario_id, from_node_id, to_node_id) VALUES (?, ?, ?, ?)`,
			c.ID, scenarioID, c.FromNodeID, c.ToNodeID)
		if err != nil {
			return fmt.Errorf("failed to insert connection %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

// encodeConfig serializes a node config to JSON text. Serialized configs are stored as is.
func encodeConfig(cfg interface{}) (sql.NullString, error) {
	switch v := cfg.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: v, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(v), Valid: true}, nil
	}
	data, err := gojson.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

const nodeColumns = `id, scenario_id, type, label, config, position`

func scanNode(row interface{ Scan(...any) error }) (*engine.Node, error) {
	n := &engine.Node{}
	var cfg sql.NullString
	if err := row.Scan(&n.ID, &n.ScenarioID, &n.Type, &n.Label, &cfg, &n.Order); err != nil {
		return nil, err
	}
	if cfg.Valid {
		n.Config = cfg.String
	}
	return n, nil
}

// ListNodes returns the scenario's nodes in stored order.
func (s *SQLiteStore) ListNodes(ctx context.Context, scenarioID string) ([]engine.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE scenario_id = ? ORDER BY position, rowid`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []engine.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// GetNode retrieves a node by ID
func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (*engine.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("node", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// UpdateNode applies a partial update to a node.
func (s *SQLiteStore) UpdateNode(ctx context.Context, nodeID string, patch engine.NodePatch) error {
	if patch.Empty() {
		return nil
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if patch.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, *patch.Type)
	}
	if patch.SetConfig {
		cfg, err := encodeConfig(patch.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		sets = append(sets, "config = ?")
		args = append(args, cfg)
	}
	args = append(args, nodeID)

	result, err := s.db.ExecContext(ctx, `UPDATE nodes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("node", nodeID)
	}
	return nil
}

// ListEdges returns the scenario's edges in insertion order.
func (s *SQLiteStore) ListEdges(ctx context.Context, scenarioID string) ([]engine.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario_id, source_node_id, target_node_id FROM edges WHERE scenario_id = ? ORDER BY seq`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	edges := []engine.Edge{}
	for rows.Next() {
		var e engine.Edge
		if err := rows.Scan(&e.ID, &e.ScenarioID, &e.SourceNodeID, &e.TargetNodeID); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// ListConnections returns the scenario's legacy connections in insertion order.
func (s *SQLiteStore) ListConnections(ctx context.Context, scenarioID string) ([]engine.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario_id, from_node_id, to_node_id FROM connections WHERE scenario_id = ? ORDER BY seq`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	conns := []engine.Connection{}
	for rows.Next() {
		var c engine.Connection
		if err := rows.Scan(&c.ID, &c.ScenarioID, &c.FromNodeID, &c.ToNodeID); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.ScenarioRun) error {
	runErr, err := encodeRunError(run.Error)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scenario_runs (id, scenario_id, status, correlation_id, trigger_key, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.ScenarioID,
		string(run.Status),
		run.CorrelationID,
		run.TriggerKey,
		run.StartedAt,
		nullTime(run.CompletedAt),
		runErr,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, scenario_id, status, correlation_id, trigger_key, started_at, completed_at, error`

func scanRun(row interface{ Scan(...any) error }) (*engine.ScenarioRun, error) {
	run := &engine.ScenarioRun{}
	var status string
	var completed sql.NullTime
	var runErr sql.NullString
	if err := row.Scan(&run.ID, &run.ScenarioID, &status, &run.CorrelationID, &run.TriggerKey,
		&run.StartedAt, &completed, &runErr); err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	if runErr.Valid {
		run.Error = &engine.RunError{}
		if err := gojson.Unmarshal([]byte(runErr.String), run.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.ScenarioRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scenario_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus moves a run from one status to another. The update only applies
// while the stored status still equals from.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, from, to engine.RunStatus, runErr *engine.RunError, completedAt *time.Time) error {
	encoded, err := encodeRunError(runErr)
	if err != nil {
		return err
	}

	query := `UPDATE scenario_runs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query, string(to), encoded, nullTime(completedAt), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM scenario_runs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("run", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get run status: %w", err)
	}
	return fmt.Errorf("run %s is %s, expected %s: %w", id, current, from, engine.ErrStatusConflict)
}

// ListRuns lists runs matching the filter, most recently created first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter engine.RunFilter) ([]engine.ScenarioRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM scenario_runs
		WHERE (? = '' OR scenario_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY rowid DESC
		LIMIT ?
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.ScenarioID, filter.ScenarioID, string(filter.Status), string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []engine.ScenarioRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// AppendRunLog appends a run log entry, assigning its ID and creation time.
func (s *SQLiteStore) AppendRunLog(ctx context.Context, entry *engine.RunLogEntry) error {
	var details sql.NullString
	if len(entry.Details) > 0 {
		data, err := gojson.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode run log details: %w", err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}
	createdAt := time.Now().UTC()

	query := `
		INSERT INTO run_logs (scenario_id, run_id, correlation_id, status, start_time, error_message, dead_letter, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.ScenarioID,
		entry.RunID,
		entry.CorrelationID,
		string(entry.Status),
		entry.StartTime,
		entry.ErrorMessage,
		entry.DeadLetter,
		details,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get run log ID: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = createdAt
	return nil
}

const runLogColumns = `id, scenario_id, run_id, correlation_id, status, start_time, error_message, dead_letter, details, created_at`

func (s *SQLiteStore) queryRunLogs(ctx context.Context, query string, args ...interface{}) ([]engine.RunLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	defer rows.Close()

	entries := []engine.RunLogEntry{}
	for rows.Next() {
		var e engine.RunLogEntry
		var status string
		var details sql.NullString
		err := rows.Scan(&e.ID, &e.ScenarioID, &e.RunID, &e.CorrelationID, &status, &e.StartTime,
			&e.ErrorMessage, &e.DeadLetter, &details, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		e.Status = engine.RunStatus(status)
		if details.Valid {
			if err := gojson.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode run log details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run logs: %w", err)
	}
	return entries, nil
}

// ListRunLogs returns the entries of a run in append order.
func (s *SQLiteStore) ListRunLogs(ctx context.Context, runID string) ([]engine.RunLogEntry, error) {
	return s.queryRunLogs(ctx, `SELECT `+runLogColumns+` FROM run_logs WHERE run_id = ? ORDER BY id`, runID)
}

// ListDeadLetters returns dead-letter entries, newest first.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]engine.RunLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryRunLogs(ctx,
		`SELECT `+runLogColumns+` FROM run_logs WHERE dead_letter = 1 ORDER BY id DESC LIMIT ?`, limit)
}

func encodeRunError(runErr *engine.RunError) (sql.NullString, error) {
	if runErr == nil {
		return sql.NullString{}, nil
	}
	data, err := gojson.Marshal(runErr)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode run error: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
