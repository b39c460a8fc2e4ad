package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// Options control a node migration.
type Options struct {
	// DryRun computes and validates the migration without persisting it.
	DryRun        bool
	CorrelationID string
}

// BatchOptions control a scenario-wide migration.
type BatchOptions struct {
	Options
	// ContinueOnError keeps migrating after a node fails. By default the batch
	// stops at the first failure and later nodes are left untouched.
	ContinueOnError bool
}

// BatchResult summarizes a scenario-wide migration.
type BatchResult struct {
	ScenarioID    string                   `json:"scenario_id"`
	CorrelationID string                   `json:"correlation_id"`
	SuccessCount  int                      `json:"success_count"`
	FailureCount  int                      `json:"failure_count"`
	Results       []engine.MigrationResult `json:"results"`
	Errors        []*engine.EngineError    `json:"errors,omitempty"`
	// Stopped is set when the batch halted before visiting every node.
	Stopped bool `json:"stopped,omitempty"`
}

// Compatibility is the outcome of a non-mutating migration check.
type Compatibility struct {
	TargetType string `json:"target_type"`
	// Compatible reports whether the config satisfies the target schema, after
	// migration when the target type can migrate.
	Compatible bool `json:"compatible"`
	// CanMigrate reports whether the target type declares a migrate capability.
	CanMigrate bool `json:"can_migrate"`
	// MigrationNeeded is set when the migrated config differs from the input.
	MigrationNeeded bool     `json:"migration_needed"`
	Issues          []string `json:"issues,omitempty"`
}

var configCmpOpts = []cmp.Option{cmpopts.EquateEmpty(), cmp.Comparer(numbersEqual)}

// numbersEqual compares JSON numbers by value, so 1 and 1.0 are the same and
// integers above 2^53 are compared exactly.
func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	x, okA := new(big.Rat).SetString(string(a))
	y, okB := new(big.Rat).SetString(string(b))
	return okA && okB && x.Cmp(y) == 0
}

// Migrator upgrades persisted node configurations through the type registry's
// migrate capabilities.
type Migrator struct {
	nodes   engine.NodeStore
	catalog *registry.Catalog
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// New creates a migrator. Metrics and tracer may be nil.
func New(nodes engine.NodeStore, catalog *registry.Catalog, logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Migrator {
	return &Migrator{
		nodes:   nodes,
		catalog: catalog,
		logger:  telemetry.ComponentLogger(logger, "migration"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// MigrateNodeConfig migrates one node's config, optionally changing its type.
// An empty newType migrates in place. Every failure is reported in the result.
func (m *Migrator) MigrateNodeConfig(ctx context.Context, nodeID, newType string, opts Options) engine.MigrationResult {
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.New().String()
	}
	result := engine.MigrationResult{
		NodeID:        nodeID,
		NewType:       newType,
		CorrelationID: opts.CorrelationID,
	}

	ctx, span := m.tracer.Start(ctx, telemetry.SpanMigrate,
		telemetry.AttrNodeID.String(nodeID),
		telemetry.AttrCorrelationID.String(opts.CorrelationID),
	)
	logger := m.logger.With().
		Str("correlation_id", opts.CorrelationID).
		Str("node_id", nodeID).
		Logger()

	fail := func(err *engine.EngineError) engine.MigrationResult {
		result.Error = err.WithNode(nodeID)
		m.metrics.RecordMigration(telemetry.MigrationFailed)
		telemetry.EndSpan(span, result.Error)
		logger.Warn().
			Str("error_code", string(err.Code)).
			Str("old_type", result.OldType).
			Str("new_type", result.NewType).
			Msg(err.Detail())
		return result
	}

	node, err := m.nodes.GetNode(ctx, nodeID)
	if err != nil {
		if engine.HasCode(err, engine.ErrCodeNotFound) {
			return fail(engine.AsEngineError(err).WithRetryable(false))
		}
		return fail(engine.NewError(engine.ErrCodeInternal, "failed to load node", err))
	}
	result.OldType = node.Type

	targetType := newType
	if targetType == "" {
		targetType = node.Type
	}
	result.NewType = targetType

	info, err := m.catalog.Lookup(targetType)
	if err != nil {
		return fail(engine.Errorf(engine.ErrCodeInvalidConfig, "target type %q is not registered", targetType))
	}

	oldConfig, err := engine.ParseConfig(node.Config)
	if err != nil {
		return fail(engine.AsEngineError(err))
	}

	typeChanged := targetType != node.Type
	newConfig, err := migrate(info, oldConfig, typeChanged)
	if err != nil {
		return fail(engine.AsEngineError(err))
	}
	result.ConfigChanged = !cmp.Equal(oldConfig, newConfig, configCmpOpts...)

	if _, err := info.ValidateConfig(newConfig); err != nil {
		return fail(engine.AsEngineError(err))
	}

	result.Success = true
	if opts.DryRun {
		m.metrics.RecordMigration(telemetry.MigrationDryRun)
		telemetry.EndSpan(span, nil)
		logger.Info().
			Bool("config_changed", result.ConfigChanged).
			Str("new_type", targetType).
			Msg("Migration validated (dry run)")
		return result
	}

	var patch engine.NodePatch
	if typeChanged {
		patch.Type = &targetType
	}
	if result.ConfigChanged {
		patch.Config = newConfig
		patch.SetConfig = true
	}
	if patch.Empty() {
		m.metrics.RecordMigration(telemetry.MigrationUnchanged)
		telemetry.EndSpan(span, nil)
		logger.Debug().Msg("Node already up to date")
		return result
	}

	if err := m.nodes.UpdateNode(ctx, nodeID, patch); err != nil {
		result.Success = false
		return fail(engine.NewError(engine.ErrCodeInternal, "failed to persist migrated node", err))
	}
	result.Persisted = true

	m.metrics.RecordMigration(telemetry.MigrationMigrated)
	telemetry.EndSpan(span, nil)
	logger.Info().
		Str("old_type", node.Type).
		Str("new_type", targetType).
		Bool("config_changed", result.ConfigChanged).
		Msg("Node migrated")
	return result
}

// migrate runs the type's migrator when one is required and returns the
// normalized config. Without a migrator the config passes through unchanged,
// unless the type is changing.
func migrate(info registry.TypeInfo, oldConfig map[string]interface{}, typeChanged bool) (map[string]interface{}, error) {
	if !info.CanMigrate() {
		if typeChanged {
			return nil, engine.Errorf(engine.ErrCodeMigrationNotSupported, "type %q does not support migration", info.Type)
		}
		return oldConfig, nil
	}

	migrated, err := callMigrator(info.Migrator, cloneConfig(oldConfig))
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeMigrationFailed, fmt.Sprintf("%s migration failed", info.Type), err)
	}

	// Round-trip through JSON so equality does not depend on the migrator's
	// number or container types.
	normalized, err := engine.ParseConfig(migrated)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeMigrationFailed, fmt.Sprintf("%s migration produced an invalid config", info.Type), err)
	}
	return normalized, nil
}

func callMigrator(mg registry.Migrator, config map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migrator panicked: %v", r)
		}
	}()
	return mg.Migrate(config)
}

// cloneConfig deep-copies a parsed config so migrators cannot mutate the
// baseline used for change detection.
func cloneConfig(config map[string]interface{}) map[string]interface{} {
	v, err := engine.NormalizeValue(config)
	if err != nil {
		return config
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// MigrateScenarioNodes migrates every node of a scenario. typeMapping overrides
// the target type per node, keyed by node id or, failing that, by the node's
// current type; unmapped nodes migrate in place.
func (m *Migrator) MigrateScenarioNodes(ctx context.Context, scenarioID string, typeMapping map[string]string, opts BatchOptions) (*BatchResult, error) {
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.New().String()
	}

	nodes, err := m.nodes.ListNodes(ctx, scenarioID)
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeInternal, "failed to load nodes", err).WithOperation("migrate_scenario")
	}

	batch := &BatchResult{
		ScenarioID:    scenarioID,
		CorrelationID: opts.CorrelationID,
		Results:       make([]engine.MigrationResult, 0, len(nodes)),
	}

	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			batch.Stopped = true
			return batch, err
		}

		target, ok := typeMapping[node.ID]
		if !ok {
			target = typeMapping[node.Type]
		}

		res := m.MigrateNodeConfig(ctx, node.ID, target, opts.Options)
		batch.Results = append(batch.Results, res)
		if res.Success {
			batch.SuccessCount++
			continue
		}

		batch.FailureCount++
		batch.Errors = append(batch.Errors, res.Error)
		if !opts.ContinueOnError {
			batch.Stopped = i < len(nodes)-1
			break
		}
	}

	m.logger.Info().
		Str("scenario_id", scenarioID).
		Str("correlation_id", opts.CorrelationID).
		Int("succeeded", batch.SuccessCount).
		Int("failed", batch.FailureCount).
		Bool("stopped", batch.Stopped).
		Msg("Scenario migration finished")
	return batch, nil
}

// CheckMigrationCompatibility reports whether currentConfig can be used with
// targetType, migrating it first when the type can migrate. Nothing is persisted.
func (m *Migrator) CheckMigrationCompatibility(currentConfig interface{}, targetType string) Compatibility {
	out := Compatibility{TargetType: targetType}

	info, err := m.catalog.Lookup(targetType)
	if err != nil {
		out.Issues = append(out.Issues, fmt.Sprintf("target type %q is not registered", targetType))
		return out
	}
	out.CanMigrate = info.CanMigrate()

	config, err := engine.ParseConfig(currentConfig)
	if err != nil {
		out.Issues = append(out.Issues, engine.AsEngineError(err).Detail())
		return out
	}

	candidate := config
	if out.CanMigrate {
		migrated, err := migrate(info, config, false)
		if err != nil {
			out.Issues = append(out.Issues, "migration failed: "+engine.AsEngineError(err).Detail())
			return out
		}
		out.MigrationNeeded = !cmp.Equal(config, migrated, configCmpOpts...)
		candidate = migrated
	}

	if _, err := info.ValidateConfig(candidate); err != nil {
		out.Issues = append(out.Issues, validationIssues(err)...)
		return out
	}
	out.Compatible = true
	return out
}

func validationIssues(err error) []string {
	ee := engine.AsEngineError(err)
	if violations, ok := ee.Details["violations"].([]registry.Violation); ok && len(violations) > 0 {
		issues := make([]string, 0, len(violations))
		for _, v := range violations {
			issues = append(issues, v.String())
		}
		return issues
	}
	return []string{ee.Detail()}
}

// GetAvailableMigrationPaths lists the registered types, other than currentType,
// that declare a migrate capability.
//
// This is a coarse heuristic: it does not check that any of those migrations
// would succeed for a particular config. Use CheckMigrationCompatibility for that.
func (m *Migrator) GetAvailableMigrationPaths(currentType string) []string {
	var paths []string
	for _, info := range m.catalog.Types() {
		if info.Type != currentType && info.CanMigrate() {
			paths = append(paths, info.Type)
		}
	}
	sort.Strings(paths)
	return paths
}
