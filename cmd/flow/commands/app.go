package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/scenarioflow/pkg/actions"
	"github.com/openfroyo/scenarioflow/pkg/config"
	"github.com/openfroyo/scenarioflow/pkg/dryrun"
	"github.com/openfroyo/scenarioflow/pkg/migration"
	"github.com/openfroyo/scenarioflow/pkg/policy"
	"github.com/openfroyo/scenarioflow/pkg/registry"
	"github.com/openfroyo/scenarioflow/pkg/runner"
	"github.com/openfroyo/scenarioflow/pkg/stores"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// app holds everything a command needs, built from the loaded configuration.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	store     stores.Store
	catalog   *registry.Catalog
	policy    *policy.Engine
	lifecycle *runner.Lifecycle
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.Open(ctx, cfg.Store)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	catalog := registry.NewCatalog()
	err = actions.RegisterBuiltins(catalog, actions.Options{
		ScriptTimeout: cfg.Actions.ScriptTimeout,
		UserAgent:     cfg.Actions.UserAgent,
	})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	catalog.Seal()

	a := &app{
		cfg:       cfg,
		tel:       tel,
		store:     store,
		catalog:   catalog,
		lifecycle: runner.NewLifecycle(store, tel.Logger, tel.Metrics),
	}

	if cfg.Policy.Enabled {
		a.policy, err = policy.NewEngine(ctx, tel.Logger, cfg.PolicyOptions())
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		if cfg.Policy.Watch {
			if err := a.policy.Watch(ctx); err != nil {
				tel.Logger.Warn().Err(err).Msg("Policy watching disabled")
			}
		}
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.tel.Logger.Warn().Err(err).Msg("Failed to close store")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func (a *app) runner() (*runner.Runner, error) {
	profiles, err := a.cfg.RetryProfiles()
	if err != nil {
		return nil, err
	}
	cfg := runner.Config{
		Graph:        a.store,
		Catalog:      a.catalog,
		Lifecycle:    a.lifecycle,
		Profiles:     profiles,
		RetryProfile: a.cfg.Retry.DefaultProfile,
		Logger:       a.tel.Logger,
		Tracer:       a.tel.Tracer,
		Metrics:      a.tel.Metrics,
	}
	// A nil *policy.Engine must not become a non-nil PolicyChecker.
	if a.policy != nil {
		cfg.Policy = a.policy
	}
	return runner.New(cfg)
}

func (a *app) simulator() *dryrun.Simulator {
	return dryrun.New(a.store, a.catalog, a.tel.Logger, a.tel.Metrics, a.tel.Tracer)
}

func (a *app) migrator() *migration.Migrator {
	return migration.New(a.store, a.catalog, a.tel.Logger, a.tel.Metrics, a.tel.Tracer)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(a)
}
