package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/policy"
	"github.com/openfroyo/scenarioflow/pkg/stores"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FLOW"

// Config is the application configuration.
type Config struct {
	Store     stores.Config    `mapstructure:"store"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Policy    PolicyConfig     `mapstructure:"policy"`
	Dispatch  DispatchConfig   `mapstructure:"dispatch"`
	Actions   ActionsConfig    `mapstructure:"actions"`
}

// RetryConfig selects and overrides retry profiles.
type RetryConfig struct {
	// DefaultProfile is used by runs that name no profile.
	DefaultProfile string `mapstructure:"default_profile" validate:"required"`

	// Profiles override or extend the built-in profiles by name.
	Profiles map[string]engine.RetryPolicy `mapstructure:"profiles" validate:"dive"`
}

// PolicyConfig configures the pre-execution policy gate.
type PolicyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Environment string `mapstructure:"environment"`
	Directory   string `mapstructure:"directory" validate:"required_if=Watch true"`
	Watch       bool   `mapstructure:"watch"`
	MaxNodes    int    `mapstructure:"max_nodes" validate:"min=0"`
}

// DispatchConfig bounds concurrent trigger dispatch.
type DispatchConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=256"`
}

// ActionsConfig tunes the built-in actions.
type ActionsConfig struct {
	ScriptTimeout time.Duration `mapstructure:"script_timeout" validate:"gt=0"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Store: stores.Config{
			Driver: stores.DriverSQLite,
			SQLite: stores.SQLiteConfig{
				Path:            "scenarioflow.db",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Badger: stores.BadgerConfig{Dir: "scenarioflow.badger"},
		},
		Telemetry: *telemetry.DefaultConfig(),
		Retry: RetryConfig{
			DefaultProfile: engine.RetryProfileStandard,
		},
		Policy: PolicyConfig{
			Enabled:     true,
			Environment: "development",
			MaxNodes:    policy.DefaultMaxNodes,
		},
		Dispatch: DispatchConfig{Concurrency: 4},
		Actions: ActionsConfig{
			ScriptTimeout: 5 * time.Second,
			UserAgent:     "scenarioflow",
		},
	}
}

// setDefaults registers every default with v. AutomaticEnv only resolves keys
// viper already knows about.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite.path", d.Store.SQLite.Path)
	v.SetDefault("store.sqlite.max_open_conns", d.Store.SQLite.MaxOpenConns)
	v.SetDefault("store.sqlite.max_idle_conns", d.Store.SQLite.MaxIdleConns)
	v.SetDefault("store.sqlite.conn_max_lifetime", d.Store.SQLite.ConnMaxLifetime)
	v.SetDefault("store.badger.dir", d.Store.Badger.Dir)

	t := d.Telemetry
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.service_version", t.ServiceVersion)
	v.SetDefault("telemetry.environment", t.Environment)
	v.SetDefault("telemetry.logging.level", t.Logging.Level)
	v.SetDefault("telemetry.logging.format", t.Logging.Format)
	v.SetDefault("telemetry.logging.output", t.Logging.Output)
	v.SetDefault("telemetry.logging.enable_caller", t.Logging.EnableCaller)
	v.SetDefault("telemetry.logging.enable_sampling", t.Logging.EnableSampling)
	v.SetDefault("telemetry.logging.sampling_initial", t.Logging.SamplingInitial)
	v.SetDefault("telemetry.logging.sampling_thereafter", t.Logging.SamplingThereafter)
	v.SetDefault("telemetry.logging.time_format", t.Logging.TimeFormat)
	v.SetDefault("telemetry.tracing.enabled", t.Tracing.Enabled)
	v.SetDefault("telemetry.tracing.exporter", t.Tracing.Exporter)
	v.SetDefault("telemetry.tracing.endpoint", t.Tracing.Endpoint)
	v.SetDefault("telemetry.tracing.sampling_rate", t.Tracing.SamplingRate)
	v.SetDefault("telemetry.tracing.max_export_batch_size", t.Tracing.MaxExportBatchSize)
	v.SetDefault("telemetry.tracing.export_timeout", t.Tracing.ExportTimeout)
	v.SetDefault("telemetry.tracing.insecure", t.Tracing.Insecure)
	v.SetDefault("telemetry.metrics.enabled", t.Metrics.Enabled)
	v.SetDefault("telemetry.metrics.listen_address", t.Metrics.ListenAddress)
	v.SetDefault("telemetry.metrics.path", t.Metrics.Path)
	v.SetDefault("telemetry.metrics.namespace", t.Metrics.Namespace)
	v.SetDefault("telemetry.metrics.histogram_buckets", t.Metrics.DefaultHistogramBuckets)

	v.SetDefault("retry.default_profile", d.Retry.DefaultProfile)

	v.SetDefault("policy.enabled", d.Policy.Enabled)
	v.SetDefault("policy.environment", d.Policy.Environment)
	v.SetDefault("policy.directory", d.Policy.Directory)
	v.SetDefault("policy.watch", d.Policy.Watch)
	v.SetDefault("policy.max_nodes", d.Policy.MaxNodes)

	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)

	v.SetDefault("actions.script_timeout", d.Actions.ScriptTimeout)
	v.SetDefault("actions.user_agent", d.Actions.UserAgent)
}

// Load reads the configuration from defaults, the optional file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Telemetry.Tracing.Headers == nil {
		cfg.Telemetry.Tracing.Headers = make(map[string]string)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints, the telemetry settings and that the
// default retry profile resolves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	if _, err := c.RetryProfiles(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	return nil
}

// RetryProfiles builds the retry profile set with the configured overrides.
func (c *Config) RetryProfiles() (*engine.RetryProfiles, error) {
	return engine.NewRetryProfiles(c.Retry.Profiles, c.Retry.DefaultProfile)
}

// PolicyOptions returns the policy engine options. The directory, when set, is
// loaded on start and on every reload.
func (c *Config) PolicyOptions() policy.Options {
	opts := policy.Options{
		Environment: c.Policy.Environment,
		MaxNodes:    c.Policy.MaxNodes,
	}
	if c.Policy.Directory != "" {
		opts.Paths = []string{c.Policy.Directory}
	}
	return opts
}
