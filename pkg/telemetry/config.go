package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry section of the flow configuration.
type Config struct {
	ServiceName    string `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	// Output is stdout, stderr or a file path.
	Output       string `mapstructure:"output" yaml:"output"`
	EnableCaller bool   `mapstructure:"enable_caller" yaml:"enable_caller"`

	// Sampling keeps SamplingInitial messages per second, then every
	// SamplingThereafter-th one.
	EnableSampling     bool `mapstructure:"enable_sampling" yaml:"enable_sampling"`
	SamplingInitial    int  `mapstructure:"sampling_initial" yaml:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `mapstructure:"sampling_thereafter" yaml:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is one of unix, unixms, unixmicro or rfc3339.
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// TracingConfig configures run, node, simulation and migration spans.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter" validate:"oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint           string            `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true Exporter otlp"`
	SamplingRate       float64           `mapstructure:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `mapstructure:"max_export_batch_size" yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `mapstructure:"export_timeout" yaml:"export_timeout"`
	Headers            map[string]string `mapstructure:"headers" yaml:"headers"`
	Insecure           bool              `mapstructure:"insecure" yaml:"insecure"`
}

// MetricsConfig configures the Prometheus collectors and their endpoint.
type MetricsConfig struct {
	Enabled                 bool      `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress           string    `mapstructure:"listen_address" yaml:"listen_address" validate:"required_if=Enabled true"`
	Path                    string    `mapstructure:"path" yaml:"path"`
	Namespace               string    `mapstructure:"namespace" yaml:"namespace"`
	DefaultHistogramBuckets []float64 `mapstructure:"histogram_buckets" yaml:"histogram_buckets"`
}

// DefaultConfig returns the telemetry defaults. Tracing and the metrics
// endpoint are off so that one-shot CLI invocations stay quiet.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "scenarioflow",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "scenarioflow",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
			},
		},
	}
}

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
}
