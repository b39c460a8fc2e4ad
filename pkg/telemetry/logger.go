package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger. Components receive it by injection and
// derive children from it.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	writer, err := logOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		consoleFormat := time.RFC3339
		if cfg.TimeFormat == "unix" {
			consoleFormat = zerolog.TimeFormatUnix
		}
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: consoleFormat}
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
	if cfg.EnableCaller {
		logger = logger.With().Caller().Logger()
	}
	if cfg.EnableSampling {
		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return logger, nil
}

// logOutput resolves stdout, stderr or an append-only log file.
func logOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}

// ComponentLogger tags a child logger with its component name.
func ComponentLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// RunLogger returns a child logger carrying the identifiers every log line of
// a run includes. runID is omitted until the run record exists.
func RunLogger(base zerolog.Logger, scenarioID, runID, correlationID string) zerolog.Logger {
	ctx := base.With().
		Str("scenario_id", scenarioID).
		Str("correlation_id", correlationID)
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return ctx.Logger()
}

// NodeLogger adds node fields to a run logger.
func NodeLogger(run zerolog.Logger, nodeID, nodeType string) zerolog.Logger {
	return run.With().
		Str("node_id", nodeID).
		Str("node_type", nodeType).
		Logger()
}

// ParseLevel maps a configured level to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}
