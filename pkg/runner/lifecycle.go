package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scenarioflow/pkg/engine"
	"github.com/openfroyo/scenarioflow/pkg/telemetry"
)

// RunRef identifies the run a lifecycle transition applies to.
type RunRef struct {
	ScenarioID    string
	RunID         string
	CorrelationID string
	TriggerKey    string
}

// FailOptions qualifies a run failure.
type FailOptions struct {
	// IsFatal marks a non-retryable failure.
	IsFatal bool

	// RetryCount is the number of retries made before giving up.
	RetryCount int

	// TriggerAlert marks a retryable failure whose retries were exhausted.
	TriggerAlert bool
}

// Lifecycle owns the run status state machine. It is the only writer of run
// status. Its Mark operations never return errors: a failure to record a
// transition is logged and must not mask the outcome being recorded.
type Lifecycle struct {
	store   engine.LifecycleStore
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewLifecycle creates a run lifecycle manager.
func NewLifecycle(store engine.LifecycleStore, logger zerolog.Logger, metrics *telemetry.Metrics) *Lifecycle {
	return &Lifecycle{
		store:   store,
		logger:  telemetry.ComponentLogger(logger, "lifecycle"),
		metrics: metrics,
		now:     time.Now,
	}
}

// CreateRun persists a new pending run. An empty run ID is generated.
func (l *Lifecycle) CreateRun(ctx context.Context, ref RunRef) (*engine.ScenarioRun, error) {
	if ref.RunID == "" {
		ref.RunID = uuid.New().String()
	}
	run := &engine.ScenarioRun{
		ID:            ref.RunID,
		ScenarioID:    ref.ScenarioID,
		Status:        engine.RunStatusPending,
		CorrelationID: ref.CorrelationID,
		TriggerKey:    ref.TriggerKey,
		StartedAt:     l.now().UTC(),
	}
	if err := l.store.CreateRun(ctx, run); err != nil {
		return nil, engine.NewError(engine.ErrCodeInternal, "failed to create run", err).WithOperation("create_run")
	}

	l.runLogger(ref).Debug().Msg("Run created")
	return run, nil
}

// EnsureRun returns the run identified by ref, creating it in pending when the
// store has no such record.
func (l *Lifecycle) EnsureRun(ctx context.Context, ref RunRef) (*engine.ScenarioRun, error) {
	if ref.RunID != "" {
		run, err := l.store.GetRun(ctx, ref.RunID)
		if err == nil {
			return run, nil
		}
		if !engine.HasCode(err, engine.ErrCodeNotFound) {
			return nil, engine.NewError(engine.ErrCodeInternal, "failed to load run", err).WithOperation("ensure_run")
		}
	}
	return l.CreateRun(ctx, ref)
}

// MarkRunning moves a pending run to running.
func (l *Lifecycle) MarkRunning(ctx context.Context, ref RunRef) {
	if _, res := l.transition(ctx, ref, engine.RunStatusRunning, nil); res == transitionApplied {
		l.metrics.RecordRunStarted(ref.TriggerKey)
		l.runLogger(ref).Info().Msg("Run started")
	}
}

// MarkSucceeded moves a running run to succeeded.
func (l *Lifecycle) MarkSucceeded(ctx context.Context, ref RunRef) {
	run, res := l.transition(ctx, ref, engine.RunStatusSucceeded, nil)
	if res != transitionApplied {
		return
	}
	l.appendLog(ctx, run, engine.RunStatusSucceeded, "", false, nil)
	l.runLogger(ref).Info().Msg("Run succeeded")
}

// MarkFailed moves a run to failed. Fatal failures and failures that exhausted
// their retries are also dead-lettered.
func (l *Lifecycle) MarkFailed(ctx context.Context, ref RunRef, err error, opts FailOptions) {
	runErr := engine.NewRunError(err, opts.RetryCount, opts.IsFatal, l.now().UTC())
	if runErr == nil {
		runErr = &engine.RunError{Code: engine.ErrCodeUnexpected, Message: "run failed", Timestamp: l.now().UTC(), IsFatal: opts.IsFatal}
	}

	run, res := l.transition(ctx, ref, engine.RunStatusFailed, runErr)
	if res == transitionRejected {
		return
	}
	if run == nil {
		// The status could not be read; still record what happened.
		run = &engine.ScenarioRun{ID: ref.RunID, ScenarioID: ref.ScenarioID, CorrelationID: ref.CorrelationID, StartedAt: runErr.Timestamp}
	}

	l.metrics.RecordError(string(runErr.Code))
	l.appendLog(ctx, run, engine.RunStatusFailed, runErr.Message, false, map[string]interface{}{
		"code":        runErr.Code,
		"retry_count": opts.RetryCount,
		"is_fatal":    opts.IsFatal,
	})
	l.runLogger(ref).Error().
		Str("code", string(runErr.Code)).
		Int("retry_count", opts.RetryCount).
		Bool("is_fatal", opts.IsFatal).
		Msg(runErr.Message)

	if opts.IsFatal || opts.TriggerAlert {
		l.deadLetter(ctx, run, runErr, opts)
	}
}

// MarkCancelled moves a pending or running run to cancelled.
func (l *Lifecycle) MarkCancelled(ctx context.Context, ref RunRef, reason string) {
	run, res := l.transition(ctx, ref, engine.RunStatusCancelled, nil)
	if res != transitionApplied {
		return
	}
	l.appendLog(ctx, run, engine.RunStatusCancelled, reason, false, map[string]interface{}{"reason": reason})
	l.runLogger(ref).Warn().Str("reason", reason).Msg("Run cancelled")
}

// deadLetter durably records a permanently failed run for operator review.
// Notification channels are out of scope; the record is the contract.
func (l *Lifecycle) deadLetter(ctx context.Context, run *engine.ScenarioRun, runErr *engine.RunError, opts FailOptions) {
	l.appendLog(ctx, run, engine.RunStatusFailed, runErr.Message, true, map[string]interface{}{
		"code":          runErr.Code,
		"retry_count":   opts.RetryCount,
		"is_fatal":      opts.IsFatal,
		"trigger_alert": opts.TriggerAlert,
		"notification":  "none",
	})
	l.metrics.RecordDeadLetter(string(runErr.Code))
	l.runLogger(RunRef{ScenarioID: run.ScenarioID, RunID: run.ID, CorrelationID: run.CorrelationID}).Error().
		Bool("dead_letter", true).
		Str("code", string(runErr.Code)).
		Bool("trigger_alert", opts.TriggerAlert).
		Msg("Run dead-lettered for operator review")
}

type transitionResult int

const (
	transitionApplied transitionResult = iota
	// transitionRejected means the state machine refused the transition.
	transitionRejected
	// transitionFailed means the store could not be read or written.
	transitionFailed
)

// transition validates next against the persisted status and persists it only
// if the status is unchanged since it was read. It returns the run as loaded,
// nil when it could not be loaded. Terminal states are absorbing.
func (l *Lifecycle) transition(ctx context.Context, ref RunRef, next engine.RunStatus, runErr *engine.RunError) (*engine.ScenarioRun, transitionResult) {
	logger := l.runLogger(ref)

	run, err := l.store.GetRun(ctx, ref.RunID)
	if err != nil {
		logger.Error().Err(err).Str("status", string(next)).Msg("Failed to load run for status update")
		return nil, transitionFailed
	}

	if err := run.Status.CheckTransition(next); err != nil {
		logger.Warn().Err(err).Msg("Ignoring run status transition")
		return run, transitionRejected
	}

	now := l.now().UTC()
	var completedAt *time.Time
	if next.IsTerminal() {
		completedAt = &now
	}
	err = l.store.UpdateRunStatus(ctx, ref.RunID, run.Status, next, runErr, completedAt)
	if errors.Is(err, engine.ErrStatusConflict) {
		logger.Warn().Err(err).Str("status", string(next)).Msg("Ignoring run status transition")
		return run, transitionRejected
	}
	if err != nil {
		logger.Error().Err(err).Str("status", string(next)).Msg("Failed to persist run status")
		return run, transitionFailed
	}

	if next.IsTerminal() {
		if run.Status == engine.RunStatusRunning {
			l.metrics.RecordRunCompleted(string(next), now.Sub(run.StartedAt))
		} else {
			l.metrics.RecordRunRejected(string(next))
		}
	}

	previous := run.Status
	run.Status = next
	run.CompletedAt = completedAt
	run.Error = runErr
	logger.Debug().Str("from", string(previous)).Str("to", string(next)).Msg("Run status updated")
	return run, transitionApplied
}

func (l *Lifecycle) appendLog(ctx context.Context, run *engine.ScenarioRun, status engine.RunStatus, msg string, deadLetter bool, details map[string]interface{}) {
	entry := &engine.RunLogEntry{
		ScenarioID:    run.ScenarioID,
		RunID:         run.ID,
		CorrelationID: run.CorrelationID,
		Status:        status,
		StartTime:     run.StartedAt,
		ErrorMessage:  msg,
		DeadLetter:    deadLetter,
		Details:       details,
	}
	if err := l.store.AppendRunLog(ctx, entry); err != nil {
		l.runLogger(RunRef{ScenarioID: run.ScenarioID, RunID: run.ID, CorrelationID: run.CorrelationID}).Error().
			Err(err).
			Bool("dead_letter", deadLetter).
			Msg("Failed to append run log entry")
	}
}

// runLogger returns a pointer so that event methods can be chained on the result.
func (l *Lifecycle) runLogger(ref RunRef) *zerolog.Logger {
	logger := telemetry.RunLogger(l.logger, ref.ScenarioID, ref.RunID, ref.CorrelationID)
	return &logger
}
