package engine

import (
	"fmt"

	gojson "github.com/goccy/go-json"
)

// RunStatus represents the lifecycle status of a scenario run.
type RunStatus string

const (
	// RunStatusPending indicates the run record exists but execution has not begun.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the execution engine is walking the node sequence.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every node completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run stopped at a failing node or precondition.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled out-of-band.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// runTransitions lists the allowed successor states. Terminal states are absorbing.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusRunning, RunStatusFailed, RunStatusCancelled},
	RunStatusRunning: {RunStatusSucceeded, RunStatusFailed, RunStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns a classified error when the transition is not allowed.
func (s RunStatus) CheckTransition(next RunStatus) error {
	if err := next.Validate(); err != nil {
		return NewError(ErrCodeInvalidInput, "invalid target status", err)
	}
	if !s.CanTransitionTo(next) {
		return Errorf(ErrCodeInvalidInput, "run status cannot move from %s to %s", s, next)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return gojson.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := gojson.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// StepStatus is the outcome of a single node within a simulated or executed run.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
)
