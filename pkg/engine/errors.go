package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode is a member of the closed set of error codes used across the engine.
type ErrorCode string

const (
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeNetwork               ErrorCode = "NETWORK_ERROR"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeInvalidCredentials    ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig         ErrorCode = "INVALID_CONFIG"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeNodeNotFound          ErrorCode = "NODE_NOT_FOUND"
	ErrCodeActionNotFound        ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeTriggerNotFound       ErrorCode = "TRIGGER_NOT_FOUND"
	ErrCodeScenarioDisabled      ErrorCode = "SCENARIO_DISABLED"
	ErrCodeCycleDetected         ErrorCode = "CYCLE_DETECTED"
	ErrCodePolicyViolation       ErrorCode = "POLICY_VIOLATION"
	ErrCodeMigrationNotSupported ErrorCode = "MIGRATION_NOT_SUPPORTED"
	ErrCodeMigrationFailed       ErrorCode = "MIGRATION_FAILED"
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnexpected            ErrorCode = "UNEXPECTED_ERROR"
)

// ErrStatusConflict is returned by RunStore.UpdateRunStatus when the stored status
// no longer matches the status the caller read.
var ErrStatusConflict = errors.New("run status changed concurrently")

// retryableCodes is the static retryable/fatal classification. Codes absent from
// the table are fatal.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:            true,
	ErrCodeNetwork:            true,
	ErrCodeServiceUnavailable: true,
	ErrCodeRateLimited:        true,
	ErrCodeUnexpected:         true,
}

// Retryable reports the static classification of the code.
func (c ErrorCode) Retryable() bool {
	return retryableCodes[c]
}

// Known reports whether the code belongs to the taxonomy.
func (c ErrorCode) Known() bool {
	switch c {
	case ErrCodeTimeout, ErrCodeNetwork, ErrCodeServiceUnavailable, ErrCodeRateLimited,
		ErrCodeQuotaExceeded, ErrCodeInvalidCredentials, ErrCodeInvalidInput, ErrCodeInvalidConfig,
		ErrCodeNotFound, ErrCodeNodeNotFound, ErrCodeActionNotFound, ErrCodeTriggerNotFound,
		ErrCodeScenarioDisabled, ErrCodeCycleDetected, ErrCodePolicyViolation,
		ErrCodeMigrationNotSupported, ErrCodeMigrationFailed, ErrCodeDuplicateRegistration,
		ErrCodeInternal, ErrCodeUnexpected:
		return true
	}
	return false
}

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Code is the taxonomy code.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// NodeID is the scenario node that caused the error, if applicable.
	NodeID string `json:"node_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// retryable overrides the static classification of Code when set.
	retryable *bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] %s (node=%s)", e.Code, e.Detail(), e.NodeID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Detail())
}

// Detail returns the message joined with the underlying error, without the code prefix.
func (e *EngineError) Detail() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is. Two engine errors are
// equal when their codes match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the error may be retried, honoring a call-site override.
func (e *EngineError) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.Code.Retryable()
}

// NewError creates a new engine error with the given code.
func NewError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Errorf creates a new engine error with a formatted message and no cause.
func Errorf(code ErrorCode, format string, args ...interface{}) *EngineError {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.NodeID = nodeID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryable overrides the static retryable classification for this error.
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.retryable = &retryable
	return e
}

// Classification is the result of classifying an arbitrary error.
type Classification struct {
	Code      ErrorCode `json:"code"`
	Retryable bool      `json:"retryable"`
}

type messageRule struct {
	code    ErrorCode
	needles []string
}

// messageRules are checked in order; the first rule with a matching needle wins.
var messageRules = []messageRule{
	{ErrCodeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrCodeNetwork, []string{"network", "econnrefused", "connection refused", "connection reset", "enotfound", "no such host", "dns"}},
	{ErrCodeInvalidCredentials, []string{"unauthorized", "401", "403", "forbidden", "invalid credentials"}},
	{ErrCodeRateLimited, []string{"rate limit", "429", "too many requests"}},
	{ErrCodeQuotaExceeded, []string{"quota"}},
	{ErrCodeServiceUnavailable, []string{"service unavailable", "503"}},
}

// Classify assigns a taxonomy code to any error. Engine errors keep their code and
// override; everything else is matched on its message, and unmatched errors become
// UNEXPECTED_ERROR, which is retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var e *EngineError
	if errors.As(err, &e) {
		return Classification{Code: e.Code, Retryable: e.Retryable()}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Code: ErrCodeTimeout, Retryable: ErrCodeTimeout.Retryable()}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return Classification{Code: rule.code, Retryable: rule.code.Retryable()}
			}
		}
	}

	return Classification{Code: ErrCodeUnexpected, Retryable: ErrCodeUnexpected.Retryable()}
}

// AsEngineError converts any error into an engine error, classifying it when needed.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewError(Classify(err).Code, "", err)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}

// CodeOf returns the taxonomy code of an error.
func CodeOf(err error) ErrorCode {
	return Classify(err).Code
}

// HasCode reports whether err classifies to the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RunError is the immutable error record attached to a failed run or node execution.
type RunError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count,omitempty"`
	IsFatal    bool      `json:"is_fatal,omitempty"`
}

// NewRunError builds a run error record from any error.
func NewRunError(err error, retryCount int, isFatal bool, now time.Time) *RunError {
	if err == nil {
		return nil
	}
	e := AsEngineError(err)
	return &RunError{
		Code:       e.Code,
		Message:    e.Detail(),
		Timestamp:  now,
		RetryCount: retryCount,
		IsFatal:    isFatal,
	}
}
