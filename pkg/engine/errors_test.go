package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify_Messages(t *testing.T) {
	tests := []struct {
		msg       string
		code      ErrorCode
		retryable bool
	}{
		{"request timeout after 30s", ErrCodeTimeout, true},
		{"operation timed out", ErrCodeTimeout, true},
		{"dial tcp: connect: connection refused", ErrCodeNetwork, true},
		{"getaddrinfo ENOTFOUND api.example.com", ErrCodeNetwork, true},
		{"lookup api.example.com: no such host", ErrCodeNetwork, true},
		{"401 Unauthorized", ErrCodeInvalidCredentials, false},
		{"HTTP 403 Forbidden", ErrCodeInvalidCredentials, false},
		{"rate limit exceeded", ErrCodeRateLimited, true},
		{"status 429", ErrCodeRateLimited, true},
		{"monthly quota exhausted", ErrCodeQuotaExceeded, false},
		{"503 Service Unavailable", ErrCodeServiceUnavailable, true},
		{"something odd happened", ErrCodeUnexpected, true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c := Classify(errors.New(tt.msg))
			if c.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, c.Code)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, c.Retryable)
			}
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	// timeout is checked before network.
	c := Classify(errors.New("network timeout"))
	if c.Code != ErrCodeTimeout {
		t.Errorf("Expected TIMEOUT, got %s", c.Code)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("calling upstream: %w", context.DeadlineExceeded)
	if got := CodeOf(err); got != ErrCodeTimeout {
		t.Errorf("Expected TIMEOUT, got %s", got)
	}
}

func TestClassify_EngineErrorKeepsCode(t *testing.T) {
	inner := NewError(ErrCodeInvalidInput, "missing field url", nil)
	err := fmt.Errorf("node failed: %w", inner)

	c := Classify(err)
	if c.Code != ErrCodeInvalidInput {
		t.Errorf("Expected INVALID_INPUT, got %s", c.Code)
	}
	if c.Retryable {
		t.Error("Expected INVALID_INPUT to be fatal")
	}
}

func TestClassify_Nil(t *testing.T) {
	if c := Classify(nil); c.Code != "" || c.Retryable {
		t.Errorf("Expected zero classification, got %+v", c)
	}
	if IsRetryable(nil) {
		t.Error("Expected nil error not to be retryable")
	}
}

func TestEngineError_RetryableOverride(t *testing.T) {
	err := NewError(ErrCodeUnexpected, "executor panicked", nil)
	if !err.Retryable() {
		t.Fatal("Expected UNEXPECTED_ERROR to be retryable by default")
	}

	err.WithRetryable(false)
	if IsRetryable(err) {
		t.Error("Expected override to make the error fatal")
	}

	fatal := NewError(ErrCodeInvalidConfig, "bad", nil).WithRetryable(true)
	if !IsRetryable(fatal) {
		t.Error("Expected override to make the error retryable")
	}
}

func TestEngineError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(ErrCodeNotFound, "scenario %s not found", "s1"))

	if !errors.Is(err, NewError(ErrCodeNotFound, "", nil)) {
		t.Error("Expected errors.Is to match by code")
	}
	if errors.Is(err, NewError(ErrCodeNodeNotFound, "", nil)) {
		t.Error("Expected errors.Is not to match a different code")
	}

	var e *EngineError
	if !errors.As(err, &e) {
		t.Fatal("Expected errors.As to extract the engine error")
	}
	if e.Message != "scenario s1 not found" {
		t.Errorf("Unexpected message: %q", e.Message)
	}
}

func TestEngineError_ErrorString(t *testing.T) {
	cause := errors.New("connection reset by peer")

	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{"message only", NewError(ErrCodeInvalidInput, "bad input", nil), "[INVALID_INPUT] bad input"},
		{"message and cause", NewError(ErrCodeNetwork, "fetch failed", cause), "[NETWORK_ERROR] fetch failed: connection reset by peer"},
		{"cause only", AsEngineError(cause), "[NETWORK_ERROR] connection reset by peer"},
		{"with node", NewError(ErrCodeTimeout, "slow", nil).WithNode("n1"), "[TIMEOUT] slow (node=n1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestErrorCode_StaticTable(t *testing.T) {
	fatal := []ErrorCode{
		ErrCodeInvalidCredentials, ErrCodeInvalidInput, ErrCodeMigrationNotSupported,
		ErrCodeMigrationFailed, ErrCodeInvalidConfig, ErrCodeCycleDetected, ErrCodeQuotaExceeded,
	}
	for _, c := range fatal {
		if c.Retryable() {
			t.Errorf("Expected %s to be fatal", c)
		}
		if !c.Known() {
			t.Errorf("Expected %s to be known", c)
		}
	}

	retryable := []ErrorCode{ErrCodeRateLimited, ErrCodeTimeout, ErrCodeNetwork, ErrCodeServiceUnavailable, ErrCodeUnexpected}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("Expected %s to be retryable", c)
		}
	}

	if ErrorCode("NOPE").Known() {
		t.Error("Expected unknown code not to be known")
	}
}

func TestNewRunError(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	re := NewRunError(errors.New("rate limit hit"), 2, false, now)
	if re.Code != ErrCodeRateLimited {
		t.Errorf("Expected RATE_LIMITED, got %s", re.Code)
	}
	if re.Message != "rate limit hit" {
		t.Errorf("Unexpected message %q", re.Message)
	}
	if re.RetryCount != 2 || re.IsFatal || !re.Timestamp.Equal(now) {
		t.Errorf("Unexpected run error: %+v", re)
	}

	if NewRunError(nil, 0, false, now) != nil {
		t.Error("Expected nil run error for nil error")
	}
}
