package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		Name:         "test",
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	var hooks []int

	attempts, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		hooks = append(hooks, attempt)
	})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("Expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	if len(hooks) != 2 {
		t.Errorf("Expected 2 retry hooks, got %v", hooks)
	}
}

func TestRetry_FatalErrorIsNotRetried(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) error {
		calls++
		return NewError(ErrCodeInvalidCredentials, "bad token", nil)
	}, nil)

	if !HasCode(err, ErrCodeInvalidCredentials) {
		t.Fatalf("Expected INVALID_CREDENTIALS, got: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("Expected a single attempt, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy(4), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("503 service unavailable")
	}, nil)

	if !HasCode(err, ErrCodeServiceUnavailable) {
		t.Fatalf("Expected SERVICE_UNAVAILABLE, got: %v", err)
	}
	if attempts != 4 || calls != 4 {
		t.Errorf("Expected 4 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, Multiplier: 1}

	_, err := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		cancel()
		return errors.New("network down")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if got := CodeOf(err); got != ErrCodeNetwork {
		t.Errorf("Expected the last attempt's NETWORK_ERROR to survive, got %s", got)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for retry, w := range want {
		if got := p.Backoff(retry); got != w {
			t.Errorf("Backoff(%d): expected %s, got %s", retry, w, got)
		}
	}
}

func TestRetryPolicy_BackoffJitterStaysInUpperHalf(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Backoff(3)
		if d < 2*time.Second || d > 4*time.Second {
			t.Fatalf("Expected jittered delay within [2s, 4s], got %s", d)
		}
	}
}

func TestRetryProfiles(t *testing.T) {
	profiles, err := NewRetryProfiles(map[string]RetryPolicy{
		"patient": {MaxAttempts: 10, InitialDelay: time.Second, Multiplier: 1.5},
	}, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := profiles.Get(RetryProfileStandard); got.MaxAttempts != 3 {
		t.Errorf("Expected standard profile with 3 attempts, got %d", got.MaxAttempts)
	}
	if got := profiles.Get("patient"); got.Name != "patient" || got.MaxAttempts != 10 {
		t.Errorf("Unexpected patient profile: %+v", got)
	}
	if got := profiles.Get("unknown"); got.Name != RetryProfileStandard {
		t.Errorf("Expected fallback to standard, got %s", got.Name)
	}
	if got := profiles.Get(RetryProfileNone); got.MaxAttempts != 1 {
		t.Errorf("Expected none profile to make a single attempt, got %d", got.MaxAttempts)
	}

	names := profiles.Names()
	if len(names) != 4 || names[0] != RetryProfileAggressive {
		t.Errorf("Unexpected names %v", names)
	}

	if _, err := NewRetryProfiles(nil, "missing"); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for unknown default profile, got: %v", err)
	}
	if _, err := NewRetryProfiles(map[string]RetryPolicy{"bad": {MaxAttempts: 0}}, ""); err == nil {
		t.Error("Expected an error for a profile without attempts")
	}
}
