package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// Built-in retry profile names.
const (
	RetryProfileStandard   = "standard"
	RetryProfileNone       = "none"
	RetryProfileAggressive = "aggressive"
)

// RetryPolicy bounds how a failing node invocation is retried.
type RetryPolicy struct {
	// Name is the profile name the policy is registered under.
	Name string `json:"name" mapstructure:"-"`

	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initial_delay" validate:"min=0"`

	// MaxDelay caps every delay.
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay" validate:"min=0"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `json:"multiplier" mapstructure:"multiplier" validate:"gte=1"`

	// Jitter randomizes each delay within its upper half.
	Jitter bool `json:"jitter" mapstructure:"jitter"`
}

// DefaultRetryProfiles returns the built-in profiles. Their numbers are defaults,
// overridable through configuration.
func DefaultRetryProfiles() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		RetryProfileStandard: {
			Name:         RetryProfileStandard,
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
		RetryProfileNone: {
			Name:        RetryProfileNone,
			MaxAttempts: 1,
			Multiplier:  1,
		},
		RetryProfileAggressive: {
			Name:         RetryProfileAggressive,
			MaxAttempts:  5,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// RetryProfiles is a named set of retry policies.
type RetryProfiles struct {
	profiles map[string]RetryPolicy
	fallback string
}

// NewRetryProfiles builds a profile set on top of the defaults. Overrides replace
// built-in profiles of the same name. fallback names the profile used for unknown
// names and must exist.
func NewRetryProfiles(overrides map[string]RetryPolicy, fallback string) (*RetryProfiles, error) {
	profiles := DefaultRetryProfiles()
	for name, p := range overrides {
		p.Name = name
		if p.MaxAttempts < 1 {
			return nil, Errorf(ErrCodeInvalidConfig, "retry profile %q: max_attempts must be at least 1", name)
		}
		if p.Multiplier < 1 {
			p.Multiplier = 1
		}
		profiles[name] = p
	}

	if fallback == "" {
		fallback = RetryProfileStandard
	}
	if _, ok := profiles[fallback]; !ok {
		return nil, Errorf(ErrCodeInvalidConfig, "unknown default retry profile %q", fallback)
	}

	return &RetryProfiles{profiles: profiles, fallback: fallback}, nil
}

// Get returns the named profile, or the fallback profile if the name is unknown.
func (r *RetryProfiles) Get(name string) RetryPolicy {
	if p, ok := r.profiles[name]; ok {
		return p
	}
	return r.profiles[r.fallback]
}

// Names lists the profile names in sorted order.
func (r *RetryProfiles) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backoff returns the delay before retry number retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 || p.InitialDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(retry-1)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}

	if p.Jitter && delay > 1 {
		half := delay / 2
		delay = half + rand.N(half+1)
	}

	return delay
}

// String renders the policy for logs.
func (p RetryPolicy) String() string {
	return fmt.Sprintf("%s(attempts=%d, initial=%s, max=%s, x%.1f)",
		p.Name, p.MaxAttempts, p.InitialDelay, p.MaxDelay, p.Multiplier)
}

// RetryFunc is one attempt of a retried operation. attempt is 1-based.
type RetryFunc func(ctx context.Context, attempt int) error

// RetryHook observes a failed attempt that is about to be retried after delay.
type RetryHook func(attempt int, err error, delay time.Duration)

// Retry invokes fn until it succeeds, fails with a non-retryable error, or the
// policy's attempts are exhausted. It returns the number of attempts made and the
// last error. Sleeps between attempts end early when ctx is cancelled, in which
// case the last attempt's error is returned wrapped with the context error.
func Retry(ctx context.Context, policy RetryPolicy, fn RetryFunc, onRetry RetryHook) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if !IsRetryable(err) || attempt == maxAttempts {
			return attempt, err
		}

		delay := policy.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		if delay <= 0 {
			if ctx.Err() != nil {
				return attempt, fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}

	return maxAttempts, err
}
