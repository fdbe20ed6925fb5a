// Package retry implements RetryPolicy (error classification plus
// capped exponential backoff with jitter, grounded on the teacher's
// cenkalti/backoff usage in its agentic loop) and TokenBudget
// (cumulative prompt/completion token accounting against a configured
// budget).
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorType is the closed set RetryPolicy classifies a transient error
// into.
type ErrorType string

const (
	ErrTimeout      ErrorType = "timeout"
	ErrRateLimit    ErrorType = "rate_limit"
	ErrServer       ErrorType = "server_error"
	ErrAuth         ErrorType = "auth_error"
	ErrConnection   ErrorType = "connection_error"
	ErrNetwork      ErrorType = "network_error"
	ErrUnclassified ErrorType = "unclassified"
)

// Classify maps an error's message to one of the closed ErrorType
// values. auth_error is treated as non-retryable by IsRetryable.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrUnclassified
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return ErrAuth
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe"):
		return ErrConnection
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "internal server error") || strings.Contains(msg, "bad gateway") || strings.Contains(msg, "service unavailable"):
		return ErrServer
	case strings.Contains(msg, "network") || strings.Contains(msg, "dns") || strings.Contains(msg, "no such host"):
		return ErrNetwork
	default:
		return ErrUnclassified
	}
}

// IsRetryable reports whether errType should be retried at all.
// auth_error is never retryable: a bad credential won't fix itself on
// the next attempt.
func IsRetryable(errType ErrorType) bool {
	return errType != ErrAuth
}

// Status is emitted by Policy before each retry attempt so a UI (or the
// Agent's event emitter) can surface retry progress.
type Status struct {
	IsRetrying     bool
	Attempt        int
	MaxAttempts    int
	DelayMs        int64
	ErrorType      ErrorType
	RetryStartTime time.Time
}

// OnRetry is called after each failed attempt whose error is retryable:
// with IsRetrying=true before the next attempt, and with IsRetrying=false
// once attempts are exhausted. It is not called on success or on an
// auth_error.
type OnRetry func(Status)

// Policy is the default schedule: capped exponential backoff (base ~1s,
// jitter, cap ~30s) up to MaxAttempts attempts.
type Policy struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	MaxAttempts  int
}

// DefaultPolicy matches the teacher's loop.go constants, extended to the
// spec's 10-attempt cap.
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval: time.Second,
		MaxInterval:  30 * time.Second,
		MaxAttempts:  10,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs fn, retrying on retryable errors per the policy's schedule,
// reporting a Status via onRetry before every attempt after the first.
// It returns the last error once attempts (or the classification) are
// exhausted, promoted by the caller into ProviderFatal/AuthError per the
// error taxonomy.
func (p Policy) Do(ctx context.Context, onRetry OnRetry, fn func(ctx context.Context) error) error {
	b := p.backoff(ctx)
	attempt := 0
	start := time.Now()

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		errType := Classify(err)
		if !IsRetryable(errType) {
			return err
		}

		attempt++
		delay := b.NextBackOff()
		if delay == backoff.Stop || attempt >= p.MaxAttempts {
			if onRetry != nil {
				onRetry(Status{IsRetrying: false, Attempt: attempt, MaxAttempts: p.MaxAttempts, ErrorType: errType, RetryStartTime: start})
			}
			return err
		}

		if onRetry != nil {
			onRetry(Status{IsRetrying: true, Attempt: attempt, MaxAttempts: p.MaxAttempts, DelayMs: delay.Milliseconds(), ErrorType: errType, RetryStartTime: start})
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
