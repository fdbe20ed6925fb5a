package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]ErrorType{
		"429 too many requests":     ErrRateLimit,
		"request timeout":           ErrTimeout,
		"connection refused":        ErrConnection,
		"500 internal server error": ErrServer,
		"401 unauthorized":          ErrAuth,
		"no such host":              ErrNetwork,
		"something totally unknown": ErrUnclassified,
	}
	for msg, want := range cases {
		got := Classify(errors.New(msg))
		assert.Equal(t, want, got, msg)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(ErrAuth))
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(ErrTimeout))
}

func TestPolicyDoSucceedsWithoutRetry(t *testing.T) {
	p := DefaultPolicy()
	calls := 0
	err := p.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyDoRetriesTransientThenSucceeds(t *testing.T) {
	p := Policy{BaseInterval: 0, MaxInterval: 0, MaxAttempts: 5}
	var statuses []Status
	calls := 0
	err := p.Do(context.Background(), func(s Status) { statuses = append(statuses, s) }, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, statuses, 2)
	assert.True(t, statuses[0].IsRetrying)
}

func TestPolicyDoStopsOnAuthError(t *testing.T) {
	p := DefaultPolicy()
	calls := 0
	err := p.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyDoExhaustsAttempts(t *testing.T) {
	p := Policy{BaseInterval: 0, MaxInterval: 0, MaxAttempts: 3}
	calls := 0
	var last Status
	err := p.Do(context.Background(), func(s Status) { last = s }, func(ctx context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.False(t, last.IsRetrying)
}

func TestBudgetAllowAndAccept(t *testing.T) {
	b := NewBudget(1000, 0.7, 100)
	assert.True(t, b.Allow(500))
	b.Accept(400, 100)
	assert.Equal(t, 500, b.Used())
	assert.True(t, b.Allow(400))
	assert.False(t, b.Allow(401))
}

func TestBudgetWarnLevel(t *testing.T) {
	b := NewBudget(1000, 0.5, 0)
	assert.False(t, b.WarnLevel())
	b.Accept(600, 0)
	assert.True(t, b.WarnLevel())
}

func TestBudgetDisabled(t *testing.T) {
	b := NewBudget(0, 0, 0)
	assert.True(t, b.Allow(1_000_000))
	assert.False(t, b.WarnLevel())
}

func TestBudgetReset(t *testing.T) {
	b := NewBudget(100, 0.5, 0)
	b.Accept(50, 0)
	b.Reset()
	assert.Equal(t, 0, b.Used())
}
