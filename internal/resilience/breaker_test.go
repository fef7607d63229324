package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, calls are rejected without invoking fn.
	called := false
	err := b.Call(func() error { called = true; return nil })
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	require.Error(t, b.Call(func() error { return errBoom }))
	require.NoError(t, b.Call(func() error { return nil }))
	require.Error(t, b.Call(func() error { return errBoom }))

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Nanosecond,
		SuccessThreshold: 2,
	})

	require.Error(t, b.Call(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())
	time.Sleep(time.Millisecond)

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	require.Error(t, b.Call(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(func() error { return nil }))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}

	err := RetryWithConfig(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}

	err := RetryWithConfig(context.Background(), cfg, func() error {
		attempts++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
		Retryable:     func(error) bool { return false },
	}

	err := RetryWithConfig(context.Background(), cfg, func() error {
		attempts++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error { return errBoom })
	assert.ErrorIs(t, err, context.Canceled)
}
