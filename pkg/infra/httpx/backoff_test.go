package httpx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editguard/editguard/pkg/infra/httpx"
)

func TestInterval_ExponentialGrowth(t *testing.T) {
	cfg := httpx.BackoffConfig{BaseInterval: 100 * time.Millisecond, MaxInterval: time.Minute}

	assert.Equal(t, 100*time.Millisecond, cfg.Interval(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Interval(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Interval(3))
	assert.Equal(t, 800*time.Millisecond, cfg.Interval(4))
}

func TestInterval_Capped(t *testing.T) {
	cfg := httpx.BackoffConfig{BaseInterval: time.Second, MaxInterval: 3 * time.Second}

	assert.Equal(t, 3*time.Second, cfg.Interval(10))
}

func TestInterval_JitterStaysInBounds(t *testing.T) {
	cfg := httpx.BackoffConfig{BaseInterval: time.Second, MaxInterval: time.Minute, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		interval := cfg.Interval(1)
		assert.GreaterOrEqual(t, interval, 500*time.Millisecond)
		assert.LessOrEqual(t, interval, 1500*time.Millisecond)
	}
}

func TestInterval_AttemptBelowOne(t *testing.T) {
	cfg := httpx.BackoffConfig{BaseInterval: 100 * time.Millisecond}

	assert.Equal(t, cfg.Interval(1), cfg.Interval(0))
}

func TestRetry_SucceedsWithoutRetrying(t *testing.T) {
	calls := 0
	err := httpx.Retry(context.Background(), 3, httpx.BackoffConfig{BaseInterval: time.Millisecond}, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := httpx.Retry(context.Background(), 3, httpx.BackoffConfig{BaseInterval: time.Millisecond}, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_RecoversMidway(t *testing.T) {
	calls := 0
	err := httpx.Retry(context.Background(), 5, httpx.BackoffConfig{BaseInterval: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := httpx.Retry(ctx, 5, httpx.BackoffConfig{BaseInterval: time.Hour}, func() error {
		calls++
		return errors.New("failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation must stop the loop, not wait out the backoff")
}
