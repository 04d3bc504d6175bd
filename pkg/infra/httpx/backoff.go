package httpx

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the retry delays used between attempts.
type BackoffConfig struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// Jitter between 0 (none) and 1 spreads retries to avoid a
	// thundering herd against a recovering endpoint.
	Jitter float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseInterval: 500 * time.Millisecond,
		MaxInterval:  10 * time.Second,
		Jitter:       0.1,
	}
}

// Interval returns the exponential delay before the given attempt
// (1-based): base * 2^(attempt-1), capped and jittered.
func (c BackoffConfig) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := time.Duration(float64(c.BaseInterval) * math.Pow(2, float64(attempt-1)))
	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	if c.Jitter > 0 {
		jitter := c.Jitter
		if jitter > 1 {
			jitter = 1
		}
		spread := float64(interval) * jitter
		interval = time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
	}
	return interval
}

// Retry runs fn up to attempts times, sleeping the backoff interval
// between failures. Context cancellation stops the loop immediately.
func Retry(ctx context.Context, attempts int, cfg BackoffConfig, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(cfg.Interval(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
