package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterStore owns the fixed-window counters. Incr bumps the counter
// for identifier inside the current window, creating or resetting the
// window as needed, and reports the post-increment count plus when the
// window expires.
type CounterStore interface {
	Incr(ctx context.Context, identifier string, window time.Duration) (count int64, resetAt time.Time, err error)
	Reset(ctx context.Context, identifier string) error
}

type rateWindow struct {
	count   int64
	resetAt time.Time
}

type memoryStore struct {
	mu           sync.Mutex
	windows      map[string]*rateWindow
	timeProvider func() time.Time
}

// NewMemoryStore returns the default in-process store. Each update holds
// a single lock so per-identifier counts are linearized.
func NewMemoryStore(timeProvider func() time.Time) CounterStore {
	if timeProvider == nil {
		timeProvider = time.Now
	}
	return &memoryStore{
		windows:      make(map[string]*rateWindow),
		timeProvider: timeProvider,
	}
}

func (s *memoryStore) Incr(_ context.Context, identifier string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeProvider()
	w, ok := s.windows[identifier]
	if !ok || now.After(w.resetAt) {
		w = &rateWindow{count: 1, resetAt: now.Add(window)}
		s.windows[identifier] = w
		return 1, w.resetAt, nil
	}
	w.count++
	return w.count, w.resetAt, nil
}

func (s *memoryStore) Reset(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, identifier)
	return nil
}

type redisStore struct {
	client       *redis.Client
	timeProvider func() time.Time
}

// NewRedisStore shares windows across engine instances behind the same
// Redis, for hosts that already run one.
func NewRedisStore(client *redis.Client, timeProvider func() time.Time) CounterStore {
	if timeProvider == nil {
		timeProvider = time.Now
	}
	return &redisStore{client: client, timeProvider: timeProvider}
}

func (s *redisStore) key(identifier string) string {
	return fmt.Sprintf("editguard:ratelimit:%s", identifier)
}

func (s *redisStore) Incr(ctx context.Context, identifier string, window time.Duration) (int64, time.Time, error) {
	key := s.key(identifier)
	now := s.timeProvider()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate window: %w", err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return count, now.Add(window), fmt.Errorf("failed to set window expiry: %w", err)
		}
		return count, now.Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return count, now.Add(window), nil
	}
	return count, now.Add(ttl), nil
}

func (s *redisStore) Reset(ctx context.Context, identifier string) error {
	return s.client.Del(ctx, s.key(identifier)).Err()
}
