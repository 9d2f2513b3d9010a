package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateStore fixed window counters
type RateStore interface {
	// Hit increments the counter of key in the window containing now and returns the new count
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

func windowStart(now time.Time, window time.Duration) int64 {
	w := window.Milliseconds()
	if w <= 0 {
		w = 1
	}
	ms := now.UnixMilli()
	return ms - ms%w
}

// RedisRateStore INCR + PEXPIRE on the first hit of a window
type RedisRateStore struct {
	client redis.UniversalClient
}

// NewRedisRateStore create RedisRateStore
func NewRedisRateStore(client redis.UniversalClient) *RedisRateStore {
	return &RedisRateStore{client: client}
}

// Hit window start is part of the key so a lost PEXPIRE never extends a window
func (s *RedisRateStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	k := fmt.Sprintf("rl:%s:%d", key, windowStart(now, window))
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("rate incr: %w", err)
	}
	if n == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("rate pexpire: %w", err)
		}
	}
	return n, nil
}

type rateBucket struct {
	start int64
	count int64
}

// MemoryRateStore process local counters, lazily reset on window rollover
type MemoryRateStore struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	hits    int
}

// NewMemoryRateStore create MemoryRateStore
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{buckets: make(map[string]*rateBucket)}
}

// Hit never fails
func (s *MemoryRateStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	start := windowStart(now, window)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || b.start != start {
		b = &rateBucket{start: start}
		s.buckets[key] = b
	}
	b.count++

	s.hits++
	if s.hits%4096 == 0 {
		s.sweep(now.UnixMilli() - 10*time.Minute.Milliseconds())
	}
	return b.count, nil
}

func (s *MemoryRateStore) sweep(before int64) {
	for k, b := range s.buckets {
		if b.start < before {
			delete(s.buckets, k)
		}
	}
}
