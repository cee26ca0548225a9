package redisclient

import (
	"context"
	"time"
)

// Semaphore is a distributed, Redis-backed counting semaphore with the
// same Acquire/Release shape as concurrency.Semaphore, so the
// orchestrator can hold a cross-replica slot the same way it holds a
// local one. Redis has no blocking-counter primitive, so Acquire
// polls instead of parking on a channel; keys carry a TTL so a replica
// that crashes mid-scan does not wedge the slot open forever.
type Semaphore struct {
	c         *Client
	limit     int64
	ttl       time.Duration
	pollEvery time.Duration
}

// NewSemaphore builds a distributed semaphore admitting at most limit
// concurrent holders per key, backed by client. ttl bounds how long a
// held slot survives a Release that never arrives (process crash,
// panic) before Redis reclaims it on its own.
func NewSemaphore(client *Client, limit int, ttl time.Duration) *Semaphore {
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Semaphore{c: client, limit: int64(limit), ttl: ttl, pollEvery: 200 * time.Millisecond}
}

func (s *Semaphore) redisKey(key string) string {
	return "scanner:sem:" + key
}

// Acquire polls for a free slot under key until timeout elapses.
// Returns false on timeout; a true Acquire must be paired with Release.
func (s *Semaphore) Acquire(key string, timeout time.Duration) bool {
	redisKey := s.redisKey(key)
	deadline := time.Now().Add(timeout)

	for {
		if s.tryAcquire(redisKey) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.pollEvery)
	}
}

func (s *Semaphore) tryAcquire(redisKey string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := s.c.c.Incr(ctx, redisKey).Result()
	if err != nil {
		// Redis unreachable: fail the poll, not the scan — the caller
		// times out and falls through to the no-slot-available path.
		return false
	}
	if n == 1 {
		s.c.c.Expire(ctx, redisKey, s.ttl)
	}
	if n <= s.limit {
		return true
	}
	s.c.c.Decr(ctx, redisKey)
	return false
}

// Release frees a slot held for key.
func (s *Semaphore) Release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	redisKey := s.redisKey(key)
	if n, err := s.c.c.Decr(ctx, redisKey).Result(); err == nil && n < 0 {
		s.c.c.Set(ctx, redisKey, 0, s.ttl)
	}
}
