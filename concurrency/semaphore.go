package concurrency

import (
	"sync"
	"time"
)

// Semaphore provides bounded concurrency control, keyed by scope (e.g. a
// single global key for total concurrent scans, or a per-scan key for
// bounding fetch fan-out within that scan).
type Semaphore struct {
	mu    sync.Mutex
	semas map[string]chan struct{}
	limit int
}

// NewSemaphore creates a per-key semaphore admitting at most limit
// concurrent holders per key.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		limit = 1
	}
	return &Semaphore{semas: make(map[string]chan struct{}), limit: limit}
}

// Acquire blocks up to timeout trying to obtain a slot for key. Returns
// false on timeout; the caller must call Release after a true Acquire.
func (s *Semaphore) Acquire(key string, timeout time.Duration) bool {
	s.mu.Lock()
	ch, ok := s.semas[key]
	if !ok {
		ch = make(chan struct{}, s.limit)
		s.semas[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Release frees a slot for key.
func (s *Semaphore) Release(key string) {
	s.mu.Lock()
	ch, ok := s.semas[key]
	s.mu.Unlock()
	if ok {
		select {
		case <-ch:
		default:
		}
	}
}

// ActiveCount reports the number of slots currently held for key.
func (s *Semaphore) ActiveCount(key string) int {
	s.mu.Lock()
	ch, ok := s.semas[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return len(ch)
}
