package concurrency

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("example.test")
			defer unlock()
			active++
			if active > maxActive {
				maxActive = active
			}
			time.Sleep(time.Millisecond)
			active--
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder for the same key, saw %d", maxActive)
	}
}

func TestKeyedMutexAllowsDifferentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a.test")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b.test")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
}

func TestSemaphoreLimitsConcurrency(t *testing.T) {
	s := NewSemaphore(2)
	if !s.Acquire("scans", time.Second) {
		t.Fatal("expected first acquire to succeed")
	}
	if !s.Acquire("scans", time.Second) {
		t.Fatal("expected second acquire to succeed")
	}
	if s.Acquire("scans", 10*time.Millisecond) {
		t.Fatal("expected third acquire to time out at limit 2")
	}
	s.Release("scans")
	if !s.Acquire("scans", time.Second) {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestDeduplicatorCollapsesInFlight(t *testing.T) {
	d := NewDeduplicator()
	entry, isNew := d.TryStart("https://example.test")
	if !isNew {
		t.Fatal("first TryStart should be new")
	}

	_, isNew2 := d.TryStart("https://example.test")
	if isNew2 {
		t.Fatal("second TryStart for same fingerprint should not be new")
	}

	d.Complete("https://example.test", "scan-123", nil)
	<-entry.Done
	if entry.ScanID != "scan-123" {
		t.Fatalf("expected scan id to propagate to waiter, got %q", entry.ScanID)
	}
	if d.InFlightCount() != 0 {
		t.Fatalf("expected in-flight count 0 after Complete, got %d", d.InFlightCount())
	}
}

func TestAtomicCounter(t *testing.T) {
	var c AtomicCounter
	c.Inc()
	c.Add(4)
	if got := c.Get(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if old := c.Reset(); old != 5 {
		t.Fatalf("expected Reset to return prior value 5, got %d", old)
	}
	if c.Get() != 0 {
		t.Fatal("expected counter to be 0 after reset")
	}
}
