package concurrency

import "sync"

// Deduplicator collapses concurrent or rapidly repeated scan submissions
// for the same URL within the revalidation window into a single in-flight
// scan.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*InflightScan
}

// InflightScan tracks the outcome of a scan being processed on behalf of
// one or more callers that submitted the same URL concurrently.
type InflightScan struct {
	Done   chan struct{}
	ScanID string
	Err    error
}

// NewDeduplicator creates a new scan deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inflight: make(map[string]*InflightScan)}
}

// TryStart checks whether a scan for fingerprint is already in flight.
// If isNew is false, the caller should wait on entry.Done and then read
// entry.ScanID/entry.Err.
func (d *Deduplicator) TryStart(fingerprint string) (entry *InflightScan, isNew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.inflight[fingerprint]; ok {
		return e, false
	}
	e := &InflightScan{Done: make(chan struct{})}
	d.inflight[fingerprint] = e
	return e, true
}

// Complete finishes the in-flight entry for fingerprint, unblocking any
// waiters, and removes it from tracking.
func (d *Deduplicator) Complete(fingerprint, scanID string, err error) {
	d.mu.Lock()
	entry, exists := d.inflight[fingerprint]
	delete(d.inflight, fingerprint)
	d.mu.Unlock()

	if exists {
		entry.ScanID = scanID
		entry.Err = err
		close(entry.Done)
	}
}

// InFlightCount returns the number of in-flight deduplicated scans.
func (d *Deduplicator) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
