// Package progress implements the scan pipeline's internal progress
// channel: a bounded per-scan event stream with backpressure (drop
// duplicate progress events, never drop terminal events) and a
// reconnect replay buffer, standardized at the HTTP boundary as SSE.
package progress

import (
	"strings"
	"sync"
	"time"
)

// EventType discriminates the three SSE event shapes a client can receive.
type EventType string

const (
	EventProgress EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one progress update for a scan. Step is monotonically
// increasing per scan.
type Event struct {
	Type       EventType
	Step       int
	TotalSteps int
	Phase      string
	Message    string
	Details    []string
	At         time.Time
}

const (
	channelBufferSize = 64
	replayWindow      = 30 * time.Second
)

// Stream is one scan's bounded event channel plus a short replay buffer
// for subscribers that reconnect shortly after a disconnect.
type Stream struct {
	mu         sync.Mutex
	subscribers map[chan Event]struct{}
	buffer      []Event
	lastStep    int
	terminal    bool
	terminalAt  time.Time
}

func newStream() *Stream {
	return &Stream{subscribers: make(map[chan Event]struct{})}
}

// Publish appends event to the stream's replay buffer and fans it out to
// all current subscribers. A progress event whose step falls behind
// lastStep, or that repeats the previous event at the same step, is
// dropped as a duplicate; terminal events (completed/failed) are never
// dropped.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Regressions are dropped (a stale phase re-publishing after a later
	// phase already advanced), and so is an exact repeat of the previous
	// event. Distinct same-step events are kept: the fetch and parse
	// phases publish several within-phase byte/declaration quantum events
	// at their own Step, each with different Details.
	if ev.Type == EventProgress {
		if ev.Step < s.lastStep {
			return
		}
		if n := len(s.buffer); n > 0 {
			prev := s.buffer[n-1]
			if prev.Type == ev.Type && prev.Step == ev.Step && prev.Phase == ev.Phase &&
				prev.Message == ev.Message && strings.Join(prev.Details, "\n") == strings.Join(ev.Details, "\n") {
				return
			}
		}
	}
	s.lastStep = ev.Step
	s.buffer = append(s.buffer, ev)
	if ev.Type == EventCompleted || ev.Type == EventFailed {
		s.terminal = true
		s.terminalAt = time.Now()
	}

	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop non-terminal events rather than block
			// the publisher; terminal events are retried with a blocking
			// send since they must never be lost.
			if ev.Type != EventProgress {
				ch <- ev
			}
		}
	}
}

// Subscribe returns a channel of events from sinceStep onward (replayed
// from the buffer) plus any future events, and an unsubscribe func.
func (s *Stream) Subscribe(sinceStep int) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, channelBufferSize)
	for _, ev := range s.buffer {
		if ev.Step > sinceStep {
			ch <- ev
		}
	}
	if !s.terminal {
		s.subscribers[ch] = struct{}{}
	}

	unsubscribe := func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

// replayable reports whether this stream can still serve a reconnect,
// per the 30s replay window after the terminal event.
func (s *Stream) replayable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.terminal || time.Since(s.terminalAt) < replayWindow
}

// Hub owns one Stream per in-flight or recently-terminal scan.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewHub creates an empty progress hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*Stream)}
}

// StreamFor returns (creating if needed) the Stream for scanID.
func (h *Hub) StreamFor(scanID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[scanID]
	if !ok {
		s = newStream()
		h.streams[scanID] = s
	}
	return s
}

// Publish is a convenience wrapper around StreamFor(scanID).Publish.
func (h *Hub) Publish(scanID string, ev Event) {
	h.StreamFor(scanID).Publish(ev)
}

// Subscribe is a convenience wrapper around StreamFor(scanID).Subscribe.
func (h *Hub) Subscribe(scanID string, sinceStep int) (<-chan Event, func(), bool) {
	s := h.StreamFor(scanID)
	if !s.replayable() {
		return nil, nil, false
	}
	ch, unsub := s.Subscribe(sinceStep)
	return ch, unsub, true
}

// Evict removes streams whose replay window has elapsed, bounding Hub
// memory growth across many completed scans.
func (h *Hub) Evict() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		if !s.replayable() {
			delete(h.streams, id)
		}
	}
}

// StartEvictor runs Evict on interval until stop is closed, grounded on
// the same ticker-goroutine shape as csstore's sweeper.
func (h *Hub) StartEvictor(stop <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.Evict()
			}
		}
	}()
}
