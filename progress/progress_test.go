package progress

import (
	"testing"
	"time"
)

func TestPublishSubscribeReceivesBufferedAndLive(t *testing.T) {
	s := newStream()
	s.Publish(Event{Type: EventProgress, Step: 1, Phase: "fetching"})

	ch, unsub := s.Subscribe(0)
	defer unsub()

	select {
	case ev := <-ch:
		if ev.Step != 1 {
			t.Fatalf("expected replayed step 1, got %d", ev.Step)
		}
	default:
		t.Fatal("expected replayed event in buffer")
	}

	s.Publish(Event{Type: EventProgress, Step: 2, Phase: "parsing"})
	select {
	case ev := <-ch:
		if ev.Step != 2 {
			t.Fatalf("expected live step 2, got %d", ev.Step)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeSinceStepSkipsOlderReplay(t *testing.T) {
	s := newStream()
	s.Publish(Event{Type: EventProgress, Step: 1})
	s.Publish(Event{Type: EventProgress, Step: 2})

	ch, unsub := s.Subscribe(1)
	defer unsub()

	select {
	case ev := <-ch:
		if ev.Step != 2 {
			t.Fatalf("expected only step 2 replayed, got %d", ev.Step)
		}
	default:
		t.Fatal("expected one replayed event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected no more events, got %+v", ev)
	default:
	}
}

func TestPublishDropsDuplicateProgressStep(t *testing.T) {
	s := newStream()
	s.Publish(Event{Type: EventProgress, Step: 5})
	s.Publish(Event{Type: EventProgress, Step: 5})
	s.Publish(Event{Type: EventProgress, Step: 3})

	if len(s.buffer) != 1 {
		t.Fatalf("expected duplicate/stale steps to be dropped, got buffer=%+v", s.buffer)
	}
}

func TestTerminalEventClosesReplayButStaysWithinWindow(t *testing.T) {
	s := newStream()
	s.Publish(Event{Type: EventProgress, Step: 1})
	s.Publish(Event{Type: EventCompleted, Step: 2})

	if !s.replayable() {
		t.Fatal("expected stream to remain replayable immediately after terminal event")
	}

	ch, unsub := s.Subscribe(0)
	defer unsub()
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != 2 {
				t.Fatalf("expected 2 replayed events, got %d", count)
			}
			return
		}
	}
}

func TestSubscribeAfterTerminalDoesNotRegisterLiveSubscriber(t *testing.T) {
	s := newStream()
	s.Publish(Event{Type: EventFailed, Step: 1})

	_, unsub := s.Subscribe(0)
	defer unsub()

	s.mu.Lock()
	n := len(s.subscribers)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no live subscriber registered once stream is terminal, got %d", n)
	}
}

func TestHubPublishAndSubscribeRoundTrip(t *testing.T) {
	h := NewHub()
	h.Publish("scan-1", Event{Type: EventProgress, Step: 1, Phase: "fetching"})

	ch, unsub, ok := h.Subscribe("scan-1", 0)
	if !ok {
		t.Fatal("expected subscribe to succeed for live scan")
	}
	defer unsub()

	select {
	case ev := <-ch:
		if ev.Phase != "fetching" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestHubEvictRemovesExpiredTerminalStreams(t *testing.T) {
	h := NewHub()
	s := h.StreamFor("scan-done")
	s.Publish(Event{Type: EventCompleted, Step: 1})
	s.terminalAt = time.Now().Add(-replayWindow - time.Second)

	h.Evict()

	h.mu.Lock()
	_, ok := h.streams["scan-done"]
	h.mu.Unlock()
	if ok {
		t.Fatal("expected expired terminal stream to be evicted")
	}
}
