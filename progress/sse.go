package progress

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// WriteSSE streams events for scanID to w until the stream terminates or the
// client disconnects, using the flusher + context-done select loop the
// gateway's response streaming handler already established.
func WriteSSE(w http.ResponseWriter, r *http.Request, hub *Hub, scanID string, log zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sinceStep := 0
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			sinceStep = n
		}
	}

	ch, unsubscribe, ok := hub.Subscribe(scanID, sinceStep)
	if !ok {
		http.Error(w, "scan stream no longer available", http.StatusGone)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("scan_id", scanID).Msg("sse client disconnected")
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(encodeEvent(ev)); err != nil {
				log.Debug().Err(err).Str("scan_id", scanID).Msg("sse write failed")
				return
			}
			flusher.Flush()
			if ev.Type == EventCompleted || ev.Type == EventFailed {
				return
			}
		}
	}
}

func encodeEvent(ev Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.Step)
	fmt.Fprintf(&b, "event: %s\n", ev.Type)
	fmt.Fprintf(&b, "data: {\"phase\":%q,\"message\":%q,\"step\":%d,\"totalSteps\":%d}\n\n",
		ev.Phase, ev.Message, ev.Step, ev.TotalSteps)
	return []byte(b.String())
}
