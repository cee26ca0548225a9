// Package middleware holds HTTP-layer middleware shared by the Query API
// router: CORS, security headers, request ids, and request-deadline
// enforcement.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxClientTimeout caps the X-Scan-Timeout override so a client cannot
// hold a handler goroutine open indefinitely.
const maxClientTimeout = 5 * time.Minute

// Deadline enforces a wall-clock budget on each request. Clients may
// shorten or extend the budget with an X-Scan-Timeout header (seconds,
// capped at maxClientTimeout); otherwise the configured default applies.
// A request that exceeds its budget receives a 504 with the scanner's
// Timeout error shape, and the handler keeps draining on a canceled
// context with its writes discarded.
type Deadline struct {
	log zerolog.Logger
	def time.Duration
}

// NewDeadline returns a Deadline middleware with the given default budget.
func NewDeadline(log zerolog.Logger, def time.Duration) *Deadline {
	return &Deadline{log: log, def: def}
}

func (d *Deadline) budgetFor(r *http.Request) time.Duration {
	if raw := r.Header.Get("X-Scan-Timeout"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			if b := time.Duration(secs) * time.Second; b < maxClientTimeout {
				return b
			}
			return maxClientTimeout
		}
	}
	return d.def
}

// Handler wraps next with deadline enforcement.
func (d *Deadline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		budget := d.budgetFor(r)
		if budget <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()

		dw := &deadlineWriter{inner: w}
		done := make(chan struct{})
		go func() {
			defer close(done)
			next.ServeHTTP(dw, r.WithContext(ctx))
		}()

		select {
		case <-done:
			return
		case <-ctx.Done():
		}

		if dw.expire() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			fmt.Fprintf(w, `{"error":{"kind":"Timeout","message":"request exceeded its %s budget"}}`+"\n", budget)
		}
		d.log.Warn().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("budget", budget).
			Msg("request deadline exceeded")

		// The canceled context unwinds well-behaved handlers promptly;
		// wait so the writer cannot be used after this frame returns.
		<-done
	})
}

// deadlineWriter serializes the racing handler goroutine and the timeout
// path. After expire() wins, handler writes are swallowed.
type deadlineWriter struct {
	inner   http.ResponseWriter
	mu      sync.Mutex
	started bool // a header or body byte reached the client
	expired bool
}

// expire marks the response as timed out. It reports false when the
// handler already started writing, in which case the 504 must not be
// appended to a partially sent response.
func (dw *deadlineWriter) expire() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.expired = true
	return !dw.started
}

func (dw *deadlineWriter) Header() http.Header { return dw.inner.Header() }

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired || dw.started {
		return
	}
	dw.started = true
	dw.inner.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return 0, context.DeadlineExceeded
	}
	if !dw.started {
		dw.started = true
		dw.inner.WriteHeader(http.StatusOK)
	}
	return dw.inner.Write(b)
}

func (dw *deadlineWriter) Flush() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired {
		return
	}
	if f, ok := dw.inner.(http.Flusher); ok {
		f.Flush()
	}
}
