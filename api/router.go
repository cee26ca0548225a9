package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/config"
	scanmw "github.com/tokenforge/scanner/middleware"
	"github.com/tokenforge/scanner/observability"
)

// NewRouter returns a configured chi Router with the full middleware
// chain and every Query API route mounted.
func NewRouter(cfg *config.Config, log zerolog.Logger, h *Handlers, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(scanmw.CORS([]string{"*"}))
	r.Use(scanmw.SecurityHeaders)
	r.Use(scanmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))

	timeoutMW := scanmw.NewDeadline(log, cfg.DefaultRequestTimeout)
	r.Use(maxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "scanner"})
	})

	if metrics != nil {
		r.Get("/metrics", metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMW.Handler)

		r.Post("/scan", h.PostScan)
		r.Get("/search", h.GetSearch)
		r.Get("/site/{domain}", h.GetSite)
		r.Get("/stats", h.GetStats)
		r.Post("/vote", h.PostVote)
	})
	// The SSE stream manages its own client-disconnect lifecycle and
	// must not be cut short by the default request timeout.
	r.Get("/scan/{id}/events", h.GetScanEvents)

	return r
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", r.Header.Get("X-Request-ID")).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
