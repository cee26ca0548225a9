// Package enrich implements the post-analysis enrichment plugin surface:
// an Enricher takes a TokenSet and returns a possibly-annotated TokenSet,
// subject to a hard per-scan budget and a never-fails contract (any error
// is swallowed with a metric bump).
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/tokens"
)

// Enricher augments a TokenSet with optional, non-authoritative metadata
// (e.g. semantic naming suggestions). Implementations must be safe to
// call with a context that may already be near its deadline.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, set *tokens.Set) (*tokens.Set, error)
}

// Registry holds the enrichers to run for a scan, grounded on the
// provider connector registry's register/list shape.
type Registry struct {
	mu        sync.RWMutex
	enrichers map[string]Enricher
}

// NewRegistry creates an empty enricher registry.
func NewRegistry() *Registry {
	return &Registry{enrichers: make(map[string]Enricher)}
}

// Register adds an enricher, replacing any previously registered under
// the same name.
func (r *Registry) Register(e Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers[e.Name()] = e
}

// List returns the names of registered enrichers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.enrichers))
	for name := range r.enrichers {
		names = append(names, name)
	}
	return names
}

// Run applies every registered enricher to set in turn, within budget. A
// failing or over-budget enricher never aborts the scan: its error is
// logged, its outcome metric is bumped, and the TokenSet it was given is
// carried forward unchanged.
func (r *Registry) Run(ctx context.Context, set *tokens.Set, budget time.Duration, metrics *observability.Metrics, log zerolog.Logger) *tokens.Set {
	r.mu.RLock()
	enrichers := make([]Enricher, 0, len(r.enrichers))
	for _, e := range r.enrichers {
		enrichers = append(enrichers, e)
	}
	r.mu.RUnlock()

	for _, e := range enrichers {
		set = runOne(ctx, e, set, budget, metrics, log)
	}
	return set
}

func runOne(ctx context.Context, e Enricher, set *tokens.Set, budget time.Duration, metrics *observability.Metrics, log zerolog.Logger) *tokens.Set {
	enrichCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		set *tokens.Set
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: panicToError(p)}
			}
		}()
		out, err := e.Enrich(enrichCtx, set)
		done <- result{set: out, err: err}
	}()

	select {
	case <-enrichCtx.Done():
		log.Warn().Str("enricher", e.Name()).Msg("enricher exceeded budget, skipped")
		if metrics != nil {
			metrics.TrackEnricherOutcome(e.Name(), "timeout")
		}
		return set
	case res := <-done:
		if res.err != nil {
			log.Warn().Err(res.err).Str("enricher", e.Name()).Msg("enricher failed, skipped")
			if metrics != nil {
				metrics.TrackEnricherOutcome(e.Name(), "error")
			}
			return set
		}
		if metrics != nil {
			metrics.TrackEnricherOutcome(e.Name(), "success")
		}
		if res.set == nil {
			return set
		}
		return res.set
	}
}

func panicToError(p interface{}) error {
	return &panicError{value: p}
}

type panicError struct{ value interface{} }

func (e *panicError) Error() string {
	return "enricher panic recovered"
}
