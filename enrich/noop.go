package enrich

import (
	"context"

	"github.com/tokenforge/scanner/tokens"
)

// Identity is a reference Enricher that returns its input unchanged. It
// exists so the pipeline always has at least one registered enricher to
// exercise the budget/never-fails plumbing even when no external
// enrichment backend (e.g. an LLM-based namer) is configured.
type Identity struct{}

// Name implements Enricher.
func (Identity) Name() string { return "identity" }

// Enrich implements Enricher.
func (Identity) Enrich(_ context.Context, set *tokens.Set) (*tokens.Set, error) {
	return set, nil
}
