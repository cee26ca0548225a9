package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/tokens"
)

type fakeEnricher struct {
	name  string
	delay time.Duration
	err   error
	mark  string
}

func (f fakeEnricher) Name() string { return f.name }

func (f fakeEnricher) Enrich(ctx context.Context, set *tokens.Set) (*tokens.Set, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := *set
	out.Tokens = append(append([]tokens.Token{}, set.Tokens...), tokens.Token{Path: f.mark})
	return &out, nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(zerolog.Nop())
}

func TestRegistryRunAppliesRegisteredEnrichers(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeEnricher{name: "a", mark: "a"})
	r.Register(Identity{})

	set := &tokens.Set{}
	out := r.Run(context.Background(), set, time.Second, newTestMetrics(), zerolog.Nop())
	if len(out.Tokens) != 1 || out.Tokens[0].Path != "a" {
		t.Fatalf("expected enrichment applied, got %+v", out.Tokens)
	}
}

func TestRunOneNeverFailsOnError(t *testing.T) {
	set := &tokens.Set{Tokens: []tokens.Token{{Path: "seed"}}}
	out := runOne(context.Background(), fakeEnricher{name: "broken", err: errors.New("boom")}, set, time.Second, newTestMetrics(), zerolog.Nop())
	if len(out.Tokens) != 1 || out.Tokens[0].Path != "seed" {
		t.Fatalf("expected original set preserved on enricher error, got %+v", out.Tokens)
	}
}

func TestRunOneEnforcesBudgetTimeout(t *testing.T) {
	set := &tokens.Set{Tokens: []tokens.Token{{Path: "seed"}}}
	out := runOne(context.Background(), fakeEnricher{name: "slow", delay: 50 * time.Millisecond}, set, 5*time.Millisecond, newTestMetrics(), zerolog.Nop())
	if len(out.Tokens) != 1 || out.Tokens[0].Path != "seed" {
		t.Fatalf("expected original set preserved on budget timeout, got %+v", out.Tokens)
	}
}

func TestRunOneRecoversFromPanic(t *testing.T) {
	set := &tokens.Set{Tokens: []tokens.Token{{Path: "seed"}}}
	out := runOne(context.Background(), panickingEnricher{}, set, time.Second, newTestMetrics(), zerolog.Nop())
	if len(out.Tokens) != 1 || out.Tokens[0].Path != "seed" {
		t.Fatalf("expected original set preserved after recovered panic, got %+v", out.Tokens)
	}
}

type panickingEnricher struct{}

func (panickingEnricher) Name() string { return "panicker" }
func (panickingEnricher) Enrich(context.Context, *tokens.Set) (*tokens.Set, error) {
	panic("enricher blew up")
}

func TestRegistryListReturnsRegisteredNames(t *testing.T) {
	r := NewRegistry()
	r.Register(Identity{})
	names := r.List()
	if len(names) != 1 || names[0] != "identity" {
		t.Fatalf("expected [identity], got %v", names)
	}
}
