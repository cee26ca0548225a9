package store

import (
	"context"
	"testing"
)

func seedSite(t *testing.T, s *Store, domain, title, description string) Site {
	t.Helper()
	ctx := context.Background()
	site, err := s.GetOrCreateSite(ctx, domain)
	if err != nil {
		t.Fatalf("GetOrCreateSite(%s): %v", domain, err)
	}
	if err := s.MarkSiteScanned(ctx, site.ID, title, description, ""); err != nil {
		t.Fatalf("MarkSiteScanned(%s): %v", domain, err)
	}
	return site
}

func TestSearchSitesMatchesOutOfOrderWords(t *testing.T) {
	s := openTestStore(t)

	seedSite(t, s, "stripe.test", "Stripe", "Pricing tables and payment design system")
	seedSite(t, s, "plaid.test", "Plaid", "Banking data APIs")

	got, err := s.SearchSites(context.Background(), "pricing stripe", 10)
	if err != nil {
		t.Fatalf("SearchSites: %v", err)
	}
	if len(got) == 0 || got[0].Domain != "stripe.test" {
		t.Fatalf("expected stripe.test ranked first for out-of-order words, got %+v", got)
	}
}

func TestSearchSitesPrefixMatchesDomain(t *testing.T) {
	s := openTestStore(t)

	seedSite(t, s, "tokenforge.test", "TokenForge", "Design token extraction")
	seedSite(t, s, "unrelated.test", "Other", "Nothing relevant")

	got, err := s.SearchSites(context.Background(), "tokenf", 10)
	if err != nil {
		t.Fatalf("SearchSites: %v", err)
	}
	if len(got) != 1 || got[0].Domain != "tokenforge.test" {
		t.Fatalf("expected prefix match on domain, got %+v", got)
	}
}

func TestSearchSitesRanksDomainMatchAboveDescriptionMatch(t *testing.T) {
	s := openTestStore(t)

	seedSite(t, s, "linear.test", "Linear", "Issue tracking")
	seedSite(t, s, "blog.test", "A blog", "Thoughts about linear gradients in CSS")

	got, err := s.SearchSites(context.Background(), "linear", 10)
	if err != nil {
		t.Fatalf("SearchSites: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both sites to match, got %+v", got)
	}
	if got[0].Domain != "linear.test" {
		t.Fatalf("expected the domain match ranked first, got %+v", got)
	}
}

func TestSearchSitesEmptyQueryReturnsNothing(t *testing.T) {
	s := openTestStore(t)
	seedSite(t, s, "anything.test", "Anything", "")

	got, err := s.SearchSites(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("SearchSites: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results for a blank query, got %+v", got)
	}
}

func TestFTSMatchExprQuotesOperatorSyntax(t *testing.T) {
	got := ftsMatchExpr(`stripe NEAR "pricing: OR x`)
	want := `"stripe"* OR "NEAR"* OR "pricing"* OR "OR"* OR "x"*`
	if got != want {
		t.Fatalf("ftsMatchExpr = %q, want %q", got, want)
	}
}
