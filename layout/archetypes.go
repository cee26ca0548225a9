package layout

import (
	"strings"

	"github.com/tokenforge/scanner/cssparse"
)

// archetypeSignature is a disjunction of selector substrings; an archetype
// is reported when at least 60% of its signature elements are present
// among the stylesheet's selectors.
type archetypeSignature struct {
	name     string
	elements []string
}

var archetypeSignatures = []archetypeSignature{
	{name: "marketing-hero", elements: []string{"hero", "cta", "headline", "subheadline", "badge"}},
	{name: "feature-grid", elements: []string{"feature", "features", "grid", "card", "icon"}},
	{name: "pricing-table", elements: []string{"pricing", "plan", "tier", "price", "billing"}},
	{name: "navigation", elements: []string{"nav", "navbar", "menu", "header", "dropdown"}},
	{name: "doc-page", elements: []string{"docs", "sidebar", "toc", "article", "codeblock"}},
	{name: "dashboard", elements: []string{"dashboard", "widget", "panel", "chart", "sidebar"}},
	{name: "auth-form", elements: []string{"login", "signup", "auth", "form", "input"}},
}

const archetypeThreshold = 0.60

// detectArchetypes walks all selectors in the rule tree and scores each
// fixed archetype by the fraction of its signature elements matched as a
// substring somewhere in the selector corpus.
func detectArchetypes(rules []cssparse.Rule) []Archetype {
	corpus := strings.ToLower(strings.Join(collectSelectors(rules), " "))

	var out []Archetype
	for _, sig := range archetypeSignatures {
		matched := 0
		for _, el := range sig.elements {
			if strings.Contains(corpus, el) {
				matched++
			}
		}
		coverage := float64(matched) / float64(len(sig.elements))
		if coverage >= archetypeThreshold {
			out = append(out, Archetype{Name: sig.name, Coverage: coverage})
		}
	}
	return out
}

func collectSelectors(rules []cssparse.Rule) []string {
	var out []string
	for _, r := range rules {
		out = append(out, r.Selectors...)
		if len(r.Children) > 0 {
			out = append(out, collectSelectors(r.Children)...)
		}
	}
	return out
}
