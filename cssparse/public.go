package cssparse

// Declaration is the exported view of one property:value pair, for
// consumers (like the layout profiler) that need raw rule structure
// rather than the Observations bag.
type Declaration struct {
	Property string
	Value    string
}

// Rule is the exported view of one parsed selector block or @media group.
type Rule struct {
	Selectors []string
	Decls     []Declaration
	AtMedia   string
	Children  []Rule
}

// ParseRules tokenizes a stylesheet body into its rule tree, for consumers
// that need structural access beyond the Observations bag the extractor
// produces.
func ParseRules(cssBody string) []Rule {
	return exportRules(tokenize(cssBody))
}

func exportRules(raw []rawRule) []Rule {
	out := make([]Rule, 0, len(raw))
	for _, r := range raw {
		decls := make([]Declaration, 0, len(r.decls))
		for _, d := range r.decls {
			decls = append(decls, Declaration{Property: d.property, Value: d.value})
		}
		out = append(out, Rule{
			Selectors: r.selectors,
			Decls:     decls,
			AtMedia:   r.atMedia,
			Children:  exportRules(r.children),
		})
	}
	return out
}
