package consensus

import (
	"math"
	"sort"
	"strings"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

// ClusterFamilies dedupes font-family fallback lists by normalized
// lowercase key, retaining the original ordering.
func ClusterFamilies(obs []cssparse.FamilyObservation) []tokens.Token {
	type group struct {
		families []string
		usageSum float64
	}
	byKey := map[string]*group{}
	totalUsage := 0.0
	for _, o := range obs {
		key := normalizedFamilyKey(o.Families)
		if g, ok := byKey[key]; ok {
			g.usageSum += o.Usage
		} else {
			byKey[key] = &group{families: o.Families, usageSum: o.Usage}
		}
		totalUsage += o.Usage
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]tokens.Token, 0, len(byKey))
	for _, k := range keys {
		g := byKey[k]
		out = append(out, tokens.Token{
			Category:   tokens.CategoryTypography,
			Kind:       tokens.KindTypography,
			Typography: &tokens.TypographyValue{Families: g.families},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(g.usageSum)),
				Confidence: usageConfidence(g.usageSum, totalUsage),
			},
		})
	}
	return out
}

func normalizedFamilyKey(families []string) string {
	lowered := make([]string, len(families))
	for i, f := range families {
		lowered[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return strings.Join(lowered, "|")
}
