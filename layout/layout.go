// Package layout implements the layout profiler: it derives non-token
// structural data (containers, grid/flex mix, spacing scale, archetypes)
// from the same CSS the parser observed.
package layout

import (
	"strings"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

// Container describes the dominant max-width strategy.
type Container struct {
	MaxWidthPx        float64
	ResponsiveStrategy string // "breakpoint" | "fluid"
	BreakpointCount    int
}

// GridFlexRatio reports the share of layout selectors using grid vs flex,
// as integer percentages summing to 100.
type GridFlexRatio struct {
	GridPercent int
	FlexPercent int
}

// SpacingScale mirrors the consensus-derived spacing tokens for display
// alongside the rest of the layout profile.
type SpacingScale struct {
	BaseUnit int
	Tokens   []tokens.Token
}

// Archetype is one detected page-composition pattern.
type Archetype struct {
	Name     string
	Coverage float64 // fraction of signature elements present, in [0,1]
}

// Profile is the full layout-profiler output, persisted as one
// LayoutProfile per Scan.
type Profile struct {
	Container  Container
	GridFlex   GridFlexRatio
	Spacing    SpacingScale
	Archetypes []Archetype
}

var commonBreakpoints = []float64{480, 768, 1024, 1280, 1440}

// minContainerWidthPx filters max-width candidates before taking the
// mode. Static CSS alone cannot tell a page container apart from a
// component-level cap (a button, a badge), so anything narrower than the
// smallest common breakpoint is treated as a component constraint and
// excluded from the container-width vote.
const minContainerWidthPx = 480

// Derive computes the full layout profile from the parsed rule tree and
// the spacing tokens the consensus analyzer already produced.
func Derive(css string, spacingBase int, spacingTokens []tokens.Token) Profile {
	rules := cssparse.ParseRules(css)

	maxWidths := map[float64]float64{} // amount -> usage (selector count)
	breakpoints := map[float64]bool{}
	gridCount, flexCount := 0, 0

	var walk func(rs []cssparse.Rule, inMedia bool)
	walk = func(rs []cssparse.Rule, inMedia bool) {
		for _, r := range rs {
			if r.AtMedia != "" {
				for _, bp := range commonBreakpoints {
					if strings.Contains(r.AtMedia, trimPx(bp)) {
						breakpoints[bp] = true
					}
				}
				walk(r.Children, true)
				continue
			}
			for _, d := range r.Decls {
				switch d.Property {
				case "max-width":
					if amount, unit, ok := cssparse.ParseDimensionValue(d.Value); ok && unit == "px" && amount >= minContainerWidthPx {
						maxWidths[amount] += float64(len(r.Selectors))
					}
				case "display":
					v := strings.TrimSpace(d.Value)
					if v == "grid" || v == "inline-grid" {
						gridCount += len(r.Selectors)
					} else if v == "flex" || v == "inline-flex" {
						flexCount += len(r.Selectors)
					}
				}
			}
		}
	}
	walk(rules, false)

	container := Container{BreakpointCount: len(breakpoints)}
	container.MaxWidthPx = modeOf(maxWidths)
	if len(breakpoints) >= 3 {
		container.ResponsiveStrategy = "breakpoint"
	} else {
		container.ResponsiveStrategy = "fluid"
	}

	total := gridCount + flexCount
	gridFlex := GridFlexRatio{}
	if total > 0 {
		gridFlex.GridPercent = int(round(float64(gridCount) / float64(total) * 100))
		gridFlex.FlexPercent = 100 - gridFlex.GridPercent
	}

	archetypes := detectArchetypes(rules)

	return Profile{
		Container:  container,
		GridFlex:   gridFlex,
		Spacing:    SpacingScale{BaseUnit: spacingBase, Tokens: spacingTokens},
		Archetypes: archetypes,
	}
}

func modeOf(counts map[float64]float64) float64 {
	var best float64
	var bestCount float64 = -1
	for amount, count := range counts {
		if count > bestCount {
			best, bestCount = amount, count
		}
	}
	return best
}

func trimPx(f float64) string {
	if f == float64(int(f)) {
		return itoa(int(f))
	}
	return ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}
