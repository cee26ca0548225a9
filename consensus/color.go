package consensus

import (
	"math"
	"sort"
	"strconv"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

const colorDeltaEThreshold = 3.0
const cohesionDeltaE = 1.5

type colorCluster struct {
	centroid   labColor
	hex        string
	alpha      float64
	usageSum   float64
	members    []cssparse.ColorObservation
}

// ClusterColors groups raw color observations via CIEDE2000 agglomeration
// (threshold 3.0) and returns one canonical tokens.Token per cluster.
// Observations with alpha 0 contribute no usable hue/lightness signal and
// are excluded: a once-seen alpha-0 color never surfaces as a token.
func ClusterColors(obs []cssparse.ColorObservation) []tokens.Token {
	var clusters []colorCluster
	for _, o := range obs {
		if o.Alpha == 0 {
			continue
		}
		lab := hexToLab(o.Hex)
		placed := false
		for i := range clusters {
			if ciede2000(lab, clusters[i].centroid) < colorDeltaEThreshold {
				clusters[i].members = append(clusters[i].members, o)
				clusters[i].usageSum += o.Usage
				clusters[i].centroid = weightedCentroid(clusters[i])
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, colorCluster{
				centroid: lab,
				hex:      o.Hex,
				alpha:    o.Alpha,
				usageSum: o.Usage,
				members:  []cssparse.ColorObservation{o},
			})
		}
	}

	out := make([]tokens.Token, 0, len(clusters))
	for _, c := range clusters {
		canonicalHex, canonicalAlpha := canonicalColorNotation(c)
		confidence := colorConfidence(c)
		out = append(out, tokens.Token{
			Category: tokens.CategoryColor,
			Kind:     tokens.KindColor,
			Color:    &tokens.ColorValue{Hex: canonicalHex, Alpha: canonicalAlpha},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(c.usageSum)),
				Confidence: confidence,
			},
		})
	}
	return out
}

func weightedCentroid(c colorCluster) labColor {
	var l, a, b, wsum float64
	for _, m := range c.members {
		lab := hexToLab(m.Hex)
		w := m.Usage
		if w == 0 {
			w = 1
		}
		l += lab.L * w
		a += lab.A * w
		b += lab.B * w
		wsum += w
	}
	if wsum == 0 {
		return c.centroid
	}
	return labColor{L: l / wsum, A: a / wsum, B: b / wsum}
}

// canonicalColorNotation picks the most common original hex among members,
// tie-broken by shorter string then alpha==1.
func canonicalColorNotation(c colorCluster) (string, float64) {
	counts := map[string]float64{}
	alphaOf := map[string]float64{}
	for _, m := range c.members {
		counts[m.Hex] += m.Usage
		alphaOf[m.Hex] = m.Alpha
	}
	var best string
	var bestCount float64
	for hex, count := range counts {
		switch {
		case count > bestCount:
			best, bestCount = hex, count
		case count == bestCount && best != "":
			if len(hex) < len(best) {
				best = hex
			} else if len(hex) == len(best) && alphaOf[hex] == 1 && alphaOf[best] != 1 {
				best = hex
			}
		}
	}
	if best == "" {
		best = c.hex
	}
	return best, alphaOf[best]
}

func colorConfidence(c colorCluster) float64 {
	base := math.Min(1, math.Log2(1+c.usageSum)/8)
	within := 0
	for _, m := range c.members {
		if ciede2000(hexToLab(m.Hex), c.centroid) <= cohesionDeltaE {
			within++
		}
	}
	cohesion := 1.0
	if len(c.members) > 0 {
		cohesion = float64(within) / float64(len(c.members))
	}
	return base * cohesion
}

// LabelSemantics assigns heuristic names (primary, secondary, accent,
// neutral-{50..900}, success, warning, danger, info) to the top-N color
// tokens by weighted usage.
func LabelSemantics(colorTokens []tokens.Token) {
	sorted := make([]*tokens.Token, len(colorTokens))
	for i := range colorTokens {
		sorted[i] = &colorTokens[i]
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Extensions.Usage > sorted[j].Extensions.Usage
	})

	usedNeutralSteps := map[int]bool{}
	brandAssigned := 0
	for _, t := range sorted {
		lab := hexToLab(t.Color.Hex)
		chroma := math.Hypot(lab.A, lab.B)
		hue := hueCategory(t.Color.Hex)

		switch {
		case hue == "green" && chroma > 20:
			t.Extensions.Semantic = "success"
		case hue == "yellow" && chroma > 20:
			t.Extensions.Semantic = "warning"
		case hue == "red" && chroma > 20:
			t.Extensions.Semantic = "danger"
		case hue == "blue" && chroma > 20 && brandAssigned >= 2:
			t.Extensions.Semantic = "info"
		case chroma < 12:
			step := neutralStep(lab.L, usedNeutralSteps)
			t.Extensions.Semantic = "neutral-" + strconv.Itoa(step)
		case brandAssigned == 0:
			t.Extensions.Semantic = "primary"
			brandAssigned++
		case brandAssigned == 1:
			t.Extensions.Semantic = "secondary"
			brandAssigned++
		case brandAssigned == 2:
			t.Extensions.Semantic = "accent"
			brandAssigned++
		}
	}
}

func neutralStep(lightness float64, used map[int]bool) int {
	steps := []int{50, 100, 200, 300, 400, 500, 600, 700, 800, 900}
	// L in [0,100]; higher lightness -> lower step number.
	idx := int((100 - lightness) / 100 * float64(len(steps)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	for used[steps[idx]] && idx < len(steps)-1 {
		idx++
	}
	used[steps[idx]] = true
	return steps[idx]
}

func hueCategory(hex string) string {
	r, g, b := hexToRGBFloat(hex)
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	if max-min < 0.05 {
		return "neutral"
	}
	var h float64
	switch max {
	case r:
		h = math.Mod((g-b)/(max-min), 6)
	case g:
		h = (b-r)/(max-min) + 2
	default:
		h = (r-g)/(max-min) + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	switch {
	case h < 45 || h >= 315:
		return "red"
	case h < 90:
		return "yellow"
	case h < 165:
		return "green"
	case h < 255:
		return "blue"
	default:
		return "red"
	}
}
