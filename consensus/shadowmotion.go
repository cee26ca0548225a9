package consensus

import (
	"math"
	"sort"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

type parsedShadow struct {
	offsetX, offsetY, blur, spread float64
	unit                           string
	color                          string
	alpha                          float64
	inset                          bool
}

// parseShadowLayer decomposes one box-shadow/text-shadow layer into its
// numeric and color components. Fields are split on top-level whitespace
// so function values like rgba(0,0,0,.1) are not split internally.
func parseShadowLayer(raw string) (parsedShadow, bool) {
	fields := splitShadowFields(raw)
	var s parsedShadow
	s.color = "#000000"
	s.alpha = 1
	lengths := []float64{}
	for _, f := range fields {
		if f == "inset" {
			s.inset = true
			continue
		}
		if amount, unit, ok := cssparse.ParseDimensionValue(f); ok {
			lengths = append(lengths, amount)
			s.unit = unit
			continue
		}
		if hex, alpha, ok := cssparse.ParseColorValue(f); ok {
			s.color = hex
			s.alpha = alpha
		}
	}
	if len(lengths) < 2 {
		return parsedShadow{}, false
	}
	s.offsetX = lengths[0]
	s.offsetY = lengths[1]
	if len(lengths) >= 3 {
		s.blur = lengths[2]
	}
	if len(lengths) >= 4 {
		s.spread = lengths[3]
	}
	return s, true
}

func splitShadowFields(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ' ', '\t':
			if depth == 0 {
				if i > start {
					out = append(out, s[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func shadowMagnitude(s parsedShadow) float64 {
	return math.Sqrt(s.offsetX*s.offsetX + s.offsetY*s.offsetY + s.blur*s.blur + s.spread*s.spread)
}

// ClusterShadows applies frequency-threshold clustering (≥0.5% of category
// usage, merge within 5% relative Euclidean distance on numeric
// components).
func ClusterShadows(obs []cssparse.ShadowObservation) []tokens.Token {
	type group struct {
		shadow   parsedShadow
		usageSum float64
	}
	var groups []*group
	totalUsage := 0.0
	for _, o := range obs {
		parsed, ok := parseShadowLayer(o.Raw)
		if !ok {
			continue
		}
		totalUsage += o.Usage
		merged := false
		for _, g := range groups {
			if g.shadow.inset != parsed.inset {
				continue
			}
			mag1 := shadowMagnitude(g.shadow)
			if mag1 == 0 {
				continue
			}
			dist := shadowMagnitude(parsedShadow{
				offsetX: g.shadow.offsetX - parsed.offsetX,
				offsetY: g.shadow.offsetY - parsed.offsetY,
				blur:    g.shadow.blur - parsed.blur,
				spread:  g.shadow.spread - parsed.spread,
			})
			if dist/mag1 <= 0.05 {
				g.usageSum += o.Usage
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, &group{shadow: parsed, usageSum: o.Usage})
		}
	}
	if totalUsage == 0 {
		return nil
	}
	threshold := totalUsage * 0.005
	sort.Slice(groups, func(i, j int) bool { return groups[i].usageSum > groups[j].usageSum })

	out := make([]tokens.Token, 0, len(groups))
	for _, g := range groups {
		if g.usageSum < threshold {
			continue
		}
		s := g.shadow
		out = append(out, tokens.Token{
			Category: tokens.CategoryShadow,
			Kind:     tokens.KindShadow,
			Shadow: &tokens.ShadowValue{Layers: []tokens.ShadowLayer{{
				OffsetX: tokens.DimensionValue{Amount: s.offsetX, Unit: s.unit},
				OffsetY: tokens.DimensionValue{Amount: s.offsetY, Unit: s.unit},
				Blur:    tokens.DimensionValue{Amount: s.blur, Unit: s.unit},
				Spread:  tokens.DimensionValue{Amount: s.spread, Unit: s.unit},
				Color:   tokens.ColorValue{Hex: s.color, Alpha: s.alpha},
				Inset:   s.inset,
			}}},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(g.usageSum)),
				Confidence: usageConfidence(g.usageSum, totalUsage),
			},
		})
	}
	return out
}

// ClusterMotion groups duration+timing-function observations, merging
// durations within 5% relative distance per identical timing function.
func ClusterMotion(obs []cssparse.MotionObservation) []tokens.Token {
	type group struct {
		durationMS float64
		timing     string
		usageSum   float64
	}
	var groups []*group
	totalUsage := 0.0
	for _, o := range obs {
		totalUsage += o.Usage
		merged := false
		for _, g := range groups {
			if g.timing != o.TimingFunction || g.durationMS == 0 {
				continue
			}
			if math.Abs(g.durationMS-o.DurationMS)/g.durationMS <= 0.05 {
				g.usageSum += o.Usage
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, &group{durationMS: o.DurationMS, timing: o.TimingFunction, usageSum: o.Usage})
		}
	}
	if totalUsage == 0 {
		return nil
	}
	threshold := totalUsage * 0.005
	sort.Slice(groups, func(i, j int) bool { return groups[i].usageSum > groups[j].usageSum })

	out := make([]tokens.Token, 0, len(groups))
	for _, g := range groups {
		if g.usageSum < threshold {
			continue
		}
		out = append(out, tokens.Token{
			Category: tokens.CategoryMotion,
			Kind:     tokens.KindMotion,
			Motion: &tokens.MotionValue{
				Duration:       tokens.DimensionValue{Amount: g.durationMS, Unit: "ms"},
				TimingFunction: g.timing,
			},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(g.usageSum)),
				Confidence: usageConfidence(g.usageSum, totalUsage),
			},
		})
	}
	return out
}
