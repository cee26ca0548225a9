// Package consensus implements the consensus analyzer: it clusters raw
// CSS observations from the extractor into a canonical, W3C-conformant
// TokenSet with per-token confidence and semantic hints.
package consensus

import (
	"fmt"
	"math"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

// Analyze runs the full per-category consensus pipeline and assembles a
// tokens.Set with assigned paths and a usage-weighted consensus_score.
func Analyze(obs *cssparse.Observations) *tokens.Set {
	var all []tokens.Token

	colors := ClusterColors(obs.Colors)
	LabelSemantics(colors)
	for i := range colors {
		if colors[i].Extensions.Semantic != "" {
			colors[i].Path = "color." + colors[i].Extensions.Semantic
		} else {
			colors[i].Path = fmt.Sprintf("color.unnamed-%d", i+1)
		}
	}
	all = append(all, colors...)

	base := InferSpacingBase(obs.Spacing)
	spacing := ClusterSpacing(obs.Spacing, base)
	for i := range spacing {
		spacing[i].Path = "dimension.spacing." + spacing[i].Path
	}
	all = append(all, spacing...)

	radii := ClusterFrequency(obs.Radius)
	for i := range radii {
		radii[i].Path = fmt.Sprintf("radius.r%d", i+1)
		radii[i].Category = tokens.CategoryRadius
	}
	all = append(all, radii...)

	shadows := ClusterShadows(obs.Shadows)
	for i := range shadows {
		shadows[i].Path = fmt.Sprintf("shadow.s%d", i+1)
	}
	all = append(all, shadows...)

	motion := ClusterMotion(obs.Motion)
	for i := range motion {
		motion[i].Path = fmt.Sprintf("motion.m%d", i+1)
	}
	all = append(all, motion...)

	families := ClusterFamilies(obs.TypographyFamily)
	for i := range families {
		families[i].Path = fmt.Sprintf("typography.family.f%d", i+1)
	}
	all = append(all, families...)

	sizes := ClusterFrequency(obs.TypographySize)
	for i := range sizes {
		sizes[i].Path = fmt.Sprintf("typography.size.sz%d", i+1)
		sizes[i].Category = tokens.CategoryTypography
	}
	all = append(all, sizes...)

	weights := ClusterFrequency(obs.TypographyWeight)
	for i := range weights {
		weights[i].Path = fmt.Sprintf("typography.weight.w%d", i+1)
		weights[i].Category = tokens.CategoryTypography
	}
	all = append(all, weights...)

	lineHeights := ClusterFrequency(obs.TypographyLineHeight)
	for i := range lineHeights {
		lineHeights[i].Path = fmt.Sprintf("typography.lineHeight.lh%d", i+1)
		lineHeights[i].Category = tokens.CategoryTypography
	}
	all = append(all, lineHeights...)

	letterSpacings := ClusterFrequency(obs.TypographyLetterSpacing)
	for i := range letterSpacings {
		letterSpacings[i].Path = fmt.Sprintf("typography.letterSpacing.ls%d", i+1)
		letterSpacings[i].Category = tokens.CategoryTypography
	}
	all = append(all, letterSpacings...)

	score := weightedConsensusScore(all)
	return &tokens.Set{Tokens: all, ConsensusScore: score}
}

func weightedConsensusScore(ts []tokens.Token) float64 {
	var weighted, totalUsage float64
	for _, t := range ts {
		w := float64(t.Extensions.Usage)
		if w <= 0 {
			w = 1
		}
		weighted += t.Extensions.Confidence * w
		totalUsage += w
	}
	if totalUsage == 0 {
		return 0
	}
	return math.Min(1, weighted/totalUsage)
}
