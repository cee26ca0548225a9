package consensus

import (
	"fmt"
	"math"
	"sort"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/tokens"
)

var spacingBaseCandidates = []int{2, 4, 6, 8}

// InferSpacingBase searches candidate base units {2,4,6,8} for the one
// maximizing usage-weighted coverage of multiples. Ties go to the larger
// candidate, since every multiple of 4 or 8 is also a multiple of 2.
func InferSpacingBase(obs []cssparse.NumericObservation) int {
	best := spacingBaseCandidates[0]
	bestScore := -1.0
	for _, b := range spacingBaseCandidates {
		score := 0.0
		for _, o := range obs {
			if o.Unit != "px" {
				continue
			}
			if int(math.Round(o.Amount))%b == 0 {
				score += o.Usage
			}
		}
		if score >= bestScore {
			best, bestScore = b, score
		}
	}
	return best
}

// ClusterSpacing snaps px observations to multiples of base (within 1px)
// and emits one token per distinct multiple, named space-{k}.
func ClusterSpacing(obs []cssparse.NumericObservation, base int) []tokens.Token {
	type bucket struct {
		k        int
		usageSum float64
		unit     string
		amount   float64
	}
	buckets := map[int]*bucket{}
	for _, o := range obs {
		if o.Amount <= 0 {
			continue
		}
		nearestK := math.Round(o.Amount / float64(base))
		snapped := nearestK * float64(base)
		if math.Abs(o.Amount-snapped) > 1.0 {
			continue
		}
		k := int(nearestK)
		if b, ok := buckets[k]; ok {
			b.usageSum += o.Usage
		} else {
			buckets[k] = &bucket{k: k, usageSum: o.Usage, unit: o.Unit, amount: snapped}
		}
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	totalUsage := 0.0
	for _, b := range buckets {
		totalUsage += b.usageSum
	}

	out := make([]tokens.Token, 0, len(buckets))
	for _, k := range keys {
		b := buckets[k]
		out = append(out, tokens.Token{
			Path:     fmt.Sprintf("space-%d", b.k),
			Category: tokens.CategoryDimension,
			Kind:     tokens.KindDimension,
			Dimension: &tokens.DimensionValue{
				Amount: b.amount,
				Unit:   b.unit,
			},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(b.usageSum)),
				Confidence: usageConfidence(b.usageSum, totalUsage),
			},
		})
	}
	return out
}

// ClusterFrequency implements the frequency-threshold clustering shared by
// radii, typography sizes (≥0.5% of category usage, merge within 5%
// relative distance).
func ClusterFrequency(obs []cssparse.NumericObservation) []tokens.Token {
	type group struct {
		amount   float64
		unit     string
		usageSum float64
	}
	// First pass: exact (amount,unit) aggregation.
	exact := map[string]*group{}
	totalUsage := 0.0
	for _, o := range obs {
		key := fmt.Sprintf("%g%s", o.Amount, o.Unit)
		if g, ok := exact[key]; ok {
			g.usageSum += o.Usage
		} else {
			exact[key] = &group{amount: o.Amount, unit: o.Unit, usageSum: o.Usage}
		}
		totalUsage += o.Usage
	}
	if totalUsage == 0 {
		return nil
	}

	groups := make([]*group, 0, len(exact))
	for _, g := range exact {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].usageSum > groups[j].usageSum })

	threshold := totalUsage * 0.005
	var kept []*group
	for _, g := range groups {
		if g.usageSum < threshold {
			continue
		}
		merged := false
		for _, k := range kept {
			if k.unit != g.unit || k.amount == 0 {
				continue
			}
			relDist := math.Abs(g.amount-k.amount) / math.Abs(k.amount)
			if relDist <= 0.05 {
				k.usageSum += g.usageSum
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, g)
		}
	}

	out := make([]tokens.Token, 0, len(kept))
	for _, g := range kept {
		out = append(out, tokens.Token{
			Category: tokens.CategoryDimension,
			Kind:     tokens.KindDimension,
			Dimension: &tokens.DimensionValue{
				Amount: g.amount,
				Unit:   g.unit,
			},
			Extensions: tokens.Extensions{
				Usage:      int(math.Round(g.usageSum)),
				Confidence: usageConfidence(g.usageSum, totalUsage),
			},
		})
	}
	return out
}

func usageConfidence(usage, total float64) float64 {
	base := math.Min(1, math.Log2(1+usage)/8)
	if total == 0 {
		return base
	}
	share := usage / total
	return base * math.Min(1, 0.5+share)
}
