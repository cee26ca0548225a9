package consensus

import (
	"testing"

	"github.com/tokenforge/scanner/cssparse"
)

func TestClusterColorsGroupsSimilarHues(t *testing.T) {
	obs := []cssparse.ColorObservation{
		{Hex: "#635bff", Alpha: 1, Usage: 42},
		{Hex: "#645cff", Alpha: 1, Usage: 3}, // within ΔE 3.0, should merge
		{Hex: "#0a2540", Alpha: 1, Usage: 18},
	}
	clusters := ClusterColors(obs)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 color clusters, got %d", len(clusters))
	}
}

func TestClusterColorsExcludesZeroAlpha(t *testing.T) {
	obs := []cssparse.ColorObservation{{Hex: "#000000", Alpha: 0, Usage: 1}}
	clusters := ClusterColors(obs)
	if len(clusters) != 0 {
		t.Fatalf("expected alpha-0 color excluded, got %d clusters", len(clusters))
	}
}

func TestLabelSemanticsAssignsPrimary(t *testing.T) {
	obs := []cssparse.ColorObservation{{Hex: "#635bff", Alpha: 1, Usage: 100}}
	clusters := ClusterColors(obs)
	LabelSemantics(clusters)
	if clusters[0].Extensions.Semantic == "" {
		t.Fatal("expected a semantic label to be assigned")
	}
}

func TestInferSpacingBasePrefersConsistentMultiple(t *testing.T) {
	obs := []cssparse.NumericObservation{
		{Amount: 8, Unit: "px", Usage: 50},
		{Amount: 16, Unit: "px", Usage: 40},
		{Amount: 24, Unit: "px", Usage: 30},
		{Amount: 5, Unit: "px", Usage: 1},
	}
	base := InferSpacingBase(obs)
	if base != 4 && base != 8 {
		t.Fatalf("expected base 4 or 8 for multiples of 8, got %d", base)
	}
}

func TestClusterSpacingSnapsAndNames(t *testing.T) {
	obs := []cssparse.NumericObservation{
		{Amount: 8, Unit: "px", Usage: 50},
		{Amount: 16, Unit: "px", Usage: 40},
	}
	toks := ClusterSpacing(obs, 8)
	if len(toks) != 2 {
		t.Fatalf("expected 2 spacing tokens, got %d", len(toks))
	}
	if toks[0].Path != "space-1" || toks[1].Path != "space-2" {
		t.Fatalf("unexpected spacing token paths: %v", []string{toks[0].Path, toks[1].Path})
	}
}

func TestClusterFrequencyDropsBelowThreshold(t *testing.T) {
	obs := []cssparse.NumericObservation{
		{Amount: 4, Unit: "px", Usage: 999},
		{Amount: 17, Unit: "px", Usage: 1}, // well below 0.5% threshold
	}
	toks := ClusterFrequency(obs)
	if len(toks) != 1 {
		t.Fatalf("expected 1 token after threshold filter, got %d", len(toks))
	}
}

func TestClusterFamiliesDedupes(t *testing.T) {
	obs := []cssparse.FamilyObservation{
		{Families: []string{"Inter", "sans-serif"}, Usage: 10},
		{Families: []string{"inter", "sans-serif"}, Usage: 5},
	}
	toks := ClusterFamilies(obs)
	if len(toks) != 1 {
		t.Fatalf("expected families deduped to 1, got %d", len(toks))
	}
	if toks[0].Extensions.Usage != 15 {
		t.Fatalf("expected merged usage 15, got %d", toks[0].Extensions.Usage)
	}
}

func TestClusterShadowsParsesLayers(t *testing.T) {
	obs := []cssparse.ShadowObservation{
		{Raw: "0 2px 4px rgba(0,0,0,.1)", Usage: 500},
		{Raw: "0 2px 5px rgba(0,0,0,.1)", Usage: 500},
	}
	toks := ClusterShadows(obs)
	if len(toks) != 1 {
		t.Fatalf("expected shadows merged within 5%% distance, got %d", len(toks))
	}
}

func TestClusterMotionGroupsByTiming(t *testing.T) {
	obs := []cssparse.MotionObservation{
		{DurationMS: 200, TimingFunction: "ease-in-out", Usage: 500},
		{DurationMS: 205, TimingFunction: "ease-in-out", Usage: 500},
	}
	toks := ClusterMotion(obs)
	if len(toks) != 1 {
		t.Fatalf("expected motion merged, got %d", len(toks))
	}
}

func TestAnalyzeAssignsPathsAndScore(t *testing.T) {
	obs := &cssparse.Observations{
		Colors: []cssparse.ColorObservation{{Hex: "#635bff", Alpha: 1, Usage: 42}},
		Spacing: []cssparse.NumericObservation{
			{Amount: 8, Unit: "px", Usage: 50},
		},
	}
	set := Analyze(obs)
	if len(set.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(set.Tokens))
	}
	if set.ConsensusScore <= 0 {
		t.Fatalf("expected positive consensus score, got %v", set.ConsensusScore)
	}
}

func TestCIEDE2000IdenticalColorsZeroDistance(t *testing.T) {
	lab := hexToLab("#635bff")
	if d := ciede2000(lab, lab); d != 0 {
		t.Fatalf("expected 0 distance for identical color, got %v", d)
	}
}
