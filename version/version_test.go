package version

import (
	"testing"

	"github.com/tokenforge/scanner/tokens"
)

func color(path, hex string, usage int) tokens.Token {
	return tokens.Token{
		Path: path, Category: tokens.CategoryColor, Kind: tokens.KindColor,
		Color:      &tokens.ColorValue{Hex: hex, Alpha: 1},
		Extensions: tokens.Extensions{Usage: usage, Confidence: 0.9},
	}
}

func TestDiffFirstScanAllAdded(t *testing.T) {
	next := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	changes, summary := Diff(nil, next)
	if summary.Added != 1 || summary.Removed != 0 || summary.Modified != 0 {
		t.Fatalf("expected 1 added, got %+v", summary)
	}
	if len(changes) != 1 || changes[0].ChangeType != "added" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestDiffDetectsColorModification(t *testing.T) {
	prior := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	next := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#6358ef", 42)}}
	_, summary := Diff(prior, next)
	if summary.Modified != 1 {
		t.Fatalf("expected 1 modified (ΔE > 1.0), got %+v", summary)
	}
}

func TestDiffIgnoresUsageChangeOnIdenticalColor(t *testing.T) {
	prior := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	next := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 50)}}
	_, summary := Diff(prior, next)
	if summary.Modified != 0 {
		t.Fatalf("expected no modification for identical color (usage doesn't affect equality), got %+v", summary)
	}
}

func TestDiffDetectsAddedAndRemoved(t *testing.T) {
	prior := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	next := &tokens.Set{Tokens: []tokens.Token{color("color.accent", "#00d924", 10)}}
	_, summary := Diff(prior, next)
	if summary.Added != 1 || summary.Removed != 1 {
		t.Fatalf("expected 1 added + 1 removed, got %+v", summary)
	}
}

func TestDiffNoOpProducesEmptySummary(t *testing.T) {
	prior := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	next := &tokens.Set{Tokens: []tokens.Token{color("color.primary", "#635bff", 42)}}
	changes, summary := Diff(prior, next)
	if summary.Added != 0 || summary.Removed != 0 || summary.Modified != 0 {
		t.Fatalf("expected no-op diff, got %+v", summary)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}

func TestDiffTypographyFamilyIndexWiseInequality(t *testing.T) {
	prior := &tokens.Set{Tokens: []tokens.Token{{
		Path: "typography.family.f1", Category: tokens.CategoryTypography, Kind: tokens.KindTypography,
		Typography: &tokens.TypographyValue{Families: []string{"Inter", "sans-serif"}},
	}}}
	next := &tokens.Set{Tokens: []tokens.Token{{
		Path: "typography.family.f1", Category: tokens.CategoryTypography, Kind: tokens.KindTypography,
		Typography: &tokens.TypographyValue{Families: []string{"Roboto", "sans-serif"}},
	}}}
	_, summary := Diff(prior, next)
	if summary.Modified != 1 {
		t.Fatalf("expected font family swap to register as modified, got %+v", summary)
	}
}
