package tokens

import "testing"

func TestSetRoundTripPreservesCategoryAcrossSharedTypes(t *testing.T) {
	original := Set{Tokens: []Token{
		{Path: "radius.r1", Category: CategoryRadius, Kind: KindDimension,
			Dimension: &DimensionValue{Amount: 4, Unit: "px"}},
		{Path: "dimension.spacing.space-8", Category: CategoryDimension, Kind: KindDimension,
			Dimension: &DimensionValue{Amount: 8, Unit: "px"}},
		{Path: "typography.size.sz1", Category: CategoryTypography, Kind: KindDimension,
			Dimension: &DimensionValue{Amount: 16, Unit: "px"}},
		{Path: "color.primary", Category: CategoryColor, Kind: KindColor,
			Color: &ColorValue{Hex: "#635bff", Alpha: 1}},
	}}

	data, err := original.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var reloaded Set
	if err := reloaded.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	byPath := map[string]Category{}
	for _, tok := range reloaded.Tokens {
		byPath[tok.Path] = tok.Category
	}

	cases := map[string]Category{
		"radius.r1":                 CategoryRadius,
		"dimension.spacing.space-8": CategoryDimension,
		"typography.size.sz1":       CategoryTypography,
		"color.primary":             CategoryColor,
	}
	for path, want := range cases {
		got, ok := byPath[path]
		if !ok {
			t.Fatalf("token %q missing after round trip", path)
		}
		if got != want {
			t.Errorf("token %q: category = %q, want %q (both radius and typography-size share $type=dimension, so this must come from the path, not $type)", path, got, want)
		}
	}
}
