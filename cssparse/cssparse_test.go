package cssparse

import "testing"

func TestTokenizeSimpleRule(t *testing.T) {
	rules := tokenize(`.btn, .btn-primary { color: #fff; padding: 8px 16px; }`)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if len(rules[0].selectors) != 2 {
		t.Fatalf("expected 2 selectors, got %d", len(rules[0].selectors))
	}
	if len(rules[0].decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(rules[0].decls))
	}
}

func TestTokenizeNestedMedia(t *testing.T) {
	rules := tokenize(`@media (min-width: 768px) { .card { margin: 4px; } }`)
	if len(rules) != 1 || rules[0].atMedia == "" {
		t.Fatalf("expected one @media rule, got %+v", rules)
	}
	if len(rules[0].children) != 1 {
		t.Fatalf("expected 1 nested rule, got %d", len(rules[0].children))
	}
}

func TestTokenizeSkipsComments(t *testing.T) {
	rules := tokenize(`/* comment { with braces } */ .a { color: red; }`)
	if len(rules) != 1 || rules[0].selectors[0] != ".a" {
		t.Fatalf("comment skipping failed: %+v", rules)
	}
}

func TestSplitTopLevelRespectsParens(t *testing.T) {
	parts := splitTopLevel("rgba(0,0,0,.5), #fff", ',')
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %v", len(parts), parts)
	}
}

func TestExtractImportsURLAndStringForms(t *testing.T) {
	css := `
		@import url("a.css");
		@import 'b.css' screen;
		@import url(c.css);
		.x { color: red; }
	`
	imports := ExtractImports(css)
	want := []string{"a.css", "b.css", "c.css"}
	if len(imports) != len(want) {
		t.Fatalf("expected %d imports, got %d: %v", len(want), len(imports), imports)
	}
	for i, w := range want {
		if imports[i] != w {
			t.Errorf("import %d: got %q, want %q", i, imports[i], w)
		}
	}
}

func TestExtractImportsIgnoresNestedAtRule(t *testing.T) {
	css := `@media (min-width: 768px) { @import url("nope.css"); }`
	if imports := ExtractImports(css); len(imports) != 0 {
		t.Fatalf("expected no top-level imports inside a block, got %v", imports)
	}
}

func TestExtractWithProgressReportsFinalTotalOnLastCallback(t *testing.T) {
	css := `
		.a { color: #111; margin: 8px; }
		.b { color: #222; padding: 4px; border-radius: 2px; }
	`
	var lastDone, lastTotal int
	calls := 0
	obs := ExtractWithProgress(css, func(done, total int) {
		calls++
		lastDone, lastTotal = done, total
	})
	if obs == nil {
		t.Fatal("expected non-nil observations")
	}
	if calls == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if lastDone != lastTotal {
		t.Fatalf("expected the final callback to report done == total, got %d/%d", lastDone, lastTotal)
	}
}

func TestExtractColorsAndSpacing(t *testing.T) {
	css := `
		.a { color: #635bff; background-color: rgba(0, 0, 0, 0.5); }
		.b { color: #635bff; margin: 8px 16px; }
		.c { border-radius: 4px; box-shadow: 0 2px 4px rgba(0,0,0,.1); }
	`
	obs := Extract(css)
	if len(obs.Colors) != 3 {
		t.Fatalf("expected 3 color observations, got %d", len(obs.Colors))
	}
	if len(obs.Spacing) == 0 {
		t.Fatal("expected spacing observations")
	}
	if len(obs.Radius) != 1 {
		t.Fatalf("expected 1 radius observation, got %d", len(obs.Radius))
	}
	if len(obs.Shadows) != 1 {
		t.Fatalf("expected 1 shadow observation, got %d", len(obs.Shadows))
	}
}

func TestExtractCustomPropertyResolution(t *testing.T) {
	css := `:root { --brand: #635bff; } .a { color: var(--brand); }`
	obs := Extract(css)
	// One observation from the call site, one from the definition itself.
	if len(obs.Colors) != 2 {
		t.Fatalf("expected 2 color observations (use site + definition), got %+v", obs.Colors)
	}
	for _, c := range obs.Colors {
		if c.Hex != "#635bff" {
			t.Fatalf("expected resolved custom property color, got %+v", obs.Colors)
		}
	}
	if len(obs.CustomProps) != 1 || obs.CustomProps[0].Name != "--brand" {
		t.Fatalf("expected --brand captured as a custom property observation, got %+v", obs.CustomProps)
	}
}

func TestExtractUnusedCustomPropertyDefaultsToValueShape(t *testing.T) {
	css := `:root { --unused-brand: #112233; --unused-gap: 12px; }`
	obs := Extract(css)
	if len(obs.CustomProps) != 2 {
		t.Fatalf("expected 2 custom property observations, got %+v", obs.CustomProps)
	}
	if len(obs.Colors) != 1 || obs.Colors[0].Hex != "#112233" {
		t.Fatalf("expected the unused color-shaped definition to surface as a color, got %+v", obs.Colors)
	}
	if len(obs.Spacing) != 1 || obs.Spacing[0].Amount != 12 || obs.Spacing[0].Unit != "px" {
		t.Fatalf("expected the unused dimension-shaped definition to surface as spacing, got %+v", obs.Spacing)
	}
}

func TestExtractCustomPropertyInheritsUseSiteCategory(t *testing.T) {
	// The same value shape could be radius or spacing; the use site
	// decides.
	css := `:root { --round: 6px; } .pill { border-radius: var(--round); }`
	obs := Extract(css)
	if len(obs.Radius) != 2 {
		t.Fatalf("expected radius observations from use site and definition, got %+v", obs.Radius)
	}
	if len(obs.Spacing) != 0 {
		t.Fatalf("use-site category should win over value shape, got spacing %+v", obs.Spacing)
	}
}

func TestExtractUnresolvedVarRecordedAndExcluded(t *testing.T) {
	css := `.a { color: var(--missing); margin: 8px; }`
	obs := Extract(css)
	if len(obs.Colors) != 0 {
		t.Fatalf("unresolved var must not reach consensus categories, got %+v", obs.Colors)
	}
	if len(obs.UnresolvedVars) != 1 {
		t.Fatalf("expected 1 unresolved var record, got %+v", obs.UnresolvedVars)
	}
	u := obs.UnresolvedVars[0]
	if u.Property != "color" || u.VarName != "--missing" {
		t.Fatalf("unexpected unresolved var record: %+v", u)
	}
	if len(obs.Spacing) != 1 {
		t.Fatalf("sibling declarations must still extract, got %+v", obs.Spacing)
	}
}

func TestExtractTypography(t *testing.T) {
	css := `.h1 { font-family: "Inter", sans-serif; font-size: 2rem; font-weight: 700; line-height: 1.2; }`
	obs := Extract(css)
	if len(obs.TypographyFamily) != 1 || obs.TypographyFamily[0].Families[0] != "Inter" {
		t.Fatalf("expected resolved font family, got %+v", obs.TypographyFamily)
	}
	if len(obs.TypographySize) != 1 || obs.TypographySize[0].Amount != 2 {
		t.Fatalf("expected font-size 2rem, got %+v", obs.TypographySize)
	}
	if len(obs.TypographyWeight) != 1 || obs.TypographyWeight[0].Amount != 700 {
		t.Fatalf("expected font-weight 700, got %+v", obs.TypographyWeight)
	}
}

func TestExtractMediaQueryUsageWeight(t *testing.T) {
	css := `@media (min-width: 768px) { .x { color: #111111; } }`
	obs := Extract(css)
	if len(obs.Colors) != 1 {
		t.Fatalf("expected 1 color observation, got %d", len(obs.Colors))
	}
	if obs.Colors[0].Usage <= 1.0 {
		t.Fatalf("expected media-weighted usage > 1.0, got %v", obs.Colors[0].Usage)
	}
}

func TestParseColorFormats(t *testing.T) {
	cases := map[string]string{
		"#fff":                 "#ffffff",
		"#635BFF":              "#635bff",
		"rgb(99, 91, 255)":     "#635bff",
		"rgba(99, 91, 255, 1)": "#635bff",
	}
	for in, want := range cases {
		c, ok := parseColor(in)
		if !ok {
			t.Fatalf("parseColor(%q) failed", in)
		}
		if c.hex != want {
			t.Fatalf("parseColor(%q) = %q, want %q", in, c.hex, want)
		}
	}
}

func TestParseMotionDurationAndTiming(t *testing.T) {
	m, ok := parseMotion("transform 0.2s ease-in-out")
	if !ok {
		t.Fatal("expected motion parse to succeed")
	}
	if m.durationMS != 200 {
		t.Fatalf("expected 200ms, got %v", m.durationMS)
	}
	if m.timing != "ease-in-out" {
		t.Fatalf("expected ease-in-out, got %q", m.timing)
	}
}
