package layout

import "testing"

func TestDeriveContainerMode(t *testing.T) {
	css := `.container { max-width: 1200px; } .wrap { max-width: 1200px; } .narrow { max-width: 600px; }`
	p := Derive(css, 8, nil)
	if p.Container.MaxWidthPx != 1200 {
		t.Fatalf("expected mode max-width 1200, got %v", p.Container.MaxWidthPx)
	}
}

func TestDeriveContainerIgnoresComponentLevelMaxWidths(t *testing.T) {
	css := `
		.btn, .badge, .chip, .tag, .pill { max-width: 200px; }
		.avatar, .icon, .thumb { max-width: 48px; }
		.container { max-width: 1200px; }
	`
	p := Derive(css, 8, nil)
	if p.Container.MaxWidthPx != 1200 {
		t.Fatalf("component max-widths must not outvote the page container, got %v", p.Container.MaxWidthPx)
	}
}

func TestDeriveResponsiveStrategyBreakpoint(t *testing.T) {
	css := `
		@media (min-width: 480px) { .a { color: red; } }
		@media (min-width: 768px) { .a { color: blue; } }
		@media (min-width: 1024px) { .a { color: green; } }
	`
	p := Derive(css, 8, nil)
	if p.Container.ResponsiveStrategy != "breakpoint" {
		t.Fatalf("expected breakpoint strategy with 3 breakpoints, got %q", p.Container.ResponsiveStrategy)
	}
}

func TestDeriveResponsiveStrategyFluid(t *testing.T) {
	css := `.a { color: red; }`
	p := Derive(css, 8, nil)
	if p.Container.ResponsiveStrategy != "fluid" {
		t.Fatalf("expected fluid strategy with no breakpoints, got %q", p.Container.ResponsiveStrategy)
	}
}

func TestDeriveGridFlexRatio(t *testing.T) {
	css := `.a { display: grid; } .b { display: grid; } .c { display: flex; }`
	p := Derive(css, 8, nil)
	if p.GridFlex.GridPercent+p.GridFlex.FlexPercent != 100 {
		t.Fatalf("expected percentages to sum to 100, got grid=%d flex=%d", p.GridFlex.GridPercent, p.GridFlex.FlexPercent)
	}
	if p.GridFlex.GridPercent <= p.GridFlex.FlexPercent {
		t.Fatalf("expected grid to dominate, got grid=%d flex=%d", p.GridFlex.GridPercent, p.GridFlex.FlexPercent)
	}
}

func TestDetectArchetypeNavigation(t *testing.T) {
	css := `
		.navbar { display: flex; }
		.nav-menu { display: flex; }
		.header { display: flex; }
		.dropdown-item { color: red; }
	`
	p := Derive(css, 8, nil)
	found := false
	for _, a := range p.Archetypes {
		if a.Name == "navigation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected navigation archetype, got %+v", p.Archetypes)
	}
}

func TestDetectArchetypesNoneBelowThreshold(t *testing.T) {
	css := `.random-thing { color: red; }`
	p := Derive(css, 8, nil)
	if len(p.Archetypes) != 0 {
		t.Fatalf("expected no archetypes for unrelated CSS, got %+v", p.Archetypes)
	}
}
