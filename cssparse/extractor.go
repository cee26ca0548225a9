package cssparse

import (
	"sort"
	"strconv"
	"strings"
)

// ColorObservation is a raw color value observed in the stylesheet,
// normalized to hex + alpha.
type ColorObservation struct {
	Hex   string
	Alpha float64
	Usage float64
}

// NumericObservation is a raw dimension-shaped value (spacing, radius,
// font-size, line-height, letter-spacing).
type NumericObservation struct {
	Amount float64
	Unit   string
	Usage  float64
}

// FamilyObservation is a raw font-family fallback list.
type FamilyObservation struct {
	Families []string
	Usage    float64
}

// ShadowObservation is a raw (possibly multi-layer) shadow value.
type ShadowObservation struct {
	Raw   string
	Usage float64
}

// MotionObservation is a raw duration + timing-function pair.
type MotionObservation struct {
	DurationMS     float64
	TimingFunction string
	Usage          float64
}

// CustomPropObservation is a custom property definition (--name: value),
// captured as a first-class observation. Value is the declared value with
// same-scope var() references already substituted.
type CustomPropObservation struct {
	Name  string
	Value string
	Usage float64
}

// UnresolvedVarObservation is a var(...) reference that could not be
// resolved within the stylesheet scope. Recorded so callers can inspect
// and count them; never fed into consensus.
type UnresolvedVarObservation struct {
	Property string
	VarName  string
	Usage    float64
}

// Observations is the extractor's output bag: per-category multisets of
// raw candidate values with usage counts, ready for consensus clustering.
type Observations struct {
	Colors                  []ColorObservation
	Spacing                 []NumericObservation
	Radius                  []NumericObservation
	Shadows                 []ShadowObservation
	Motion                  []MotionObservation
	TypographyFamily        []FamilyObservation
	TypographySize          []NumericObservation
	TypographyWeight        []NumericObservation
	TypographyLineHeight    []NumericObservation
	TypographyLetterSpacing []NumericObservation

	CustomProps    []CustomPropObservation
	UnresolvedVars []UnresolvedVarObservation

	InvalidDeclarations int
	SampledCategories   map[string]float64 // category -> sampling ratio applied
}

const maxObservationsPerCategory = 50000

var colorProperties = map[string]bool{
	"color": true, "background-color": true, "border-color": true,
	"border-top-color": true, "border-right-color": true, "border-bottom-color": true, "border-left-color": true,
	"fill": true, "stroke": true, "outline-color": true,
}

var spacingProperties = map[string]bool{
	"margin": true, "margin-top": true, "margin-right": true, "margin-bottom": true, "margin-left": true,
	"padding": true, "padding-top": true, "padding-right": true, "padding-bottom": true, "padding-left": true,
	"gap": true, "row-gap": true, "column-gap": true,
}

// Extract walks the parsed rule tree and accumulates raw observations.
// usage is counted per distinct selector (not per declaration); rules
// inside @media receive a weight bonus for selectors matching common
// viewport breakpoint classes.
func Extract(cssBody string) *Observations {
	return ExtractWithProgress(cssBody, nil)
}

// ExtractWithProgress is Extract, plus onDecl invoked with (declarations
// processed so far, total declarations) after every declaration. total is
// known up front since tokenize has already materialized the full rule
// tree before walkRules starts consuming it. onDecl may be nil.
func ExtractWithProgress(cssBody string, onDecl func(done, total int)) *Observations {
	rules := tokenize(cssBody)
	obs := &Observations{SampledCategories: map[string]float64{}}
	customProps := map[string]*customPropDef{}

	// First pass: collect custom property definitions so var(...) can
	// resolve within the same stylesheet scope.
	collectCustomProps(rules, 1.0, customProps)

	total := countDeclarations(rules)
	done := 0
	walkRules(rules, 1.0, obs, customProps, &done, total, onDecl)
	emitCustomProps(customProps, obs)
	applySamplingCaps(obs)
	return obs
}

func countDeclarations(rules []rawRule) int {
	n := 0
	for _, r := range rules {
		n += len(r.decls)
		if len(r.children) > 0 {
			n += countDeclarations(r.children)
		}
	}
	return n
}

// customPropDef tracks one --name definition across the stylesheet: its
// (var-substituted) value, the usage weight of its defining selectors,
// and the per-property usage of every var(--name) call site, from which
// the property's token category is inferred.
type customPropDef struct {
	value    string
	defUsage float64
	useProps map[string]float64
}

func collectCustomProps(rules []rawRule, weight float64, out map[string]*customPropDef) {
	for _, r := range rules {
		if r.atMedia != "" {
			collectCustomProps(r.children, mediaWeight(r.atMedia), out)
			continue
		}
		usage := weight * float64(len(r.selectors))
		if usage == 0 {
			usage = weight
		}
		for _, d := range r.decls {
			if strings.HasPrefix(d.property, "--") {
				def, ok := out[d.property]
				if !ok {
					def = &customPropDef{useProps: map[string]float64{}}
					out[d.property] = def
				}
				def.value = resolveVarsShallow(d.value, out)
				def.defUsage += usage
			}
		}
		if len(r.children) > 0 {
			collectCustomProps(r.children, weight, out)
		}
	}
}

func resolveVarsShallow(value string, customProps map[string]*customPropDef) string {
	if !strings.Contains(value, "var(") {
		return value
	}
	idx := strings.Index(value, "var(")
	end := strings.Index(value[idx:], ")")
	if end < 0 {
		return value
	}
	inner := value[idx+4 : idx+end]
	name := strings.TrimSpace(strings.SplitN(inner, ",", 2)[0])
	if def, ok := customProps[name]; ok {
		return value[:idx] + def.value + value[idx+end+1:]
	}
	return value
}

// varRefNames returns the names of every var(--x) reference in value, in
// source order.
func varRefNames(value string) []string {
	var names []string
	rest := value
	for {
		idx := strings.Index(rest, "var(")
		if idx < 0 {
			return names
		}
		rest = rest[idx+4:]
		end := strings.Index(rest, ")")
		if end < 0 {
			return names
		}
		name := strings.TrimSpace(strings.SplitN(rest[:end], ",", 2)[0])
		if name != "" {
			names = append(names, name)
		}
		rest = rest[end+1:]
	}
}

func mediaWeight(atMedia string) float64 {
	if atMedia == "" {
		return 1.0
	}
	commonBreakpoints := []string{"480", "768", "1024", "1280", "1440"}
	weight := 1.0
	for _, bp := range commonBreakpoints {
		if strings.Contains(atMedia, bp) {
			weight += 0.25
		}
	}
	return weight
}

func walkRules(rules []rawRule, weight float64, obs *Observations, customProps map[string]*customPropDef, done *int, total int, onDecl func(done, total int)) {
	for _, r := range rules {
		if r.atMedia != "" {
			walkRules(r.children, mediaWeight(r.atMedia), obs, customProps, done, total, onDecl)
			continue
		}
		usage := weight * float64(len(r.selectors))
		if usage == 0 {
			usage = weight
		}
		for _, d := range r.decls {
			*done++
			if onDecl != nil {
				onDecl(*done, total)
			}
			if strings.HasPrefix(d.property, "--") {
				// Definitions surface through emitCustomProps once the
				// walk has seen every call site.
				continue
			}
			for _, name := range varRefNames(d.value) {
				if def, ok := customProps[name]; ok {
					def.useProps[d.property] += usage
				}
			}
			value := resolveVarsShallow(d.value, customProps)
			if strings.Contains(value, "var(") {
				// Unresolved reference: recorded, excluded from consensus.
				for _, name := range varRefNames(value) {
					obs.UnresolvedVars = append(obs.UnresolvedVars, UnresolvedVarObservation{
						Property: d.property, VarName: name, Usage: usage,
					})
				}
				continue
			}
			extractDeclaration(d.property, value, usage, obs)
		}
	}
}

// emitCustomProps turns every custom property definition into a
// first-class observation. A used property inherits the category of its
// dominant use-site property; a never-used one falls back to the shape
// of its declared value. The observation carries the defining selectors'
// usage only — call sites have already contributed their own resolved
// observations during the walk.
func emitCustomProps(defs map[string]*customPropDef, obs *Observations) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		obs.CustomProps = append(obs.CustomProps, CustomPropObservation{
			Name: name, Value: def.value, Usage: def.defUsage,
		})
		if strings.Contains(def.value, "var(") {
			// A definition that itself failed to resolve has no usable
			// value shape.
			for _, ref := range varRefNames(def.value) {
				obs.UnresolvedVars = append(obs.UnresolvedVars, UnresolvedVarObservation{
					Property: name, VarName: ref, Usage: def.defUsage,
				})
			}
			continue
		}
		property := dominantUseProperty(def)
		if property == "" {
			property = shapeProperty(def.value)
		}
		if property == "" {
			continue
		}
		extractDeclaration(property, def.value, def.defUsage, obs)
	}
}

// dominantUseProperty picks the call-site property with the highest
// usage; ties break lexicographically so extraction stays deterministic.
func dominantUseProperty(def *customPropDef) string {
	var best string
	var bestUsage float64
	for prop, u := range def.useProps {
		if u > bestUsage || (u == bestUsage && (best == "" || prop < best)) {
			best, bestUsage = prop, u
		}
	}
	return best
}

// shapeProperty maps a declared value to the property whose extraction
// path matches the value's shape, for definitions no var() ever calls.
func shapeProperty(value string) string {
	if _, ok := parseColor(value); ok {
		return "color"
	}
	if _, ok := parseMotion(value); ok {
		return "transition"
	}
	if _, ok := parseNumeric(value); ok {
		return "margin"
	}
	if fields := strings.Fields(value); len(fields) >= 3 {
		if _, ok := parseColor(fields[len(fields)-1]); ok {
			return "box-shadow"
		}
	}
	if strings.Contains(value, ",") {
		return "font-family"
	}
	return ""
}

func extractDeclaration(property, value string, usage float64, obs *Observations) {
	switch {
	case colorProperties[property]:
		if c, ok := parseColor(value); ok {
			obs.Colors = append(obs.Colors, ColorObservation{Hex: c.hex, Alpha: c.alpha, Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case property == "font-family" || property == "font":
		fams := parseFontFamilyList(value)
		if len(fams) > 0 {
			obs.TypographyFamily = append(obs.TypographyFamily, FamilyObservation{Families: fams, Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case property == "font-size":
		if n, ok := parseNumeric(value); ok {
			obs.TypographySize = append(obs.TypographySize, NumericObservation{Amount: n.amount, Unit: n.unit, Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case property == "font-weight":
		if w, ok := parseFontWeight(value); ok {
			obs.TypographyWeight = append(obs.TypographyWeight, NumericObservation{Amount: w, Unit: "", Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case property == "line-height":
		if n, ok := parseNumeric(value); ok {
			obs.TypographyLineHeight = append(obs.TypographyLineHeight, NumericObservation{Amount: n.amount, Unit: n.unit, Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case property == "letter-spacing":
		if n, ok := parseNumeric(value); ok {
			obs.TypographyLetterSpacing = append(obs.TypographyLetterSpacing, NumericObservation{Amount: n.amount, Unit: n.unit, Usage: usage})
		} else {
			obs.InvalidDeclarations++
		}
	case spacingProperties[property]:
		for _, part := range expandBoxShorthand(value) {
			if n, ok := parseNumeric(part); ok && n.amount > 0 {
				obs.Spacing = append(obs.Spacing, NumericObservation{Amount: n.amount, Unit: n.unit, Usage: usage})
			}
		}
	case property == "border-radius":
		for _, part := range expandBoxShorthand(value) {
			if n, ok := parseNumeric(part); ok {
				obs.Radius = append(obs.Radius, NumericObservation{Amount: n.amount, Unit: n.unit, Usage: usage})
			}
		}
	case property == "box-shadow" || property == "text-shadow":
		for _, layer := range splitTopLevel(value, ',') {
			layer = strings.TrimSpace(layer)
			if layer != "" && layer != "none" {
				obs.Shadows = append(obs.Shadows, ShadowObservation{Raw: layer, Usage: usage})
			}
		}
	case property == "transition" || property == "animation":
		for _, layer := range splitTopLevel(value, ',') {
			if m, ok := parseMotion(layer); ok {
				obs.Motion = append(obs.Motion, MotionObservation{DurationMS: m.durationMS, TimingFunction: m.timing, Usage: usage})
			}
		}
	}
}

func expandBoxShorthand(value string) []string {
	fields := strings.Fields(value)
	return fields
}

func parseFontFamilyList(value string) []string {
	parts := splitTopLevel(value, ',')
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFontWeight(value string) (float64, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "normal":
		return 400, true
	case "bold":
		return 700, true
	case "lighter":
		return 300, true
	case "bolder":
		return 600, true
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n, true
	}
	return 0, false
}

// applySamplingCaps enforces the 50,000-observation cap on the color,
// spacing, radius and font-size categories, sampling uniformly and
// recording the ratio applied. Shadow, motion, font-family, font-weight,
// line-height and letter-spacing observations are not capped.
func applySamplingCaps(obs *Observations) {
	obs.Colors, obs.SampledCategories["color"] = sampleColors(obs.Colors)
	obs.Spacing, obs.SampledCategories["dimension"] = sampleNumeric(obs.Spacing)
	obs.Radius, obs.SampledCategories["radius"] = sampleNumeric(obs.Radius)
	obs.TypographySize, obs.SampledCategories["typography.size"] = sampleNumeric(obs.TypographySize)
}

func sampleColors(in []ColorObservation) ([]ColorObservation, float64) {
	if len(in) <= maxObservationsPerCategory {
		return in, 1.0
	}
	stride := float64(len(in)) / float64(maxObservationsPerCategory)
	out := make([]ColorObservation, 0, maxObservationsPerCategory)
	for i := 0; float64(i)*stride < float64(len(in)) && len(out) < maxObservationsPerCategory; i++ {
		out = append(out, in[int(float64(i)*stride)])
	}
	return out, float64(maxObservationsPerCategory) / float64(len(in))
}

func sampleNumeric(in []NumericObservation) ([]NumericObservation, float64) {
	if len(in) <= maxObservationsPerCategory {
		return in, 1.0
	}
	stride := float64(len(in)) / float64(maxObservationsPerCategory)
	out := make([]NumericObservation, 0, maxObservationsPerCategory)
	for i := 0; float64(i)*stride < float64(len(in)) && len(out) < maxObservationsPerCategory; i++ {
		out = append(out, in[int(float64(i)*stride)])
	}
	return out, float64(maxObservationsPerCategory) / float64(len(in))
}
