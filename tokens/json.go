package tokens

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// dtcgExtensions mirrors the on-disk $extensions object.
type dtcgExtensions struct {
	Usage      int     `json:"usage"`
	Confidence float64 `json:"confidence"`
	Semantic   string  `json:"semantic,omitempty"`
}

// dtcgLeaf mirrors one DTCG leaf token: {$value, $type, $extensions}.
type dtcgLeaf struct {
	Value      interface{}    `json:"$value"`
	Type       string         `json:"$type"`
	Extensions dtcgExtensions `json:"$extensions"`
}

// MarshalJSON renders the Set as a nested W3C DTCG document keyed by
// category and token name. Paths are dot-separated and expanded into
// nested objects (e.g. "color.primary" -> {"color":{"primary":...}}).
func (s Set) MarshalJSON() ([]byte, error) {
	root := map[string]interface{}{}
	for _, t := range s.Tokens {
		leaf, err := t.toLeaf()
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", t.Path, err)
		}
		insertNested(root, strings.Split(t.Path, "."), leaf)
	}
	return json.Marshal(root)
}

// UnmarshalJSON parses a W3C DTCG document back into a Set. Token order is
// not guaranteed to match the original (DTCG documents are unordered JSON
// objects); callers that depend on document order should not round-trip
// through this path for diffing — the version engine compares by path, not
// by position.
func (s *Set) UnmarshalJSON(data []byte) error {
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	var toks []Token
	walkNested(root, nil, &toks)
	sort.Slice(toks, func(i, j int) bool { return toks[i].Path < toks[j].Path })
	s.Tokens = toks
	return nil
}

func insertNested(root map[string]interface{}, parts []string, leaf dtcgLeaf) {
	cur := root
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = leaf
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
}

func walkNested(node map[string]interface{}, prefix []string, out *[]Token) {
	for k, v := range node {
		path := append(append([]string{}, prefix...), k)
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if _, isLeaf := m["$value"]; isLeaf {
			tok, err := fromLeafMap(strings.Join(path, "."), m)
			if err == nil {
				*out = append(*out, tok)
			}
			continue
		}
		walkNested(m, path, out)
	}
}

func (t Token) toLeaf() (dtcgLeaf, error) {
	leaf := dtcgLeaf{
		Extensions: dtcgExtensions{
			Usage:      t.Extensions.Usage,
			Confidence: t.Extensions.Confidence,
			Semantic:   t.Extensions.Semantic,
		},
	}
	switch t.Kind {
	case KindColor:
		if t.Color == nil {
			return leaf, fmt.Errorf("color kind without Color value")
		}
		leaf.Type = "color"
		leaf.Value = map[string]interface{}{"hex": t.Color.Hex, "alpha": t.Color.Alpha}
	case KindDimension:
		if t.Dimension == nil {
			return leaf, fmt.Errorf("dimension kind without Dimension value")
		}
		leaf.Type = "dimension"
		leaf.Value = dimensionString(*t.Dimension)
	case KindTypography:
		if t.Typography == nil {
			return leaf, fmt.Errorf("typography kind without Typography value")
		}
		leaf.Type = "fontFamily"
		leaf.Value = t.Typography.Families
	case KindShadow:
		if t.Shadow == nil {
			return leaf, fmt.Errorf("shadow kind without Shadow value")
		}
		leaf.Type = "shadow"
		layers := make([]map[string]interface{}, 0, len(t.Shadow.Layers))
		for _, l := range t.Shadow.Layers {
			layers = append(layers, map[string]interface{}{
				"offsetX": dimensionString(l.OffsetX),
				"offsetY": dimensionString(l.OffsetY),
				"blur":    dimensionString(l.Blur),
				"spread":  dimensionString(l.Spread),
				"color":   map[string]interface{}{"hex": l.Color.Hex, "alpha": l.Color.Alpha},
				"inset":   l.Inset,
			})
		}
		leaf.Value = layers
	case KindMotion:
		if t.Motion == nil {
			return leaf, fmt.Errorf("motion kind without Motion value")
		}
		leaf.Type = "transition"
		leaf.Value = map[string]interface{}{
			"duration":       dimensionString(t.Motion.Duration),
			"timingFunction": t.Motion.TimingFunction,
		}
	default:
		return leaf, fmt.Errorf("unknown token kind %q", t.Kind)
	}
	return leaf, nil
}

func fromLeafMap(path string, m map[string]interface{}) (Token, error) {
	typ, _ := m["$type"].(string)
	ext := Extensions{}
	if e, ok := m["$extensions"].(map[string]interface{}); ok {
		if u, ok := e["usage"].(float64); ok {
			ext.Usage = int(u)
		}
		if c, ok := e["confidence"].(float64); ok {
			ext.Confidence = c
		}
		if s, ok := e["semantic"].(string); ok {
			ext.Semantic = s
		}
	}
	t := Token{Path: path, Extensions: ext, Category: categoryFromPath(path)}
	switch typ {
	case "color":
		cv, err := colorFromValue(m["$value"])
		if err != nil {
			return t, err
		}
		t.Kind = KindColor
		t.Color = &cv
	case "dimension":
		dv, err := parseDimension(fmt.Sprint(m["$value"]))
		if err != nil {
			return t, err
		}
		t.Kind = KindDimension
		t.Dimension = &dv
	case "fontFamily":
		arr, _ := m["$value"].([]interface{})
		fams := make([]string, 0, len(arr))
		for _, a := range arr {
			if s, ok := a.(string); ok {
				fams = append(fams, s)
			}
		}
		t.Kind = KindTypography
		t.Typography = &TypographyValue{Families: fams}
	case "shadow":
		arr, _ := m["$value"].([]interface{})
		var layers []ShadowLayer
		for _, a := range arr {
			lm, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			ox, _ := parseDimension(fmt.Sprint(lm["offsetX"]))
			oy, _ := parseDimension(fmt.Sprint(lm["offsetY"]))
			bl, _ := parseDimension(fmt.Sprint(lm["blur"]))
			sp, _ := parseDimension(fmt.Sprint(lm["spread"]))
			cv, _ := colorFromValue(lm["color"])
			inset, _ := lm["inset"].(bool)
			layers = append(layers, ShadowLayer{OffsetX: ox, OffsetY: oy, Blur: bl, Spread: sp, Color: cv, Inset: inset})
		}
		t.Kind = KindShadow
		t.Shadow = &ShadowValue{Layers: layers}
	case "transition":
		vm, _ := m["$value"].(map[string]interface{})
		dur, _ := parseDimension(fmt.Sprint(vm["duration"]))
		tf, _ := vm["timingFunction"].(string)
		t.Kind = KindMotion
		t.Motion = &MotionValue{Duration: dur, TimingFunction: tf}
	default:
		return t, fmt.Errorf("unknown $type %q at %s", typ, path)
	}
	return t, nil
}

// categoryFromPath derives a token's Category from its path's top-level
// segment rather than from $type: the persisted document is nested by
// Path (see insertNested), so the top-level key IS the category, and more
// than one Category shares a $type (radius and spacing are both
// "dimension"; typography sizes/weights are "dimension" too). Deriving
// from $type instead of Path loses that distinction on every round-trip.
func categoryFromPath(path string) Category {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return Category(path[:i])
	}
	return Category(path)
}

func colorFromValue(v interface{}) (ColorValue, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ColorValue{}, fmt.Errorf("color value not an object")
	}
	hex, _ := m["hex"].(string)
	alpha := 1.0
	if a, ok := m["alpha"].(float64); ok {
		alpha = a
	}
	return ColorValue{Hex: hex, Alpha: alpha}, nil
}

func dimensionString(d DimensionValue) string {
	return strconv.FormatFloat(d.Amount, 'g', -1, 64) + d.Unit
}

func parseDimension(s string) (DimensionValue, error) {
	i := len(s)
	for i > 0 && !isDigitOrDot(s[i-1]) {
		i--
	}
	numPart := s[:i]
	unit := s[i:]
	amount, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return DimensionValue{}, fmt.Errorf("bad dimension %q: %w", s, err)
	}
	return DimensionValue{Amount: amount, Unit: unit}, nil
}

func isDigitOrDot(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.' || b == '-' || b == 'e' || b == 'E' || b == '+'
}
