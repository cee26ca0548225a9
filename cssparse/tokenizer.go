// Package cssparse implements the CSS parser/extractor: a hand-rolled CSS
// tokenizer and declaration extractor that turns raw stylesheet bytes into
// an Observations bag. No CSS parsing library exists anywhere in the
// surveyed ecosystem corpus (see DESIGN.md), so this is a small recursive
// descent scanner over the stylesheet body.
package cssparse

import "strings"

// rawRule is one parsed `selector { declarations }` block, or one
// `@media (...)` block containing nested rawRules.
type rawRule struct {
	selectors []string
	decls     []rawDecl
	atMedia   string // non-empty if this rule is inside @media(...)
	children  []rawRule
}

type rawDecl struct {
	property string
	value    string
}

// tokenize performs a brace-matching pass over body, splitting it into
// top-level rules and @media blocks. String literals are skipped so
// braces inside them never confuse block boundaries; comments are skipped
// only where they precede a rule, not inside a selector or block body.
func tokenize(body string) []rawRule {
	var rules []rawRule
	i := 0
	n := len(body)

	for i < n {
		// skip whitespace
		for i < n && isSpace(body[i]) {
			i++
		}
		if i >= n {
			break
		}
		// skip comments
		if strings.HasPrefix(body[i:], "/*") {
			end := strings.Index(body[i+2:], "*/")
			if end < 0 {
				break
			}
			i = i + 2 + end + 2
			continue
		}

		headerStart := i
		depth := 0
		for i < n {
			c := body[i]
			if c == '\'' || c == '"' {
				i = skipString(body, i)
				continue
			}
			if c == '{' {
				depth++
				i++
				break
			}
			if c == ';' && depth == 0 {
				// an at-rule with no block (e.g. @import), skip the statement
				i++
				headerStart = i
				continue
			}
			i++
		}
		if i >= n {
			break
		}
		header := strings.TrimSpace(body[headerStart : i-1])

		bodyStart := i
		blockDepth := 1
		for i < n && blockDepth > 0 {
			c := body[i]
			if c == '\'' || c == '"' {
				i = skipString(body, i)
				continue
			}
			if c == '{' {
				blockDepth++
			} else if c == '}' {
				blockDepth--
			}
			i++
		}
		inner := body[bodyStart : i-1]

		if strings.HasPrefix(header, "@media") {
			children := tokenize(inner)
			rules = append(rules, rawRule{atMedia: header, children: children})
			continue
		}
		if strings.HasPrefix(header, "@") {
			// other at-rules (@font-face, @keyframes, @supports, ...): treat
			// their body as plain declarations/nested rules best-effort.
			children := tokenize(inner)
			if len(children) == 0 {
				rules = append(rules, rawRule{selectors: []string{header}, decls: parseDecls(inner)})
			} else {
				rules = append(rules, children...)
			}
			continue
		}

		selectors := splitSelectors(header)
		rules = append(rules, rawRule{selectors: selectors, decls: parseDecls(inner)})
	}

	return rules
}

// ExtractImports scans body for top-level `@import` statements and returns
// each one's raw (unresolved) target, in source order. Per the CSS spec
// @import statements only have effect at the top of a stylesheet, so
// imports nested inside a block are not collected.
func ExtractImports(body string) []string {
	var imports []string
	i := 0
	n := len(body)

	for i < n {
		for i < n && isSpace(body[i]) {
			i++
		}
		if i >= n {
			break
		}
		if strings.HasPrefix(body[i:], "/*") {
			end := strings.Index(body[i+2:], "*/")
			if end < 0 {
				break
			}
			i = i + 2 + end + 2
			continue
		}

		headerStart := i
		depth := 0
		isBlock := false
		for i < n {
			c := body[i]
			if c == '\'' || c == '"' {
				i = skipString(body, i)
				continue
			}
			if c == '{' {
				depth++
				i++
				if depth == 1 {
					isBlock = true
					break
				}
				continue
			}
			if c == ';' && depth == 0 {
				i++
				break
			}
			i++
		}
		if i > n {
			break
		}
		header := strings.TrimSpace(body[headerStart : i-1])

		if isBlock {
			blockDepth := 1
			for i < n && blockDepth > 0 {
				c := body[i]
				if c == '\'' || c == '"' {
					i = skipString(body, i)
					continue
				}
				if c == '{' {
					blockDepth++
				} else if c == '}' {
					blockDepth--
				}
				i++
			}
			continue
		}

		if strings.HasPrefix(strings.ToLower(header), "@import") {
			if target := parseImportTarget(header); target != "" {
				imports = append(imports, target)
			}
		}
	}
	return imports
}

func parseImportTarget(header string) string {
	rest := strings.TrimSpace(header[len("@import"):])
	if rest == "" {
		return ""
	}
	lower := strings.ToLower(rest)
	if strings.HasPrefix(lower, "url(") {
		close := strings.Index(rest, ")")
		if close < 0 {
			return ""
		}
		return unquoteImport(strings.TrimSpace(rest[4:close]))
	}
	if rest[0] == '"' || rest[0] == '\'' {
		end := skipString(rest, 0)
		return unquoteImport(rest[:end])
	}
	return ""
}

func unquoteImport(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func splitSelectors(header string) []string {
	parts := splitTopLevel(header, ',')
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDecls(body string) []rawDecl {
	parts := splitTopLevel(body, ';')
	var out []rawDecl
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx := strings.Index(p, ":")
		if idx < 0 {
			continue // invalid declaration: dropped here, not counted in InvalidDeclarations
		}
		prop := strings.ToLower(strings.TrimSpace(p[:idx]))
		val := strings.TrimSpace(p[idx+1:])
		if prop == "" || val == "" {
			continue
		}
		out = append(out, rawDecl{property: prop, value: val})
	}
	return out
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// parentheses or string literals (needed for values like
// `rgba(0,0,0,.5)` or selector lists with `:not(a, b)`).
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'', '"':
			i = skipString(s, i) - 1
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if c == sep && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func skipString(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		if s[i] == '\\' {
			i += 2
			continue
		}
		if s[i] == quote {
			return i + 1
		}
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
