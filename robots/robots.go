// Package robots fetches and evaluates robots.txt for the Fetcher. No
// robots.txt parsing library exists anywhere in the surveyed ecosystem
// corpus, so this is a small hand-rolled evaluator: a
// User-agent/Disallow/Allow line parser plus longest-match-wins rule
// selection, matching the level of hand-rolled text parsing used
// elsewhere in this codebase for small internal grammars.
package robots

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status mirrors store.Robots* without importing the store package.
type Status string

const (
	Allowed    Status = "allowed"
	Disallowed Status = "disallowed"
	Unknown    Status = "unknown"
)

type rule struct {
	prefix string
	allow  bool
}

// Policy is a parsed robots.txt, scoped to the rules applying to a given
// user agent (falling back to "*").
type Policy struct {
	rules []rule
}

// Fetch retrieves and parses robots.txt for the site hosting target.
// Absence of a robots.txt (any non-2xx status, including 404) is treated
// as Unknown -> Allowed: an unknown policy never blocks a scan.
func Fetch(ctx context.Context, client *http.Client, target *url.URL, userAgent string) (*Policy, Status) {
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, Unknown
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, Unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Unknown
	}

	p := Parse(resp.Body, userAgent)
	return p, Unknown
}

// Parse reads a robots.txt body and returns the Policy scoped to
// userAgent's group (or "*" if no specific group matches).
func Parse(body io.Reader, userAgent string) *Policy {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	type group struct {
		agents []string
		rules  []rule
	}
	var groups []group
	var current *group

	flush := func() {
		if current != nil {
			groups = append(groups, *current)
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
			line = strings.TrimSpace(line)
		}
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			if current != nil && len(current.rules) > 0 {
				flush()
				current = nil
			}
			if current == nil {
				current = &group{}
			}
			current.agents = append(current.agents, strings.ToLower(val))
		case "disallow":
			if current == nil {
				current = &group{agents: []string{"*"}}
			}
			if val != "" {
				current.rules = append(current.rules, rule{prefix: val, allow: false})
			}
		case "allow":
			if current == nil {
				current = &group{agents: []string{"*"}}
			}
			if val != "" {
				current.rules = append(current.rules, rule{prefix: val, allow: true})
			}
		}
	}
	flush()

	ua := strings.ToLower(userAgent)
	var specific, wildcard []rule
	for _, g := range groups {
		for _, a := range g.agents {
			if a == "*" {
				wildcard = append(wildcard, g.rules...)
			} else if strings.Contains(ua, a) {
				specific = append(specific, g.rules...)
			}
		}
	}
	if len(specific) > 0 {
		return &Policy{rules: specific}
	}
	return &Policy{rules: wildcard}
}

// Allowed reports whether path is allowed under the policy, using
// longest-matching-prefix-wins semantics. A nil policy (no robots.txt
// found) always allows.
func (p *Policy) Allowed(path string) bool {
	if p == nil {
		return true
	}
	bestLen := -1
	bestAllow := true
	for _, r := range p.rules {
		if strings.HasPrefix(path, r.prefix) && len(r.prefix) > bestLen {
			bestLen = len(r.prefix)
			bestAllow = r.allow
		}
	}
	return bestAllow
}
