// Package fetch implements the fetcher: retrieving an HTML document and
// enumerating its CSS sources (linked, inline, and — in computed mode —
// a synthesized computed-style sheet from a bounded headless render).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/robots"
	"github.com/tokenforge/scanner/scanerr"
)

// Mode selects how CSS is discovered.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeComputed Mode = "computed"
)

// Size caps.
const (
	MaxHTMLBytes       = 5 * 1024 * 1024
	MaxStylesheetBytes = 8 * 1024 * 1024
	MaxTotalBytes       = 40 * 1024 * 1024
	MaxImportDepth      = 4
	MaxRedirects        = 5
)

// Source is one discovered CSS origin.
type Source struct {
	OriginURL         string // empty for inline/computed
	OriginKind        string // "linked" | "inline" | "computed"
	Body              []byte
	CrossSiteRedirect bool
}

// Bundle is the Fetcher's result: the HTML body plus all CSS sources in
// cascade order.
type Bundle struct {
	HTML    []byte
	Sources []Source
}

// Fetcher retrieves HTML + CSS for a URL.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New builds a Fetcher sharing a single bounded transport across all
// fetches, in the same shape as the provider connection pool it is
// adapted from.
func New(userAgent string, perRequestTimeout time.Duration) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   perRequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch retrieves url in the given mode, honoring robots.txt and the
// size/time caps above.
func (f *Fetcher) Fetch(ctx context.Context, target string, mode Mode) (Bundle, error) {
	return f.FetchWithProgress(ctx, target, mode, nil)
}

// FetchWithProgress is Fetch, plus onBytes invoked with the running total
// of bytes collected so far (the HTML document plus every CSS source):
// once after the document is fetched, then each time a new source
// (linked, imported, inline, or computed) is added to the bundle.
// onBytes may be nil.
func (f *Fetcher) FetchWithProgress(ctx context.Context, target string, mode Mode, onBytes func(totalBytes int)) (Bundle, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Bundle{}, scanerr.New(scanerr.BadRequest, "fetch", "invalid url")
	}

	policy, _ := robots.Fetch(ctx, f.client, u, f.userAgent)
	if !policy.Allowed(u.Path) {
		return Bundle{}, scanerr.New(scanerr.RobotsDenied, "fetch", "robots.txt disallows this path")
	}

	html, finalHost, err := f.fetchLimited(ctx, u.String(), MaxHTMLBytes)
	if err != nil {
		var se *scanerr.Error
		if errors.As(err, &se) && se.Kind == scanerr.ResourceExceeded {
			return Bundle{}, se
		}
		return Bundle{}, scanerr.Wrap(scanerr.Unreachable, "fetch", "failed to fetch document", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return Bundle{}, scanerr.Wrap(scanerr.ParseFailure, "fetch", "failed to parse html", err)
	}

	bundle := Bundle{HTML: html}
	total := len(html)
	visited := map[string]bool{}
	budgetExceeded := false
	emit := func() {
		if onBytes != nil {
			onBytes(total)
		}
	}
	emit()

	doc.Find("link[rel=stylesheet]").Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if total >= MaxTotalBytes {
			budgetExceeded = true
			return
		}
		resolved, err := u.Parse(href)
		if err != nil {
			return
		}
		key := resolved.String()
		if visited[key] {
			return
		}
		visited[key] = true

		body, host, ferr := f.fetchLimited(ctx, key, MaxStylesheetBytes)
		if ferr != nil {
			// Per-source failures are non-fatal.
			return
		}
		total += len(body)
		bundle.Sources = append(bundle.Sources, Source{
			OriginURL:         key,
			OriginKind:        "linked",
			Body:              body,
			CrossSiteRedirect: host != finalHost,
		})
		emit()

		if f.resolveImports(ctx, resolved, body, 1, visited, &total, &bundle.Sources, finalHost, onBytes) {
			budgetExceeded = true
		}
	})

	var inline strings.Builder
	doc.Find("style").Each(func(i int, sel *goquery.Selection) {
		inline.WriteString(sel.Text())
		inline.WriteString("\n")
	})
	doc.Find("[style]").Each(func(i int, sel *goquery.Selection) {
		if v, ok := sel.Attr("style"); ok {
			inline.WriteString("*{" + v + "}\n")
		}
	})
	if inline.Len() > 0 {
		inlineBody := []byte(inline.String())
		total += len(inlineBody)
		bundle.Sources = append(bundle.Sources, Source{OriginKind: "inline", Body: inlineBody})
		emit()
		if f.resolveImports(ctx, u, inlineBody, 1, visited, &total, &bundle.Sources, finalHost, onBytes) {
			budgetExceeded = true
		}
	}

	if mode == ModeComputed {
		computedCSS, cerr := FetchComputed(ctx, u.String(), f.client.Timeout)
		if cerr == nil && len(computedCSS) > 0 {
			total += len(computedCSS)
			bundle.Sources = append(bundle.Sources, Source{OriginKind: "computed", Body: computedCSS})
			emit()
		}
	}

	if budgetExceeded {
		return Bundle{}, scanerr.New(scanerr.ResourceExceeded, "fetch",
			fmt.Sprintf("total css bytes exceeded %d byte budget", MaxTotalBytes))
	}

	if len(bundle.Sources) == 0 {
		return bundle, scanerr.New(scanerr.EmptyCSS, "fetch", "no CSS bytes discovered")
	}

	return bundle, nil
}

// resolveImports follows `@import` chains found in body up to
// MaxImportDepth, resolved relative to base and deduped against visited
// so a cycle (A imports B imports A) terminates instead of looping. The
// MaxTotalBytes cap is shared with the rest of the fetch via total; it
// reports whether the cap was hit so the caller can fail the whole fetch
// per §4.1 rather than silently returning a partial source list.
func (f *Fetcher) resolveImports(ctx context.Context, base *url.URL, body []byte, depth int, visited map[string]bool, total *int, sources *[]Source, docHost string, onBytes func(totalBytes int)) bool {
	if depth > MaxImportDepth {
		return false
	}
	exceeded := false
	for _, raw := range cssparse.ExtractImports(string(body)) {
		if *total >= MaxTotalBytes {
			return true
		}
		resolved, err := base.Parse(raw)
		if err != nil {
			continue
		}
		key := resolved.String()
		if visited[key] {
			continue
		}
		visited[key] = true

		imported, host, ferr := f.fetchLimited(ctx, key, MaxStylesheetBytes)
		if ferr != nil {
			continue
		}
		*total += len(imported)
		*sources = append(*sources, Source{
			OriginURL:         key,
			OriginKind:        "linked",
			Body:              imported,
			CrossSiteRedirect: host != docHost,
		})
		if onBytes != nil {
			onBytes(*total)
		}

		if f.resolveImports(ctx, resolved, imported, depth+1, visited, total, sources, docHost, onBytes) {
			exceeded = true
		}
	}
	return exceeded
}

func (f *Fetcher) fetchLimited(ctx context.Context, target string, maxBytes int) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return nil, "", err
	}
	if len(body) > maxBytes {
		return nil, "", scanerr.New(scanerr.ResourceExceeded, "fetch", fmt.Sprintf("%s exceeds %d bytes", target, maxBytes))
	}
	host := resp.Request.URL.Host
	return body, host, nil
}
