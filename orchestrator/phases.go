package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/tokenforge/scanner/consensus"
	"github.com/tokenforge/scanner/cssparse"
	"github.com/tokenforge/scanner/fetch"
	"github.com/tokenforge/scanner/layout"
	"github.com/tokenforge/scanner/scanerr"
	"github.com/tokenforge/scanner/store"
	"github.com/tokenforge/scanner/tokens"
	"github.com/tokenforge/scanner/version"
)

var retryBackoff = []time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second}

// tokenSetResult aliases tokens.Set within orchestrator phase signatures.
type tokenSetResult = tokens.Set

// fetchResult mirrors fetch.Bundle; kept as a distinct local alias so the
// orchestrator's own phase boundaries don't leak the fetcher's internal
// type name into callers that only deal with scan phases.
type fetchResult = fetch.Bundle

// runFetch retrieves the document and CSS, retrying transient failures
// (network reset, upstream 5xx) with exponential backoff. onBytes, if
// non-nil, is called with the running total of bytes collected so far
// (the HTML document plus every CSS source) as the fetch progresses.
func (o *Orchestrator) runFetch(ctx context.Context, site store.Site, rootURL string, mode fetch.Mode, onBytes func(totalBytes int)) (fetchResult, error) {
	target := rootURL

	fetchTimeout := 45 * time.Second
	if mode == fetch.ModeComputed {
		fetchTimeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	if !o.fetchSem.Acquire(globalSemaphoreKey, fetchTimeout) {
		return fetchResult{}, scanerr.New(scanerr.ResourceExceeded, "fetch", "no fetch slot available")
	}
	defer o.fetchSem.Release(globalSemaphoreKey)

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		bundle, err := o.fetcher.FetchWithProgress(ctx, target, mode, onBytes)
		if err == nil {
			return bundle, nil
		}
		lastErr = err

		if !isTransient(err) || attempt == len(retryBackoff) {
			return fetchResult{}, err
		}
		select {
		case <-ctx.Done():
			return fetchResult{}, scanerr.Wrap(scanerr.Timeout, "fetch", "fetch phase deadline exceeded", ctx.Err())
		case <-time.After(retryBackoff[attempt]):
		}
	}
	return fetchResult{}, lastErr
}

func isTransient(err error) bool {
	var se *scanerr.Error
	if errors.As(err, &se) {
		return se.Kind == scanerr.Unreachable || se.Kind == scanerr.Timeout
	}
	return false
}

// runParse concatenates every discovered CSS source (preserving cascade
// order) and extracts raw observations. In fast quality mode only the
// first source is parsed, trading completeness for latency. onDecl, if
// non-nil, is called with (declarations processed, total declarations)
// as parsing progresses.
func (o *Orchestrator) runParse(ctx context.Context, bundle fetchResult, quality Quality, onDecl func(done, total int)) (*cssparse.Observations, string, error) {
	ctx, cancel := context.WithTimeout(ctx, parsePhaseTimeout)
	defer cancel()

	sources := bundle.Sources
	if quality == QualityFast && len(sources) > 1 {
		sources = sources[:1]
	}

	var b strings.Builder
	for _, s := range sources {
		b.Write(s.Body)
		b.WriteByte('\n')
	}
	css := b.String()

	done := make(chan *cssparse.Observations, 1)
	go func() { done <- cssparse.ExtractWithProgress(css, onDecl) }()

	select {
	case <-ctx.Done():
		return nil, "", scanerr.New(scanerr.Timeout, "parse", "parse phase exceeded 20s budget")
	case obs := <-done:
		return obs, css, nil
	}
}

// runAnalyze clusters observations into a TokenSet and (outside fast
// mode) derives the layout profile from the same CSS text.
func (o *Orchestrator) runAnalyze(ctx context.Context, obs *cssparse.Observations, css string, quality Quality) (*tokenSetResult, *layout.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, analyzePhaseTimeout)
	defer cancel()

	type result struct {
		set     *tokenSetResult
		profile *layout.Profile
	}
	done := make(chan result, 1)
	go func() {
		set := consensus.Analyze(obs)
		var profile *layout.Profile
		if quality != QualityFast {
			base := consensus.InferSpacingBase(obs.Spacing)
			spacingTokens := consensus.ClusterSpacing(obs.Spacing, base)
			p := layout.Derive(css, base, spacingTokens)
			profile = &p
		}
		done <- result{set: set, profile: profile}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, scanerr.New(scanerr.Timeout, "analyze", "analyze phase exceeded 10s budget")
	case r := <-done:
		return r.set, r.profile, nil
	}
}

// runDiff commits the new TokenSet against the site's prior version
// within the diff phase's 5s budget.
func (o *Orchestrator) runDiff(ctx context.Context, siteID int64, scanID string, set *tokenSetResult) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, diffPhaseTimeout)
	defer cancel()

	type result struct {
		tokenSetID string
		versionNum int64
		err        error
	}
	done := make(chan result, 1)
	go func() {
		id, v, err := version.Commit(ctx, o.db, siteID, scanID, set)
		done <- result{tokenSetID: id, versionNum: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", 0, scanerr.New(scanerr.Timeout, "diff", "diff phase exceeded 5s budget")
	case r := <-done:
		if r.err != nil {
			return "", 0, scanerr.Wrap(scanerr.StorageConflict, "diff", "failed to commit token version", r.err)
		}
		return r.tokenSetID, r.versionNum, nil
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
