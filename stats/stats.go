// Package stats maintains the materialized global-counts row consumed by
// the query API's /stats endpoint: total sites/scans/token sets/tokens,
// a per-category breakdown, and the average token confidence. It is kept
// fresh two ways — an incremental delta applied on every scan completion,
// and a full recompute from the base tables on a fixed interval, as a
// guard against drift between the two paths.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/concurrency"
	"github.com/tokenforge/scanner/store"
	"github.com/tokenforge/scanner/tokens"
)

const defaultRecomputeInterval = 10 * time.Minute

// Aggregator owns the stats_cache singleton row. All writers must go
// through it — direct UPDATEs from elsewhere would race the delta and
// recompute paths against each other.
type Aggregator struct {
	db       *store.Store
	log      zerolog.Logger
	interval time.Duration

	mu     sync.Mutex // serializes read-modify-write of the cache row
	stopCh chan struct{}

	scansSinceRecompute concurrency.AtomicCounter
}

// New builds an Aggregator backed by db. interval governs the full
// recompute guard; zero defaults to 10 minutes.
func New(db *store.Store, log zerolog.Logger, interval time.Duration) *Aggregator {
	if interval == 0 {
		interval = defaultRecomputeInterval
	}
	return &Aggregator{
		db:       db,
		log:      log.With().Str("component", "stats_aggregator").Logger(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background full-recompute loop.
func (a *Aggregator) Start() {
	go a.loop()
	a.log.Info().Dur("interval", a.interval).Msg("stats aggregator started")
}

// Stop halts the background loop. OnScanCompleted remains safe to call
// after Stop; only the ticker-driven recompute is affected.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	a.log.Info().Msg("stats aggregator stopped")
}

func (a *Aggregator) loop() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.Recompute(ctx); err != nil {
				a.log.Warn().Err(err).Msg("stats recompute failed")
			}
			cancel()
		}
	}
}

// OnScanCompleted applies the incremental delta for one freshly completed
// scan: one more TokenSet, its token count folded into the per-category
// breakdown and the running average confidence. siteIsNew reports whether
// this scan's site had no prior completed scan, so total_sites advances
// exactly once per site.
func (a *Aggregator) OnScanCompleted(ctx context.Context, siteIsNew bool, set *tokens.Set) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.db.GetStatsCache(ctx)
	if err != nil {
		return fmt.Errorf("stats: read cache: %w", err)
	}

	categories := map[string]int64{}
	if cur.PerCategoryJSON != "" {
		if err := json.Unmarshal([]byte(cur.PerCategoryJSON), &categories); err != nil {
			return fmt.Errorf("stats: decode per-category cache: %w", err)
		}
	}

	var confidenceSum float64
	for _, t := range set.Tokens {
		categories[string(t.Category)]++
		confidenceSum += t.Extensions.Confidence
	}

	newTotalTokens := cur.TotalTokens + int64(len(set.Tokens))
	newAvg := cur.AverageConfidence
	if newTotalTokens > 0 {
		newAvg = (cur.AverageConfidence*float64(cur.TotalTokens) + confidenceSum) / float64(newTotalTokens)
	}

	catJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("stats: encode per-category: %w", err)
	}

	var deltaSites int64
	if siteIsNew {
		deltaSites = 1
	}

	if err := a.db.ApplyStatsDelta(ctx, deltaSites, 1, 1, int64(len(set.Tokens)), string(catJSON), newAvg); err != nil {
		return fmt.Errorf("stats: apply delta: %w", err)
	}
	a.scansSinceRecompute.Inc()
	return nil
}

// Recompute derives every stats_cache field from the base tables directly
// and overwrites the row wholesale, correcting any drift the incremental
// path may have accumulated.
func (a *Aggregator) Recompute(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sites, scans, tokenSets, err := a.db.RecomputeCounts(ctx)
	if err != nil {
		return fmt.Errorf("stats: recompute counts: %w", err)
	}

	all, err := a.db.AllTokenSets(ctx)
	if err != nil {
		return fmt.Errorf("stats: load token sets: %w", err)
	}

	categories := map[string]int64{}
	var totalTokens int64
	var confidenceSum float64
	for _, ts := range all {
		var set tokens.Set
		if err := json.Unmarshal([]byte(ts.TokensJSON), &set); err != nil {
			a.log.Warn().Err(err).Str("token_set_id", ts.ID).Msg("skipping unparseable token set during recompute")
			continue
		}
		for _, t := range set.Tokens {
			categories[string(t.Category)]++
			confidenceSum += t.Extensions.Confidence
			totalTokens++
		}
	}

	var avg float64
	if totalTokens > 0 {
		avg = confidenceSum / float64(totalTokens)
	}

	catJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("stats: encode per-category: %w", err)
	}

	row := store.StatsCacheRow{
		TotalSites:        sites,
		TotalScans:        scans,
		TotalTokenSets:    tokenSets,
		TotalTokens:       totalTokens,
		PerCategoryJSON:   string(catJSON),
		AverageConfidence: avg,
	}
	if err := a.db.ReplaceStatsCache(ctx, row); err != nil {
		return fmt.Errorf("stats: replace cache: %w", err)
	}
	a.scansSinceRecompute.Reset()
	return nil
}
