// Package orchestrator implements the scan orchestrator: the state
// machine that drives a single scan through
// queued → fetching → parsing → analyzing → diffing → completed (with
// failed/canceled branches), enforcing phase timeouts, the per-site
// version-write mutex, the global scan/fetch semaphores, and
// revalidation-window memoization.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/concurrency"
	"github.com/tokenforge/scanner/config"
	"github.com/tokenforge/scanner/csstore"
	"github.com/tokenforge/scanner/enrich"
	"github.com/tokenforge/scanner/fetch"
	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/progress"
	"github.com/tokenforge/scanner/redisclient"
	"github.com/tokenforge/scanner/scanerr"
	"github.com/tokenforge/scanner/stats"
	"github.com/tokenforge/scanner/store"
)

// Quality selects which phases of the pipeline run: fast/standard/premium
// modes differ in which phases they enable, and this implementation
// defines the mapping explicitly.
//
//   - fast:     static fetch only; parse + analyze on a reduced sample;
//     no layout archetype detection; Enricher skipped.
//   - standard: static fetch; full parse/analyze/layout; Enricher runs
//     with its default budget.
//   - premium:  computed-mode fetch (headless render included); full
//     parse/analyze/layout; Enricher runs with an extended budget.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
)

const (
	parsePhaseTimeout   = 20 * time.Second
	analyzePhaseTimeout = 10 * time.Second
	diffPhaseTimeout    = 5 * time.Second

	overallTimeoutStatic   = 120 * time.Second
	overallTimeoutComputed = 180 * time.Second

	fetchConcurrencyPerScan = 8

	// globalSemaphoreKey is the single key both the scan and fetch
	// semaphores are acquired under, since concurrency is gated
	// process-wide, not per site.
	globalSemaphoreKey = "global"

	enrichBudgetStandard = 3 * time.Second
	enrichBudgetPremium  = 10 * time.Second
)

// ProgressPublisher is satisfied by *progress.Hub directly, or by a
// *redisclient.ProgressFanout that also mirrors events to every other
// replica subscribed to the same scan over Redis pub-sub.
type ProgressPublisher interface {
	Publish(scanID string, ev progress.Event)
}

// Orchestrator wires together every pipeline component and owns the
// concurrency primitives that serialize/bound scans across the process.
type Orchestrator struct {
	cfg       *config.Config
	db        *store.Store
	css       *csstore.Store
	fetcher   *fetch.Fetcher
	enrichers *enrich.Registry
	metrics   *observability.Metrics
	progress  ProgressPublisher
	stats     *stats.Aggregator
	log       zerolog.Logger

	siteMu   *concurrency.KeyedMutex
	scanSem  *concurrency.Semaphore
	fetchSem *concurrency.Semaphore
	dedup    *concurrency.Deduplicator

	// distSem bounds concurrent scans across every replica sharing a
	// Redis instance, on top of scanSem's process-local bound. Nil when
	// the deployment has no Redis configured — the orchestrator then
	// relies on scanSem alone, same as before Redis was wired in.
	distSem *redisclient.Semaphore

	inFlightScans *concurrency.AtomicCounter
}

// New builds an Orchestrator from its collaborators. The Orchestrator
// owns the lifetime of none of them except the concurrency primitives it
// creates itself. pub is typically the same *progress.Hub the API layer
// subscribes against; distSem is nil unless Redis is configured.
func New(cfg *config.Config, db *store.Store, css *csstore.Store, fetcher *fetch.Fetcher,
	enrichers *enrich.Registry, metrics *observability.Metrics, pub ProgressPublisher, statsAgg *stats.Aggregator,
	distSem *redisclient.Semaphore, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		db:        db,
		css:       css,
		fetcher:   fetcher,
		enrichers: enrichers,
		metrics:   metrics,
		progress:  pub,
		stats:     statsAgg,
		distSem:   distSem,
		log:       log,

		siteMu:        concurrency.NewKeyedMutex(),
		scanSem:       concurrency.NewSemaphore(cfg.MaxConcurrentScans),
		fetchSem:      concurrency.NewSemaphore(cfg.MaxConcurrentFetches),
		dedup:         concurrency.NewDeduplicator(),
		inFlightScans: &concurrency.AtomicCounter{},
	}
}

// Submit starts (or reuses) a scan for rawURL at the given quality and
// returns its scan id. cached reports whether an existing completed scan
// within the revalidation window was returned instead of starting a new
// one. For a freshly started scan, Submit returns as soon as the Scan row
// exists and the pipeline is dispatched — it does not wait for the scan
// to finish; callers follow progress via the progress.Hub keyed on
// scanID. A concurrent Submit for the same URL+quality instead waits for
// that dispatched scan to actually finish, since it needs a real result.
func (o *Orchestrator) Submit(ctx context.Context, rawURL string, quality Quality) (scanID string, cached bool, err error) {
	u, perr := url.Parse(rawURL)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false, scanerr.New(scanerr.BadRequest, "orchestrator", "invalid url")
	}
	domain := strings.ToLower(u.Host)

	site, err := o.db.GetOrCreateSite(ctx, domain)
	if err != nil {
		return "", false, fmt.Errorf("orchestrator: get or create site: %w", err)
	}

	fingerprint := domain + "|" + string(quality)

	if entry, isNew := o.dedup.TryStart(fingerprint); !isNew {
		<-entry.Done
		return entry.ScanID, true, entry.Err
	}

	if prior, perr := o.db.LatestCompletedScan(ctx, site.ID); perr == nil {
		age := time.Since(timeOrZero(prior.FinishedAt))
		if age < o.cfg.RevalidateAfter {
			o.dedup.Complete(fingerprint, prior.ID, nil)
			return prior.ID, true, nil
		}
	}

	if !o.scanSem.Acquire(globalSemaphoreKey, o.overallTimeout(quality)) {
		err := scanerr.New(scanerr.ResourceExceeded, "orchestrator", "no scan slot available within overall timeout")
		o.dedup.Complete(fingerprint, "", err)
		return "", false, err
	}
	if o.distSem != nil && !o.distSem.Acquire(globalSemaphoreKey, o.overallTimeout(quality)) {
		o.scanSem.Release(globalSemaphoreKey)
		err := scanerr.New(scanerr.ResourceExceeded, "orchestrator", "no distributed scan slot available within overall timeout")
		o.dedup.Complete(fingerprint, "", err)
		return "", false, err
	}

	mode := fetch.ModeStatic
	if quality == QualityPremium {
		mode = fetch.ModeComputed
	}
	_, priorErr := o.db.LatestCompletedScan(ctx, site.ID)
	siteIsNew := errors.Is(priorErr, store.ErrNotFound)

	scanID = newScanID()
	if _, err := o.db.CreateScan(ctx, scanID, site.ID, string(mode)); err != nil {
		if o.distSem != nil {
			o.distSem.Release(globalSemaphoreKey)
		}
		o.scanSem.Release(globalSemaphoreKey)
		err = fmt.Errorf("orchestrator: create scan: %w", err)
		o.dedup.Complete(fingerprint, "", err)
		return "", false, err
	}
	if err := o.db.SetSiteStatus(ctx, site.ID, store.SiteScanning); err != nil {
		o.log.Warn().Err(err).Msg("failed to mark site scanning")
	}

	o.inFlightScans.Inc()
	rootURL := u.String()
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer o.inFlightScans.Add(-1)
		if o.distSem != nil {
			defer o.distSem.Release(globalSemaphoreKey)
		}
		defer o.scanSem.Release(globalSemaphoreKey)
		runErr := o.runScan(runCtx, site, rootURL, quality, scanID, mode, siteIsNew)
		o.dedup.Complete(fingerprint, scanID, runErr)
	}()

	return scanID, false, nil
}

func (o *Orchestrator) overallTimeout(q Quality) time.Duration {
	if q == QualityPremium {
		return overallTimeoutComputed
	}
	return overallTimeoutStatic
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// newQuantumGate returns a callback that reports true at most once per
// 5-percentage-point increment of the percent it is called with,
// collapsing a high-frequency byte/declaration counter down to the
// ≥5%-quantum progress event granularity.
func newQuantumGate() func(percent float64) bool {
	last := -1
	return func(percent float64) bool {
		bucket := int(percent / 5)
		if bucket <= last {
			return false
		}
		last = bucket
		return true
	}
}

// runScan drives one already-created scan through the rest of the state
// machine (fetch → parse → analyze → diff → complete). The Scan row and
// SiteScanning transition are the caller's responsibility, made before
// this is dispatched, so a subscriber that connects to the progress
// stream immediately after Submit returns never races the row's own
// creation.
func (o *Orchestrator) runScan(ctx context.Context, site store.Site, rootURL string, quality Quality, scanID string, mode fetch.Mode, siteIsNew bool) error {
	total := 5
	emit := func(step int, phase, message string) {
		o.progress.Publish(scanID, progress.Event{
			Type: progress.EventProgress, Step: step, TotalSteps: total,
			Phase: phase, Message: message, At: time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, o.overallTimeout(quality))
	defer cancel()

	emit(1, "fetching", "retrieving document and stylesheets")
	fetchGate := newQuantumGate()
	onBytes := func(totalBytes int) {
		if pct := 100 * float64(totalBytes) / float64(fetch.MaxTotalBytes); fetchGate(pct) {
			o.progress.Publish(scanID, progress.Event{
				Type: progress.EventProgress, Step: 1, TotalSteps: total,
				Phase: "fetching", Message: "retrieving document and stylesheets",
				Details: []string{fmt.Sprintf("%d bytes fetched", totalBytes)}, At: time.Now(),
			})
		}
	}
	bundle, err := o.runFetch(ctx, site, rootURL, mode, onBytes)
	if err != nil {
		if se, ok := err.(*scanerr.Error); ok && se.Kind == scanerr.RobotsDenied {
			_ = o.db.SetSiteRobotsStatus(ctx, site.ID, store.RobotsDisallowed)
		}
		return o.fail(ctx, scanID, site.ID, err)
	}
	_ = o.db.SetSiteRobotsStatus(ctx, site.ID, store.RobotsAllowed)

	if err := o.checkMemoryCeiling(bundle); err != nil {
		return o.fail(ctx, scanID, site.ID, err)
	}

	contentHash, err := o.persistSources(ctx, scanID, bundle)
	if err != nil {
		return o.fail(ctx, scanID, site.ID, err)
	}

	emit(2, "parsing", "extracting raw CSS observations")
	parseGate := newQuantumGate()
	onDecl := func(declDone, declTotal int) {
		if declTotal == 0 {
			return
		}
		if pct := 100 * float64(declDone) / float64(declTotal); parseGate(pct) {
			o.progress.Publish(scanID, progress.Event{
				Type: progress.EventProgress, Step: 2, TotalSteps: total,
				Phase: "parsing", Message: "extracting raw CSS observations",
				Details: []string{fmt.Sprintf("%d/%d declarations parsed", declDone, declTotal)}, At: time.Now(),
			})
		}
	}
	obs, css, err := o.runParse(ctx, bundle, quality, onDecl)
	if err != nil {
		return o.fail(ctx, scanID, site.ID, err)
	}
	if o.metrics != nil {
		o.metrics.TrackParserInvalidDeclarations(int64(obs.InvalidDeclarations))
	}

	emit(3, "analyzing", "clustering observations into tokens")
	set, layoutProfile, err := o.runAnalyze(ctx, obs, css, quality)
	if err != nil {
		return o.fail(ctx, scanID, site.ID, err)
	}

	if quality != QualityFast {
		budget := enrichBudgetStandard
		if quality == QualityPremium {
			budget = enrichBudgetPremium
		}
		set = o.enrichers.Run(ctx, set, budget, o.metrics, o.log)
	}

	emit(4, "diffing", "comparing against prior token set")
	// Concurrent scans of the same site fetch and parse in parallel; only
	// the version write is serialized, so version numbers stay gap-free
	// and each diff sees the predecessor it is numbered against.
	unlock := o.siteMu.Lock(site.Domain)
	tokenSetID, versionNumber, err := o.runDiff(ctx, site.ID, scanID, set)
	unlock()
	if err != nil {
		return o.fail(ctx, scanID, site.ID, err)
	}

	if layoutProfile != nil {
		profileJSON, merr := json.Marshal(layoutProfile)
		if merr == nil {
			if err := o.db.SaveLayoutProfile(ctx, scanID, string(profileJSON)); err != nil {
				o.log.Warn().Err(err).Msg("failed to persist layout profile")
			}
		}
	}

	metricsJSON, _ := json.Marshal(map[string]interface{}{
		"token_set_id":   tokenSetID,
		"version_number": versionNumber,
		"quality":        quality,
	})
	if err := o.db.CompleteScan(ctx, scanID, len(bundle.Sources), contentHash, string(metricsJSON)); err != nil {
		return fmt.Errorf("orchestrator: complete scan: %w", err)
	}
	if err := o.db.MarkSiteScanned(ctx, site.ID, "", "", ""); err != nil {
		o.log.Warn().Err(err).Msg("failed to mark site scanned")
	}

	if o.stats != nil {
		if err := o.stats.OnScanCompleted(ctx, siteIsNew, set); err != nil {
			o.log.Warn().Err(err).Msg("failed to apply stats delta")
		}
	}

	o.progress.Publish(scanID, progress.Event{
		Type: progress.EventCompleted, Step: total, TotalSteps: total,
		Phase: "completed", Message: "scan completed", At: time.Now(),
	})
	if o.metrics != nil {
		o.metrics.TrackScanCompletion(string(mode), "", 0)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, scanID string, siteID int64, err error) error {
	kind := scanerr.Internal
	if se, ok := err.(*scanerr.Error); ok {
		kind = se.Kind
	}
	// The scan's own context may already be expired (timeout, cancel); use
	// a fresh one so the terminal bookkeeping write is not itself lost.
	bookkeepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = o.db.FailScan(bookkeepCtx, scanID, string(kind), err.Error())
	_ = o.db.SetSiteStatus(bookkeepCtx, siteID, store.SiteFailed)
	o.progress.Publish(scanID, progress.Event{
		Type: progress.EventFailed, Message: err.Error(), At: time.Now(),
	})
	if o.metrics != nil {
		o.metrics.TrackScanCompletion("", string(kind), 0)
	}
	return err
}

func (o *Orchestrator) checkMemoryCeiling(bundle fetchResult) error {
	var total int
	total += len(bundle.HTML)
	for _, s := range bundle.Sources {
		total += len(s.Body)
	}
	ceiling := o.cfg.ScanMemoryCeilingMB * 1024 * 1024
	if total > ceiling {
		return scanerr.New(scanerr.ResourceExceeded, "orchestrator",
			fmt.Sprintf("decompressed bundle %d bytes exceeds %d byte ceiling", total, ceiling))
	}
	return nil
}

func (o *Orchestrator) persistSources(ctx context.Context, scanID string, bundle fetchResult) (string, error) {
	hasher := sha256.New()
	for idx, src := range bundle.Sources {
		origin, ok := csstore.ParseOrigin(src.OriginKind)
		if !ok {
			return "", scanerr.New(scanerr.Internal, "orchestrator", fmt.Sprintf("unrecognized css source origin %q", src.OriginKind))
		}

		sha, _, err := o.css.Put(ctx, src.Body)
		if err != nil {
			return "", scanerr.Wrap(scanerr.StorageConflict, "orchestrator", "failed to store css source", err)
		}
		if err := o.db.CreateCSSSource(ctx, scanID, sha, src.OriginURL, src.OriginKind, idx, src.CrossSiteRedirect); err != nil {
			return "", scanerr.Wrap(scanerr.StorageConflict, "orchestrator", "failed to record css source", err)
		}
		hasher.Write([]byte(sha))
		o.log.Debug().Str("scan_id", scanID).Str("source", csstore.KeyForOrigin(origin, src.OriginURL)).Str("sha", sha).Msg("persisted css source")
		if o.metrics != nil {
			o.metrics.TrackCSSStoreEvent("put", false)
			o.metrics.TrackFetchBytes(src.OriginKind, int64(len(src.Body)))
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func newScanID() string {
	return "scan_" + randomHex(16)
}
