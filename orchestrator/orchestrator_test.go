package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/config"
	"github.com/tokenforge/scanner/csstore"
	"github.com/tokenforge/scanner/enrich"
	"github.com/tokenforge/scanner/fetch"
	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/progress"
	"github.com/tokenforge/scanner/scanerr"
	"github.com/tokenforge/scanner/stats"
	"github.com/tokenforge/scanner/store"
)

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "scan.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cs, err := csstore.New(db, zerolog.Nop(), 30)
	if err != nil {
		t.Fatalf("csstore.New: %v", err)
	}

	cfg := &config.Config{
		MaxConcurrentScans:   4,
		MaxConcurrentFetches: 4,
		ScanMemoryCeilingMB:  256,
		RevalidateAfter:      15 * time.Minute,
		HardExpiry:           24 * time.Hour,
	}

	enrichers := enrich.NewRegistry()
	enrichers.Register(enrich.Identity{})

	f := fetch.New("tokenforge-scanner-test/1.0", 5*time.Second)
	metrics := observability.NewMetrics(zerolog.Nop())
	hub := progress.NewHub()
	statsAgg := stats.New(db, zerolog.Nop(), time.Hour)

	return New(cfg, db, cs, f, enrichers, metrics, hub, statsAgg, nil, zerolog.Nop())
}

func staticSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/style.css":
			w.Write([]byte(`
				.btn { color: #635bff; padding: 8px; }
				.btn-secondary { color: #0a2540; padding: 8px; }
			`))
		default:
			w.Write([]byte(`<html><head><link rel="stylesheet" href="/style.css"></head><body>hi</body></html>`))
		}
	}))
}

// awaitTerminalScan polls GetScan until it reaches a terminal status or
// the deadline elapses, since Submit now dispatches the pipeline
// asynchronously and returns before it finishes.
func awaitTerminalScan(t *testing.T, o *Orchestrator, scanID string) store.Scan {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		scan, err := o.db.GetScan(context.Background(), scanID)
		if err != nil {
			t.Fatalf("GetScan: %v", err)
		}
		if scan.Status == store.ScanCompleted || scan.Status == store.ScanFailed || scan.Status == store.ScanCanceled {
			return scan
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan %s did not reach a terminal status within deadline, last status %q", scanID, scan.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitFirstScanCompletesAndPersistsTokenSet(t *testing.T) {
	o := testOrchestrator(t)
	srv := staticSiteServer(t)
	defer srv.Close()

	scanID, cached, err := o.Submit(context.Background(), srv.URL, QualityStandard)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cached {
		t.Fatal("expected first scan to not be cached")
	}
	if scanID == "" {
		t.Fatal("expected non-empty scan id")
	}

	scan := awaitTerminalScan(t, o, scanID)
	if scan.Status != store.ScanCompleted {
		t.Fatalf("expected scan completed, got %q (error: %s)", scan.Status, scan.ErrorMessage)
	}

	site, err := o.db.GetSite(context.Background(), scan.SiteID)
	if err != nil {
		t.Fatalf("GetSite: %v", err)
	}
	ts, err := o.db.LatestTokenSet(context.Background(), site.ID)
	if err != nil {
		t.Fatalf("LatestTokenSet: %v", err)
	}
	if ts.VersionNumber != 1 {
		t.Fatalf("expected version 1, got %d", ts.VersionNumber)
	}
}

func TestSubmitWithinRevalidationWindowReturnsCached(t *testing.T) {
	o := testOrchestrator(t)
	srv := staticSiteServer(t)
	defer srv.Close()

	first, _, err := o.Submit(context.Background(), srv.URL, QualityStandard)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	awaitTerminalScan(t, o, first)

	second, cached, err := o.Submit(context.Background(), srv.URL, QualityStandard)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !cached {
		t.Fatal("expected second submit within revalidation window to be cached")
	}
	if second != first {
		t.Fatalf("expected cached scan id to match first scan, got %q vs %q", second, first)
	}
}

func TestSubmitRobotsDisallowedFailsWithoutFetching(t *testing.T) {
	o := testOrchestrator(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		t.Fatalf("unexpected fetch of %s after robots disallow", r.URL.Path)
	}))
	defer srv.Close()

	scanID, _, err := o.Submit(context.Background(), srv.URL+"/page", QualityStandard)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	scan := awaitTerminalScan(t, o, scanID)
	if scan.Status != store.ScanFailed || scan.ErrorKind != string(scanerr.RobotsDenied) {
		t.Fatalf("expected scan failed with RobotsDenied kind, got status %q kind %q", scan.Status, scan.ErrorKind)
	}
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	o := testOrchestrator(t)
	_, _, err := o.Submit(context.Background(), "not-a-url", QualityStandard)
	if err == nil {
		t.Fatal("expected bad request error")
	}
	se, ok := err.(*scanerr.Error)
	if !ok || se.Kind != scanerr.BadRequest {
		t.Fatalf("expected BadRequest kind, got %v", err)
	}
}

func TestIsTransientClassifiesUnreachableAndTimeout(t *testing.T) {
	if !isTransient(scanerr.New(scanerr.Unreachable, "fetch", "x")) {
		t.Fatal("expected Unreachable to be transient")
	}
	if !isTransient(scanerr.New(scanerr.Timeout, "fetch", "x")) {
		t.Fatal("expected Timeout to be transient")
	}
	if isTransient(scanerr.New(scanerr.RobotsDenied, "fetch", "x")) {
		t.Fatal("expected RobotsDenied to not be transient")
	}
}

func TestOverallTimeoutMapsQualityToBudget(t *testing.T) {
	o := &Orchestrator{}
	if o.overallTimeout(QualityPremium) != overallTimeoutComputed {
		t.Fatal("expected premium quality to use computed-mode overall timeout")
	}
	if o.overallTimeout(QualityStandard) != overallTimeoutStatic {
		t.Fatal("expected standard quality to use static-mode overall timeout")
	}
}

func TestQuantumGateFiresOncePerFivePercentIncrement(t *testing.T) {
	gate := newQuantumGate()
	fired := 0
	for pct := 0.0; pct <= 100; pct += 1 {
		if gate(pct) {
			fired++
		}
	}
	// 0,5,10,...,100 inclusive is 21 distinct 5-point buckets.
	if fired != 21 {
		t.Fatalf("expected 21 quantum crossings from 0%% to 100%% in 1%% steps, got %d", fired)
	}
}

func TestQuantumGateNeverFiresTwiceForSameBucket(t *testing.T) {
	gate := newQuantumGate()
	if !gate(5) {
		t.Fatal("expected first call at a new bucket to fire")
	}
	if gate(6) || gate(9) {
		t.Fatal("expected repeat calls within the same bucket to not fire")
	}
}

func TestCheckMemoryCeilingRejectsOversizedBundle(t *testing.T) {
	o := &Orchestrator{cfg: &config.Config{ScanMemoryCeilingMB: 1}}
	bundle := fetchResult{HTML: make([]byte, 2*1024*1024)}
	if err := o.checkMemoryCeiling(bundle); err == nil {
		t.Fatal("expected oversized bundle to exceed memory ceiling")
	}
}
