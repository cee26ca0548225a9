// Command scanctl is the operator-facing CLI: scan a single URL from the
// command line, check service health, install indexes and refresh stats
// (optimize), or force a CssContent sweep — without needing the HTTP
// Query API running.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tokenforge/scanner/config"
	"github.com/tokenforge/scanner/csstore"
	"github.com/tokenforge/scanner/enrich"
	"github.com/tokenforge/scanner/fetch"
	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/logger"
	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/orchestrator"
	"github.com/tokenforge/scanner/progress"
	"github.com/tokenforge/scanner/redisclient"
	"github.com/tokenforge/scanner/stats"
	"github.com/tokenforge/scanner/store"
)

// Exit codes per the operator-surface contract.
const (
	exitSuccess          = 0
	exitBadArgument      = 2
	exitOperationalError = 3
	exitScanFailure      = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitBadArgument)
	}

	cfg := config.Load()
	log := logger.New(cfg)

	switch os.Args[1] {
	case "scan":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: scanctl scan <url>")
			os.Exit(exitBadArgument)
		}
		os.Exit(runScan(cfg, log, os.Args[2]))
	case "health":
		os.Exit(runHealth(cfg, log))
	case "optimize":
		os.Exit(runOptimize(cfg, log))
	case "sweep":
		os.Exit(runSweep(cfg, log))
	default:
		usage()
		os.Exit(exitBadArgument)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scanctl <scan|health|optimize|sweep> [args]")
}

type deps struct {
	db    *store.Store
	css   *csstore.Store
	orch  *orchestrator.Orchestrator
	hub   *progress.Hub
	stats *stats.Aggregator
}

func buildDeps(cfg *config.Config, log zerolog.Logger) (*deps, error) {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	css, err := csstore.New(db, log, cfg.CSSTTLDays)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init css store: %w", err)
	}
	fetcher := fetch.New(cfg.FetchUserAgent, cfg.FetchTimeout)
	enrichers := enrich.NewRegistry()
	enrichers.Register(enrich.Identity{})
	metrics := observability.NewMetrics(log)
	hub := progress.NewHub()
	statsAgg := stats.New(db, log, cfg.StatsRecomputeInterval)

	// scanctl is a short-lived one-shot process — it still contends for
	// the same distributed scan-slot budget as the long-running service
	// when Redis is configured, so an operator running `scanctl scan`
	// against a loaded deployment gets the same backpressure.
	var distSem *redisclient.Semaphore
	var publisher orchestrator.ProgressPublisher = hub
	if cfg.RedisURL != "" {
		if rc, err := redisclient.New(cfg); err == nil && rc.Ping() == nil {
			distSem = redisclient.NewSemaphore(rc, cfg.MaxConcurrentScans, cfg.RedisSemaphoreTTL)
			publisher = redisclient.NewProgressFanout(rc, hub, log)
		}
	}

	orch := orchestrator.New(cfg, db, css, fetcher, enrichers, metrics, publisher, statsAgg, distSem, log)
	return &deps{db: db, css: css, orch: orch, hub: hub, stats: statsAgg}, nil
}

func runScan(cfg *config.Config, log zerolog.Logger, url string) int {
	d, err := buildDeps(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "operational failure:", err)
		return exitOperationalError
	}
	defer d.db.Close()

	ctx := context.Background()
	scanID, cached, err := d.orch.Submit(ctx, url, orchestrator.QualityStandard)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scan submission failed:", err)
		return exitScanFailure
	}
	if cached {
		sc, _ := d.db.GetScan(ctx, scanID)
		printScanResult(sc)
		return exitSuccess
	}

	ch, unsubscribe, ok := d.hub.Subscribe(scanID, 0)
	if !ok {
		fmt.Fprintln(os.Stderr, "scan stream unavailable")
		return exitOperationalError
	}
	defer unsubscribe()

	for ev := range ch {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Phase, ev.Message)
		if ev.Type == progress.EventCompleted || ev.Type == progress.EventFailed {
			break
		}
	}

	sc, err := d.db.GetScan(ctx, scanID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load final scan state:", err)
		return exitOperationalError
	}
	printScanResult(sc)
	if sc.Status == store.ScanFailed {
		return exitScanFailure
	}
	return exitSuccess
}

func printScanResult(sc store.Scan) {
	out, _ := json.MarshalIndent(map[string]interface{}{
		"scanId":    sc.ID,
		"status":    sc.Status,
		"errorKind": sc.ErrorKind,
	}, "", "  ")
	fmt.Println(string(out))
}

func runHealth(cfg *config.Config, log zerolog.Logger) int {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy: cannot open store:", err)
		return exitOperationalError
	}
	defer db.Close()
	if err := db.DB().Ping(); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy: store ping failed:", err)
		return exitOperationalError
	}
	fmt.Println("healthy")
	return exitSuccess
}

func runOptimize(cfg *config.Config, log zerolog.Logger) int {
	d, err := buildDeps(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "operational failure:", err)
		return exitOperationalError
	}
	defer d.db.Close()

	// The store's migrate() already creates every index this service
	// relies on at Open() time; optimize's job is the stats guard
	// recompute plus a SQLite ANALYZE so the query planner has fresh
	// statistics.
	if _, err := d.db.DB().Exec("ANALYZE"); err != nil {
		fmt.Fprintln(os.Stderr, "analyze failed:", err)
		return exitOperationalError
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.stats.Recompute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stats recompute failed:", err)
		return exitOperationalError
	}
	fmt.Println("optimize complete")
	return exitSuccess
}

func runSweep(cfg *config.Config, log zerolog.Logger) int {
	d, err := buildDeps(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "operational failure:", err)
		return exitOperationalError
	}
	defer d.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := d.css.Sweep(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep failed:", err)
		return exitOperationalError
	}
	fmt.Printf("sweep removed %d expired css bodies\n", removed)
	return exitSuccess
}
