// Command scanner runs the token-extraction scan service: the HTTP Query
// API (C8), the scan orchestrator (C7) and its collaborators, the CSS
// store's background sweeper, and the stats aggregate's recompute loop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenforge/scanner/api"
	"github.com/tokenforge/scanner/config"
	"github.com/tokenforge/scanner/csstore"
	"github.com/tokenforge/scanner/enrich"
	"github.com/tokenforge/scanner/fetch"
	"github.com/tokenforge/scanner/logger"
	"github.com/tokenforge/scanner/observability"
	"github.com/tokenforge/scanner/orchestrator"
	"github.com/tokenforge/scanner/progress"
	"github.com/tokenforge/scanner/redisclient"
	"github.com/tokenforge/scanner/stats"
	"github.com/tokenforge/scanner/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("scanner starting")

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	css, err := csstore.New(db, log, cfg.CSSTTLDays)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init css store")
	}

	fetcher := fetch.New(cfg.FetchUserAgent, cfg.FetchTimeout)

	enrichers := enrich.NewRegistry()
	enrichers.Register(enrich.Identity{})

	metrics := observability.NewMetrics(log)
	hub := progress.NewHub()

	statsAgg := stats.New(db, log, cfg.StatsRecomputeInterval)
	statsAgg.Start()

	bgCtx, bgCancel := context.WithCancel(context.Background())

	// Optional distributed scan-slot semaphore / progress pub-sub fanout
	// across replicas. Non-fatal on failure — the scanner runs correctly
	// off in-process primitives alone, it just stops coordinating with
	// other replicas.
	var distSem *redisclient.Semaphore
	var publisher orchestrator.ProgressPublisher = hub
	if cfg.RedisURL != "" {
		rc, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing without redis")
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing without redis")
		} else {
			log.Info().Msg("redis connected")
			distSem = redisclient.NewSemaphore(rc, cfg.MaxConcurrentScans, cfg.RedisSemaphoreTTL)
			fanout := redisclient.NewProgressFanout(rc, hub, log)
			fanout.Start(bgCtx)
			publisher = fanout
		}
	}

	orch := orchestrator.New(cfg, db, css, fetcher, enrichers, metrics, publisher, statsAgg, distSem, log)

	css.StartSweeper(bgCtx, cfg.SweepInterval)
	hub.StartEvictor(bgCtx.Done(), 30*time.Second)

	handlers := api.New(db, orch, hub, statsAgg, log)
	router := api.NewRouter(cfg, log, handlers, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultRequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("scanner listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	bgCancel()
	statsAgg.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("scanner stopped gracefully")
	}
}
