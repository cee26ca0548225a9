// Package config loads scan-service configuration from the environment,
// following the getEnv/getEnvInt/getEnvBool + godotenv loading convention
// used throughout this codebase.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all scan-service configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Database (required)
	DatabaseURL string

	// Optional Redis for a distributed scan-slot semaphore / progress
	// pub-sub fanout across replicas; falls back to in-process primitives
	// when unset.
	RedisURL           string
	RedisSemaphoreTTL time.Duration

	// Fetcher
	FetchUserAgent string
	FetchTimeout   time.Duration

	// CSS store
	CSSTTLDays int
	SweepInterval time.Duration

	// Orchestrator concurrency + memoization
	MaxConcurrentScans   int
	MaxConcurrentFetches int
	ScanMemoryCeilingMB  int
	RevalidateAfter      time.Duration
	HardExpiry           time.Duration

	// Stats aggregator
	StatsRecomputeInterval time.Duration

	// HTTP
	DefaultRequestTimeout time.Duration
	MaxBodyBytes          int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional
// .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("SCANNER_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Addr:            getEnv("SCANNER_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		DatabaseURL: getEnv("DATABASE_URL", "./data/scanner.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		RedisSemaphoreTTL: time.Duration(getEnvInt("REDIS_SEMAPHORE_TTL_SEC", 300)) * time.Second,

		FetchUserAgent: getEnv("FETCH_USER_AGENT", "tokenforge-scanner/1.0 (+https://tokenforge.dev)"),
		FetchTimeout:   time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 10)) * time.Second,

		CSSTTLDays:    getEnvInt("CSS_TTL_DAYS", 30),
		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 3600)) * time.Second,

		MaxConcurrentScans:   getEnvInt("MAX_CONCURRENT_SCANS", 16),
		MaxConcurrentFetches: getEnvInt("MAX_CONCURRENT_FETCHES", 64),
		ScanMemoryCeilingMB:  getEnvInt("SCAN_MEMORY_CEILING_MB", 256),
		RevalidateAfter:      time.Duration(getEnvInt("REVALIDATE_AFTER_MS", 900_000)) * time.Millisecond,
		HardExpiry:           time.Duration(getEnvInt("HARD_EXPIRY_MS", 86_400_000)) * time.Millisecond,

		StatsRecomputeInterval: time.Duration(getEnvInt("STATS_RECOMPUTE_INTERVAL_SEC", 600)) * time.Second,

		DefaultRequestTimeout: time.Duration(getEnvInt("SCANNER_DEFAULT_TIMEOUT_SEC", 180)) * time.Second,
		MaxBodyBytes:          int64(getEnvInt("SCANNER_MAX_BODY_BYTES", 64*1024)),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
