// Package logger builds the process-wide zerolog root logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/config"
)

// New returns the root logger. Development gets a human-readable console
// writer at debug level; everything else emits JSON at info so scan
// pipeline fields (scan_id, phase, site) stay machine-parseable.
func New(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	var out = os.Stderr
	if cfg.IsDevelopment() {
		level = zerolog.DebugLevel
		zerolog.SetGlobalLevel(level)
		cw := zerolog.ConsoleWriter{Out: out}
		return zerolog.New(cw).Level(level).With().Timestamp().Str("service", "scanner").Logger()
	}
	zerolog.SetGlobalLevel(level)
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "scanner").Logger()
}
