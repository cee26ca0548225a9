// Package store is the relational persistence layer for Site, Scan,
// CssContent, CssSource, TokenSet, TokenVersion, TokenChange, LayoutProfile,
// Submission, Vote, and StatsCache, backed by SQLite through database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection. modernc.org/sqlite is a pure-Go
// driver with no cgo dependency, matching the rest of this module's
// cgo-free build.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations. A single connection is used: SQLite serializes writers at
// the file level anyway, and WAL mode lets readers proceed concurrently.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (e.g. the version engine)
// that need to run a hand-built multi-statement transaction.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS sites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'queued',
			robots_status TEXT NOT NULL DEFAULT 'unknown',
			title TEXT,
			description TEXT,
			favicon TEXT,
			popularity INTEGER NOT NULL DEFAULT 0,
			first_seen TEXT NOT NULL,
			last_scanned TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			css_source_count INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT,
			error_kind TEXT,
			error_message TEXT,
			metrics_json TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scans_site ON scans(site_id);`,
		`CREATE TABLE IF NOT EXISTS css_contents (
			sha TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			original_bytes INTEGER NOT NULL,
			compressed_bytes INTEGER NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 0,
			ttl_days INTEGER NOT NULL,
			first_seen TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS css_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			sha TEXT NOT NULL REFERENCES css_contents(sha),
			origin_url TEXT,
			origin_kind TEXT NOT NULL,
			cascade_index INTEGER NOT NULL,
			cross_site_redirect INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_css_sources_sha ON css_sources(sha);`,
		`CREATE INDEX IF NOT EXISTS idx_css_sources_scan ON css_sources(scan_id);`,
		`CREATE TABLE IF NOT EXISTS token_sets (
			id TEXT PRIMARY KEY,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			scan_id TEXT NOT NULL REFERENCES scans(id),
			version_number INTEGER NOT NULL,
			tokens_json TEXT NOT NULL,
			consensus_score REAL NOT NULL,
			is_public INTEGER NOT NULL DEFAULT 1,
			creator TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(site_id, version_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_token_sets_site ON token_sets(site_id);`,
		`CREATE TABLE IF NOT EXISTS token_versions (
			id TEXT PRIMARY KEY,
			token_set_id TEXT NOT NULL REFERENCES token_sets(id),
			previous_version_id TEXT,
			diff_added INTEGER NOT NULL DEFAULT 0,
			diff_removed INTEGER NOT NULL DEFAULT 0,
			diff_modified INTEGER NOT NULL DEFAULT 0,
			changelog_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS token_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_version_id TEXT NOT NULL REFERENCES token_versions(id) ON DELETE CASCADE,
			token_path TEXT NOT NULL,
			change_type TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			category TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_token_changes_version ON token_changes(token_version_id);`,
		`CREATE TABLE IF NOT EXISTS layout_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id TEXT NOT NULL UNIQUE REFERENCES scans(id) ON DELETE CASCADE,
			profile_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			notify_address TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			scan_id TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS stats_cache (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total_sites INTEGER NOT NULL DEFAULT 0,
			total_scans INTEGER NOT NULL DEFAULT 0,
			total_token_sets INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			per_category_json TEXT NOT NULL DEFAULT '{}',
			average_confidence REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO stats_cache (id, updated_at) VALUES (1, '1970-01-01T00:00:00Z');`,
		`CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			token_set_id TEXT NOT NULL REFERENCES token_sets(id) ON DELETE CASCADE,
			token_path TEXT NOT NULL,
			vote_type TEXT NOT NULL,
			note TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_votes_token_set ON votes(token_set_id);`,
		// FTS5 index over sites, kept in sync by triggers; site search
		// ranks by bm25 relevance rather than plain substring match.
		`CREATE VIRTUAL TABLE IF NOT EXISTS sites_fts USING fts5(
			domain, title, description,
			content='sites', content_rowid='id'
		);`,
		`CREATE TRIGGER IF NOT EXISTS sites_fts_insert AFTER INSERT ON sites BEGIN
			INSERT INTO sites_fts(rowid, domain, title, description)
			VALUES (new.id, new.domain, COALESCE(new.title,''), COALESCE(new.description,''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS sites_fts_delete AFTER DELETE ON sites BEGIN
			INSERT INTO sites_fts(sites_fts, rowid, domain, title, description)
			VALUES ('delete', old.id, old.domain, COALESCE(old.title,''), COALESCE(old.description,''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS sites_fts_update AFTER UPDATE ON sites BEGIN
			INSERT INTO sites_fts(sites_fts, rowid, domain, title, description)
			VALUES ('delete', old.id, old.domain, COALESCE(old.title,''), COALESCE(old.description,''));
			INSERT INTO sites_fts(rowid, domain, title, description)
			VALUES (new.id, new.domain, COALESCE(new.title,''), COALESCE(new.description,''));
		END;`,
		// Rows inserted before the triggers existed (older databases) are
		// picked up by a rebuild; cheap at this table's scale.
		`INSERT INTO sites_fts(sites_fts) VALUES ('rebuild');`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", stmt, err)
		}
	}
	return nil
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }
