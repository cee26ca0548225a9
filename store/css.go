package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CssContent is the content-addressed dedup root.
type CssContent struct {
	SHA             string
	Body            []byte // compressed, algorithm byte leading
	OriginalBytes   int
	CompressedBytes int
	ReferenceCount  int
	TTLDays         int
	FirstSeen       time.Time
	LastAccessed    time.Time
}

// UpsertCSSContent inserts a new CssContent row iff sha does not already
// exist and always increments reference_count. Returns whether the row
// was newly inserted (the "idempotent put" case false vs. the "first
// insert" case true).
func (s *Store) UpsertCSSContent(ctx context.Context, sha string, compressedBody []byte, originalBytes, compressedBytes, ttlDays int) (inserted bool, err error) {
	now := nowRFC3339()

	var existed bool
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM css_contents WHERE sha = ?`, sha)
	if scanErr := row.Scan(new(int)); scanErr == nil {
		existed = true
	} else if !errors.Is(scanErr, sql.ErrNoRows) {
		return false, scanErr
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO css_contents (sha, body, original_bytes, compressed_bytes, reference_count, ttl_days, first_seen, last_accessed)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(sha) DO UPDATE SET
			reference_count = reference_count + 1,
			last_accessed = excluded.last_accessed
	`, sha, compressedBody, originalBytes, compressedBytes, ttlDays, now, now)
	if err != nil {
		return false, err
	}
	return !existed, nil
}

// GetCSSContent fetches the stored (still-compressed) body for sha and
// bumps last_accessed.
func (s *Store) GetCSSContent(ctx context.Context, sha string) (CssContent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sha, body, original_bytes, compressed_bytes, reference_count, ttl_days, first_seen, last_accessed
		FROM css_contents WHERE sha = ?
	`, sha)
	var c CssContent
	var firstSeen, lastAccessed string
	if err := row.Scan(&c.SHA, &c.Body, &c.OriginalBytes, &c.CompressedBytes, &c.ReferenceCount, &c.TTLDays, &firstSeen, &lastAccessed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CssContent{}, ErrNotFound
		}
		return CssContent{}, err
	}
	c.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	c.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed)
	_, _ = s.db.ExecContext(ctx, `UPDATE css_contents SET last_accessed = ? WHERE sha = ?`, nowRFC3339(), sha)
	return c, nil
}

// ReleaseCSSContent decrements reference_count for sha, never letting it
// go below zero, and never deletes the row (sweep() owns deletion).
func (s *Store) ReleaseCSSContent(ctx context.Context, sha string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE css_contents SET reference_count = MAX(0, reference_count - 1) WHERE sha = ?
	`, sha)
	return err
}

// SweepExpiredCSSContent deletes CssContent rows with reference_count == 0
// and last_accessed older than their own ttl_days, returning the count
// removed. Safe under concurrent UpsertCSSContent: a racing put() after
// this DELETE simply re-inserts the row with reference_count 1.
func (s *Store) SweepExpiredCSSContent(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM css_contents
		WHERE reference_count = 0
		  AND julianday('now') - julianday(last_accessed) > ttl_days
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CssSource origin kinds.
const (
	OriginLinked   = "linked"
	OriginInline   = "inline"
	OriginComputed = "computed"
)

type CssSource struct {
	ID                int64
	ScanID            string
	SHA               string
	OriginURL         string
	OriginKind        string
	CascadeIndex      int
	CrossSiteRedirect bool
}

func (s *Store) CreateCSSSource(ctx context.Context, scanID, sha, originURL, originKind string, cascadeIndex int, crossSiteRedirect bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO css_sources (scan_id, sha, origin_url, origin_kind, cascade_index, cross_site_redirect)
		VALUES (?, ?, ?, ?, ?, ?)
	`, scanID, sha, originURL, originKind, cascadeIndex, boolToInt(crossSiteRedirect))
	return err
}

func (s *Store) CSSSourcesForScan(ctx context.Context, scanID string) ([]CssSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, sha, COALESCE(origin_url,''), origin_kind, cascade_index, cross_site_redirect
		FROM css_sources WHERE scan_id = ? ORDER BY cascade_index ASC
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CssSource
	for rows.Next() {
		var cs CssSource
		var crossSite int
		if err := rows.Scan(&cs.ID, &cs.ScanID, &cs.SHA, &cs.OriginURL, &cs.OriginKind, &cs.CascadeIndex, &crossSite); err != nil {
			return nil, err
		}
		cs.CrossSiteRedirect = crossSite != 0
		out = append(out, cs)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LayoutProfile persistence. Stored as opaque JSON; the layout package
// owns the schema.
func (s *Store) SaveLayoutProfile(ctx context.Context, scanID, profileJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO layout_profiles (scan_id, profile_json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET profile_json = excluded.profile_json
	`, scanID, profileJSON, nowRFC3339())
	return err
}

func (s *Store) GetLayoutProfile(ctx context.Context, scanID string) (string, error) {
	var profileJSON string
	row := s.db.QueryRowContext(ctx, `SELECT profile_json FROM layout_profiles WHERE scan_id = ?`, scanID)
	if err := row.Scan(&profileJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return profileJSON, nil
}
