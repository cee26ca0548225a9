package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode"
)

// ftsMatchExpr turns raw user input into an FTS5 MATCH expression:
// every alphanumeric run becomes a quoted prefix term, OR'd together.
// Quoting strips FTS operator syntax so user input can never inject
// column filters or NEAR/NOT expressions.
func ftsMatchExpr(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " OR ")
}

// SearchSites runs a full-text search over site domain, title, and
// description, ranked by bm25 relevance (domain matches weighted
// heaviest, then title, then description) with popularity breaking ties.
// Each query word matches as a prefix, and words are OR'd so multi-word
// queries rank sites matching out-of-order terms instead of requiring a
// contiguous substring.
func (s *Store) SearchSites(ctx context.Context, query string, limit int) ([]Site, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.domain, s.status, s.robots_status, COALESCE(s.title,''), COALESCE(s.description,''),
		       COALESCE(s.favicon,''), s.popularity, s.first_seen, s.last_scanned
		FROM sites_fts
		JOIN sites s ON s.id = sites_fts.rowid
		WHERE sites_fts MATCH ?
		ORDER BY bm25(sites_fts, 5.0, 2.0, 1.0) ASC, s.popularity DESC, s.domain ASC
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Site
	for rows.Next() {
		var site Site
		var firstSeen string
		var lastScanned sql.NullString
		if err := rows.Scan(&site.ID, &site.Domain, &site.Status, &site.RobotsStatus, &site.Title,
			&site.Description, &site.Favicon, &site.Popularity, &firstSeen, &lastScanned); err != nil {
			return nil, err
		}
		site.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		if lastScanned.Valid {
			t, _ := time.Parse(time.RFC3339Nano, lastScanned.String)
			site.LastScanned = &t
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// SearchableTokenSets returns every public TokenSet, for the query API's
// in-process token search (substring/regex matching happens above this
// layer, against the decoded W3C document).
func (s *Store) SearchableTokenSets(ctx context.Context) ([]TokenSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, scan_id, version_number, tokens_json, consensus_score, is_public, COALESCE(creator,''), created_at
		FROM token_sets WHERE is_public = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenSet
	for rows.Next() {
		var ts TokenSet
		var isPublic int
		var createdAt string
		if err := rows.Scan(&ts.ID, &ts.SiteID, &ts.ScanID, &ts.VersionNumber, &ts.TokensJSON, &ts.ConsensusScore, &isPublic, &ts.Creator, &createdAt); err != nil {
			return nil, err
		}
		ts.IsPublic = isPublic != 0
		ts.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, ts)
	}
	return out, rows.Err()
}
