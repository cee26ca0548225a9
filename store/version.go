package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type TokenSet struct {
	ID             string
	SiteID         int64
	ScanID         string
	VersionNumber  int64
	TokensJSON     string
	ConsensusScore float64
	IsPublic       bool
	Creator        string
	CreatedAt      time.Time
}

type TokenVersion struct {
	ID                string
	TokenSetID        string
	PreviousVersionID string // empty for v1
	DiffAdded         int
	DiffRemoved       int
	DiffModified      int
	ChangelogJSON     string
	CreatedAt         time.Time
}

type TokenChange struct {
	ID             int64
	TokenVersionID string
	TokenPath      string
	ChangeType     string // added | removed | modified
	OldValue       string
	NewValue       string
	Category       string
}

// LatestVersionNumber returns the highest version_number recorded for a
// site, or 0 if none exists yet (so the caller writes version 1 next).
func (s *Store) LatestVersionNumber(ctx context.Context, siteID int64) (int64, error) {
	var v sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(version_number) FROM token_sets WHERE site_id = ?`, siteID)
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

// LatestTokenSet returns the current (highest version_number) TokenSet for
// a site. There is no "current" pointer column by design.
func (s *Store) LatestTokenSet(ctx context.Context, siteID int64) (TokenSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, scan_id, version_number, tokens_json, consensus_score, is_public, COALESCE(creator,''), created_at
		FROM token_sets WHERE site_id = ? ORDER BY version_number DESC LIMIT 1
	`, siteID)
	return scanTokenSet(row)
}

func (s *Store) GetTokenSet(ctx context.Context, id string) (TokenSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, scan_id, version_number, tokens_json, consensus_score, is_public, COALESCE(creator,''), created_at
		FROM token_sets WHERE id = ?
	`, id)
	return scanTokenSet(row)
}

// AllTokenSets returns every TokenSet row (one per scan that produced a
// version, not just the latest per site). Used by the stats aggregate's
// full recompute; callers should page or stream for very large tables.
func (s *Store) AllTokenSets(ctx context.Context) ([]TokenSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, scan_id, version_number, tokens_json, consensus_score, is_public, COALESCE(creator,''), created_at
		FROM token_sets
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

// UpdateTokenSetTokensJSON overwrites tokens_json in place for a vote
// adjustment. This mutates the current row rather than writing a new
// version: a vote nudges confidence, it is not a new scan's diff.
func (s *Store) UpdateTokenSetTokensJSON(ctx context.Context, tokenSetID, tokensJSON string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE token_sets SET tokens_json = ? WHERE id = ?`, tokensJSON, tokenSetID)
	return err
}

// Vote records a single up/down/note adjustment against a token within a
// TokenSet.
type Vote struct {
	ID         string
	TokenSetID string
	TokenPath  string
	VoteType   string
	Note       string
	CreatedAt  time.Time
}

// CreateVote persists a vote audit row. The caller is responsible for
// applying the corresponding confidence adjustment to tokens_json.
func (s *Store) CreateVote(ctx context.Context, id, tokenSetID, tokenPath, voteType, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (id, token_set_id, token_path, vote_type, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, tokenSetID, tokenPath, voteType, note, nowRFC3339())
	return err
}

func (s *Store) latestVersionIDForTokenSet(ctx context.Context, tokenSetID string) (string, error) {
	var id string
	row := s.db.QueryRowContext(ctx, `SELECT id FROM token_versions WHERE token_set_id = ?`, tokenSetID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// TokenVersionIDForSiteVersion resolves the TokenVersion id that
// corresponds to a given site's version_number, for diff traversal
// (previous_version_id is a read-side convenience only).
func (s *Store) TokenVersionIDForSiteVersion(ctx context.Context, siteID int64, versionNumber int64) (string, error) {
	var tokenSetID string
	row := s.db.QueryRowContext(ctx, `SELECT id FROM token_sets WHERE site_id = ? AND version_number = ?`, siteID, versionNumber)
	if err := row.Scan(&tokenSetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.latestVersionIDForTokenSet(ctx, tokenSetID)
}

func scanTokenSet(row *sql.Row) (TokenSet, error) {
	var ts TokenSet
	var isPublic int
	var createdAt string
	if err := row.Scan(&ts.ID, &ts.SiteID, &ts.ScanID, &ts.VersionNumber, &ts.TokensJSON, &ts.ConsensusScore, &isPublic, &ts.Creator, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TokenSet{}, ErrNotFound
		}
		return TokenSet{}, err
	}
	ts.IsPublic = isPublic != 0
	ts.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return ts, nil
}

// WriteVersion atomically persists a new TokenSet, its TokenVersion, and
// all TokenChange rows in a single transaction. The caller has already
// computed the diff; this only persists it.
func (s *Store) WriteVersion(ctx context.Context, tokenSetID string, ts TokenSet, tv TokenVersion, changes []TokenChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowRFC3339()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_sets (id, site_id, scan_id, version_number, tokens_json, consensus_score, is_public, creator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tokenSetID, ts.SiteID, ts.ScanID, ts.VersionNumber, ts.TokensJSON, ts.ConsensusScore, boolToInt(ts.IsPublic), ts.Creator, now)
	if err != nil {
		return fmt.Errorf("insert token_set: %w", err)
	}

	var prevID sql.NullString
	if tv.PreviousVersionID != "" {
		prevID = sql.NullString{String: tv.PreviousVersionID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_versions (id, token_set_id, previous_version_id, diff_added, diff_removed, diff_modified, changelog_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tv.ID, tokenSetID, prevID, tv.DiffAdded, tv.DiffRemoved, tv.DiffModified, tv.ChangelogJSON, now)
	if err != nil {
		return fmt.Errorf("insert token_version: %w", err)
	}

	for _, c := range changes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO token_changes (token_version_id, token_path, change_type, old_value, new_value, category)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tv.ID, c.TokenPath, c.ChangeType, c.OldValue, c.NewValue, c.Category)
		if err != nil {
			return fmt.Errorf("insert token_change %s: %w", c.TokenPath, err)
		}
	}

	return tx.Commit()
}
