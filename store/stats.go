package store

import (
	"context"
	"time"
)

// StatsCacheRow is the singleton materialization row.
type StatsCacheRow struct {
	TotalSites         int64
	TotalScans         int64
	TotalTokenSets     int64
	TotalTokens        int64
	PerCategoryJSON    string
	AverageConfidence  float64
	UpdatedAt          time.Time
}

func (s *Store) GetStatsCache(ctx context.Context) (StatsCacheRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT total_sites, total_scans, total_token_sets, total_tokens, per_category_json, average_confidence, updated_at
		FROM stats_cache WHERE id = 1
	`)
	var r StatsCacheRow
	var updatedAt string
	if err := row.Scan(&r.TotalSites, &r.TotalScans, &r.TotalTokenSets, &r.TotalTokens, &r.PerCategoryJSON, &r.AverageConfidence, &updatedAt); err != nil {
		return StatsCacheRow{}, err
	}
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, nil
}

// ApplyStatsDelta incrementally bumps the singleton stats row after a
// single scan completion.
func (s *Store) ApplyStatsDelta(ctx context.Context, deltaSites, deltaScans, deltaTokenSets, deltaTokens int64, perCategoryJSON string, averageConfidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stats_cache SET
			total_sites = total_sites + ?,
			total_scans = total_scans + ?,
			total_token_sets = total_token_sets + ?,
			total_tokens = total_tokens + ?,
			per_category_json = ?,
			average_confidence = ?,
			updated_at = ?
		WHERE id = 1
	`, deltaSites, deltaScans, deltaTokenSets, deltaTokens, perCategoryJSON, averageConfidence, nowRFC3339())
	return err
}

// ReplaceStatsCache overwrites the singleton row wholesale; used by the
// 10-minute full-recompute guard.
func (s *Store) ReplaceStatsCache(ctx context.Context, r StatsCacheRow) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stats_cache SET
			total_sites = ?, total_scans = ?, total_token_sets = ?, total_tokens = ?,
			per_category_json = ?, average_confidence = ?, updated_at = ?
		WHERE id = 1
	`, r.TotalSites, r.TotalScans, r.TotalTokenSets, r.TotalTokens, r.PerCategoryJSON, r.AverageConfidence, nowRFC3339())
	return err
}

// RecomputeCounts derives authoritative counts by scanning the base tables
// directly, for the guard-against-drift full recompute.
func (s *Store) RecomputeCounts(ctx context.Context) (sites, scans, tokenSets int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&sites); err != nil {
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans WHERE status = ?`, ScanCompleted).Scan(&scans); err != nil {
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM token_sets`).Scan(&tokenSets); err != nil {
		return
	}
	return
}
