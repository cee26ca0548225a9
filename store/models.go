package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
var ErrNotFound = errors.New("store: not found")

// Site lifecycle states.
const (
	SiteQueued    = "queued"
	SiteScanning  = "scanning"
	SiteCompleted = "completed"
	SiteFailed    = "failed"
)

// Robots policy states.
const (
	RobotsAllowed    = "allowed"
	RobotsDisallowed = "disallowed"
	RobotsUnknown    = "unknown"
)

type Site struct {
	ID           int64
	Domain       string
	Status       string
	RobotsStatus string
	Title        string
	Description  string
	Favicon      string
	Popularity   int64
	FirstSeen    time.Time
	LastScanned  *time.Time
}

// GetOrCreateSite returns the Site for domain, creating it with status
// "queued" and robots_status "unknown" if it does not yet exist.
func (s *Store) GetOrCreateSite(ctx context.Context, domain string) (Site, error) {
	site, err := s.GetSiteByDomain(ctx, domain)
	if err == nil {
		return site, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Site{}, err
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (domain, status, robots_status, first_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain) DO NOTHING
	`, domain, SiteQueued, RobotsUnknown, now)
	if err != nil {
		return Site{}, err
	}
	return s.GetSiteByDomain(ctx, domain)
}

func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, status, robots_status, COALESCE(title,''), COALESCE(description,''),
		       COALESCE(favicon,''), popularity, first_seen, last_scanned
		FROM sites WHERE domain = ?
	`, domain)
	return scanSite(row)
}

func (s *Store) GetSite(ctx context.Context, id int64) (Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, status, robots_status, COALESCE(title,''), COALESCE(description,''),
		       COALESCE(favicon,''), popularity, first_seen, last_scanned
		FROM sites WHERE id = ?
	`, id)
	return scanSite(row)
}

func scanSite(row *sql.Row) (Site, error) {
	var site Site
	var firstSeen string
	var lastScanned sql.NullString
	if err := row.Scan(&site.ID, &site.Domain, &site.Status, &site.RobotsStatus, &site.Title,
		&site.Description, &site.Favicon, &site.Popularity, &firstSeen, &lastScanned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Site{}, ErrNotFound
		}
		return Site{}, err
	}
	site.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	if lastScanned.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastScanned.String)
		site.LastScanned = &t
	}
	return site, nil
}

// SetSiteStatus updates a site's lifecycle status. Nothing limits a site
// to one scan in progress: there is no database constraint, and the
// orchestrator's per-site mutex covers only the token-version write, so
// scans of one site at different qualities can run at the same time.
func (s *Store) SetSiteStatus(ctx context.Context, siteID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sites SET status = ? WHERE id = ?`, status, siteID)
	return err
}

// SetSiteRobotsStatus records the outcome of a robots.txt evaluation.
func (s *Store) SetSiteRobotsStatus(ctx context.Context, siteID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sites SET robots_status = ? WHERE id = ?`, status, siteID)
	return err
}

// MarkSiteScanned bumps last_scanned/popularity and updates display
// metadata after a scan completes.
func (s *Store) MarkSiteScanned(ctx context.Context, siteID int64, title, description, favicon string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sites SET status = ?, last_scanned = ?, popularity = popularity + 1,
		       title = ?, description = ?, favicon = ?
		WHERE id = ?
	`, SiteCompleted, nowRFC3339(), title, description, favicon, siteID)
	return err
}

// Scan methods.

const (
	ScanQueued   = "queued"
	ScanFetching = "fetching"
	ScanParsing  = "parsing"
	ScanAnalyzing = "analyzing"
	ScanDiffing  = "diffing"
	ScanCompleted = "completed"
	ScanFailed   = "failed"
	ScanCanceled = "canceled"
)

const (
	MethodStatic   = "static"
	MethodComputed = "computed"
)

type Scan struct {
	ID             string
	SiteID         int64
	Method         string
	Status         string
	CSSSourceCount int
	ContentHash    string
	ErrorKind      string
	ErrorMessage   string
	MetricsJSON    string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

func (s *Store) CreateScan(ctx context.Context, id string, siteID int64, method string) (Scan, error) {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, site_id, method, status, started_at) VALUES (?, ?, ?, ?, ?)
	`, id, siteID, method, ScanQueued, now)
	if err != nil {
		return Scan{}, err
	}
	return s.GetScan(ctx, id)
}

func (s *Store) GetScan(ctx context.Context, id string) (Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, method, status, css_source_count, COALESCE(content_hash,''),
		       COALESCE(error_kind,''), COALESCE(error_message,''), COALESCE(metrics_json,''),
		       started_at, finished_at
		FROM scans WHERE id = ?
	`, id)
	var sc Scan
	var started string
	var finished sql.NullString
	if err := row.Scan(&sc.ID, &sc.SiteID, &sc.Method, &sc.Status, &sc.CSSSourceCount, &sc.ContentHash,
		&sc.ErrorKind, &sc.ErrorMessage, &sc.MetricsJSON, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Scan{}, ErrNotFound
		}
		return Scan{}, err
	}
	sc.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finished.String)
		sc.FinishedAt = &t
	}
	return sc, nil
}

// LatestCompletedScan returns the most recently finished completed scan
// for a site, used by the revalidation-window memoizer.
func (s *Store) LatestCompletedScan(ctx context.Context, siteID int64) (Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, method, status, css_source_count, COALESCE(content_hash,''),
		       COALESCE(error_kind,''), COALESCE(error_message,''), COALESCE(metrics_json,''),
		       started_at, finished_at
		FROM scans WHERE site_id = ? AND status = ? ORDER BY finished_at DESC LIMIT 1
	`, siteID, ScanCompleted)
	var sc Scan
	var started string
	var finished sql.NullString
	if err := row.Scan(&sc.ID, &sc.SiteID, &sc.Method, &sc.Status, &sc.CSSSourceCount, &sc.ContentHash,
		&sc.ErrorKind, &sc.ErrorMessage, &sc.MetricsJSON, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Scan{}, ErrNotFound
		}
		return Scan{}, err
	}
	sc.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finished.String)
		sc.FinishedAt = &t
	}
	return sc, nil
}

func (s *Store) UpdateScanStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scans SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) FailScan(ctx context.Context, id, kind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, error_kind = ?, error_message = ?, finished_at = ? WHERE id = ?
	`, ScanFailed, kind, message, nowRFC3339(), id)
	return err
}

func (s *Store) CompleteScan(ctx context.Context, id string, cssSourceCount int, contentHash, metricsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, css_source_count = ?, content_hash = ?, metrics_json = ?, finished_at = ?
		WHERE id = ?
	`, ScanCompleted, cssSourceCount, contentHash, metricsJSON, nowRFC3339(), id)
	return err
}

func (s *Store) ScanHistory(ctx context.Context, siteID int64, limit, offset int) ([]Scan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, method, status, css_source_count, COALESCE(content_hash,''),
		       COALESCE(error_kind,''), COALESCE(error_message,''), COALESCE(metrics_json,''),
		       started_at, finished_at
		FROM scans WHERE site_id = ? ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, siteID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var sc Scan
		var started string
		var finished sql.NullString
		if err := rows.Scan(&sc.ID, &sc.SiteID, &sc.Method, &sc.Status, &sc.CSSSourceCount, &sc.ContentHash,
			&sc.ErrorKind, &sc.ErrorMessage, &sc.MetricsJSON, &started, &finished); err != nil {
			return nil, err
		}
		sc.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finished.String)
			sc.FinishedAt = &t
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Submission (queued scan requests).

type Submission struct {
	ID             string
	URL            string
	Priority       int
	NotifyAddress  string
	Status         string
	ScanID         string
	CreatedAt      time.Time
}

func (s *Store) CreateSubmission(ctx context.Context, id, url string, priority int, notify string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, url, priority, notify_address, status, created_at)
		VALUES (?, ?, ?, ?, 'queued', ?)
	`, id, url, priority, notify, nowRFC3339())
	return err
}

func (s *Store) LinkSubmissionScan(ctx context.Context, submissionID, scanID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE submissions SET scan_id = ?, status = ? WHERE id = ?`, scanID, status, submissionID)
	return err
}
