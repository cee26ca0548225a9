// Package api implements the Query API (C8): token/site search, the
// scan submission and progress-subscription endpoints, site detail,
// stats, and voting — the HTTP boundary described in the core's
// external interfaces.
package api

import "time"

// ScanRequest is the decoded body of POST /scan.
type ScanRequest struct {
	URL       string `json:"url"`
	Quality   string `json:"quality,omitempty"`
	Prettify  bool   `json:"prettify,omitempty"`
}

// ScanResponse is returned by POST /scan, both for a freshly queued scan
// (202) and a revalidation-window cache hit (200).
type ScanResponse struct {
	ScanID string `json:"scanId"`
	Status string `json:"status"`
	Domain string `json:"domain"`
}

// TokenSearchResult is one row of GET /search?mode=tokens.
type TokenSearchResult struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Category   string  `json:"category"`
	Site       string  `json:"site"`
	Confidence float64 `json:"confidence"`
	Usage      int     `json:"usage"`
}

// SiteSearchResult is one row of GET /search?mode=sites.
type SiteSearchResult struct {
	Domain      string `json:"domain"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Popularity  int64  `json:"popularity"`
}

// SearchResponse wraps either result kind under a single "results" key,
// per §6's JSON shape.
type SearchResponse struct {
	Results interface{} `json:"results"`
}

// ScanSummary is one entry of a site's paginated scan history.
type ScanSummary struct {
	ID         string     `json:"id"`
	Method     string     `json:"method"`
	Status     string     `json:"status"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// SiteDetailResponse is the body of GET /site/:domain.
type SiteDetailResponse struct {
	Domain        string        `json:"domain"`
	Status        string        `json:"status"`
	RobotsStatus  string        `json:"robotsStatus"`
	Title         string        `json:"title,omitempty"`
	Description   string        `json:"description,omitempty"`
	Popularity    int64         `json:"popularity"`
	TokenSetID    string        `json:"tokenSetId,omitempty"`
	VersionNumber int64         `json:"versionNumber,omitempty"`
	Tokens        interface{}   `json:"tokens,omitempty"`
	LayoutProfile interface{}   `json:"layoutProfile,omitempty"`
	ScanHistory   []ScanSummary `json:"scanHistory"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	TotalSites        int64            `json:"totalSites"`
	TotalScans        int64            `json:"totalScans"`
	TotalTokenSets    int64            `json:"totalTokenSets"`
	TotalTokens       int64            `json:"totalTokens"`
	PerCategoryCounts map[string]int64 `json:"perCategoryCounts"`
	AverageConfidence float64          `json:"averageConfidence"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// VoteRequest is the decoded body of POST /vote.
type VoteRequest struct {
	TokenSetID string `json:"tokenSetId"`
	TokenKey   string `json:"tokenKey"`
	VoteType   string `json:"voteType"`
	Note       string `json:"note,omitempty"`
}

// VoteResponse reports the confidence adjustment a vote produced.
type VoteResponse struct {
	TokenKey      string  `json:"tokenKey"`
	NewConfidence float64 `json:"newConfidence"`
}

// errorBody is the envelope every non-2xx response is wrapped in.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}
