package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/orchestrator"
	"github.com/tokenforge/scanner/progress"
	"github.com/tokenforge/scanner/scanerr"
	"github.com/tokenforge/scanner/stats"
	"github.com/tokenforge/scanner/store"
	"github.com/tokenforge/scanner/tokens"
)

const maxSearchLimit = 500

// Handlers holds every collaborator the Query API dispatches to. It owns
// none of their lifetimes — main.go does.
type Handlers struct {
	db    *store.Store
	orch  *orchestrator.Orchestrator
	hub   *progress.Hub
	stats *stats.Aggregator
	log   zerolog.Logger
}

// New builds the Query API's handler set.
func New(db *store.Store, orch *orchestrator.Orchestrator, hub *progress.Hub, statsAgg *stats.Aggregator, log zerolog.Logger) *Handlers {
	return &Handlers{db: db, orch: orch, hub: hub, stats: statsAgg, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, kind scanerr.Kind, message string) {
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = message
	writeJSON(w, kind.HTTPStatus(), body)
}

// PostScan handles POST /scan: {url, quality?, prettify?} -> scan id +
// status. 202 on freshly queued, 200 on a revalidation-window cache hit;
// a site already known robots-disallowed is rejected with 403.
func (h *Handlers) PostScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scanerr.BadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, scanerr.BadRequest, "url is required")
		return
	}

	quality := orchestrator.QualityStandard
	switch orchestrator.Quality(req.Quality) {
	case "", orchestrator.QualityStandard:
		quality = orchestrator.QualityStandard
	case orchestrator.QualityFast:
		quality = orchestrator.QualityFast
	case orchestrator.QualityPremium:
		quality = orchestrator.QualityPremium
	default:
		writeError(w, scanerr.BadRequest, "quality must be one of fast, standard, premium")
		return
	}

	u, perr := url.Parse(req.URL)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, scanerr.BadRequest, "url must be an absolute http(s) url")
		return
	}
	domain := strings.ToLower(u.Host)

	if site, err := h.db.GetSiteByDomain(r.Context(), domain); err == nil && site.RobotsStatus == store.RobotsDisallowed {
		writeError(w, scanerr.RobotsDenied, "robots.txt disallows scanning "+domain)
		return
	}

	// Every POST /scan is recorded as a submission before it reaches the
	// orchestrator, independent of whether it turns out to hit the
	// revalidation-window cache or fail outright — the submissions table
	// is the audit trail of what was asked for, not just what ran.
	submissionID := uuid.NewString()
	if err := h.db.CreateSubmission(r.Context(), submissionID, req.URL, 0, ""); err != nil {
		h.log.Warn().Err(err).Msg("failed to record submission")
	}

	scanID, cached, err := h.orch.Submit(r.Context(), req.URL, quality)
	if err != nil {
		if lerr := h.db.LinkSubmissionScan(r.Context(), submissionID, "", "rejected"); lerr != nil {
			h.log.Warn().Err(lerr).Msg("failed to link rejected submission")
		}
		var se *scanerr.Error
		if errors.As(err, &se) {
			writeError(w, se.Kind, se.Message)
			return
		}
		h.log.Error().Err(err).Str("url", req.URL).Msg("scan submission failed")
		writeError(w, scanerr.Internal, "failed to submit scan")
		return
	}

	status := http.StatusAccepted
	statusLabel := "queued"
	if cached {
		status = http.StatusOK
		statusLabel = "cached"
	}
	if err := h.db.LinkSubmissionScan(r.Context(), submissionID, scanID, statusLabel); err != nil {
		h.log.Warn().Err(err).Msg("failed to link submission to scan")
	}
	writeJSON(w, status, ScanResponse{ScanID: scanID, Status: statusLabel, Domain: domain})
}

// GetScanEvents handles GET /scan/:id/events: the SSE progress stream.
func (h *Handlers) GetScanEvents(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "id")
	if _, err := h.db.GetScan(r.Context(), scanID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, scanerr.BadRequest, "unknown scan id")
			return
		}
		writeError(w, scanerr.Internal, "failed to look up scan")
		return
	}
	progress.WriteSSE(w, r, h.hub, scanID, h.log)
}

// GetSearch handles GET /search?query=&mode=tokens|sites&category=&limit=.
func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	mode := q.Get("mode")
	if mode == "" {
		mode = "tokens"
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, scanerr.BadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	switch mode {
	case "sites":
		h.searchSites(w, r, query, limit)
	case "tokens":
		h.searchTokens(w, r, query, q.Get("category"), q.Get("min_confidence"), limit)
	default:
		writeError(w, scanerr.BadRequest, "mode must be tokens or sites")
	}
}

func (h *Handlers) searchSites(w http.ResponseWriter, r *http.Request, query string, limit int) {
	sites, err := h.db.SearchSites(r.Context(), query, limit)
	if err != nil {
		writeError(w, scanerr.Internal, "site search failed")
		return
	}
	results := make([]SiteSearchResult, 0, len(sites))
	for _, s := range sites {
		results = append(results, SiteSearchResult{
			Domain: s.Domain, Title: s.Title, Description: s.Description, Popularity: s.Popularity,
		})
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func (h *Handlers) searchTokens(w http.ResponseWriter, r *http.Request, query, category, minConfidenceParam string, limit int) {
	var re *regexp.Regexp
	if query != "" {
		compiled, err := regexp.Compile("(?i)" + query)
		if err != nil {
			writeError(w, scanerr.BadRequest, "invalid regex query: "+err.Error())
			return
		}
		re = compiled
	}

	var minConfidence float64
	if minConfidenceParam != "" {
		v, err := strconv.ParseFloat(minConfidenceParam, 64)
		if err != nil {
			writeError(w, scanerr.BadRequest, "min_confidence must be a float")
			return
		}
		minConfidence = v
	}

	tokenSets, err := h.db.SearchableTokenSets(r.Context())
	if err != nil {
		writeError(w, scanerr.Internal, "token search failed")
		return
	}

	domainBySite := map[int64]string{}
	results := make([]TokenSearchResult, 0, limit)
	for _, ts := range tokenSets {
		var set tokens.Set
		if err := json.Unmarshal([]byte(ts.TokensJSON), &set); err != nil {
			h.log.Warn().Err(err).Str("token_set_id", ts.ID).Msg("skipping unparseable token set in search")
			continue
		}
		domain, ok := domainBySite[ts.SiteID]
		if !ok {
			site, serr := h.db.GetSite(r.Context(), ts.SiteID)
			if serr == nil {
				domain = site.Domain
			}
			domainBySite[ts.SiteID] = domain
		}
		for _, t := range set.Tokens {
			if category != "" && string(t.Category) != category {
				continue
			}
			if t.Extensions.Confidence < minConfidence {
				continue
			}
			value := tokenDisplayValue(t)
			if re != nil && !re.MatchString(t.Path) && !re.MatchString(value) {
				continue
			}
			results = append(results, TokenSearchResult{
				Name: t.Path, Value: value, Category: string(t.Category),
				Site: domain, Confidence: t.Extensions.Confidence, Usage: t.Extensions.Usage,
			})
			if len(results) >= limit {
				break
			}
		}
		if len(results) >= limit {
			break
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// GetSite handles GET /site/:domain.
func (h *Handlers) GetSite(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(chi.URLParam(r, "domain"))
	site, err := h.db.GetSiteByDomain(r.Context(), domain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, scanerr.BadRequest, "site not found")
			return
		}
		writeError(w, scanerr.Internal, "failed to load site")
		return
	}

	resp := SiteDetailResponse{
		Domain: site.Domain, Status: site.Status, RobotsStatus: site.RobotsStatus,
		Title: site.Title, Description: site.Description, Popularity: site.Popularity,
	}

	if latest, lerr := h.db.LatestTokenSet(r.Context(), site.ID); lerr == nil {
		resp.TokenSetID = latest.ID
		resp.VersionNumber = latest.VersionNumber
		var set tokens.Set
		if err := json.Unmarshal([]byte(latest.TokensJSON), &set); err == nil {
			resp.Tokens = set
		}
		if profileJSON, perr := h.db.GetLayoutProfile(r.Context(), latest.ScanID); perr == nil {
			var profile interface{}
			if err := json.Unmarshal([]byte(profileJSON), &profile); err == nil {
				resp.LayoutProfile = profile
			}
		}
	}

	page, perPage := parsePagination(r)
	history, herr := h.db.ScanHistory(r.Context(), site.ID, perPage, page*perPage)
	if herr != nil {
		writeError(w, scanerr.Internal, "failed to load scan history")
		return
	}
	resp.ScanHistory = make([]ScanSummary, 0, len(history))
	for _, sc := range history {
		resp.ScanHistory = append(resp.ScanHistory, ScanSummary{
			ID: sc.ID, Method: sc.Method, Status: sc.Status, ErrorKind: sc.ErrorKind,
			StartedAt: sc.StartedAt, FinishedAt: sc.FinishedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func parsePagination(r *http.Request) (page, perPage int) {
	page = 0
	perPage = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			perPage = n
		}
	}
	return page, perPage
}

// GetStats handles GET /stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	row, err := h.db.GetStatsCache(r.Context())
	if err != nil {
		writeError(w, scanerr.Internal, "failed to load stats")
		return
	}
	var perCategory map[string]int64
	if row.PerCategoryJSON != "" {
		_ = json.Unmarshal([]byte(row.PerCategoryJSON), &perCategory)
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalSites: row.TotalSites, TotalScans: row.TotalScans, TotalTokenSets: row.TotalTokenSets,
		TotalTokens: row.TotalTokens, PerCategoryCounts: perCategory,
		AverageConfidence: row.AverageConfidence, UpdatedAt: row.UpdatedAt,
	})
}

// PostVote handles POST /vote: {tokenSetId, tokenKey, voteType, note?} ->
// nudges the token's confidence extension and records an audit row.
func (h *Handlers) PostVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, scanerr.BadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TokenSetID == "" || req.TokenKey == "" {
		writeError(w, scanerr.BadRequest, "tokenSetId and tokenKey are required")
		return
	}
	if req.VoteType != "up" && req.VoteType != "down" {
		writeError(w, scanerr.BadRequest, "voteType must be up or down")
		return
	}

	ts, err := h.db.GetTokenSet(r.Context(), req.TokenSetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, scanerr.BadRequest, "unknown tokenSetId")
			return
		}
		writeError(w, scanerr.Internal, "failed to load token set")
		return
	}

	var set tokens.Set
	if err := json.Unmarshal([]byte(ts.TokensJSON), &set); err != nil {
		writeError(w, scanerr.Internal, "failed to decode token set")
		return
	}

	newConfidence, found := applyVote(&set, req.TokenKey, req.VoteType)
	if !found {
		writeError(w, scanerr.BadRequest, "unknown tokenKey")
		return
	}

	updated, err := json.Marshal(set)
	if err != nil {
		writeError(w, scanerr.Internal, "failed to encode token set")
		return
	}
	if err := h.db.UpdateTokenSetTokensJSON(r.Context(), ts.ID, string(updated)); err != nil {
		writeError(w, scanerr.Internal, "failed to persist vote")
		return
	}
	if err := h.db.CreateVote(r.Context(), uuid.NewString(), ts.ID, req.TokenKey, req.VoteType, req.Note); err != nil {
		h.log.Warn().Err(err).Msg("failed to record vote audit row")
	}

	writeJSON(w, http.StatusOK, VoteResponse{TokenKey: req.TokenKey, NewConfidence: newConfidence})
}

// voteDelta is the confidence nudge a single up/down vote applies.
const voteDelta = 0.05

// applyVote adjusts the confidence of the token at path by one vote's
// worth, clamped to [0,1]. Reports whether path was found.
func applyVote(set *tokens.Set, path, voteType string) (float64, bool) {
	for i := range set.Tokens {
		if set.Tokens[i].Path != path {
			continue
		}
		delta := voteDelta
		if voteType == "down" {
			delta = -voteDelta
		}
		c := set.Tokens[i].Extensions.Confidence + delta
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		set.Tokens[i].Extensions.Confidence = c
		return c, true
	}
	return 0, false
}

// tokenDisplayValue renders a token's value as the plain string the
// search result's "value" field carries, independent of its $type.
func tokenDisplayValue(t tokens.Token) string {
	switch t.Kind {
	case tokens.KindColor:
		if t.Color == nil {
			return ""
		}
		return t.Color.Hex
	case tokens.KindDimension:
		if t.Dimension == nil {
			return ""
		}
		return strconv.FormatFloat(t.Dimension.Amount, 'g', -1, 64) + t.Dimension.Unit
	case tokens.KindTypography:
		if t.Typography == nil {
			return ""
		}
		return strings.Join(t.Typography.Families, ", ")
	case tokens.KindShadow:
		if t.Shadow == nil || len(t.Shadow.Layers) == 0 {
			return ""
		}
		l := t.Shadow.Layers[0]
		return strconv.FormatFloat(l.OffsetX.Amount, 'g', -1, 64) + l.OffsetX.Unit + " " +
			strconv.FormatFloat(l.OffsetY.Amount, 'g', -1, 64) + l.OffsetY.Unit + " " +
			strconv.FormatFloat(l.Blur.Amount, 'g', -1, 64) + l.Blur.Unit + " " + l.Color.Hex
	case tokens.KindMotion:
		if t.Motion == nil {
			return ""
		}
		return strconv.FormatFloat(t.Motion.Duration.Amount, 'g', -1, 64) + t.Motion.Duration.Unit + " " + t.Motion.TimingFunction
	default:
		return ""
	}
}
