package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestCounterSeriesAccumulateByLabel(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	m.TrackFetchBytes("linked", 1000)
	m.TrackFetchBytes("linked", 500)
	m.TrackFetchBytes("inline", 42)

	out := scrape(t, m)
	if !strings.Contains(out, `scanner_fetch_bytes_total{origin="linked"} 1500`) {
		t.Fatalf("linked series missing or wrong:\n%s", out)
	}
	if !strings.Contains(out, `scanner_fetch_bytes_total{origin="inline"} 42`) {
		t.Fatalf("inline series missing:\n%s", out)
	}
}

func TestUnlabeledCounterRendersBareName(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	m.TrackParserInvalidDeclarations(7)

	out := scrape(t, m)
	if !strings.Contains(out, "scanner_parser_invalid_declarations_total 7\n") {
		t.Fatalf("bare counter line missing:\n%s", out)
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	// One fast cache hit, one mid-range static scan, one past every bound.
	m.TrackScanCompletion("static", "", 50)
	m.TrackScanCompletion("static", "", 15000)
	m.TrackScanCompletion("static", "", 999999)

	out := scrape(t, m)
	checks := []string{
		`scanner_scan_duration_ms_bucket{le="100",error_kind="",mode="static"} 1`,
		`scanner_scan_duration_ms_bucket{le="20000",error_kind="",mode="static"} 2`,
		`scanner_scan_duration_ms_bucket{le="180000",error_kind="",mode="static"} 2`,
		`scanner_scan_duration_ms_bucket{le="+Inf",error_kind="",mode="static"} 3`,
		`scanner_scan_duration_ms_count{error_kind="",mode="static"} 3`,
	}
	for _, want := range checks {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestScrapeOutputIsDeterministic(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	m.TrackCSSStoreEvent("put", true)
	m.TrackCSSStoreEvent("put", false)
	m.TrackCSSStoreEvent("sweep", false)
	m.TrackEnricherOutcome("identity", "success")

	first := scrape(t, m)
	second := scrape(t, m)
	if first != second {
		t.Fatal("successive scrapes with no writes in between must be identical")
	}
}
