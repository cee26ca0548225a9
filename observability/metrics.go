// Package observability exposes a small Prometheus-compatible metrics
// registry for the scan pipeline (fetch, CSS store, parser, orchestrator,
// enrichment).
package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// scanDurationBuckets covers the phase budgets from the orchestrator:
// sub-second cache hits through the 180s computed-mode ceiling, in ms.
var scanDurationBuckets = []float64{100, 500, 1000, 5000, 10000, 20000, 45000, 90000, 120000, 180000}

// series is one (name, labels) time series. Counters and gauges share the
// int64 representation; histograms carry cumulative bucket counts so the
// exposition pass is a straight copy.
type series struct {
	labels string // pre-rendered `k="v",...`, sorted by key

	val atomic.Int64 // counter/gauge value

	// histogram state, nil bounds for scalar series
	mu     sync.Mutex
	bounds []float64
	cum    []int64 // cumulative counts per bound; len(bounds)
	inf    int64   // observations above every bound
	sum    float64
	count  int64
}

func (s *series) observe(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += v
	s.count++
	for i := len(s.bounds) - 1; i >= 0; i-- {
		if v > s.bounds[i] {
			break
		}
		s.cum[i]++
	}
	s.inf++ // +Inf is cumulative over all observations
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

// family groups every labeled series under one metric name.
type family struct {
	kind   metricKind
	series map[string]*series // label string → series
}

// Metrics is the registry handed to the orchestrator, the enricher
// runner, and the router's /metrics endpoint. Series are registered
// implicitly on first use.
type Metrics struct {
	mu       sync.Mutex
	log      zerolog.Logger
	families map[string]*family
}

// NewMetrics returns an empty registry.
func NewMetrics(log zerolog.Logger) *Metrics {
	return &Metrics{
		log:      log.With().Str("component", "metrics").Logger(),
		families: make(map[string]*family),
	}
}

// renderLabels produces the deterministic `k="v",...` form used both as
// the series map key and verbatim in the exposition output.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, labels[k])
	}
	return sb.String()
}

func (m *Metrics) get(name string, kind metricKind, labels map[string]string) *series {
	key := renderLabels(labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	fam, ok := m.families[name]
	if !ok {
		fam = &family{kind: kind, series: make(map[string]*series)}
		m.families[name] = fam
	} else if fam.kind != kind {
		// A name reused across kinds is a programming error; log once and
		// serve the original family so callers never panic.
		m.log.Error().Str("metric", name).Msg("metric name reused with a different kind")
	}
	s, ok := fam.series[key]
	if !ok {
		s = &series{labels: key}
		if kind == kindHistogram {
			s.bounds = scanDurationBuckets
			s.cum = make([]int64, len(s.bounds))
		}
		fam.series[key] = s
	}
	return s
}

// CounterAdd adds n to a counter series.
func (m *Metrics) CounterAdd(name string, labels map[string]string, n int64) {
	m.get(name, kindCounter, labels).val.Add(n)
}

// CounterInc adds one to a counter series.
func (m *Metrics) CounterInc(name string, labels map[string]string) {
	m.CounterAdd(name, labels, 1)
}

// GaugeSet stores v (micros precision) in a gauge series.
func (m *Metrics) GaugeSet(name string, labels map[string]string, v float64) {
	m.get(name, kindGauge, labels).val.Store(int64(v * 1e6))
}

// HistogramObserve records v into a histogram series.
func (m *Metrics) HistogramObserve(name string, labels map[string]string, v float64) {
	m.get(name, kindHistogram, labels).observe(v)
}

// TrackScanCompletion records a terminal scan outcome with its total
// duration and classified error kind (empty for success).
func (m *Metrics) TrackScanCompletion(mode, errKind string, durationMs float64) {
	labels := map[string]string{"mode": mode, "error_kind": errKind}
	m.CounterInc("scanner_scans_total", labels)
	m.HistogramObserve("scanner_scan_duration_ms", labels, durationMs)
}

// TrackFetchBytes records bytes pulled for one source during the fetch
// phase, labeled by origin kind (linked/inline/computed).
func (m *Metrics) TrackFetchBytes(originKind string, bytes int64) {
	m.CounterAdd("scanner_fetch_bytes_total", map[string]string{"origin": originKind}, bytes)
}

// TrackParserInvalidDeclarations bumps the count of declarations the
// parser skipped as malformed for a given scan's CSS.
func (m *Metrics) TrackParserInvalidDeclarations(n int64) {
	m.CounterAdd("scanner_parser_invalid_declarations_total", nil, n)
}

// TrackCSSStoreEvent records a content-addressed store operation
// (put/get/release/sweep) and whether it was a fresh insert or a dedup hit.
func (m *Metrics) TrackCSSStoreEvent(op string, deduped bool) {
	m.CounterInc("scanner_css_store_ops_total", map[string]string{
		"op": op, "deduped": fmt.Sprintf("%t", deduped),
	})
}

// TrackEnricherOutcome records whether an enrichment plugin succeeded,
// failed (swallowed per the never-fails contract), or exceeded its budget.
func (m *Metrics) TrackEnricherOutcome(name, outcome string) {
	m.CounterInc("scanner_enricher_outcomes_total", map[string]string{
		"enricher": name, "outcome": outcome,
	})
}

// Handler serves the registry in Prometheus text exposition format.
// Output is sorted by family then label string so successive scrapes
// diff cleanly.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		m.mu.Lock()
		names := make([]string, 0, len(m.families))
		for name := range m.families {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		for _, name := range names {
			fam := m.families[name]
			keys := make([]string, 0, len(fam.series))
			for k := range fam.series {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			switch fam.kind {
			case kindCounter:
				fmt.Fprintf(&sb, "# TYPE %s counter\n", name)
				for _, k := range keys {
					writeScalar(&sb, name, k, fmt.Sprintf("%d", fam.series[k].val.Load()))
				}
			case kindGauge:
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", name)
				for _, k := range keys {
					writeScalar(&sb, name, k, fmt.Sprintf("%g", float64(fam.series[k].val.Load())/1e6))
				}
			case kindHistogram:
				fmt.Fprintf(&sb, "# TYPE %s histogram\n", name)
				for _, k := range keys {
					s := fam.series[k]
					s.mu.Lock()
					for i, b := range s.bounds {
						writeBucket(&sb, name, k, fmt.Sprintf("%g", b), s.cum[i])
					}
					writeBucket(&sb, name, k, "+Inf", s.inf)
					writeScalar(&sb, name+"_sum", k, fmt.Sprintf("%g", s.sum))
					writeScalar(&sb, name+"_count", k, fmt.Sprintf("%d", s.count))
					s.mu.Unlock()
				}
			}
			sb.WriteByte('\n')
		}
		m.mu.Unlock()

		_, _ = w.Write([]byte(sb.String()))
	}
}

func writeScalar(sb *strings.Builder, name, labels, value string) {
	if labels == "" {
		fmt.Fprintf(sb, "%s %s\n", name, value)
		return
	}
	fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
}

func writeBucket(sb *strings.Builder, name, labels, le string, n int64) {
	if labels == "" {
		fmt.Fprintf(sb, "%s_bucket{le=%q} %d\n", name, le, n)
		return
	}
	fmt.Fprintf(sb, "%s_bucket{le=%q,%s} %d\n", name, le, labels, n)
}
