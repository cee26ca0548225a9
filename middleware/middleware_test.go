package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDeadlinePassesThroughFastHandlers(t *testing.T) {
	mw := NewDeadline(zerolog.Nop(), time.Second)
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestDeadlineReturns504WithTimeoutKind(t *testing.T) {
	mw := NewDeadline(zerolog.Nop(), 20*time.Millisecond)
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"kind":"Timeout"`) {
		t.Fatalf("expected Timeout error kind in body, got %q", rec.Body.String())
	}
}

func TestDeadlineDoesNotOverwritePartialResponse(t *testing.T) {
	mw := NewDeadline(zerolog.Nop(), 20*time.Millisecond)
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		<-r.Context().Done()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/abc/events", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the handler's 200 to stand, got %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Fatalf("504 body must not be appended to a started response, got %q", rec.Body.String())
	}
}

func TestDeadlineHonorsClientOverrideHeaderCap(t *testing.T) {
	mw := NewDeadline(zerolog.Nop(), time.Second)

	r := httptest.NewRequest(http.MethodPost, "/scan", nil)
	r.Header.Set("X-Scan-Timeout", "86400")
	if got := mw.budgetFor(r); got != maxClientTimeout {
		t.Fatalf("expected cap at %v, got %v", maxClientTimeout, got)
	}

	r.Header.Set("X-Scan-Timeout", "3")
	if got := mw.budgetFor(r); got != 3*time.Second {
		t.Fatalf("expected 3s override, got %v", got)
	}

	r.Header.Set("X-Scan-Timeout", "garbage")
	if got := mw.budgetFor(r); got != time.Second {
		t.Fatalf("expected default on bad header, got %v", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	h := CORS([]string{"https://dash.tokenforge.dev"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	r := httptest.NewRequest(http.MethodOptions, "/scan", nil)
	r.Header.Set("Origin", "https://dash.tokenforge.dev")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.tokenforge.dev" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("explicit origin grants should allow credentials")
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected literal *, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard grants must not set the credentials header")
	}
}

func TestRequestIDMintedAndReflected(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if seen == "" {
		t.Fatal("expected a minted request id on the inbound request")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatal("response id must match the one the handler saw")
	}

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Header().Get("X-Request-ID") != "caller-supplied" {
		t.Fatal("caller-supplied id must be preserved")
	}
}
