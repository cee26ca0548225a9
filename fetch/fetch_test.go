package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tokenforge/scanner/scanerr"
)

func TestFetchEmptyCSSWhenNoStylesheets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head></head><body>hello</body></html>`))
	}))
	defer srv.Close()

	f := New("tokenforge-scanner/1.0", 5*time.Second)
	_, err := f.Fetch(context.Background(), srv.URL, ModeStatic)
	if err == nil {
		t.Fatal("expected EmptyCss error")
	}
	serr, ok := err.(*scanerr.Error)
	if !ok || serr.Kind != scanerr.EmptyCSS {
		t.Fatalf("expected EmptyCss kind, got %v", err)
	}
}

func TestFetchRobotsDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	f := New("tokenforge-scanner/1.0", 5*time.Second)
	_, err := f.Fetch(context.Background(), srv.URL+"/page", ModeStatic)
	if err == nil {
		t.Fatal("expected RobotsDenied error")
	}
	serr, ok := err.(*scanerr.Error)
	if !ok || serr.Kind != scanerr.RobotsDenied {
		t.Fatalf("expected RobotsDenied kind, got %v", err)
	}
}

func TestFetchDiscoversLinkedAndInlineCSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/style.css":
			w.Write([]byte(`body{color:#635bff}`))
		default:
			w.Write([]byte(`<html><head><link rel="stylesheet" href="/style.css"></head><body style="margin:8px">hi</body></html>`))
		}
	}))
	defer srv.Close()

	f := New("tokenforge-scanner/1.0", 5*time.Second)
	bundle, err := f.Fetch(context.Background(), srv.URL, ModeStatic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Sources) != 2 {
		t.Fatalf("expected 2 sources (linked + inline), got %d", len(bundle.Sources))
	}
}

func TestFetchWithProgressReportsGrowingByteTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/style.css":
			w.Write([]byte(`body{color:#635bff}`))
		default:
			w.Write([]byte(`<html><head><link rel="stylesheet" href="/style.css"></head><body style="margin:8px">hi</body></html>`))
		}
	}))
	defer srv.Close()

	f := New("tokenforge-scanner/1.0", 5*time.Second)
	var seen []int
	_, err := f.FetchWithProgress(context.Background(), srv.URL, ModeStatic, func(totalBytes int) {
		seen = append(seen, totalBytes)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) < 2 {
		t.Fatalf("expected at least 2 progress callbacks (html + linked css), got %d: %v", len(seen), seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("expected monotonically non-decreasing byte totals, got %v", seen)
		}
	}
}

func TestFetchResolvesImportChainAndBreaksCycles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.WriteHeader(http.StatusNotFound)
		case "/base.css":
			// base imports a.css, and a.css imports base.css right back —
			// the cycle must not loop forever.
			w.Write([]byte(`@import url("a.css"); body{color:#111}`))
		case "/a.css":
			w.Write([]byte(`@import "base.css"; h1{color:#222}`))
		default:
			w.Write([]byte(`<html><head><link rel="stylesheet" href="/base.css"></head><body>hi</body></html>`))
		}
	}))
	defer srv.Close()

	f := New("tokenforge-scanner/1.0", 5*time.Second)
	bundle, err := f.Fetch(context.Background(), srv.URL, ModeStatic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base.css + a.css; the second @import of base.css must be skipped as
	// an already-visited cycle.
	if len(bundle.Sources) != 2 {
		t.Fatalf("expected base.css + a.css, got %d sources: %+v", len(bundle.Sources), bundle.Sources)
	}
}
