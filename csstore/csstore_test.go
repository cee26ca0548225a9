package csstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/store"
)

func openTestCSStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "scan.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, zerolog.Nop(), 30)
	if err != nil {
		t.Fatalf("csstore.New: %v", err)
	}
	return s
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	s := openTestCSStore(t)
	ctx := context.Background()

	sha1, inserted1, err := s.Put(ctx, []byte(".btn { color: red; }"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !inserted1 {
		t.Fatal("expected first Put to insert a new row")
	}

	sha2, inserted2, err := s.Put(ctx, []byte(".btn { color: red; }"))
	if err != nil {
		t.Fatalf("Put (again): %v", err)
	}
	if inserted2 {
		t.Fatal("expected second identical Put to reuse the existing row")
	}
	if sha1 != sha2 {
		t.Fatalf("expected identical bytes to hash identically, got %q vs %q", sha1, sha2)
	}
}

func TestPutNormalizesLineEndingsBeforeHashing(t *testing.T) {
	s := openTestCSStore(t)
	ctx := context.Background()

	unixSHA, _, err := s.Put(ctx, []byte(".a{color:red}\n"))
	if err != nil {
		t.Fatalf("Put unix: %v", err)
	}
	crlfSHA, _, err := s.Put(ctx, []byte(".a{color:red}\r\n"))
	if err != nil {
		t.Fatalf("Put crlf: %v", err)
	}
	if unixSHA != crlfSHA {
		t.Fatalf("expected CRLF and LF bodies to normalize to the same SHA, got %q vs %q", unixSHA, crlfSHA)
	}
}

func TestGetRoundTripsCompressedBody(t *testing.T) {
	s := openTestCSStore(t)
	ctx := context.Background()

	body := []byte(".card { box-shadow: 0 2px 4px rgba(0,0,0,.1); }")
	sha, _, err := s.Put(ctx, body)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, sha)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("Get roundtrip mismatch: got %q, want %q", got, body)
	}
}

func TestParseOriginRejectsUnknownKind(t *testing.T) {
	if _, ok := ParseOrigin("linked"); !ok {
		t.Fatal("expected \"linked\" to be a recognized origin")
	}
	if _, ok := ParseOrigin("bogus"); ok {
		t.Fatal("expected an unrecognized origin kind to be rejected")
	}
}

func TestKeyForOriginIncludesURLWhenPresent(t *testing.T) {
	if got := KeyForOrigin(OriginLinked, "https://example.test/a.css"); got != "linked:https://example.test/a.css" {
		t.Fatalf("unexpected key: %q", got)
	}
	if got := KeyForOrigin(OriginInline, ""); got != "inline" {
		t.Fatalf("unexpected key for url-less origin: %q", got)
	}
}
