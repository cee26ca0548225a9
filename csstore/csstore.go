// Package csstore implements the content-addressed CSS store: put/get
// with compression and reference counting, and a background sweep task
// that reclaims unreferenced, expired bodies.
package csstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/tokenforge/scanner/store"
)

// algorithm identifier byte, leading every stored body so the compression
// scheme can evolve without breaking older rows.
const (
	algoZstd byte = 1
)

// Store is the content-addressed CSS body store.
type Store struct {
	db      *store.Store
	log     zerolog.Logger
	ttlDays int

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Store backed by db, defaulting new bodies to ttlDays.
func New(db *store.Store, log zerolog.Logger, ttlDays int) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("csstore: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("csstore: new zstd decoder: %w", err)
	}
	return &Store{db: db, log: log, ttlDays: ttlDays, encoder: enc, decoder: dec}, nil
}

// normalize strips a UTF-8 BOM and canonicalizes line endings to "\n"
// before hashing or storing, so content-addressing is stable across
// platforms.
func normalize(body []byte) []byte {
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	body = bytes.ReplaceAll(body, []byte("\r"), []byte("\n"))
	return body
}

// SHA256Hex returns the hex SHA-256 of the normalized body, the
// content-addressing key used throughout the store.
func SHA256Hex(body []byte) string {
	sum := sha256.Sum256(normalize(body))
	return hex.EncodeToString(sum[:])
}

// Put normalizes and compresses body, writes a new row iff none exists for
// its SHA, and always increments the reference count for the caller's
// scan. Put is idempotent: identical bytes always yield the same SHA and
// never create a second row.
func (s *Store) Put(ctx context.Context, body []byte) (sha string, inserted bool, err error) {
	normalized := normalize(body)
	sha = SHA256Hex(normalized)

	compressed := s.encoder.EncodeAll(normalized, make([]byte, 0, len(normalized)/2))
	stored := make([]byte, 0, len(compressed)+1)
	stored = append(stored, algoZstd)
	stored = append(stored, compressed...)

	inserted, err = s.db.UpsertCSSContent(ctx, sha, stored, len(normalized), len(stored), s.ttlDays)
	if err != nil {
		return "", false, fmt.Errorf("csstore put: %w", err)
	}
	return sha, inserted, nil
}

// Get decompresses and returns the body for sha. Callers must not retain
// the returned slice beyond a single analyzer pass.
func (s *Store) Get(ctx context.Context, sha string) ([]byte, error) {
	c, err := s.db.GetCSSContent(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("csstore get %s: %w", sha, err)
	}
	if len(c.Body) == 0 {
		return nil, nil
	}
	algo, payload := c.Body[0], c.Body[1:]
	switch algo {
	case algoZstd:
		out, err := s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("csstore decompress %s: %w", sha, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("csstore %s: unknown compression algorithm byte %d", sha, algo)
	}
}

// Release decrements the reference count for sha when a scan referencing
// it is deleted. It never deletes content eagerly — only sweep() does.
func (s *Store) Release(ctx context.Context, sha string) error {
	return s.db.ReleaseCSSContent(ctx, sha)
}

// Sweep performs one pass of background garbage collection, deleting
// bodies with reference_count == 0 whose last_accessed is older than their
// ttl_days. It is safe under concurrent Put — a racing Put after a row is
// swept simply re-inserts it via UpsertCSSContent's ON CONFLICT path.
func (s *Store) Sweep(ctx context.Context) (removed int64, err error) {
	removed, err = s.db.SweepExpiredCSSContent(ctx)
	if err != nil {
		return 0, fmt.Errorf("csstore sweep: %w", err)
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("css store sweep reclaimed expired bodies")
	}
	return removed, nil
}

// StartSweeper runs Sweep on interval until ctx is canceled, in the same
// ticker-loop shape used for the provider health poller, generalized from
// provider-health polling to CSS garbage collection.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Warn().Err(err).Msg("css store sweep failed")
				}
			}
		}
	}()
}

// Origin describes where a CssSource came from, mirroring store.Origin*
// constants without importing the store package's naming directly into
// call sites that only deal with bytes.
type Origin string

const (
	OriginLinked   Origin = Origin(store.OriginLinked)
	OriginInline   Origin = Origin(store.OriginInline)
	OriginComputed Origin = Origin(store.OriginComputed)
)

// ParseOrigin validates a fetch.Source's OriginKind string against the
// known Origin values before it is persisted, so a malformed or
// unrecognized origin fails loudly at store time rather than being
// written silently and misread later by anything keyed on it.
func ParseOrigin(kind string) (Origin, bool) {
	switch Origin(kind) {
	case OriginLinked, OriginInline, OriginComputed:
		return Origin(kind), true
	default:
		return "", false
	}
}

// KeyForOrigin builds a stable per-source label for logging/progress
// messages: "linked:https://example.com/a.css" or just "inline"/"computed"
// when there is no URL to disambiguate.
func KeyForOrigin(o Origin, url string) string {
	if url == "" {
		return string(o)
	}
	return strings.ToLower(string(o)) + ":" + url
}
