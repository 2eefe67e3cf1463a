// Package triplestore implements the upload service's three-tier item
// storage (spec §4.6): cold object store (commit point), warm local
// filesystem (best-effort), hot cache (fast retrieval window). Writes
// go cold, then warm, then hot, in that order; cold failing aborts the
// write. Reads prefer hot, then warm, then cold.
package triplestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/certen/bundler-gateway/pkg/kv"
)

// ErrNotFound is returned when an item is absent from all three tiers.
var ErrNotFound = errors.New("triplestore: item not found")

// HotTTL bounds how long hot-cache copies stay warm for retrieval
// before a direct cold/warm read is required.
const HotTTL = 24 * time.Hour

// QuarantineTTL is how long verification-rejected content is kept in
// the hot quarantine namespace for postmortem (spec §4.6).
const QuarantineTTL = 24 * time.Hour

// bestEffortAttempts bounds how many times a warm or hot write is
// retried before it's logged and abandoned; neither tier gets to block
// or fail a write once cold has committed.
const bestEffortAttempts = 3

// bestEffortRetryDelay is the pause between best-effort retry attempts.
const bestEffortRetryDelay = 50 * time.Millisecond

// ColdStore is the commit-point object store.
type ColdStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Store writes to all three tiers and reads hot-then-warm-then-cold.
type Store struct {
	cold    ColdStore
	warmDir string
	hot     kv.Store
	logger  *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a component-prefixed logger used to report
// best-effort warm/hot failures that Write swallows.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(cold ColdStore, warmDir string, hot kv.Store, opts ...Option) *Store {
	s := &Store{cold: cold, warmDir: warmDir, hot: hot, logger: log.New(io.Discard, "", 0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write triple-writes an item, cold first. If cold fails the whole
// write fails; the caller must abort the upload (spec §4.5 step 7).
// Warm and hot are best-effort tiers reconstructible from cold: each
// gets up to bestEffortAttempts tries, and a failure that survives all
// of them is logged and swallowed rather than propagated, so a warm or
// hot outage never triggers a refund/quarantine for an item cold has
// already committed.
func (s *Store) Write(ctx context.Context, itemID string, data []byte) error {
	if err := s.cold.Put(ctx, itemID, data); err != nil {
		return fmt.Errorf("triplestore: cold write %s: %w", itemID, err)
	}

	if err := retryBestEffort(func() error { return s.writeWarm(itemID, data) }); err != nil {
		s.logger.Printf("triplestore: cold committed but warm write failed for %s, continuing: %v", itemID, err)
	}

	if err := retryBestEffort(func() error { return s.hot.Set(ctx, hotKey(itemID), data, HotTTL) }); err != nil {
		s.logger.Printf("triplestore: cold committed but hot write failed for %s, continuing: %v", itemID, err)
	}
	return nil
}

// retryBestEffort calls fn up to bestEffortAttempts times, pausing
// bestEffortRetryDelay between tries, returning the last error if none
// succeed.
func retryBestEffort(fn func() error) error {
	var err error
	for attempt := 0; attempt < bestEffortAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(bestEffortRetryDelay)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Read fetches an item, trying hot, then warm, then cold in order.
func (s *Store) Read(ctx context.Context, itemID string) ([]byte, error) {
	if data, ok, err := s.hot.Get(ctx, hotKey(itemID)); err == nil && ok {
		return data, nil
	}

	if data, err := s.readWarm(itemID); err == nil {
		return data, nil
	}

	data, err := s.cold.Get(ctx, itemID)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// Quarantine moves rejected content into the hot quarantine namespace
// instead of the normal hot key, for 24h postmortem retention, and
// never touches warm or cold (the item was never committed there).
func (s *Store) Quarantine(ctx context.Context, itemID string, data []byte) error {
	if err := s.hot.Set(ctx, quarantineKey(itemID), data, QuarantineTTL); err != nil {
		return fmt.Errorf("triplestore: quarantine %s: %w", itemID, err)
	}
	return nil
}

// EvictHot removes an item's hot-cache copy, used once an item reaches
// permanent status (spec §4.8 verifier).
func (s *Store) EvictHot(ctx context.Context, itemID string) error {
	return s.hot.Delete(ctx, hotKey(itemID))
}

// RemoveWarm deletes an item's warm-store copy, used by the
// cleanup-warm stage (spec §4.8) once an item has been permanent for
// 24h; it never touches cold.
func (s *Store) RemoveWarm(itemID string) error {
	path := s.warmPath(itemID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("triplestore: remove warm copy %s: %w", itemID, err)
	}
	return nil
}

func (s *Store) writeWarm(itemID string, data []byte) error {
	path := s.warmPath(itemID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) readWarm(itemID string) ([]byte, error) {
	return os.ReadFile(s.warmPath(itemID))
}

// warmPath shards by the item id's first two characters, id[0]/id[1]/id
// (spec §4.6), keeping any single directory from growing unbounded.
func (s *Store) warmPath(itemID string) string {
	if len(itemID) < 2 {
		return filepath.Join(s.warmDir, itemID)
	}
	return filepath.Join(s.warmDir, string(itemID[0]), string(itemID[1]), itemID)
}

func hotKey(itemID string) string        { return "triplestore:hot:" + itemID }
func quarantineKey(itemID string) string { return "triplestore:quarantine:" + itemID }

// ReadAll drains an io.Reader into memory, used by callers assembling
// data for Write from a streaming request body.
func ReadAll(r io.Reader, maxSize int64) ([]byte, error) {
	limited := io.LimitReader(r, maxSize+1)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(limited); err != nil {
		return nil, fmt.Errorf("triplestore: read body: %w", err)
	}
	if int64(buf.Len()) > maxSize {
		return nil, fmt.Errorf("triplestore: body exceeds max size %d", maxSize)
	}
	return buf.Bytes(), nil
}
