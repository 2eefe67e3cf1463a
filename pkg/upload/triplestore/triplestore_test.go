package triplestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/certen/bundler-gateway/pkg/kv"
)

// failingHotStore always fails Set, simulating a hot-tier (Redis)
// outage so Write's best-effort handling of it can be exercised.
type failingHotStore struct {
	kv.Store
}

func (failingHotStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("hot store unavailable")
}

func TestWriteThenReadPrefersHot(t *testing.T) {
	dir := t.TempDir()
	store := New(NewMemoryColdStore(), dir, kv.NewMemoryStore())
	ctx := context.Background()

	if err := store.Write(ctx, "item-1", []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := store.Read(ctx, "item-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q, want %q", data, "payload")
	}
}

func TestReadFallsBackToColdAfterEvictHotAndWarm(t *testing.T) {
	dir := t.TempDir()
	store := New(NewMemoryColdStore(), dir, kv.NewMemoryStore())
	ctx := context.Background()

	if err := store.Write(ctx, "item-2", []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.EvictHot(ctx, "item-2"); err != nil {
		t.Fatalf("evict hot: %v", err)
	}
	if err := store.RemoveWarm("item-2"); err != nil {
		t.Fatalf("remove warm: %v", err)
	}

	data, err := store.Read(ctx, "item-2")
	if err != nil {
		t.Fatalf("read after evicting hot and warm: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q, want %q", data, "payload")
	}
}

func TestWarmPathIsSharded(t *testing.T) {
	dir := t.TempDir()
	store := New(NewMemoryColdStore(), dir, kv.NewMemoryStore())
	ctx := context.Background()

	if err := store.Write(ctx, "ab12cd", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(dir + "/a/b/ab12cd"); err != nil {
		t.Fatalf("expected sharded warm path, stat error: %v", err)
	}
}

func TestQuarantineDoesNotTouchColdOrWarm(t *testing.T) {
	dir := t.TempDir()
	cold := NewMemoryColdStore()
	store := New(cold, dir, kv.NewMemoryStore())
	ctx := context.Background()

	if err := store.Quarantine(ctx, "rejected-1", []byte("bad")); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if _, err := cold.Get(ctx, "rejected-1"); err != ErrNotFound {
		t.Fatalf("expected quarantined item absent from cold, got err=%v", err)
	}
	if _, err := os.Stat(store.warmPath("rejected-1")); !os.IsNotExist(err) {
		t.Fatalf("expected quarantined item absent from warm, stat err=%v", err)
	}
}

func TestWriteSucceedsWhenHotFailsAfterColdCommits(t *testing.T) {
	dir := t.TempDir()
	cold := NewMemoryColdStore()
	store := New(cold, dir, failingHotStore{kv.NewMemoryStore()})
	ctx := context.Background()

	if err := store.Write(ctx, "item-3", []byte("payload")); err != nil {
		t.Fatalf("write should not fail on a hot-tier outage once cold commits: %v", err)
	}
	if _, err := cold.Get(ctx, "item-3"); err != nil {
		t.Fatalf("expected item committed to cold: %v", err)
	}
}

func TestWriteSucceedsWhenWarmFailsAfterColdCommits(t *testing.T) {
	cold := NewMemoryColdStore()
	// warmDir points at a file, not a directory, so MkdirAll underneath
	// it always fails.
	blocker := t.TempDir() + "/not-a-dir"
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	store := New(cold, blocker+"/sub", kv.NewMemoryStore())
	ctx := context.Background()

	if err := store.Write(ctx, "item-4", []byte("payload")); err != nil {
		t.Fatalf("write should not fail on a warm-tier outage once cold commits: %v", err)
	}
	if _, err := cold.Get(ctx, "item-4"); err != nil {
		t.Fatalf("expected item committed to cold: %v", err)
	}
}
