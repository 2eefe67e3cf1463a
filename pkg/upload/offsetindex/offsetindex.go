// Package offsetindex serves the read side of the offset index (spec
// §4.9): a point lookup from item id to its retrievability record,
// fronted by a short TTL cache since the table sees heavy read
// amplification from downstream caches range-reading items out of
// their parent bundle.
package offsetindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/bundler-gateway/pkg/kv"
	"github.com/certen/bundler-gateway/pkg/upload/store"
)

// CacheControlSeconds is the Cache-Control max-age the HTTP handler
// advertises on GET /tx/:id/offset responses (spec §4.9).
const CacheControlSeconds = 60

// Index wraps store.OffsetRepository's point lookup with an
// in-process-visible TTL cache, so repeated lookups for a hot item
// during its downstream-cache warm-up don't each hit Postgres.
type Index struct {
	offsets *store.OffsetRepository
	cache   kv.Store
	ttl     time.Duration
}

// New constructs an Index. cache may be nil to disable caching
// entirely (every lookup goes straight to the repository).
func New(offsets *store.OffsetRepository, cache kv.Store) *Index {
	return &Index{offsets: offsets, cache: cache, ttl: CacheControlSeconds * time.Second}
}

func cacheKey(itemID string) string { return "offsetindex:" + itemID }

// Lookup returns itemID's offset record, serving a cached copy when
// available. Returns store.ErrOffsetNotFound when the item has no
// offset record yet (not planned/prepared), which the HTTP handler
// maps to 404.
func (x *Index) Lookup(ctx context.Context, itemID string) (*store.OffsetRecord, error) {
	if x.cache != nil {
		if raw, ok, err := x.cache.Get(ctx, cacheKey(itemID)); err == nil && ok {
			var rec store.OffsetRecord
			if json.Unmarshal(raw, &rec) == nil {
				return &rec, nil
			}
		}
	}

	rec, err := x.offsets.ByItemID(ctx, nil, itemID)
	if err != nil {
		return nil, err
	}

	if x.cache != nil {
		if raw, merr := json.Marshal(rec); merr == nil {
			_ = x.cache.Set(ctx, cacheKey(itemID), raw, x.ttl)
		}
	}
	return rec, nil
}

// Invalidate drops any cached entry for itemID. The put-offsets stage
// calls this after an upsert so a client polling GET /tx/:id/offset
// right after prepare doesn't keep seeing a 404 for the cache's TTL.
func (x *Index) Invalidate(ctx context.Context, itemID string) error {
	if x.cache == nil {
		return nil
	}
	if err := x.cache.Delete(ctx, cacheKey(itemID)); err != nil {
		return fmt.Errorf("offsetindex: invalidate %s: %w", itemID, err)
	}
	return nil
}
