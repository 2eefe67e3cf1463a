// Package dedupe guards against two concurrent ingests racing on the
// same content id (spec §4.5 step 4: "reject if the content id is
// already in flight"). It is a thin wrapper over pkg/kv's SetNX, not a
// new storage mechanism.
package dedupe

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a content id is considered in flight if
// the ingest that claimed it never releases it (crash, panic).
const DefaultTTL = 5 * time.Minute

type kvStore interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Guard claims and releases in-flight content ids.
type Guard struct {
	kv  kvStore
	ttl time.Duration
}

func New(kv kvStore) *Guard {
	return &Guard{kv: kv, ttl: DefaultTTL}
}

// Claim reserves contentID for the duration of one ingest attempt. It
// returns false if another ingest already holds the claim.
func (g *Guard) Claim(ctx context.Context, contentID string) (bool, error) {
	ok, err := g.kv.SetNX(ctx, key(contentID), []byte("1"), g.ttl)
	if err != nil {
		return false, fmt.Errorf("dedupe: claim %s: %w", contentID, err)
	}
	return ok, nil
}

// Release frees a claim once the ingest attempt concludes (success or
// failure). Callers should defer this immediately after a successful
// Claim.
func (g *Guard) Release(ctx context.Context, contentID string) error {
	if err := g.kv.Delete(ctx, key(contentID)); err != nil {
		return fmt.Errorf("dedupe: release %s: %w", contentID, err)
	}
	return nil
}

func key(contentID string) string {
	return "dedupe:inflight:" + contentID
}
