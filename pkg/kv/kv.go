// Copyright 2025 Certen Protocol
//
// Package kv is the "cache" role out of the three logical interfaces
// REDESIGN FLAGS splits out of "three Redis-like roles": a TTL-bounded
// key/value store. pkg/queue models the durable-queue role separately,
// even though both are backed by the same Redis instance in
// production.
package kv

import (
	"context"
	"time"
)

// Store is a TTL key/value store. Implementations: RedisStore (the hot
// tier backing), and an in-memory Store for tests and single-node
// development.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX sets the key only if absent, returning whether it was set.
	// Used for in-flight dedup and planner singleton locking.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
