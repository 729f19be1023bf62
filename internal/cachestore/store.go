// Package cachestore provides the key/value substrate for the cache
// service: per-entry TTLs, pattern invalidation, and availability checks.
// Store unavailability never raises; it degrades to absent/fail so callers
// can fall back to a cache-less path.
package cachestore

import (
	"context"
	"time"
)

// Store is the contract the cache service depends on. Implementations are
// safe for concurrent use across sessions.
type Store interface {
	// Get returns the value for key, or ok=false when the key is absent,
	// expired, or the store is unreachable.
	Get(ctx context.Context, key string) (value []byte, ok bool)

	// Set writes value under key with the given TTL. Returns false when
	// the write failed; it never returns an error.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// DeleteMatching removes all keys matching a glob-style pattern and
	// returns the number deleted. Unreachable stores delete nothing.
	DeleteMatching(ctx context.Context, pattern string) int

	// Ping reports whether the store is currently reachable.
	Ping(ctx context.Context) bool
}
