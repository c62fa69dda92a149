// Package store provides the keyed, TTL-aware storage used for cross-request
// security state (revoked tokens, failed sign-in attempts, rate windows).
package store

import (
	"context"
	"time"
)

// KeyedStore is namespaced key/value storage with per-entry expiry. A zero ttl
// means the entry does not expire. Implementations must be safe for concurrent use.
type KeyedStore interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	// Increment adds one to an integer entry, creating it at 1. ttl is applied
	// when the entry is created.
	Increment(ctx context.Context, namespace, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, namespace, key string) error
	// Len counts live entries in namespace.
	Len(ctx context.Context, namespace string) (int64, error)
	// EvictOldest removes up to n live entries in insertion order, earliest first.
	EvictOldest(ctx context.Context, namespace string, n int64) (int64, error)
}
