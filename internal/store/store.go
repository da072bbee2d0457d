// Package store provides the durable keyed storage boundary used to persist
// sessions, tasks and graph snapshots between control-loop passes.
package store

import (
	"context"
	"time"
)

// Store is the session-store contract: a byte-oriented keyed store with
// per-key TTL. All payloads are structured, serializable records; encoding
// belongs to the callers.
//
// Get returns (nil, nil) for an absent or expired key. Implementations must
// be safe for concurrent use. Any returned error is a durability risk and
// must be surfaced to the caller, never swallowed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key prefixes shared by all backends.
const (
	KeyPrefixSession = "session:"
	KeyPrefixTask    = "task:"
)

// SessionKey builds the storage key for a context's session record.
func SessionKey(contextID string) string { return KeyPrefixSession + contextID }

// TaskKey builds the storage key for a task record.
func TaskKey(taskID string) string { return KeyPrefixTask + taskID }
