package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/maestro-ai/maestro/internal/store"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// Registry is the injected, scoped session table: one lock-guarded entry per
// context ID, create-on-first-use, TTL-based eviction via the backing store.
//
// Two requests racing on the same context ID are serialized by Acquire, so a
// control-loop pass always observes and writes a consistent session record.
type Registry struct {
	store store.Store
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*contextLock
}

// contextLock is a per-context mutex with a holder/waiter count, so the
// entry can be dropped once nobody references it.
type contextLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a Registry persisting sessions with the given TTL.
func NewRegistry(s store.Store, ttl time.Duration) *Registry {
	return &Registry{
		store: s,
		ttl:   ttl,
		locks: make(map[string]*contextLock),
	}
}

// Acquire takes the per-context lock and returns its release function.
// Callers hold the lock for the duration of one control-loop pass. The lock
// entry is removed when the last holder or waiter releases it.
func (r *Registry) Acquire(contextID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[contextID]
	if !ok {
		lock = &contextLock{}
		r.locks[contextID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, contextID)
		}
		r.mu.Unlock()
	}
}

// Load returns the session for the context ID, creating a fresh record in
// the new state on first use (or after TTL eviction).
func (r *Registry) Load(ctx context.Context, contextID string) (*Session, error) {
	data, err := r.store.Get(ctx, store.SessionKey(contextID))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load session %s: %s", contextID, err.Error()).WithCause(err)
	}
	if data == nil {
		now := time.Now().UTC()
		return &Session{
			ContextID:    contextID,
			State:        schema.SessionStateNew,
			CreatedAt:    now,
			LastActivity: now,
		}, nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode session %s: %s", contextID, err.Error()).WithCause(err)
	}
	return &sess, nil
}

// Save stamps the session's last-activity time and persists it with the
// registry TTL, refreshing the eviction deadline.
func (r *Registry) Save(ctx context.Context, sess *Session) error {
	sess.LastActivity = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode session %s: %s", sess.ContextID, err.Error()).WithCause(err)
	}
	if err := r.store.Put(ctx, store.SessionKey(sess.ContextID), data, r.ttl); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist session %s: %s", sess.ContextID, err.Error()).WithCause(err)
	}
	return nil
}

// Delete removes the session record. The lock entry, if any, goes away when
// its last holder releases it.
func (r *Registry) Delete(ctx context.Context, contextID string) error {
	if err := r.store.Delete(ctx, store.SessionKey(contextID)); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete session %s: %s", contextID, err.Error()).WithCause(err)
	}
	return nil
}
