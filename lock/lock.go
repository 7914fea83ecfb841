// Package lock implements the write-locking discipline for backfill:
// every backfill write, when a cache requires it, happens under a lock
// named by the caller key. The lock uses the owning store's native
// Lockable capability when present, otherwise a secondary lock store.
package lock

import (
	"context"

	"github.com/devonwells/cachechain/store"
)

// Coordinator wraps whichever store.Lockable backs a given loader's
// locking decisions. Locks are advisory and per-key: the loader's write
// path never holds more than one lock at a time, so no ordering or
// deadlock-avoidance protocol is implemented or required.
type Coordinator struct {
	primary   store.Lockable // the owning store, if it IsLockable
	secondary store.Lockable // fallback lock store, used when primary is nil
}

// New builds a Coordinator. owner is the owning store's Lockable view (nil
// if the store does not declare IsLockable); fallback is consulted
// instead when owner is nil. At least one of the two must be non-nil for
// WithLock to do anything but run fn unlocked.
func New(owner, fallback store.Lockable) *Coordinator {
	return &Coordinator{primary: owner, secondary: fallback}
}

func (c *Coordinator) backing() store.Lockable {
	if c.primary != nil {
		return c.primary
	}
	return c.secondary
}

// WithLock runs fn under a lock named by key, checking whether the
// caller already holds the lock first: if CheckLockState reports
// LockHeldByCaller, fn runs without a fresh acquire/release pair
// (re-entrant). Otherwise the lock is acquired, fn runs, and the lock is
// released on every exit path including a fault from fn itself. If no
// backing Lockable is configured, fn runs unlocked (locking is opt-in per
// a per-cache flag; a Coordinator is only constructed at all when that
// flag is set).
func (c *Coordinator) WithLock(ctx context.Context, key store.Key, owner string, fn func() error) error {
	backing := c.backing()
	if backing == nil {
		return fn()
	}

	state, err := backing.CheckLockState(ctx, key, owner)
	if err != nil {
		return err
	}
	if state == store.LockHeldByCaller {
		return fn()
	}

	// Locks are advisory: a failed acquire (held by another
	// in-flight request) does not block the write, it only means this
	// request skips the coordination benefit for this one key.
	acquired, err := backing.AcquireLock(ctx, key, owner)
	if err != nil {
		return err
	}
	if acquired {
		defer func() { _, _ = backing.ReleaseLock(ctx, key, owner) }()
	}

	return fn()
}
