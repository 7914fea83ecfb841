// Package store defines the capability-typed Store contract the loader
// chain consumes. Concrete stores (store/memstore,
// store/redisstore, or any distributed implementation) satisfy this
// interface; the core never imports a concrete store package.
package store

import "context"

// Key is a parsed key as produced by keyparser.Parse: either a plain
// string (the hashed default) or a MultiKey (when the owning store
// declares SupportsMultipleIdentifiers). It must always be comparable so
// it can key a Go map.
type Key any

// MultiKey is the structured parsed-key form for stores that declare
// SupportsMultipleIdentifiers. All fields are compared by
// value, so two MultiKeys built from equal inputs compare equal.
type MultiKey struct {
	Component   string
	Area        string
	Identifiers string // identifiers joined by the key parser, order-stable
	Key         string
}

// Capabilities are probed once at store construction and cached by the
// store, which returns the same value on every call; they never change for
// the lifetime of a store instance.
type Capabilities struct {
	// SupportsNativeTTL: the store manages expiry itself; the loader must
	// not wrap values in envelope.TTL and instead calls SetWithTTL.
	SupportsNativeTTL bool
	// SupportsMultipleIdentifiers: the key parser should emit a MultiKey
	// instead of hashing to a single string.
	SupportsMultipleIdentifiers bool
	// SupportsDereferencingObjects: the store hands back a value with no
	// shared mutable state, so the loader can skip reference-safety
	// protection.
	SupportsDereferencingObjects bool
	// IsKeyAware: the store can enumerate/operate on keys directly
	// (distinguishes "real" key-value stores from opaque blob stores;
	// reserved for future capability checks, e.g. has_any/has_all
	// shortcuts).
	IsKeyAware bool
	// IsLockable: the store implements Lockable itself; if false the
	// loader's lock coordinator must fall back to a secondary lock store.
	IsLockable bool
}

// Store is the full capability-agnostic operation surface every store
// implements; capability flags describe behavioral differences, not
// missing methods: every store exposes both Set and SetWithTTL
// unconditionally, and the flags say which one the loader should use.
type Store interface {
	Capabilities() Capabilities

	Get(ctx context.Context, key Key) (any, bool, error)
	GetMany(ctx context.Context, keys []Key) (map[Key]any, error)

	Set(ctx context.Context, key Key, value any) error
	SetWithTTL(ctx context.Context, key Key, value any, ttlSeconds int64) error
	SetMany(ctx context.Context, values map[Key]any) (int, error)

	Delete(ctx context.Context, key Key) error
	DeleteMany(ctx context.Context, keys []Key) (int, error)

	Has(ctx context.Context, key Key) (bool, error)
	HasAll(ctx context.Context, keys []Key) (bool, error)
	HasAny(ctx context.Context, keys []Key) (bool, error)

	Purge(ctx context.Context) error
}

// LockState is the tri-state result of CheckLockState.
type LockState int

const (
	LockNotHeld LockState = iota
	LockHeldByCaller
	LockHeldByOther
)

// Lockable is implemented by stores whose Capabilities().IsLockable is
// true. Locks are advisory and per-key; no ordering/deadlock-avoidance
// protocol is required because the loader's write path acquires at most
// one lock at a time.
type Lockable interface {
	AcquireLock(ctx context.Context, key Key, owner string) (bool, error)
	ReleaseLock(ctx context.Context, key Key, owner string) (bool, error)
	CheckLockState(ctx context.Context, key Key, owner string) (LockState, error)
}

// Observable is implemented by stores that can report I/O volume for the
// most recent operation.
type Observable interface {
	GetLastIOBytes() int64
}
