package memstore

import (
	"time"

	"github.com/devonwells/cachechain/policy"
	"github.com/devonwells/cachechain/policy/lru"
)

// EvictReason explains why an entry left the store.
type EvictReason int

const (
	EvictPolicy EvictReason = iota
	EvictTTL
	EvictCapacity
)

// Metrics exposes store-level observability hooks; NoopMetrics is the
// default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                   {}
func (NoopMetrics) Miss()                  {}
func (NoopMetrics) Evict(EvictReason)      {}
func (NoopMetrics) Size(_ int, _ int64)    {}

// Clock overrides the time source; nil means time.Now (tests use a fake).
type Clock interface{ NowUnixNano() int64 }

// Options configures a memstore.Store.
type Options struct {
	// Capacity is the per-store entry limit shared evenly across shards.
	// 0 means unbounded (no count-based eviction) — memstore is meant to
	// double as a realistic "backing store", which is not always bounded
	// the way a request-scoped accel tier is.
	Capacity int

	// Shards; 0 = auto (scaled to CPU parallelism).
	Shards int

	// Policy is pluggable eviction (LRU default, or policy/twoq); only
	// meaningful when Capacity > 0.
	Policy policy.Policy[any, any]

	Metrics Metrics
	Clock   Clock

	// LockTTL bounds how long an advisory lock acquired via AcquireLock
	// survives without a matching Release (protects against a crashed
	// holder wedging a key forever). 0 disables the bound.
	LockTTL time.Duration

	// OnEvict is invoked synchronously under the shard lock on every
	// eviction; keep callbacks lightweight.
	OnEvict func(key any, value any, reason EvictReason)
}

func defaultPolicy() policy.Policy[any, any] { return lru.New[any, any]() }
