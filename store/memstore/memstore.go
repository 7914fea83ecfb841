// Package memstore is the in-process reference store.Store
// implementation: a shard-by-hash layout with a per-shard lock and
// pluggable eviction, built on the shared internal/lrulist engine.
package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/devonwells/cachechain/internal/util"
	"github.com/devonwells/cachechain/store"
)

// Store is an in-process, optionally sharded key-value store. It never
// errors on its own account (no network, no serialization); every method
// returns a nil error except where ctx cancellation is observed.
type Store struct {
	shards []*shard
	mask   uint64 // shards-1 when shard count is a power of two
	pow2   bool
	n      int

	caps store.Capabilities

	lastIOBytes util.PaddedAtomicInt64
}

// New constructs a Store. A zero Options value is valid and yields an
// unbounded, auto-sharded (util.ReasonableShardCount), LRU-policy,
// no-metrics store.
func New(opt Options) *Store {
	if opt.Shards <= 0 {
		opt.Shards = util.ReasonableShardCount()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = defaultPolicy()
	}

	perShardCap := 0
	if opt.Capacity > 0 {
		perShardCap = opt.Capacity / opt.Shards
		if perShardCap < 1 {
			perShardCap = 1
		}
	}

	s := &Store{
		shards: make([]*shard, opt.Shards),
		n:      opt.Shards,
		pow2:   util.IsPowerOfTwo(uint64(opt.Shards)),
		caps: store.Capabilities{
			SupportsNativeTTL:            false,
			SupportsMultipleIdentifiers:  true,
			SupportsDereferencingObjects: false,
			IsKeyAware:                   true,
			IsLockable:                   true,
		},
	}
	if s.pow2 {
		s.mask = uint64(opt.Shards - 1)
	}
	for i := range s.shards {
		s.shards[i] = newShard(perShardCap, opt.Policy, opt)
	}
	return s
}

func (s *Store) Capabilities() store.Capabilities { return s.caps }

func (s *Store) shardFor(k store.Key) *shard {
	h := hashKey(k)
	if s.n == 1 {
		return s.shards[0]
	}
	if s.pow2 {
		return s.shards[h&s.mask]
	}
	return s.shards[h%uint64(s.n)]
}

// hashKey hashes either the string form produced by keyparser.Parse for
// single-identifier definitions, or a store.MultiKey for multi-identifier
// ones, into a uniform uint64 for shard selection. Equal MultiKeys (by
// value) always hash identically regardless of which shard.Store sees them
// first, matching the MultiKey doc's comparability guarantee.
func hashKey(k store.Key) uint64 {
	switch v := k.(type) {
	case string:
		return util.Fnv64a(v)
	case store.MultiKey:
		return util.Fnv64aStrings(v.Component, v.Area, v.Identifiers, v.Key)
	default:
		return util.Fnv64aStrings(fmt.Sprintf("%v", v))
	}
}

func (s *Store) Get(ctx context.Context, key store.Key) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := s.shardFor(key).get(key)
	return v, ok, nil
}

func (s *Store) GetMany(ctx context.Context, keys []store.Key) (map[store.Key]any, error) {
	out := make(map[store.Key]any, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if v, ok := s.shardFor(k).get(k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key store.Key, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.shardFor(key).set(key, value, 0)
	return nil
}

func (s *Store) SetWithTTL(ctx context.Context, key store.Key, value any, ttlSeconds int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp int64
	if ttlSeconds > 0 {
		sh := s.shardFor(key)
		exp = sh.now() + int64(time.Duration(ttlSeconds)*time.Second)
	}
	s.shardFor(key).set(key, value, exp)
	return nil
}

func (s *Store) SetMany(ctx context.Context, values map[store.Key]any) (int, error) {
	n := 0
	for k, v := range values {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		s.shardFor(k).set(k, v, 0)
		n++
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, key store.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.shardFor(key).delete(key)
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, keys []store.Key) (int, error) {
	n := 0
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if s.shardFor(k).delete(k) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Has(ctx context.Context, key store.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.shardFor(key).has(key), nil
}

func (s *Store) HasAll(ctx context.Context, keys []store.Key) (bool, error) {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !s.shardFor(k).has(k) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) HasAny(ctx context.Context, keys []store.Key) (bool, error) {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if s.shardFor(k).has(k) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sh := range s.shards {
		sh.purge()
	}
	return nil
}

// ---- store.Lockable ----

func (s *Store) AcquireLock(ctx context.Context, key store.Key, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sh := s.shardFor(key)
	return sh.acquireLock(key, owner, sh.opt.LockTTL), nil
}

func (s *Store) ReleaseLock(ctx context.Context, key store.Key, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.shardFor(key).releaseLock(key, owner), nil
}

func (s *Store) CheckLockState(ctx context.Context, key store.Key, owner string) (store.LockState, error) {
	if err := ctx.Err(); err != nil {
		return store.LockNotHeld, err
	}
	return s.shardFor(key).checkLockState(key, owner), nil
}

// ---- store.Observable ----

// GetLastIOBytes always reports 0: an in-process store moves no bytes over
// any wire, so there is nothing meaningful to observe here. The method
// exists so Store satisfies store.Observable for callers that probe every
// store uniformly (store/redisstore reports real transfer sizes).
func (s *Store) GetLastIOBytes() int64 { return s.lastIOBytes.Load() }
