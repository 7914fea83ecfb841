package memstore

import (
	"sync"
	"time"

	"github.com/devonwells/cachechain/internal/lrulist"
	"github.com/devonwells/cachechain/internal/util"
	"github.com/devonwells/cachechain/policy"
	"github.com/devonwells/cachechain/store"
)

// shard is an independent partition of the store: one mutex, one
// intrusive MRU/LRU list (internal/lrulist), one policy instance.
// Capacity 0 means unbounded (no count-based eviction), since a backing
// store is not always bounded the way a request-scoped tier is.
type shard struct {
	mu  sync.RWMutex
	l   *lrulist.List[any, any]
	cap int // 0 = unbounded

	pol policy.ShardPolicy[any, any]
	opt Options

	locks sync.Map // key(any) -> *lockEntry

	hits, misses util.PaddedAtomicInt64
	evicts       util.PaddedAtomicUint64
}

type lockEntry struct {
	owner   string
	expires time.Time // zero = no expiry
}

func newShard(capacity int, pol policy.Policy[any, any], opt Options) *shard {
	s := &shard{l: lrulist.New[any, any](capacity), cap: capacity, opt: opt}
	s.pol = pol.New(shardHooks{s: s})
	return s
}

func (s *shard) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (s *shard) get(k store.Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.l.Lookup(k)
	if !ok {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return nil, false
	}
	if s.expiredLocked(n) {
		s.evictLocked(n, EvictTTL)
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return nil, false
	}
	s.pol.OnGet(n)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return *n.Value(), true
}

func (s *shard) has(k store.Key) bool {
	s.mu.RLock()
	n, ok := s.l.Lookup(k)
	if !ok {
		s.mu.RUnlock()
		return false
	}
	expired := s.expiredLocked(n)
	s.mu.RUnlock()
	if expired {
		// Lazily clean it up, consistent with Get's eager deletion of
		// stale entries (avoids repeated large-payload checks).
		s.mu.Lock()
		if n2, ok2 := s.l.Lookup(k); ok2 && s.expiredLocked(n2) {
			s.evictLocked(n2, EvictTTL)
		}
		s.mu.Unlock()
		return false
	}
	return true
}

// set stores k->v with an absolute UnixNano deadline (0 = none).
func (s *shard) set(k store.Key, v any, expUnixNano int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.l.Lookup(k); ok {
		s.l.UpdateInPlace(n, v, expUnixNano, 0)
		s.pol.OnUpdate(n)
		s.enforceLimitsLocked()
		return
	}
	n := s.l.PushFront(k, v, expUnixNano, 0)
	if ev := s.pol.OnAdd(n); ev != nil {
		s.evictLocked(ev.(*lrulist.Node[any, any]), EvictPolicy)
	}
	s.enforceLimitsLocked()
}

func (s *shard) delete(k store.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.l.Lookup(k)
	if !ok {
		return false
	}
	s.pol.OnRemove(n)
	s.l.Remove(n)
	return true
}

func (s *shard) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.Purge()
	s.locks.Range(func(k, _ any) bool { s.locks.Delete(k); return true })
}

func (s *shard) expiredLocked(n *lrulist.Node[any, any]) bool {
	exp := n.Exp()
	if exp == 0 {
		return false
	}
	return s.now() > exp
}

func (s *shard) evictLocked(n *lrulist.Node[any, any], reason EvictReason) {
	s.pol.OnRemove(n)
	key, val := n.Key(), *n.Value()
	s.l.Remove(n)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		cb(key, val, reason)
	}
}

func (s *shard) enforceLimitsLocked() {
	if s.cap > 0 {
		for s.l.Len() > s.cap {
			if tail := s.l.Back(); tail != nil {
				s.evictLocked(tail, EvictCapacity)
			} else {
				break
			}
		}
	}
	s.opt.Metrics.Size(s.l.Len(), s.l.Cost())
}

// ---- advisory per-key locking (store.Lockable) ----

func (s *shard) acquireLock(k store.Key, owner string, ttl time.Duration) bool {
	now := time.Now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	for {
		actual, loaded := s.locks.LoadOrStore(k, &lockEntry{owner: owner, expires: expires})
		if !loaded {
			return true
		}
		le := actual.(*lockEntry)
		if le.owner == owner {
			return true // already held by caller
		}
		if !le.expires.IsZero() && now.After(le.expires) {
			// Stale lock from a crashed holder; reclaim.
			if s.locks.CompareAndDelete(k, actual) {
				continue
			}
		}
		return false
	}
}

func (s *shard) releaseLock(k store.Key, owner string) bool {
	actual, ok := s.locks.Load(k)
	if !ok {
		return false
	}
	le := actual.(*lockEntry)
	if le.owner != owner {
		return false
	}
	return s.locks.CompareAndDelete(k, actual)
}

func (s *shard) checkLockState(k store.Key, owner string) store.LockState {
	actual, ok := s.locks.Load(k)
	if !ok {
		return store.LockNotHeld
	}
	le := actual.(*lockEntry)
	if !le.expires.IsZero() && time.Now().After(le.expires) {
		return store.LockNotHeld
	}
	if le.owner == owner {
		return store.LockHeldByCaller
	}
	return store.LockHeldByOther
}

// ---- policy hooks ----

type shardHooks struct{ s *shard }

func (h shardHooks) MoveToFront(x policy.Node[any, any]) {
	h.s.l.MoveToFront(x.(*lrulist.Node[any, any]))
}
func (h shardHooks) PushFront(x policy.Node[any, any]) {
	// Nodes are already linked by List.PushFront when admitted; the
	// policies call this hook from OnAdd on admission, which here is a
	// no-op re-promotion of the node already at the front.
	h.s.l.MoveToFront(x.(*lrulist.Node[any, any]))
}
func (h shardHooks) Remove(x policy.Node[any, any]) {
	h.s.l.Remove(x.(*lrulist.Node[any, any]))
}
func (h shardHooks) Back() policy.Node[any, any] {
	if b := h.s.l.Back(); b != nil {
		return b
	}
	return nil
}
func (h shardHooks) Len() int { return h.s.l.Len() }
