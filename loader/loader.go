// Package loader implements the cache loader state machine: a tiered
// lookup through static acceleration, this loader's own store, and
// either a next loader or a terminal data source, with envelope
// composition/unwrapping, write-locking, and event-invalidation wired
// in as collaborators.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devonwells/cachechain/accel"
	"github.com/devonwells/cachechain/cacheerr"
	"github.com/devonwells/cachechain/clock"
	"github.com/devonwells/cachechain/definition"
	"github.com/devonwells/cachechain/envelope"
	"github.com/devonwells/cachechain/invalidation"
	"github.com/devonwells/cachechain/keyparser"
	"github.com/devonwells/cachechain/lock"
	"github.com/devonwells/cachechain/refsafe"
	"github.com/devonwells/cachechain/store"
)

// NoVersion marks a read or write as unversioned: versions are
// writer-chosen non-negative monotonic integers, so -1 is never a
// legitimate version, matching the -1 sentinel definition.Unbounded
// already uses for another "no limit" slot.
const NoVersion int64 = -1

// Strictness controls miss behavior.
type Strictness int

const (
	// IgnoreMissing returns found=false on a miss.
	IgnoreMissing Strictness = iota
	// MustExist returns a cacheerr.KindContract error on a miss.
	MustExist
)

// DataSource is the terminal producer of values when the chain misses.
// A loader has at most one of {Next, DataSource}.
type DataSource[CK comparable] interface {
	LoadForCache(ctx context.Context, key CK) (value any, found bool, err error)
	LoadManyForCache(ctx context.Context, keys []CK) (map[CK]any, error)
}

// VersionedDataSource is implemented by data sources that can satisfy
// versioned reads.
type VersionedDataSource[CK comparable] interface {
	DataSource[CK]
	LoadForCacheVersioned(ctx context.Context, key CK, requiredVersion int64) (value any, actualVersion int64, found bool, err error)
}

// IdentifierValues is implemented by caller keys that carry the
// identifier values a multi-identifier Definition needs to build a
// store.MultiKey. Plain scalar keys need not implement it.
type IdentifierValues interface {
	IdentifierValues() []string
}

// Metrics exposes loader-level observability hooks; NoopMetrics is the
// default. Extends the store-level Hit/Miss split with the two signals
// the locking and invalidation paths need.
type Metrics interface {
	Hit()
	Miss()
	Invalidation(scope string) // "key" or "purge"
	LockWait(d time.Duration)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                   {}
func (NoopMetrics) Miss()                  {}
func (NoopMetrics) Invalidation(string)    {}
func (NoopMetrics) LockWait(time.Duration) {}

// Options configures a Loader. Definition and Store are required; exactly
// one of Next/DataSource may be set.
type Options[CK comparable] struct {
	Definition *definition.Definition
	Store      store.Store

	Next       *Loader[CK]
	DataSource DataSource[CK]

	// Versioned marks this cache instance as version-wrapping every
	// entry; a cache is either versioned throughout or not at all.
	// Passing a version to Set on an unversioned loader, or omitting one
	// on a versioned loader, is a caller error the envelope composition
	// simply honors per-call. Neither New nor the factory reads
	// Versioned; it is descriptive only.
	Versioned bool

	// Restore rebuilds a domain object from a cached-object marker's
	// handle. Required if any value ever implements envelope.Cacheable
	// for this area.
	Restore envelope.Restorer

	// IsSubLoader forces the static-acceleration tier off regardless of
	// Definition: only the top of a chain accelerates. The factory sets
	// this automatically on every loader it attaches as another's Next;
	// top-of-chain loaders leave it false.
	IsSubLoader bool

	// LockCoordinator, if non-nil, makes every backfill write happen
	// under a per-key lock. Leave nil when this cache does not require
	// locking before writes.
	LockCoordinator *lock.Coordinator
	// Owner identifies this process/request for lock ownership checks.
	Owner string

	// Invalidation, if non-nil, is run at the start of every read
	// (Get/GetMany/Has), so pending invalidations are applied before any
	// value is served. Writes and deletes overwrite stale state on their
	// own and need no reconciliation first.
	Invalidation *invalidation.Engine

	Clock   *clock.Service
	Metrics Metrics
	Logger  *zap.SugaredLogger
}

// Loader is one link in the cache chain. The zero value is
// not usable; construct with New (normally via the factory package).
type Loader[CK comparable] struct {
	def        *definition.Definition
	st         store.Store
	next       *Loader[CK]
	dataSource DataSource[CK]

	accel     *accel.Tier[CK]
	accelMu   sync.Mutex // serializes accel writes from GetMany's concurrent backfills
	restore   envelope.Restorer
	lockCoord *lock.Coordinator
	owner     string
	invEngine *invalidation.Engine

	clk     *clock.Service
	metrics Metrics
	log     *zap.SugaredLogger
}

// New constructs a Loader from Options. Panics if both Next and
// DataSource are set, matching the "never both" invariant as a coding
// error surfaced as early as possible.
func New[CK comparable](opt Options[CK]) *Loader[CK] {
	if opt.Next != nil && opt.DataSource != nil {
		panic("loader: Next and DataSource are mutually exclusive")
	}
	if opt.Clock == nil {
		opt.Clock = clock.Default
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop().Sugar()
	}

	l := &Loader[CK]{
		def:        opt.Definition,
		st:         opt.Store,
		next:       opt.Next,
		dataSource: opt.DataSource,
		restore:    opt.Restore,
		lockCoord:  opt.LockCoordinator,
		owner:      opt.Owner,
		invEngine:  opt.Invalidation,
		clk:        opt.Clock,
		metrics:    opt.Metrics,
		log:        opt.Logger,
	}

	useAccel := opt.Definition.UsesStaticAcceleration && !opt.IsSubLoader
	if useAccel {
		bound := opt.Definition.StaticAccelerationSize
		if bound == definition.Unbounded {
			bound = 0
		}
		l.accel = accel.New[CK](bound, l.accelClassify)
	}

	return l
}

// Reset empties the static-acceleration tier. Factories call this when
// Definition.SetIdentifiers reports a change, since replacing the
// identifiers makes every accelerated entry stale.
func (l *Loader[CK]) Reset() {
	if l.accel != nil {
		l.accel.Purge()
	}
}

func (l *Loader[CK]) accelClassify(v any) bool {
	if ver, ok := v.(envelope.Version); ok {
		v = ver.Data
	}
	if l.def.UsesSimpleData {
		return true
	}
	if _, ok := v.(envelope.CachedObject); ok {
		return true
	}
	return refsafe.IsScalar(v)
}

func (l *Loader[CK]) processInvalidation(ctx context.Context) error {
	if l.invEngine == nil {
		return nil
	}
	action, err := l.invEngine.Process(ctx)
	if err != nil {
		return err
	}
	if action.PurgeAll {
		l.metrics.Invalidation("purge")
		if err := l.Purge(ctx); err != nil {
			return err
		}
		return l.invEngine.Rebaseline(ctx)
	}
	if len(action.Keys) > 0 {
		l.metrics.Invalidation("key")
		return l.deleteRawKeys(ctx, action.Keys)
	}
	return nil
}

// deleteRawKeys deletes invalidation-record keys (always string, per
// invalidation's convention) against a string-keyed loader. On a loader
// whose CK is not string, every key fails the CK conversion and is
// skipped, so no entry is deleted; the factory does not check CK when it
// wires an Engine.
func (l *Loader[CK]) deleteRawKeys(ctx context.Context, keys []string) error {
	for _, k := range keys {
		ck, ok := any(k).(CK)
		if !ok {
			continue
		}
		if err := l.Delete(ctx, ck, true); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader[CK]) parseKey(key CK) store.Key {
	var identVals []string
	if iv, ok := any(key).(IdentifierValues); ok {
		identVals = iv.IdentifierValues()
	}
	multiCapable := l.st.Capabilities().SupportsMultipleIdentifiers
	return keyparser.Parse(l.def, key, identVals, multiCapable)
}

func (l *Loader[CK]) logFault(op string, key any, err error) {
	l.log.Warnw("store fault, treating as miss", "op", op, "key", key, "error", err)
}

// ---- read path ----

// Get is the unversioned read (required_version = NONE).
func (l *Loader[CK]) Get(ctx context.Context, key CK, strictness Strictness) (any, bool, error) {
	return l.get(ctx, key, strictness, NoVersion)
}

// GetVersioned is the versioned read.
func (l *Loader[CK]) GetVersioned(ctx context.Context, key CK, requiredVersion int64, strictness Strictness) (any, bool, error) {
	return l.get(ctx, key, strictness, requiredVersion)
}

func (l *Loader[CK]) get(ctx context.Context, key CK, strictness Strictness, requiredVersion int64) (any, bool, error) {
	if err := l.processInvalidation(ctx); err != nil {
		return nil, false, err
	}

	// Step 1: static-acceleration lookup.
	if l.accel != nil {
		if payload, ok, err := l.accel.Get(key); err == nil && ok {
			dec := envelope.Decompose(payload)
			if versionSatisfies(requiredVersion, dec) {
				val, err := l.materialize(dec)
				if err != nil {
					return nil, false, err
				}
				l.metrics.Hit()
				return val, true, nil
			}
		}
	}

	// Step 2: parse key.
	parsedKey := l.parseKey(key)

	// Step 3: store lookup.
	raw, found, err := l.st.Get(ctx, parsedKey)
	if err != nil {
		l.logFault("loader.Get", key, err)
		found = false
	}

	var dec envelope.Decomposed
	if found {
		dec = envelope.Decompose(raw)

		// Step 4: version check + self-heal on mismatch.
		switch {
		case requiredVersion == NoVersion && dec.HasVersion:
			_ = l.st.Delete(ctx, parsedKey)
			return nil, false, cacheerr.Contract("loader.Get", key,
				fmt.Errorf("unversioned read found a version-wrapped entry"))
		case requiredVersion != NoVersion && !dec.HasVersion:
			_ = l.st.Delete(ctx, parsedKey)
			return nil, false, cacheerr.Contract("loader.Get", key,
				fmt.Errorf("versioned read found a non-versioned entry"))
		case requiredVersion != NoVersion && dec.Version < requiredVersion:
			_ = l.st.Delete(ctx, parsedKey)
			found = false
		}

		// Step 5: TTL check.
		if found && dec.HasTTL && dec.Expiry <= l.clk.NowSeconds() {
			_ = l.st.Delete(ctx, parsedKey)
			found = false
		}
	}

	if found {
		val, err := l.materialize(dec)
		if err != nil {
			return nil, false, err
		}
		// Step 7: promotion.
		if err := l.promoteDecomposed(key, dec); err != nil {
			return nil, false, err
		}
		l.metrics.Hit()
		return val, true, nil
	}

	l.metrics.Miss()

	// Step 8: chain fallback.
	fbValue, actualVersion, fbFound, err := l.fallback(ctx, key, requiredVersion)
	if err != nil {
		return nil, false, err
	}

	if fbFound {
		// Step 9: backfill locally only.
		hasVersion := requiredVersion != NoVersion
		version := actualVersion
		if hasVersion && version < requiredVersion {
			return nil, false, cacheerr.Contract("loader.Get", key,
				fmt.Errorf("data source returned stale version %d < %d", version, requiredVersion))
		}
		if err := l.backfillLocal(ctx, key, fbValue, hasVersion, version); err != nil {
			return nil, false, err
		}
		protected, err := l.refProtect(fbValue)
		if err != nil {
			return nil, false, err
		}
		return protected, true, nil
	}

	// Step 10: strictness.
	if strictness == MustExist {
		return nil, false, cacheerr.Contract("loader.Get", key, fmt.Errorf("key not found"))
	}
	return nil, false, nil
}

func versionSatisfies(requiredVersion int64, dec envelope.Decomposed) bool {
	if requiredVersion == NoVersion {
		return true
	}
	return dec.HasVersion && dec.Version >= requiredVersion
}

func (l *Loader[CK]) materialize(dec envelope.Decomposed) (any, error) {
	val := dec.Data
	if dec.IsCachedObj {
		if l.restore == nil {
			return nil, cacheerr.Integrity("loader.Get", nil,
				fmt.Errorf("cached-object entry but no Restorer configured"))
		}
		restored, err := l.restore(dec.CachedHandle)
		if err != nil {
			return nil, err
		}
		val = restored
	}
	return l.refProtect(val)
}

// refProtect deep-copies or serialize-round-trips a value unless the
// store dereferences natively or the definition declares
// uses_simple_data.
func (l *Loader[CK]) refProtect(v any) (any, error) {
	if l.def.UsesSimpleData {
		return v, nil
	}
	if l.st.Capabilities().SupportsDereferencingObjects {
		return v, nil
	}
	return refsafe.Protect(v)
}

// promoteDecomposed writes a read hit back into the acceleration tier,
// keyed by the caller's original key, without the TTL wrapper (TTL is
// about persistence, not request-scope acceleration) but keeping the
// version wrapper when present.
func (l *Loader[CK]) promoteDecomposed(key CK, dec envelope.Decomposed) error {
	if l.accel == nil {
		return nil
	}
	v := dec.Data
	if dec.HasVersion {
		v = envelope.Version{Data: v, Version: dec.Version}
	}
	return l.accel.Set(key, v)
}

// fallback delegates a miss to the next loader (passed the unparsed
// key, so it can reparse with its own store's conventions) or the data
// source.
func (l *Loader[CK]) fallback(ctx context.Context, key CK, requiredVersion int64) (value any, actualVersion int64, found bool, err error) {
	if l.next != nil {
		if requiredVersion != NoVersion {
			v, ok, err := l.next.GetVersioned(ctx, key, requiredVersion, IgnoreMissing)
			return v, requiredVersion, ok, err
		}
		v, ok, err := l.next.Get(ctx, key, IgnoreMissing)
		return v, 0, ok, err
	}
	if l.dataSource != nil {
		if requiredVersion != NoVersion {
			vds, ok := l.dataSource.(VersionedDataSource[CK])
			if !ok {
				return nil, 0, false, cacheerr.Contract("loader.Get", key,
					fmt.Errorf("data source does not support versioned loads"))
			}
			v, actual, found, err := vds.LoadForCacheVersioned(ctx, key, requiredVersion)
			return v, actual, found, err
		}
		v, found, err := l.dataSource.LoadForCache(ctx, key)
		return v, 0, found, err
	}
	return nil, 0, false, nil
}

func (l *Loader[CK]) backfillLocal(ctx context.Context, key CK, data any, hasVersion bool, version int64) error {
	do := func() error { return l.localSet(ctx, key, data, hasVersion, version) }
	if l.lockCoord != nil {
		start := time.Now()
		parsedKey := l.parseKey(key)
		err := l.lockCoord.WithLock(ctx, parsedKey, l.owner, do)
		l.metrics.LockWait(time.Since(start))
		return err
	}
	return do()
}

// GetMany batches the read path across keys, probing static acceleration
// for each, fetching the remainder from the store in one call, and
// resolving any still-missing keys via a single downstream fallback
// call. Per-key backfill writes run concurrently, bounded at one
// goroutine per missing key.
func (l *Loader[CK]) GetMany(ctx context.Context, keys []CK, strictness Strictness) (map[CK]any, error) {
	if err := l.processInvalidation(ctx); err != nil {
		return nil, err
	}

	out := make(map[CK]any, len(keys))
	var needStore []CK

	for _, k := range keys {
		if l.accel != nil {
			if payload, ok, err := l.accel.Get(k); err == nil && ok {
				dec := envelope.Decompose(payload)
				if !dec.HasVersion {
					if val, err := l.materialize(dec); err == nil {
						out[k] = val
						continue
					}
				}
			}
		}
		needStore = append(needStore, k)
	}

	parsedByKey := make(map[CK]store.Key, len(needStore))
	parsedKeys := make([]store.Key, 0, len(needStore))
	for _, k := range needStore {
		pk := l.parseKey(k)
		parsedByKey[k] = pk
		parsedKeys = append(parsedKeys, pk)
	}

	fetched, err := l.st.GetMany(ctx, parsedKeys)
	if err != nil {
		l.logFault("loader.GetMany", nil, err)
		fetched = map[store.Key]any{}
	}

	var stillMissing []CK
	for _, k := range needStore {
		raw, ok := fetched[parsedByKey[k]]
		if !ok {
			stillMissing = append(stillMissing, k)
			continue
		}
		dec := envelope.Decompose(raw)
		if dec.HasVersion {
			// GetMany is always an unversioned read; a version-wrapped
			// entry here is the same contract violation the single-key
			// path self-heals.
			_ = l.st.Delete(ctx, parsedByKey[k])
			stillMissing = append(stillMissing, k)
			continue
		}
		if dec.HasTTL && dec.Expiry <= l.clk.NowSeconds() {
			_ = l.st.Delete(ctx, parsedByKey[k])
			stillMissing = append(stillMissing, k)
			continue
		}
		val, err := l.materialize(dec)
		if err != nil {
			return nil, err
		}
		out[k] = val
		if err := l.promoteDecomposed(k, dec); err != nil {
			return nil, err
		}
	}

	if len(stillMissing) > 0 {
		if err := l.fallbackAndBackfillMany(ctx, stillMissing, out); err != nil {
			return nil, err
		}
	}

	if strictness == MustExist {
		for _, k := range keys {
			if _, ok := out[k]; !ok {
				return out, cacheerr.Contract("loader.GetMany", k, fmt.Errorf("key not found"))
			}
		}
	}
	return out, nil
}

func (l *Loader[CK]) fallbackAndBackfillMany(ctx context.Context, keys []CK, out map[CK]any) error {
	resolved, err := l.fallbackMany(ctx, keys)
	if err != nil {
		return err
	}
	if len(resolved) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for k, v := range resolved {
		k, v := k, v
		g.Go(func() error {
			if err := l.backfillLocal(gctx, k, v, false, 0); err != nil {
				return err
			}
			protected, err := l.refProtect(v)
			if err != nil {
				return err
			}
			mu.Lock()
			out[k] = protected
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (l *Loader[CK]) fallbackMany(ctx context.Context, keys []CK) (map[CK]any, error) {
	if l.next != nil {
		got, err := l.next.GetMany(ctx, keys, IgnoreMissing)
		return got, err
	}
	if l.dataSource != nil {
		return l.dataSource.LoadManyForCache(ctx, keys)
	}
	return nil, nil
}

// ---- write path ----

// Set writes an unversioned value.
func (l *Loader[CK]) Set(ctx context.Context, key CK, data any) error {
	return l.set(ctx, key, data, false, 0)
}

// SetVersioned writes a version-wrapped value.
func (l *Loader[CK]) SetVersioned(ctx context.Context, key CK, data any, version int64) error {
	return l.set(ctx, key, data, true, version)
}

func (l *Loader[CK]) set(ctx context.Context, key CK, data any, hasVersion bool, version int64) error {
	// Step 1: propagate to next loader first (ancestors see it before we do).
	if l.next != nil {
		if err := l.next.set(ctx, key, data, hasVersion, version); err != nil {
			return err
		}
	}
	return l.localSet(ctx, key, data, hasVersion, version)
}

func (l *Loader[CK]) localSet(ctx context.Context, key CK, data any, hasVersion bool, version int64) error {
	caps := l.st.Capabilities()
	ttlSeconds := int64(l.def.Ttl / time.Second)
	expiry := l.clk.NowSeconds() + ttlSeconds

	composed, meta := envelope.Compose(data, hasVersion, version, ttlSeconds, expiry, caps.SupportsNativeTTL)

	if l.accel != nil {
		accelVal := data
		if meta.CachedObj {
			if cc, ok := data.(envelope.Cacheable); ok {
				accelVal = envelope.NewCachedObject(cc.MarshalCacheable())
			}
		}
		if hasVersion {
			accelVal = envelope.Version{Data: accelVal, Version: version}
		}
		l.accelMu.Lock()
		err := l.accel.Set(key, accelVal)
		l.accelMu.Unlock()
		if err != nil {
			return err
		}
	}

	parsedKey := l.parseKey(key)

	var err error
	if caps.SupportsNativeTTL && ttlSeconds > 0 && !meta.TTLWrapped {
		err = l.st.SetWithTTL(ctx, parsedKey, composed, ttlSeconds)
	} else {
		err = l.st.Set(ctx, parsedKey, composed)
	}
	if err != nil {
		l.logFault("loader.Set", key, err)
		return cacheerr.StoreFault("loader.Set", key, err)
	}
	return nil
}

// SetMany writes every key in mapping, propagated ancestor-first, batched
// against the store when it supports a single SetMany call.
func (l *Loader[CK]) SetMany(ctx context.Context, mapping map[CK]any) (int, error) {
	if l.next != nil {
		if _, err := l.next.SetMany(ctx, mapping); err != nil {
			return 0, err
		}
	}

	ttlSeconds := int64(l.def.Ttl / time.Second)
	expiry := l.clk.NowSeconds() + ttlSeconds

	// The batched Store.SetMany has no per-key TTL parameter, so a
	// native-TTL store's entries written this way fall back to the TTL
	// envelope like a non-native store would; batching trumps per-key
	// native expiry here.
	parsed := make(map[store.Key]any, len(mapping))
	for k, v := range mapping {
		composed, _ := envelope.Compose(v, false, 0, ttlSeconds, expiry, false)
		if l.accel != nil {
			if err := l.accel.Set(k, v); err != nil {
				return 0, err
			}
		}
		parsed[l.parseKey(k)] = composed
	}

	n, err := l.st.SetMany(ctx, parsed)
	if err != nil {
		l.logFault("loader.SetMany", nil, err)
		return n, cacheerr.StoreFault("loader.SetMany", nil, err)
	}
	return n, nil
}

// ---- delete & purge ----

// Delete drops key from the acceleration tier, recursively from next (if
// recurse), then from this loader's own store.
func (l *Loader[CK]) Delete(ctx context.Context, key CK, recurse bool) error {
	if l.accel != nil {
		l.accel.Delete(key)
	}
	if recurse && l.next != nil {
		if err := l.next.Delete(ctx, key, recurse); err != nil {
			return err
		}
	}
	if err := l.st.Delete(ctx, l.parseKey(key)); err != nil {
		return cacheerr.StoreFault("loader.Delete", key, err)
	}
	return nil
}

// DeleteMany is the batch variant of Delete.
func (l *Loader[CK]) DeleteMany(ctx context.Context, keys []CK, recurse bool) (int, error) {
	if l.accel != nil {
		for _, k := range keys {
			l.accel.Delete(k)
		}
	}
	if recurse && l.next != nil {
		if _, err := l.next.DeleteMany(ctx, keys, recurse); err != nil {
			return 0, err
		}
	}
	parsed := make([]store.Key, len(keys))
	for i, k := range keys {
		parsed[i] = l.parseKey(k)
	}
	n, err := l.st.DeleteMany(ctx, parsed)
	if err != nil {
		return n, cacheerr.StoreFault("loader.DeleteMany", nil, err)
	}
	return n, nil
}

// Purge empties the acceleration tier, purges this loader's store, then
// recursively purges the next loader.
func (l *Loader[CK]) Purge(ctx context.Context) error {
	if l.accel != nil {
		l.accel.Purge()
	}
	if err := l.st.Purge(ctx); err != nil {
		return cacheerr.StoreFault("loader.Purge", nil, err)
	}
	if l.next != nil {
		return l.next.Purge(ctx)
	}
	return nil
}

// ---- membership ----

func (l *Loader[CK]) Has(ctx context.Context, key CK) (bool, error) {
	if err := l.processInvalidation(ctx); err != nil {
		return false, err
	}
	if l.accel != nil && l.accel.Has(key) {
		return true, nil
	}
	return l.st.Has(ctx, l.parseKey(key))
}

func (l *Loader[CK]) HasAll(ctx context.Context, keys []CK) (bool, error) {
	for _, k := range keys {
		ok, err := l.Has(ctx, k)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (l *Loader[CK]) HasAny(ctx context.Context, keys []CK) (bool, error) {
	for _, k := range keys {
		ok, err := l.Has(ctx, k)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
