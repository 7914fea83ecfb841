// Package envelope defines the value wrappers a loader composes around a
// caller's payload before handing it to a store, and the rules for
// unwrapping them on read. At most one Version and one TTL wrapper per
// entry, Version always outermost of the two.
package envelope

// TTL wraps data with an absolute expiry instant in seconds, computed
// as now + ttl at write time. Has-expired is now >= Expiry.
type TTL struct {
	Data   any
	Expiry int64
}

// Expired reports whether the wrapper has expired as of now (unix seconds).
func (t TTL) Expired(now int64) bool { return now >= t.Expiry }

// Version wraps data with a monotonically increasing version chosen by
// the writer.
type Version struct {
	Data    any
	Version int64
}

// CachedObject is an opaque marker meaning "reconstruct a domain object
// on read". Handle carries whatever a Cacheable value's
// MarshalCacheable produced. CachedObject has no setters: once
// built it is treated as immutable, which is required for it to be safe
// to store as-is in the static-acceleration tier.
type CachedObject struct {
	handle any
}

// NewCachedObject builds an immutable cached-object marker.
func NewCachedObject(handle any) CachedObject { return CachedObject{handle: handle} }

// Handle returns the opaque payload a Restorer needs to rebuild the
// original domain object.
func (c CachedObject) Handle() any { return c.handle }

// Cacheable is implemented by caller values that want to be replaced with
// a CachedObject marker on write and rebuilt via a Restorer on read.
type Cacheable interface {
	// MarshalCacheable returns the opaque handle stored in the marker.
	MarshalCacheable() any
}

// Restorer rebuilds a domain object from a CachedObject's handle. Callers
// supply one per Definition/value-type when cached-object restoration is
// in use.
type Restorer func(handle any) (any, error)

// Composed describes, for a single write, which wrappers were applied, so
// Decompose can reverse the exact same steps without re-deriving policy
// from cache configuration (the writer already made those decisions).
type Composed struct {
	Versioned bool
	TTLWrapped bool
	CachedObj  bool
}

// Compose applies the writer-side envelope composition rule in order:
// cached-object marker (if the value is Cacheable) -> TTL wrapper (if
// ttl > 0 and the store lacks native TTL) -> version wrapper (if version
// is supplied). Returns the fully wrapped value plus a description of
// what was applied.
func Compose(data any, hasVersion bool, version int64, ttlSeconds int64, expiryAt int64, storeHasNativeTTL bool) (any, Composed) {
	var c Composed

	if cc, ok := data.(Cacheable); ok {
		data = NewCachedObject(cc.MarshalCacheable())
		c.CachedObj = true
	}

	if ttlSeconds > 0 && !storeHasNativeTTL {
		data = TTL{Data: data, Expiry: expiryAt}
		c.TTLWrapped = true
	}

	if hasVersion {
		data = Version{Data: data, Version: version}
		c.Versioned = true
	}

	return data, c
}

// Decomposed is the result of peeling every wrapper off a stored value.
type Decomposed struct {
	Data          any
	HasVersion    bool
	Version       int64
	HasTTL        bool
	Expiry        int64
	IsCachedObj   bool
	CachedHandle  any
}

// Decompose reverses Compose: version first (outermost), then TTL, then
// cached-object. It does not evaluate expiry or version requirements;
// callers (loader) apply those policies using the returned metadata.
func Decompose(v any) Decomposed {
	var d Decomposed

	if ver, ok := v.(Version); ok {
		d.HasVersion = true
		d.Version = ver.Version
		v = ver.Data
	}

	if ttl, ok := v.(TTL); ok {
		d.HasTTL = true
		d.Expiry = ttl.Expiry
		v = ttl.Data
	}

	if co, ok := v.(CachedObject); ok {
		d.IsCachedObj = true
		d.CachedHandle = co.Handle()
		v = co
	}

	d.Data = v
	return d
}
