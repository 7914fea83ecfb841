// Package datasource provides adapters satisfying the loader.DataSource /
// loader.VersionedDataSource contracts: a functional adapter
// for plain Go functions, and a singleflight-coalescing decorator so
// concurrent misses for the same key trigger exactly one load.
package datasource

import (
	"context"

	"github.com/devonwells/cachechain/internal/singleflight"
)

// LoadFunc loads a single value for a cache miss.
type LoadFunc[CK comparable] func(ctx context.Context, key CK) (value any, found bool, err error)

// LoadManyFunc loads several values at once.
type LoadManyFunc[CK comparable] func(ctx context.Context, keys []CK) (map[CK]any, error)

// LoadVersionedFunc loads a single value satisfying a required version.
type LoadVersionedFunc[CK comparable] func(ctx context.Context, key CK, requiredVersion int64) (value any, actualVersion int64, found bool, err error)

// Func adapts two plain functions into the loader.DataSource contract.
// It deliberately does NOT implement LoadForCacheVersioned: a data source
// that never performs versioned reads should fail the loader's
// `l.dataSource.(loader.VersionedDataSource[CK])` type assertion, which
// surfaces as a contract error ("data source does not support versioned
// loads") rather than a nil-func panic. Use Versioned below for sources
// that do support it.
type Func[CK comparable] struct {
	Load     LoadFunc[CK]
	LoadMany LoadManyFunc[CK] // optional; falls back to one Load call per key
}

func (f Func[CK]) LoadForCache(ctx context.Context, key CK) (any, bool, error) {
	return f.Load(ctx, key)
}

func (f Func[CK]) LoadManyForCache(ctx context.Context, keys []CK) (map[CK]any, error) {
	if f.LoadMany != nil {
		return f.LoadMany(ctx, keys)
	}
	out := make(map[CK]any, len(keys))
	for _, k := range keys {
		v, ok, err := f.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Versioned embeds Func and additionally satisfies
// loader.VersionedDataSource, for data sources whose area performs
// versioned reads.
type Versioned[CK comparable] struct {
	Func[CK]
	LoadVersioned LoadVersionedFunc[CK]
}

func (f Versioned[CK]) LoadForCacheVersioned(ctx context.Context, key CK, requiredVersion int64) (any, int64, bool, error) {
	return f.LoadVersioned(ctx, key, requiredVersion)
}

// Coalesced decorates a Func with singleflight coalescing on
// LoadForCache: concurrent misses for the same key trigger exactly one
// underlying Load call.
type Coalesced[CK comparable] struct {
	inner Func[CK]
	sf    singleflight.Group[CK, loadResult]
}

type loadResult struct {
	value any
	found bool
}

// NewCoalesced wraps inner with singleflight coalescing on LoadForCache.
// LoadManyForCache passes through uncoalesced: batch loads already
// amortize across keys, so there is no thundering-herd concern to solve
// there.
func NewCoalesced[CK comparable](inner Func[CK]) *Coalesced[CK] {
	return &Coalesced[CK]{inner: inner}
}

func (c *Coalesced[CK]) LoadForCache(ctx context.Context, key CK) (any, bool, error) {
	res, err := c.sf.Do(ctx, key, func() (loadResult, error) {
		v, ok, err := c.inner.Load(ctx, key)
		return loadResult{value: v, found: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.value, res.found, nil
}

func (c *Coalesced[CK]) LoadManyForCache(ctx context.Context, keys []CK) (map[CK]any, error) {
	return c.inner.LoadManyForCache(ctx, keys)
}
