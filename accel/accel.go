// Package accel is the loader's static-acceleration tier: a
// bounded, request-scoped LRU keyed by the caller's original (unparsed)
// key, built on the same internal/lrulist engine store/memstore's shards
// use. A Tier is owned by exactly one loader and lives exactly as long as
// that loader.
package accel

import (
	"errors"

	"github.com/devonwells/cachechain/internal/lrulist"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotBytes is returned by Get when a serialized entry's payload was not
// stored as a []byte, which should never happen through Set's own API and
// signals a corrupted Tier.
var ErrNotBytes = errors.New("accel: serialized entry payload is not []byte")

// Entry is one resident record: payload plus whether it was serialized
// to break reference sharing.
type Entry struct {
	Payload    any
	Serialized bool
}

// Classifier decides, for a candidate value, whether Tier.Set must store
// it as-is or serialize it first (scalar, or uses_simple_data, or a
// cached-object marker -> as-is; otherwise
// serialize). The loader supplies one built from its Definition and the
// envelope package's marker check; accel itself knows nothing about
// envelope.CachedObject or definition.Definition, only Entry/payload
// shapes.
type Classifier func(v any) (storeAsIs bool)

// Tier is a bounded LRU over Entry, unbounded when bound <= 0 (the
// form definition.Unbounded resolves to at the call site). Not safe for
// concurrent use: callers serialize access (the owning loader guards the
// writes its concurrent GetMany backfills make with a mutex).
type Tier[CK comparable] struct {
	l         *lrulist.List[CK, Entry]
	bound     int // <= 0 means unbounded
	classify  Classifier
}

// New constructs a Tier. bound <= 0 disables the entry-count limit.
func New[CK comparable](bound int, classify Classifier) *Tier[CK] {
	capHint := bound
	if capHint < 0 {
		capHint = 0
	}
	return &Tier[CK]{
		l:        lrulist.New[CK, Entry](capHint),
		bound:    bound,
		classify: classify,
	}
}

// Len returns the current resident entry count.
func (t *Tier[CK]) Len() int { return t.l.Len() }

// Has reports membership only; callers still validate TTL/version after
// a real read.
func (t *Tier[CK]) Has(k CK) bool {
	_, ok := t.l.Lookup(k)
	return ok
}

// Get returns the payload for k, deserializing it first if it was stored
// in serialized form. On hit the key is promoted to MRU when the tier is
// bounded and holds more than one entry.
func (t *Tier[CK]) Get(k CK) (any, bool, error) {
	n, ok := t.l.Lookup(k)
	if !ok {
		return nil, false, nil
	}
	e := *n.Value()
	if t.bound > 0 && t.l.Len() > 1 {
		t.l.MoveToFront(n)
	}
	if !e.Serialized {
		return e.Payload, true, nil
	}
	b, ok := e.Payload.([]byte)
	if !ok {
		return nil, false, ErrNotBytes
	}
	var out any
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set inserts or updates k -> v, choosing the storage form per Classifier
// and evicting the LRU head if the tier is bounded and over capacity
// after insertion.
func (t *Tier[CK]) Set(k CK, v any) error {
	entry, err := t.makeEntry(v)
	if err != nil {
		return err
	}

	if n, ok := t.l.Lookup(k); ok {
		t.l.UpdateInPlace(n, entry, 0, 0)
	} else {
		t.l.PushFront(k, entry, 0, 0)
	}

	if t.bound > 0 {
		for t.l.Len() > t.bound {
			if tail := t.l.Back(); tail != nil {
				t.l.Remove(tail)
			} else {
				break
			}
		}
	}
	return nil
}

func (t *Tier[CK]) makeEntry(v any) (Entry, error) {
	asIs := t.classify == nil || t.classify(v)
	if asIs {
		return Entry{Payload: v, Serialized: false}, nil
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Payload: b, Serialized: true}, nil
}

// Delete drops k if present.
func (t *Tier[CK]) Delete(k CK) {
	if n, ok := t.l.Lookup(k); ok {
		t.l.Remove(n)
	}
}

// Purge empties the tier.
func (t *Tier[CK]) Purge() { t.l.Purge() }
