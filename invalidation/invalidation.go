// Package invalidation implements the event-invalidation engine: a
// well-known cache (conventionally addressed as component="core",
// area="eventinvalidation") records, per event name, a mapping of
// key -> purge-token plus a distinguished "purged" key meaning "the whole
// cache was purged at this token." Each loader compares those records
// against its own lastinvalidation token and reconciles.
package invalidation

import (
	"context"

	"github.com/devonwells/cachechain/clock"
	"github.com/devonwells/cachechain/store"
)

// PurgedKey is the distinguished record key meaning "purge the whole
// cache".
const PurgedKey = "purged"

// Component/Area name the well-known convention store,
// core/eventinvalidation.
const (
	Component = "core"
	Area      = "eventinvalidation"
)

// Records is one event's recorded invalidations: cache key (or PurgedKey)
// -> the purge token at which it was invalidated.
type Records map[string]clock.Token

// Store is the minimal subset of store.Store the engine needs to read and
// write invalidation records and a loader's lastinvalidation token. Both
// live in an any-typed Store so the engine works over store.MultiKey
// (multi-identifier stores) or plain strings (the hashed fallback)
// identically — it never builds keys itself beyond this package's own
// fixed convention keys.
type Store interface {
	Get(ctx context.Context, key store.Key) (any, bool, error)
	Set(ctx context.Context, key store.Key, value any) error
}

// Engine reconciles one loader's view of invalidation events against the
// shared records store. A single Engine is owned by one loader; the
// records store is typically shared across every loader subscribed to
// the same events.
type Engine struct {
	records Store       // the shared core/eventinvalidation store
	own     Store       // the owning loader's own store (holds lastinvalidation)
	ownKey  store.Key   // parsed key under which lastinvalidation is stored in own
	clk     *clock.Service
	events  []string // event names this loader subscribes to (Definition.InvalidationEvents)
}

// New constructs an Engine. recordsStore is the shared well-known store;
// ownStore is the loader's own store; ownKey is the parsed key the
// lastinvalidation token is stored under within ownStore (callers
// typically reserve a fixed sentinel key per loader, e.g. via the key
// parser with a constant caller key).
func New(recordsStore, ownStore Store, ownKey store.Key, clk *clock.Service, events []string) *Engine {
	return &Engine{records: recordsStore, own: ownStore, ownKey: ownKey, clk: clk, events: events}
}

// Action is what Process decided to do, for loaders that want to apply
// the result with their own Purge/DeleteMany implementations.
type Action struct {
	PurgeAll bool
	Keys     []string // unique keys to delete; empty/ignored if PurgeAll
}

// Process reconciles the subscribed events' records against the stored
// lastinvalidation token and returns the Action the caller must apply
// (Purge or DeleteMany); the caller is responsible for actually calling
// those (this package has no notion of a loader's CK type parameter).
// If no action is warranted, Action is the zero value and
// lastinvalidation is left untouched, except on the first run (no
// lastinvalidation stored yet), when the current token is recorded as
// the baseline.
func (e *Engine) Process(ctx context.Context) (Action, error) {
	raw, found, err := e.own.Get(ctx, e.ownKey)
	if err != nil {
		return Action{}, err
	}

	current := e.clk.PurgeToken(false)

	if !found {
		// Step 1: fresh cache, nothing to invalidate; record the current
		// token so future comparisons have a baseline.
		if err := e.own.Set(ctx, e.ownKey, current); err != nil {
			return Action{}, err
		}
		return Action{}, nil
	}

	last, ok := raw.(clock.Token)
	if !ok {
		// An unexpected shape in lastinvalidation's slot is treated the
		// same as "never processed" rather than propagated as a fault;
		// this slot is bookkeeping the engine owns end to end.
		last = ""
	}

	if last == current {
		// Step 2: already handled in this request.
		return Action{}, nil
	}

	purgeAll := false
	seen := make(map[string]struct{})
	var keys []string

	for _, event := range e.events {
		recs, err := e.fetchRecords(ctx, event)
		if err != nil {
			return Action{}, err
		}
		for key, token := range recs {
			if !clock.StrictlyNewer(token, last) {
				// Step 3: equal-microtime-different-suffix (or older) is
				// conservatively treated as not strictly newer.
				continue
			}
			if key == PurgedKey {
				purgeAll = true
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	acted := purgeAll || len(keys) > 0
	if acted {
		// Step 5: a fresh token, reset so the next request's "now" is
		// independent of this reconciliation's instant.
		fresh := e.clk.PurgeToken(true)
		if err := e.own.Set(ctx, e.ownKey, fresh); err != nil {
			return Action{}, err
		}
	}

	return Action{PurgeAll: purgeAll, Keys: keys}, nil
}

// Rebaseline re-records the current purge token as lastinvalidation. A
// loader applying a whole-cache purge wipes its own store — including the
// token Process just wrote — so it calls this afterward to restore the
// baseline (the token is unchanged: Process already generated the fresh
// one).
func (e *Engine) Rebaseline(ctx context.Context) error {
	return e.own.Set(ctx, e.ownKey, e.clk.PurgeToken(false))
}

func (e *Engine) fetchRecords(ctx context.Context, event string) (Records, error) {
	v, found, err := e.records.Get(ctx, recordsKey(event))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	recs, ok := v.(Records)
	if !ok {
		return nil, nil
	}
	return recs, nil
}

// recordsKey builds the parsed key for one event's records within the
// well-known store. Events are identified by plain name, so a plain
// string (component/area/event joined, not hashed) is sufficient — the records
// store needs no multi-identifier support for this package's own use.
func recordsKey(event string) string {
	return Component + "/" + Area + "/" + event
}

// PublishKey records that key was invalidated by event at token,
// overwriting any previous record for the same key. Callers (typically a
// cache-writer process, not the loader itself) use this to raise an
// invalidation event.
func PublishKey(ctx context.Context, recordsStore Store, event, key string, token clock.Token) error {
	return mutateRecords(ctx, recordsStore, event, func(r Records) { r[key] = token })
}

// PublishPurgeAll records a whole-cache purge for event at token.
func PublishPurgeAll(ctx context.Context, recordsStore Store, event string, token clock.Token) error {
	return mutateRecords(ctx, recordsStore, event, func(r Records) { r[PurgedKey] = token })
}

func mutateRecords(ctx context.Context, recordsStore Store, event string, mutate func(Records)) error {
	key := recordsKey(event)
	v, found, err := recordsStore.Get(ctx, key)
	if err != nil {
		return err
	}
	var recs Records
	if found {
		if r, ok := v.(Records); ok {
			recs = r
		}
	}
	if recs == nil {
		recs = make(Records)
	}
	mutate(recs)
	return recordsStore.Set(ctx, key, recs)
}
