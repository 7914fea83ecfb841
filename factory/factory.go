// Package factory assembles a loader chain from an ordered list of
// (Definition, Store) layers plus an optional terminal DataSource.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/devonwells/cachechain/clock"
	"github.com/devonwells/cachechain/definition"
	"github.com/devonwells/cachechain/envelope"
	"github.com/devonwells/cachechain/invalidation"
	"github.com/devonwells/cachechain/loader"
	"github.com/devonwells/cachechain/lock"
	"github.com/devonwells/cachechain/store"
)

// Layer describes one link in the chain, ordered top-of-chain first.
type Layer[CK comparable] struct {
	Definition *definition.Definition
	Store      store.Store

	// RequireLocking makes this layer's backfill writes acquire a
	// per-key lock first. Per layer, not per chain: a local memstore
	// layer needs no lock while a shared distributed layer does.
	RequireLocking bool
	// LockFallback is consulted when Store does not declare IsLockable.
	// Ignored when RequireLocking is false.
	LockFallback store.Lockable

	// Invalidation, if non-nil, wires event-invalidation processing into
	// this layer's loader. Typically only the top-of-chain
	// layer needs one; sub-loaders usually rely on the chain's write
	// propagation to stay consistent instead.
	Invalidation *invalidation.Engine

	// Restore rebuilds domain objects from cached-object markers for
	// this layer's area.
	Restore envelope.Restorer
}

// Options carries the collaborators shared across every loader in one
// chain.
type Options struct {
	Clock   *clock.Service
	Metrics loader.Metrics
	Logger  *zap.SugaredLogger
	// Owner identifies this process/request for lock ownership checks.
	Owner string
}

// New builds the chain bottom-up from layers (layers[0] is top-of-chain,
// layers[len-1] is nearest the data source) and returns the top loader.
// Every layer but the last gets Next set to the loader built from the
// next layer; every layer but the first is flagged IsSubLoader, which
// disables its static-acceleration tier regardless of its Definition.
func New[CK comparable](layers []Layer[CK], dataSource loader.DataSource[CK], opt Options) (*loader.Loader[CK], error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("factory: at least one layer is required")
	}

	var next *loader.Loader[CK]
	for i := len(layers) - 1; i >= 0; i-- {
		layer := layers[i]
		isTop := i == 0
		isBottom := i == len(layers)-1

		var lockCoord *lock.Coordinator
		if layer.RequireLocking {
			var primary store.Lockable
			if layer.Store.Capabilities().IsLockable {
				primary, _ = layer.Store.(store.Lockable)
			}
			lockCoord = lock.New(primary, layer.LockFallback)
		}

		var ds loader.DataSource[CK]
		var nextLoader *loader.Loader[CK]
		if isBottom {
			ds = dataSource
		} else {
			nextLoader = next
		}

		built := loader.New(loader.Options[CK]{
			Definition:      layer.Definition,
			Store:           layer.Store,
			Next:            nextLoader,
			DataSource:      ds,
			Restore:         layer.Restore,
			IsSubLoader:     !isTop,
			LockCoordinator: lockCoord,
			Owner:           opt.Owner,
			Invalidation:    layer.Invalidation,
			Clock:           opt.Clock,
			Metrics:         opt.Metrics,
			Logger:          opt.Logger,
		})
		next = built
	}
	return next, nil
}

// UpdateIdentifiers replaces def's identifier list and, if it actually
// changed, resets l's static-acceleration tier (identifier replacement
// makes every accelerated entry stale). def must be the same Definition
// l was built with. Reports whether the identifiers changed, mirroring
// Definition.SetIdentifiers's own return value.
func UpdateIdentifiers[CK comparable](l *loader.Loader[CK], def *definition.Definition, ids []string) bool {
	changed := def.SetIdentifiers(ids)
	if changed {
		l.Reset()
	}
	return changed
}
