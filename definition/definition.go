// Package definition holds the YAML-loadable Definition record that
// describes how one cache "area" should behave: its TTL, whether it uses
// the static-acceleration tier, which events invalidate it, and which
// identifiers its keys are built from. LoadYAML loads a set of these
// from a registry document; factory.New pairs each with a store.
package definition

import (
	"slices"
	"time"

	"github.com/devonwells/cachechain/internal/util"
)

// Unbounded marks StaticAccelerationSize as having no entry limit.
const Unbounded = -1

// Definition is a read-only configuration record for one cache area. The
// zero value is invalid; build one via yaml.Unmarshal or the literal
// struct form in cmd/democache and tests.
type Definition struct {
	Component string `yaml:"component"`
	Area      string `yaml:"area"`

	// Ttl is the per-entry time-to-live; 0 means entries never expire on
	// their own (only explicit invalidation or eviction removes them).
	Ttl time.Duration `yaml:"ttl"`

	// UsesSimpleData marks values that are safe to hand back by reference
	// (immutable by convention, e.g. already-serialized blobs), letting
	// the loader skip reference-safety protection even when the backing
	// store doesn't dereference on its own.
	UsesSimpleData bool `yaml:"uses_simple_data"`

	// UsesStaticAcceleration opts this area into the loader's in-request
	// acceleration tier (accel.Tier).
	UsesStaticAcceleration bool `yaml:"uses_static_acceleration"`

	// StaticAccelerationSize bounds the acceleration tier's entry count;
	// Unbounded (-1) disables the bound entirely. Meaningless unless
	// UsesStaticAcceleration is true.
	StaticAccelerationSize int `yaml:"static_acceleration_size"`

	// InvalidationEvents lists the event names that purge this area when
	// raised through invalidation.Engine.
	InvalidationEvents []string `yaml:"invalidation_events"`

	// Identifiers names the components of a multi-identifier key, in the
	// order callers must supply them. Empty means keys are plain scalars.
	Identifiers []string `yaml:"identifiers"`

	hash uint64
	hashSet bool
}

// SetIdentifiers replaces the identifier list, for callers assembling a
// Definition incrementally outside of YAML loading (e.g. a registry
// composing areas programmatically). It reports whether the identifiers
// actually changed, so callers know whether to reset a loader's
// static-acceleration tier.
func (d *Definition) SetIdentifiers(ids []string) bool {
	if slices.Equal(d.Identifiers, ids) {
		return false
	}
	d.Identifiers = append([]string(nil), ids...)
	return true
}

// GenerateMultiKeyParts builds the ordered (name, value) pairs a key
// parser needs to assemble a store.MultiKey, pairing each configured
// identifier name with the caller-supplied value at the same position.
// Extra or missing values are zipped to the shorter slice; callers are
// expected to supply exactly len(d.Identifiers) values.
func (d *Definition) GenerateMultiKeyParts(values []string) []string {
	n := len(d.Identifiers)
	if len(values) < n {
		n = len(values)
	}
	parts := make([]string, 0, n*2)
	for i := 0; i < n; i++ {
		parts = append(parts, d.Identifiers[i], values[i])
	}
	return parts
}

// DefinitionHash returns a stable 64-bit hash of the definition's identity
// (component + area), used by the key parser to namespace scalar keys so
// two areas never collide on the same string key. Cached after first call.
func (d *Definition) DefinitionHash() uint64 {
	if d.hashSet {
		return d.hash
	}
	d.hash = util.Fnv64aStrings(d.Component, d.Area)
	d.hashSet = true
	return d.hash
}

// IsMultiIdentifier reports whether keys for this area are built from
// more than a single scalar value.
func (d *Definition) IsMultiIdentifier() bool {
	return len(d.Identifiers) > 0
}
