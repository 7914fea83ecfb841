// Package keyparser turns a caller-supplied scalar or identifier set into
// the store.Key form a concrete store actually indexes by:
// either an opaque hashed string, or a structured store.MultiKey for
// stores that declare SupportsMultipleIdentifiers.
package keyparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devonwells/cachechain/definition"
	"github.com/devonwells/cachechain/internal/util"
	"github.com/devonwells/cachechain/store"
)

// Parse builds the parsed key for a scalar cache key ck under def, given
// whether the target store supports multi-identifier keys. identValues
// supplies one value per entry in def.Identifiers, in order; it is ignored
// when def has no identifiers.
//
// Scalar branch: hashes (definition identity, key) with Fnv64aStrings
// and hex-encodes the result, so two areas never collide on the same
// caller-supplied key string, and the same (area, key) pair always maps to
// the same store key across processes (no per-process salt).
func Parse[CK comparable](def *definition.Definition, ck CK, identValues []string, multiCapable bool) store.Key {
	if def.IsMultiIdentifier() && multiCapable {
		return buildMultiKey(def, ck, identValues)
	}
	return hashScalar(def, ck)
}

func hashScalar[CK comparable](def *definition.Definition, ck CK) string {
	keyStr := scalarString(ck)
	h := util.Fnv64aStrings(strconv.FormatUint(def.DefinitionHash(), 16), keyStr)
	return strconv.FormatUint(h, 16)
}

func buildMultiKey[CK comparable](def *definition.Definition, ck CK, identValues []string) store.MultiKey {
	parts := def.GenerateMultiKeyParts(identValues)
	// Identifiers are joined name=value, NUL-separated, so the parsed
	// form is both a stable map key and unambiguous to reconstruct.
	var b strings.Builder
	for i := 0; i+1 < len(parts); i += 2 {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(parts[i])
		b.WriteByte('=')
		b.WriteString(parts[i+1])
	}
	return store.MultiKey{
		Component:   def.Component,
		Area:        def.Area,
		Identifiers: b.String(),
		Key:         hashScalar(def, ck),
	}
}

func scalarString[CK comparable](ck CK) string {
	switch v := any(ck).(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
