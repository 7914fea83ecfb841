// Package refsafe breaks reference sharing between a value handed back to
// a caller and the copy resident in a store or the acceleration tier
//: a caller mutating what Protect returns must never affect
// a later Get.
package refsafe

import (
	"reflect"

	"github.com/mitchellh/copystructure"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxPlainDepth is the nesting depth beyond which Protect prefers the
// serialize/deserialize path over a structural deep clone.
const MaxPlainDepth = 5

// Protect returns a value that shares no mutable state with v. Scalars
// (and anything reflect classifies as a scalar kind) are returned as-is:
// Go scalar values are already copied on assignment, so there is nothing
// to protect.
func Protect(v any) (any, error) {
	if isScalar(v) {
		return v, nil
	}
	if needsSerialize(v) {
		return serializeRoundTrip(v)
	}
	return deepClone(v)
}

// IsScalar reports whether v is a Go scalar kind (nil, bool, numeric, or
// string) — the same test Protect uses to skip copying, exposed so other
// packages (accel's storage-form classifier) can share one definition of
// "scalar" instead of re-deriving it from reflect.Kind themselves.
func IsScalar(v any) bool { return isScalar(v) }

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// needsSerialize walks v and reports whether it exceeds MaxPlainDepth
// levels of nesting, or contains a node that is not a plain record
// (struct/pointer-to-struct) or associative/sequential container
// (map/slice/array), the two conditions under which the round-trip path
// beats a structural clone.
func needsSerialize(v any) bool {
	return walkDepth(reflect.ValueOf(v), 0) > MaxPlainDepth
}

func walkDepth(rv reflect.Value, depth int) int {
	if depth > MaxPlainDepth {
		return depth // short-circuit, caller only cares it exceeded the bound
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return depth
		}
		return walkDepth(rv.Elem(), depth)
	case reflect.Struct:
		max := depth
		for i := 0; i < rv.NumField(); i++ {
			if d := walkDepth(rv.Field(i), depth+1); d > max {
				max = d
			}
		}
		return max
	case reflect.Map:
		max := depth
		for _, k := range rv.MapKeys() {
			if d := walkDepth(rv.MapIndex(k), depth+1); d > max {
				max = d
			}
		}
		return max
	case reflect.Slice, reflect.Array:
		max := depth
		for i := 0; i < rv.Len(); i++ {
			if d := walkDepth(rv.Index(i), depth+1); d > max {
				max = d
			}
		}
		return max
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		// Not a plain-record/associative-container node: force the
		// serialize path regardless of depth (it will fail loudly there,
		// which is preferable to a silently shallow clone).
		return MaxPlainDepth + 1
	default:
		return depth
	}
}

func deepClone(v any) (any, error) {
	return copystructure.Copy(v)
}

func serializeRoundTrip(v any) (any, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
