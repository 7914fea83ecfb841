package envelope

import "testing"

type cacheableString string

func (c cacheableString) MarshalCacheable() any { return string(c) }

func TestComposeDecompose_TTLOnly(t *testing.T) {
	wrapped, c := Compose("v", false, 0, 10, 1000, false)
	if !c.TTLWrapped || c.Versioned || c.CachedObj {
		t.Fatalf("composed flags = %+v", c)
	}
	d := Decompose(wrapped)
	if !d.HasTTL || d.Expiry != 1000 || d.Data != "v" {
		t.Fatalf("decomposed = %+v", d)
	}
}

func TestComposeDecompose_VersionOutermost(t *testing.T) {
	wrapped, c := Compose("v", true, 5, 10, 1000, false)
	if !c.Versioned || !c.TTLWrapped {
		t.Fatalf("composed flags = %+v", c)
	}
	// Version must be the outermost type.
	if _, ok := wrapped.(Version); !ok {
		t.Fatalf("expected outermost Version wrapper, got %T", wrapped)
	}
	d := Decompose(wrapped)
	if !d.HasVersion || d.Version != 5 || !d.HasTTL || d.Expiry != 1000 || d.Data != "v" {
		t.Fatalf("decomposed = %+v", d)
	}
}

func TestCompose_NativeTTLSkipsWrapper(t *testing.T) {
	wrapped, c := Compose("v", false, 0, 10, 1000, true)
	if c.TTLWrapped {
		t.Fatal("native TTL store must not get a TTL wrapper")
	}
	if wrapped != "v" {
		t.Fatalf("wrapped = %v, want raw value", wrapped)
	}
}

func TestCompose_CachedObjectMarker(t *testing.T) {
	wrapped, c := Compose(cacheableString("hi"), false, 0, 0, 0, false)
	if !c.CachedObj {
		t.Fatal("expected CachedObj flag")
	}
	d := Decompose(wrapped)
	if !d.IsCachedObj || d.CachedHandle != "hi" {
		t.Fatalf("decomposed = %+v", d)
	}
}

func TestCachedObjectHasNoSetters(t *testing.T) {
	co := NewCachedObject(42)
	if co.Handle() != 42 {
		t.Fatalf("handle = %v", co.Handle())
	}
	// CachedObject exposes no mutator; the type system enforces
	// immutability at compile time (no setter to call here).
}
