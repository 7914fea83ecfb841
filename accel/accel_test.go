package accel

import "testing"

func asIsAlways(any) bool { return true }

// Bound=2, set(a,1), set(b,2), set(c,3) -> {b:2, c:3}.
func TestLRUEviction(t *testing.T) {
	tier := New[string](2, asIsAlways)

	mustSet(t, tier, "a", 1)
	mustSet(t, tier, "b", 2)
	mustSet(t, tier, "c", 3)

	if tier.Has("a") {
		t.Fatal("a should have been evicted")
	}
	if !tier.Has("b") || !tier.Has("c") {
		t.Fatal("b and c should remain")
	}
	if tier.Len() != 2 {
		t.Fatalf("len = %d, want 2", tier.Len())
	}
}

func TestGetPromotesToMRU(t *testing.T) {
	tier := New[string](2, asIsAlways)
	mustSet(t, tier, "a", 1)
	mustSet(t, tier, "b", 2)

	if _, ok, err := tier.Get("a"); err != nil || !ok {
		t.Fatalf("get a: ok=%v err=%v", ok, err)
	}
	mustSet(t, tier, "c", 3)

	if !tier.Has("a") {
		t.Fatal("a should have been promoted and survived eviction")
	}
	if tier.Has("b") {
		t.Fatal("b should have been the eviction victim after a was promoted")
	}
}

func TestUnboundedNeverEvicts(t *testing.T) {
	tier := New[string](0, asIsAlways)
	for i := 0; i < 1000; i++ {
		mustSet(t, tier, string(rune('a'+i%26))+string(rune(i)), i)
	}
	if tier.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", tier.Len())
	}
}

func TestSerializedRoundTrip(t *testing.T) {
	tier := New[string](0, func(any) bool { return false }) // force serialize
	if err := tier.Set("k", map[string]int{"x": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := tier.Get("k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("unexpected decoded type %T", v)
	}
	if m["x"] != int8(1) && m["x"] != int64(1) {
		t.Fatalf("unexpected decoded value %v (%T)", m["x"], m["x"])
	}
}

func TestDeleteAndPurge(t *testing.T) {
	tier := New[string](0, asIsAlways)
	mustSet(t, tier, "a", 1)
	mustSet(t, tier, "b", 2)

	tier.Delete("a")
	if tier.Has("a") {
		t.Fatal("a should be gone")
	}
	tier.Purge()
	if tier.Len() != 0 {
		t.Fatalf("len after purge = %d, want 0", tier.Len())
	}
}

func mustSet(t *testing.T, tier *Tier[string], k string, v any) {
	t.Helper()
	if err := tier.Set(k, v); err != nil {
		t.Fatalf("set(%v): %v", k, err)
	}
}
