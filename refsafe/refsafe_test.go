package refsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarsReturnedAsIs(t *testing.T) {
	for _, v := range []any{nil, true, 42, int64(-7), 3.14, "text"} {
		got, err := Protect(v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar("s"))
	assert.True(t, IsScalar(1))
	assert.True(t, IsScalar(nil))
	assert.False(t, IsScalar([]int{1}))
	assert.False(t, IsScalar(map[string]int{"a": 1}))
	assert.False(t, IsScalar(struct{ X int }{1}))
}

func TestProtectBreaksMapSharing(t *testing.T) {
	orig := map[string]int{"a": 1}
	got, err := Protect(orig)
	require.NoError(t, err)

	copy := got.(map[string]int)
	copy["a"] = 99
	assert.Equal(t, 1, orig["a"], "mutating the protected copy must not touch the original")
}

func TestProtectBreaksSliceSharing(t *testing.T) {
	orig := []string{"a", "b"}
	got, err := Protect(orig)
	require.NoError(t, err)

	copy := got.([]string)
	copy[0] = "mutated"
	assert.Equal(t, "a", orig[0])
}

type plainRecord struct {
	Name string
	Tags []string
}

func TestProtectDeepClonesPlainStructs(t *testing.T) {
	orig := plainRecord{Name: "gizmo", Tags: []string{"x"}}
	got, err := Protect(orig)
	require.NoError(t, err)

	copy := got.(plainRecord)
	copy.Tags[0] = "mutated"
	assert.Equal(t, "x", orig.Tags[0])
	assert.Equal(t, "gizmo", copy.Name, "clone path preserves concrete struct type")
}

func TestDeepGraphTakesSerializePath(t *testing.T) {
	// Six levels of map nesting exceeds MaxPlainDepth, so Protect round-trips
	// through msgpack instead of cloning structurally.
	deep := map[string]any{
		"l1": map[string]any{"l2": map[string]any{"l3": map[string]any{
			"l4": map[string]any{"l5": map[string]any{"l6": "leaf"}},
		}}},
	}
	require.True(t, needsSerialize(deep))

	got, err := Protect(deep)
	require.NoError(t, err)

	copy := got.(map[string]any)
	copy["l1"] = "stomped"
	_, stillThere := deep["l1"].(map[string]any)
	assert.True(t, stillThere)
}

func TestShallowGraphAvoidsSerializePath(t *testing.T) {
	assert.False(t, needsSerialize(map[string]int{"a": 1}))
	assert.False(t, needsSerialize(plainRecord{Name: "n", Tags: []string{"t"}}))
}

func TestNonPlainNodeForcesSerializeDecision(t *testing.T) {
	// A func value is not a plain-record/container node; the walk reports it
	// as exceeding the depth bound so the serialize path (which fails loudly
	// on unsupported types) is chosen over a silently shallow clone.
	withFunc := map[string]any{"fn": func() {}}
	assert.True(t, needsSerialize(withFunc))
}
