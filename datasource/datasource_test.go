package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncLoadForCache(t *testing.T) {
	f := Func[string]{Load: func(ctx context.Context, key string) (any, bool, error) {
		return "gizmo", true, nil
	}}
	v, ok, err := f.LoadForCache(context.Background(), "widget-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gizmo", v)
}

func TestFuncLoadManyFallsBackToPerKeyLoad(t *testing.T) {
	backend := map[string]string{"a": "1", "b": "2"}
	f := Func[string]{Load: func(ctx context.Context, key string) (any, bool, error) {
		v, ok := backend[key]
		return v, ok, nil
	}}
	got, err := f.LoadManyForCache(context.Background(), []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, got)
}

func TestFuncDoesNotImplementVersionedDataSource(t *testing.T) {
	f := Func[string]{Load: func(ctx context.Context, key string) (any, bool, error) {
		return nil, false, nil
	}}
	type versioned interface {
		LoadForCacheVersioned(ctx context.Context, key string, requiredVersion int64) (any, int64, bool, error)
	}
	_, ok := any(f).(versioned)
	assert.False(t, ok, "a plain Func must not satisfy the versioned contract")
}

func TestVersionedImplementsLoadForCacheVersioned(t *testing.T) {
	v := Versioned[string]{
		LoadVersioned: func(ctx context.Context, key string, requiredVersion int64) (any, int64, bool, error) {
			return "gizmo", requiredVersion, true, nil
		},
	}
	val, actual, found, err := v.LoadForCacheVersioned(context.Background(), "widget-1", 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), actual)
	assert.Equal(t, "gizmo", val)
}

func TestCoalescedDedupesConcurrentLoads(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	inner := Func[string]{Load: func(ctx context.Context, key string) (any, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "gizmo", true, nil
	}}
	c := NewCoalesced(inner)

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, _ := c.LoadForCache(context.Background(), "widget-1")
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond) // let every goroutine join the in-flight call
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent misses for the same key must coalesce into one load")
	for _, r := range results {
		assert.Equal(t, "gizmo", r)
	}
}

func TestCoalescedPropagatesError(t *testing.T) {
	wantErr := errors.New("backend down")
	inner := Func[string]{Load: func(ctx context.Context, key string) (any, bool, error) {
		return nil, false, wantErr
	}}
	c := NewCoalesced(inner)
	_, _, err := c.LoadForCache(context.Background(), "widget-1")
	assert.ErrorIs(t, err, wantErr)
}

func TestCoalescedLoadManyPassesThroughUncoalesced(t *testing.T) {
	var calls int32
	inner := Func[string]{LoadMany: func(ctx context.Context, keys []string) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"a": "1"}, nil
	}}
	c := NewCoalesced(inner)
	got, err := c.LoadManyForCache(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1"}, got)
	assert.Equal(t, int32(1), calls)
}
