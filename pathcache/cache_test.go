package pathcache

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

type value struct{ path string }

func counter(calls *atomic.Int64) LoadFunc[*value] {
	return func(_ context.Context, path string) (*value, error) {
		calls.Add(1)
		return &value{path: path}, nil
	}
}

func TestGetReadThroughSharesInstance(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	a, hit, err := c.Get(t.Context(), "data/vol", true, true, counter(&calls))
	require.NoError(t, err)
	assert.False(t, hit)

	b, hit, err := c.Get(t.Context(), "data/./vol", true, true, counter(&calls))
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Same(t, a, b)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, []string{"data/vol"}, c.Paths())
}

func TestGetFreshLoadAlwaysReads(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	a, _, err := c.Get(t.Context(), "vol", true, true, counter(&calls))
	require.NoError(t, err)

	b, hit, err := c.Get(t.Context(), "vol", false, false, counter(&calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotSame(t, a, b)

	// The entry was not overwritten.
	cached, ok := c.Peek("vol")
	require.True(t, ok)
	assert.Same(t, a, cached)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetLastWriteWins(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	_, _, err := c.Get(t.Context(), "vol", true, true, counter(&calls))
	require.NoError(t, err)

	b, _, err := c.Get(t.Context(), "vol", false, true, counter(&calls))
	require.NoError(t, err)

	cached, ok := c.Peek("vol")
	require.True(t, ok)
	assert.Same(t, b, cached)
	assert.Equal(t, 1, c.Len())
}

func TestGetWithoutSave(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	_, _, err := c.Get(t.Context(), "vol", true, false, counter(&calls))
	require.NoError(t, err)
	assert.Zero(t, c.Len())
}

func TestGetCoalescesConcurrentMisses(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	release := make(chan struct{})
	load := func(_ context.Context, path string) (*value, error) {
		calls.Add(1)
		<-release
		return &value{path: path}, nil
	}

	const n = 8
	results := make([]*value, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Get(context.Background(), "vol", true, true, load)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestLoadErrorNotCached(t *testing.T) {
	c := New[*value](nil)
	boom := errors.New("boom")

	_, _, err := c.Get(t.Context(), "vol", true, true, func(context.Context, string) (*value, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.LoadErrors)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestEvict(t *testing.T) {
	c := New[*value](nil)

	var calls atomic.Int64
	a, _, err := c.Get(t.Context(), "vol", true, true, counter(&calls))
	require.NoError(t, err)

	evicted, ok := c.Evict("./vol")
	require.True(t, ok)
	assert.Same(t, a, evicted)

	_, ok = c.Evict("vol")
	assert.False(t, ok)

	b, hit, err := c.Get(t.Context(), "vol", true, true, counter(&calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotSame(t, a, b)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestClear(t *testing.T) {
	c := New[*value](nil)
	c.Put("a", &value{})
	c.Put("b", &value{})

	assert.Len(t, c.Clear(), 2)
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Paths())
}

func TestCanonicalizer(t *testing.T) {
	c := New[*value](func(p string) (string, error) {
		if p == "bad" {
			return "", errors.New("rejected")
		}
		return "k:" + p, nil
	})

	var calls atomic.Int64
	v, _, err := c.Get(t.Context(), "vol", true, true, counter(&calls))
	require.NoError(t, err)
	assert.Equal(t, "k:vol", v.path)

	_, _, err = c.Get(t.Context(), "bad", true, true, counter(&calls))
	require.Error(t, err)

	_, _, err = New[*value](nil).Get(t.Context(), "", true, true, counter(&calls))
	require.ErrorIs(t, err, ErrEmptyPath)
}
