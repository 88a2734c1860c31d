package blobstore

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voxcache/internal/cache"
)

// countingStore records inner reads of a MemoryStore.
type countingStore struct {
	*MemoryStore
	reads     atomic.Int64
	readBytes atomic.Int64
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, s: s}, nil
}

type countingBlob struct {
	Blob
	s *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := b.Blob.ReadAt(ctx, p, off)
	b.s.reads.Add(1)
	b.s.readBytes.Add(int64(n))
	return n, err
}

func newCountingStore(t *testing.T, blobs map[string][]byte) *countingStore {
	t.Helper()
	s := &countingStore{MemoryStore: NewMemoryStore()}
	for name, data := range blobs {
		require.NoError(t, s.Put(t.Context(), name, data))
	}
	return s
}

func TestCachingStore_ReadAt(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	inner := newCountingStore(t, map[string][]byte{"vol.raw": data})
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1<<20, nil), 256)

	blob, err := store.Open(t.Context(), "vol.raw")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 100)
	n, err := blob.ReadAt(t.Context(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[:100], buf)
	assert.Equal(t, int64(1), inner.reads.Load())
	assert.Equal(t, int64(256), inner.readBytes.Load())

	// Same range again is a cache hit.
	_, err = blob.ReadAt(t.Context(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.reads.Load())

	// Spanning blocks 0 and 1 fetches only block 1.
	n, err = blob.ReadAt(t.Context(), buf, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[200:300], buf)
	assert.Equal(t, int64(2), inner.reads.Load())
	assert.Equal(t, int64(512), inner.readBytes.Load())

	// Blocks 2 and 3 are one contiguous run and one inner read.
	big := make([]byte, 512)
	n, err = blob.ReadAt(t.Context(), big, 512)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, data[512:], big)
	assert.Equal(t, int64(3), inner.reads.Load())
}

func TestCachingStore_ShortTail(t *testing.T) {
	inner := newCountingStore(t, map[string][]byte{"small": []byte("hello")})
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1024, nil), 256)

	blob, err := store.Open(t.Context(), "small")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := blob.ReadAt(t.Context(), buf, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = blob.ReadAt(t.Context(), buf, 5)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCachingStore_ReadRange(t *testing.T) {
	inner := newCountingStore(t, map[string][]byte{"r": []byte("0123456789")})
	store := NewCachingStore(inner, cache.NewShardedLRUBlockCache(1<<20, nil), 4)

	blob, err := store.Open(t.Context(), "r")
	require.NoError(t, err)

	rc, err := blob.ReadRange(t.Context(), 3, 5)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "34567", string(got))
}

func TestCachingStore_PutInvalidates(t *testing.T) {
	inner := newCountingStore(t, map[string][]byte{"v": []byte("aaaa")})
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1024, nil), 4)

	read := func() string {
		blob, err := store.Open(t.Context(), "v")
		require.NoError(t, err)
		defer blob.Close()
		buf := make([]byte, 4)
		_, err = blob.ReadAt(t.Context(), buf, 0)
		require.NoError(t, err)
		return string(buf)
	}

	assert.Equal(t, "aaaa", read())
	require.NoError(t, store.Put(t.Context(), "v", []byte("bbbb")))
	assert.Equal(t, "bbbb", read())

	require.NoError(t, store.Delete(t.Context(), "v"))
	_, err := store.Open(t.Context(), "v")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStore_CancelledContext(t *testing.T) {
	inner := newCountingStore(t, map[string][]byte{"v": []byte("aaaa")})
	store := NewCachingStore(inner, cache.NewLRUBlockCache(1024, nil), 4)

	blob, err := store.Open(t.Context(), "v")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = blob.ReadAt(ctx, make([]byte, 4), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), inner.reads.Load())
}
