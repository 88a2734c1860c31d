package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"math/bits"

	"github.com/hupe1980/voxcache/internal/resource"
)

const (
	maxShards = 64

	// minShardBytes keeps small caches from being split into shards too
	// small to hold a slice worth of blocks.
	minShardBytes = 4 << 20
)

// ShardedLRUBlockCache spreads blocks over a power-of-two number of LRU
// shards, each with its own lock and an equal share of the capacity.
type ShardedLRUBlockCache struct {
	shards []*LRUBlockCache
	mask   uint64
	seed   maphash.Seed
}

// NewShardedLRUBlockCache creates a sharded cache of capacity bytes. The shard
// count grows with the capacity, up to 64. If rc is non-nil every shard
// charges its blocks against rc's memory budget.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	n := shardCount(capacity)

	s := &ShardedLRUBlockCache{
		shards: make([]*LRUBlockCache, n),
		mask:   uint64(n - 1),
		seed:   maphash.MakeSeed(),
	}
	for i := range s.shards {
		s.shards[i] = NewLRUBlockCache(max(capacity/int64(n), 1), rc)
	}
	return s
}

func shardCount(capacity int64) int {
	n := capacity / minShardBytes
	if n <= 1 {
		return 1
	}
	if n >= maxShards {
		return maxShards
	}
	// Round down to a power of two so the shard index is a mask.
	return 1 << (bits.Len64(uint64(n)) - 1)
}

func (s *ShardedLRUBlockCache) shard(key CacheKey) *LRUBlockCache {
	if len(s.shards) == 1 {
		return s.shards[0]
	}

	var h maphash.Hash
	h.SetSeed(s.seed)

	var buf [9]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint64(buf[1:], key.Block)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(key.Path)

	return s.shards[h.Sum64()&s.mask]
}

// Shards returns the number of shards.
func (s *ShardedLRUBlockCache) Shards() int { return len(s.shards) }

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(ctx context.Context, key CacheKey) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(ctx context.Context, key CacheKey, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes the entries matching predicate from every shard.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	for _, shard := range s.shards {
		shard.Invalidate(predicate)
	}
}

// InvalidatePath removes every block of the blob at path.
func (s *ShardedLRUBlockCache) InvalidatePath(path string) {
	s.Invalidate(func(key CacheKey) bool { return key.Path == path })
}

// Close empties every shard and returns the cached bytes to the budget.
func (s *ShardedLRUBlockCache) Close() error {
	for _, shard := range s.shards {
		_ = shard.Close()
	}
	return nil
}

// Stats returns aggregated hit and miss counts.
func (s *ShardedLRUBlockCache) Stats() (hits, misses int64) {
	st := s.Snapshot()
	return st.Hits, st.Misses
}

// Size returns the cached bytes across all shards.
func (s *ShardedLRUBlockCache) Size() int64 {
	return s.Snapshot().Bytes
}

// Snapshot aggregates the counters of all shards.
func (s *ShardedLRUBlockCache) Snapshot() Stats {
	var st Stats
	for _, shard := range s.shards {
		st.add(shard.Snapshot())
	}
	return st
}
