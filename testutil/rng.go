package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/voxcache/pixel"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Buffer returns n random voxels of type t. Integer voxels cover the default
// value range of t; float voxels lie in [0, 1).
func (r *RNG) Buffer(t pixel.Type, n int) pixel.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch t {
	case pixel.Bool:
		out := make(pixel.BoolBuffer, n)
		for i := range out {
			out[i] = r.rand.Intn(2) == 1
		}
		return out
	case pixel.Byte:
		out := make(pixel.ByteBuffer, n)
		for i := range out {
			out[i] = uint8(r.rand.Intn(256))
		}
		return out
	case pixel.Short:
		out := make(pixel.ShortBuffer, n)
		for i := range out {
			out[i] = uint16(r.rand.Intn(65536))
		}
		return out
	case pixel.Int:
		out := make(pixel.IntBuffer, n)
		for i := range out {
			out[i] = int32(r.rand.Intn(65536))
		}
		return out
	case pixel.Float:
		out := make(pixel.FloatBuffer, n)
		for i := range out {
			out[i] = r.rand.Float32()
		}
		return out
	}
	return nil
}

// Slices returns z random buffers of n voxels each.
func (r *RNG) Slices(t pixel.Type, n, z int) []pixel.Buffer {
	out := make([]pixel.Buffer, z)
	for i := range out {
		out[i] = r.Buffer(t, n)
	}
	return out
}
