package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// Source is an in-memory volume.Source that records how it is read.
type Source struct {
	desc   volume.Descriptor
	slices []pixel.Buffer

	total  atomic.Int64
	active atomic.Int64
	peak   atomic.Int64

	mu       sync.Mutex
	reads    map[int]int64
	failures map[int]error
	gate     chan struct{}
}

// NewSource wraps one native buffer per slice. desc.PixelType must match the
// buffers.
func NewSource(desc volume.Descriptor, slices []pixel.Buffer) *Source {
	return &Source{
		desc:     desc,
		slices:   slices,
		reads:    make(map[int]int64),
		failures: make(map[int]error),
	}
}

// Ramp returns a source whose voxel i of slice z holds (z*X*Y + i) modulo a
// small range that fits every integer type. Bool voxels are set on odd values.
func Ramp(name string, dims volume.Point3, t pixel.Type) *Source {
	desc := volume.Descriptor{
		SampleName:  name,
		Dims:        dims,
		ElementSize: volume.Vec3{X: 1, Y: 1, Z: 1},
		PixelType:   t,
	}

	n := dims.X * dims.Y
	slices := make([]pixel.Buffer, dims.Z)
	for z := range slices {
		vals := make([]int, n)
		for i := range vals {
			vals[i] = (z*n + i) % 120
		}
		slices[z] = fromInts(t, vals)
	}
	return NewSource(desc, slices)
}

func fromInts(t pixel.Type, vals []int) pixel.Buffer {
	switch t {
	case pixel.Bool:
		out := make(pixel.BoolBuffer, len(vals))
		for i, v := range vals {
			out[i] = v%2 == 1
		}
		return out
	case pixel.Byte:
		out := make(pixel.ByteBuffer, len(vals))
		for i, v := range vals {
			out[i] = uint8(v)
		}
		return out
	case pixel.Short:
		out := make(pixel.ShortBuffer, len(vals))
		for i, v := range vals {
			out[i] = uint16(v)
		}
		return out
	case pixel.Int:
		out := make(pixel.IntBuffer, len(vals))
		for i, v := range vals {
			out[i] = int32(v)
		}
		return out
	case pixel.Float:
		out := make(pixel.FloatBuffer, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out
	}
	panic(fmt.Sprintf("testutil: unknown type %s", t))
}

// Descriptor implements volume.Source.
func (s *Source) Descriptor() volume.Descriptor { return s.desc }

// Slice implements volume.Source.
func (s *Source) Slice(ctx context.Context, index int, t pixel.Type) (pixel.Buffer, error) {
	s.total.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.reads[index]++
	gate := s.gate
	fail := s.failures[index]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	if !s.desc.CheckIndex(index) {
		return nil, fmt.Errorf("testutil: slice %d out of range", index)
	}

	return s.desc.Conversion().Convert(s.slices[index], t)
}

// Native returns the stored buffer of slice index.
func (s *Source) Native(index int) pixel.Buffer { return s.slices[index] }

// Block makes every following read wait until the returned release function
// is called.
func (s *Source) Block() (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// FailAt makes reads of slice index return err. A nil err clears the failure.
func (s *Source) FailAt(index int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, index)
		return
	}
	s.failures[index] = err
}

// Reads returns how often slice index was read.
func (s *Source) Reads(index int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[index]
}

// TotalReads returns the number of Slice calls.
func (s *Source) TotalReads() int64 { return s.total.Load() }

// Active returns the number of reads currently in progress.
func (s *Source) Active() int64 { return s.active.Load() }

// PeakConcurrency returns the largest number of simultaneous reads observed.
func (s *Source) PeakConcurrency() int64 { return s.peak.Load() }
