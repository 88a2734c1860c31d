package voxcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// Image is a fully materialized volume held in memory at one native type.
// It is immutable and safe for concurrent use.
type Image struct {
	desc   volume.Descriptor
	t      pixel.Type
	conv   pixel.Conversion
	slices []pixel.Buffer

	rc       *resource.Controller
	reserved int64

	mu     sync.RWMutex
	closed bool
}

// NewImage builds an image from one buffer per slice, all of type t and of
// the slice length of desc. The buffers are owned by the image afterwards.
func NewImage(desc volume.Descriptor, t pixel.Type, slices []pixel.Buffer) (*Image, error) {
	desc.PixelType = t
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return newImage(desc, t, slices)
}

func newImage(desc volume.Descriptor, t pixel.Type, slices []pixel.Buffer) (*Image, error) {
	if len(slices) != desc.SliceCount() {
		return nil, fmt.Errorf("%w: %d slices for depth %d", volume.ErrInvalidDescriptor, len(slices), desc.SliceCount())
	}
	for i, s := range slices {
		if err := checkSlice(s, desc.SliceLen(), t); err != nil {
			return nil, fmt.Errorf("%w: slice %d: %v", volume.ErrInvalidDescriptor, i, err)
		}
	}

	return &Image{
		desc:   desc,
		t:      t,
		conv:   desc.Conversion(),
		slices: slices,
	}, nil
}

// Descriptor implements volume.Source.
func (m *Image) Descriptor() volume.Descriptor { return m.desc }

// NativeType returns the type the voxels are stored at.
func (m *Image) NativeType() pixel.Type { return m.t }

// Bytes returns the size of the stored voxels.
func (m *Image) Bytes() int64 { return m.desc.SizeBytes(m.t) }

// Slice implements volume.Source. At the native type the stored buffer is
// returned and must not be modified; other types are converted per call.
func (m *Image) Slice(_ context.Context, index int, t pixel.Type) (pixel.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	if !m.desc.CheckIndex(index) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrSliceOutOfRange, index, m.desc.SliceCount())
	}

	buf := m.slices[index]
	if t == m.t {
		return buf, nil
	}
	return m.conv.Convert(buf, t)
}

// Volume returns all voxels at type t as one z-major buffer.
func (m *Image) Volume(t pixel.Type) (pixel.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	parts := m.slices
	if t != m.t {
		parts = make([]pixel.Buffer, len(m.slices))
		for i, s := range m.slices {
			c, err := m.conv.Convert(s, t)
			if err != nil {
				return nil, err
			}
			parts[i] = c
		}
	}
	return pixel.Concat(t, parts)
}

// Close drops the voxel data and returns its memory reservation. Slice and
// Volume fail with ErrClosed afterwards.
func (m *Image) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.slices = nil

	if m.reserved > 0 {
		m.rc.ReleaseMemory(m.reserved)
		m.reserved = 0
	}
	return nil
}
