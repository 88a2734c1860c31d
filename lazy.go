package voxcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// LazyReader serves slices of a source on demand. Each slice is read at most
// once at the source's native type; other types are converted from that
// result on every call.
type LazyReader struct {
	env  *Env
	src  volume.Source
	desc volume.Descriptor
	conv pixel.Conversion

	mu      sync.Mutex
	handles map[int]*SliceHandle
}

func newLazyReader(e *Env, src volume.Source) *LazyReader {
	desc := src.Descriptor()
	return &LazyReader{
		env:     e,
		src:     src,
		desc:    desc,
		conv:    desc.Conversion(),
		handles: make(map[int]*SliceHandle),
	}
}

// Descriptor implements volume.Source.
func (r *LazyReader) Descriptor() volume.Descriptor { return r.desc }

// Submit queues a fresh read of slice index at type t.
func (r *LazyReader) Submit(index int, t pixel.Type) *SliceHandle {
	return r.env.submit(r.env.ctx, r.src, r.desc, index, t)
}

// Handle returns the native-type handle for index, submitting the read on
// first use.
func (r *LazyReader) Handle(index int) *SliceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[index]; ok {
		return h
	}
	h := r.Submit(index, r.desc.PixelType)
	r.handles[index] = h
	return h
}

// Slice implements volume.Source. The returned buffer must not be modified.
func (r *LazyReader) Slice(ctx context.Context, index int, t pixel.Type) (pixel.Buffer, error) {
	if !r.desc.CheckIndex(index) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrSliceOutOfRange, index, r.desc.SliceCount())
	}

	buf, err := r.Handle(index).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return r.env.convert(buf, r.conv, t)
}

// AsCachedImage reads every slice at type t and returns the in-memory image.
func (r *LazyReader) AsCachedImage(ctx context.Context, t pixel.Type) (*Image, error) {
	return r.env.Materialize(ctx, r, t)
}

// Prefetch submits a read of every slice at type t and returns a reader over
// the resulting handles.
func (r *LazyReader) Prefetch(t pixel.Type) *CachedReader {
	desc := r.desc
	desc.PixelType = t

	handles := make([]*SliceHandle, r.desc.SliceCount())
	for i := range handles {
		handles[i] = r.Submit(i, t)
	}

	return &CachedReader{
		env:     r.env,
		desc:    desc,
		conv:    r.conv,
		handles: handles,
	}
}

// CachedReader serves slices from handles submitted up front. Its native
// type is the type the handles were submitted at.
type CachedReader struct {
	env     *Env
	desc    volume.Descriptor
	conv    pixel.Conversion
	handles []*SliceHandle
}

// Descriptor implements volume.Source.
func (r *CachedReader) Descriptor() volume.Descriptor { return r.desc }

// Handle returns the handle for index, or nil when index is out of range.
func (r *CachedReader) Handle(index int) *SliceHandle {
	if !r.desc.CheckIndex(index) {
		return nil
	}
	return r.handles[index]
}

// Slice implements volume.Source.
func (r *CachedReader) Slice(ctx context.Context, index int, t pixel.Type) (pixel.Buffer, error) {
	h := r.Handle(index)
	if h == nil {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrSliceOutOfRange, index, r.desc.SliceCount())
	}

	buf, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return r.env.convert(buf, r.conv, t)
}

// Image waits for every handle and returns the in-memory image.
func (r *CachedReader) Image(ctx context.Context) (*Image, error) {
	return r.env.Materialize(ctx, r, r.desc.PixelType)
}
