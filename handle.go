package voxcache

import (
	"context"

	"github.com/hupe1980/voxcache/internal/taskpool"
	"github.com/hupe1980/voxcache/pixel"
)

// SliceHandle is the pending or completed result of one slice read. It
// resolves exactly once; every Wait observes the same buffer or error.
type SliceHandle struct {
	index  int
	t      pixel.Type
	future *taskpool.Future[pixel.Buffer]
}

// Wait blocks until the slice is available or ctx is done. A ctx error does
// not fail the handle.
func (h *SliceHandle) Wait(ctx context.Context) (pixel.Buffer, error) {
	return h.future.Wait(ctx)
}

// Done is closed once the handle has resolved.
func (h *SliceHandle) Done() <-chan struct{} { return h.future.Done() }

// Err returns the failure of a resolved handle, or nil.
func (h *SliceHandle) Err() error { return h.future.Err() }

// Index returns the slice index.
func (h *SliceHandle) Index() int { return h.index }

// Type returns the pixel type the slice is read at.
func (h *SliceHandle) Type() pixel.Type { return h.t }
