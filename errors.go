package voxcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/internal/taskpool"
	"github.com/hupe1980/voxcache/pixel"
)

var (
	// ErrSliceRead matches every *SliceReadError.
	ErrSliceRead = errors.New("voxcache: slice read failed")

	// ErrClosed is returned after Close on an Env or Image.
	ErrClosed = errors.New("voxcache: closed")

	// ErrSliceOutOfRange is returned for a slice index outside [0, z).
	ErrSliceOutOfRange = errors.New("voxcache: slice index out of range")

	// ErrNoLoader is returned by Env.Load when no Loader was configured.
	ErrNoLoader = errors.New("voxcache: no loader configured")

	// ErrUnsupportedConversion is returned for conversions between unknown types.
	ErrUnsupportedConversion = pixel.ErrUnsupportedConversion

	// ErrCancelled is returned by handles whose task was dropped at shutdown.
	ErrCancelled = taskpool.ErrCancelled

	// ErrMemoryLimitExceeded is returned when an image does not fit the memory budget.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
)

// SliceReadError reports a failed read of one slice from a source.
//
// The underlying error can be accessed via errors.Unwrap.
type SliceReadError struct {
	Source string
	Index  int
	Err    error
}

func (e *SliceReadError) Error() string {
	return fmt.Sprintf("voxcache: read slice %d of %s: %v", e.Index, e.Source, e.Err)
}

func (e *SliceReadError) Unwrap() error { return e.Err }

// Is reports ErrSliceRead as a match.
func (e *SliceReadError) Is(target error) bool { return target == ErrSliceRead }

// wrapSliceError leaves context and scheduler errors untouched.
func wrapSliceError(source string, index int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrCancelled) || errors.Is(err, ErrSliceOutOfRange) {
		return err
	}

	var sre *SliceReadError
	if errors.As(err, &sre) {
		return err
	}
	return &SliceReadError{Source: source, Index: index, Err: err}
}
