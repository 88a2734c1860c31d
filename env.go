package voxcache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/internal/taskpool"
	"github.com/hupe1980/voxcache/pathcache"
	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/volume"
)

// Loader produces a source for a canonical path on a path cache miss.
type Loader interface {
	Load(ctx context.Context, path string) (volume.Source, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (volume.Source, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, path string) (volume.Source, error) {
	return f(ctx, path)
}

// Env is the process-scoped runtime shared by every reader it opens: the
// reader admission budget, the slice scheduler and the path-keyed image cache.
type Env struct {
	opts    options
	rc      *resource.Controller
	pool    *taskpool.Pool
	images  *pathcache.Cache[*Image]
	logger  *Logger
	metrics MetricsCollector

	// ctx outlives callers; slice tasks that are not tied to a single caller
	// run under it. It is cancelled after the scheduler has stopped.
	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates an Env.
func New(optFns ...Option) *Env {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	rc := o.controller
	if rc == nil {
		rc = resource.NewController(resource.Config{
			MaxReaders:         int64(o.maxReaders),
			MemoryLimitBytes:   o.memoryLimit,
			IOLimitBytesPerSec: o.ioLimit,
		})
	}

	logger := o.logger
	if logger == nil {
		if o.logLevel != nil {
			logger = NewTextLogger(*o.logLevel)
		} else {
			logger = NoopLogger()
		}
	}

	workers := min(o.parallelism, rc.MaxReaders())

	ctx, cancel := context.WithCancel(context.Background())

	return &Env{
		opts:    o,
		rc:      rc,
		pool:    taskpool.NewPool(workers),
		images:  pathcache.New[*Image](o.canonicalizer),
		logger:  logger,
		metrics: o.metricsCollector,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Controller returns the resource controller, for sharing with WithController.
func (e *Env) Controller() *resource.Controller { return e.rc }

// Logger returns the Env logger.
func (e *Env) Logger() *Logger { return e.logger }

// Available returns the number of free reader slots.
func (e *Env) Available() int { return e.rc.AvailableReaders() }

// Workers returns the number of scheduler workers.
func (e *Env) Workers() int { return e.pool.Workers() }

// Pending returns the number of queued slice tasks.
func (e *Env) Pending() int { return e.pool.Pending() }

// Shutdown stops the scheduler. With cancelPending, queued slice tasks are
// dropped and their handles fail with ErrCancelled; otherwise the queue is
// drained first. In-flight tasks always complete. Shutdown blocks until the
// workers have exited.
func (e *Env) Shutdown(cancelPending bool) {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.logger.LogShutdown(context.Background(), cancelPending, e.pool.Pending())
		e.pool.Shutdown(cancelPending)
		e.cancel()
	})
}

// Close shuts the scheduler down, cancelling pending tasks. Cached images
// stay valid for their holders.
func (e *Env) Close() error {
	e.Shutdown(true)
	return nil
}

// Open returns a lazy per-slice reader over src.
func (e *Env) Open(src volume.Source) *LazyReader {
	if lr, ok := src.(*LazyReader); ok && lr.env == e {
		return lr
	}
	return newLazyReader(e, src)
}

// Materialize reads every slice of src at type t through the scheduler and
// returns the in-memory image. Materializing an *Image at its own type
// returns the same instance. The first failing slice aborts the remaining
// work and its error is returned.
func (e *Env) Materialize(ctx context.Context, src volume.Source, t pixel.Type) (*Image, error) {
	if img, ok := src.(*Image); ok && img.NativeType() == t {
		return img, nil
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !t.Valid() {
		return nil, &pixel.ConversionError{From: t, To: t}
	}

	// A lazy reader of this Env reads through the same scheduler, so bypass it.
	if lr, ok := src.(*LazyReader); ok && lr.env == e {
		src = lr.src
	}

	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	img, err := e.materialize(ctx, src, desc, t)

	e.metrics.RecordMaterialize(desc.SliceCount(), time.Since(start), err)
	e.logger.LogMaterialize(ctx, desc.Name(), t, desc.SliceCount(), desc.SizeBytes(t), time.Since(start), err)

	return img, err
}

func (e *Env) materialize(ctx context.Context, src volume.Source, desc volume.Descriptor, t pixel.Type) (*Image, error) {
	size := desc.SizeBytes(t)
	if err := e.rc.AcquireMemory(ctx, size); err != nil {
		return nil, fmt.Errorf("voxcache: reserve %d bytes for %s: %w", size, desc.Name(), err)
	}

	var handles []*SliceHandle
	if cr, ok := src.(*CachedReader); ok && cr.env == e {
		// Prefetched handles are already queued; reuse them instead of
		// submitting a second read per slice.
		handles = cr.handles
	} else {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		handles = make([]*SliceHandle, desc.SliceCount())
		for i := range handles {
			handles[i] = e.submit(ctx, src, desc, i, t)
		}
	}

	slices, err := e.collect(ctx, handles, desc.Conversion(), t)
	if err != nil {
		e.rc.ReleaseMemory(size)
		return nil, err
	}

	desc.PixelType = t
	desc = desc.AppendLog(fmt.Sprintf("materialized %d slices as %s", len(slices), t), time.Now())

	img, err := newImage(desc, t, slices)
	if err != nil {
		e.rc.ReleaseMemory(size)
		return nil, err
	}
	img.rc, img.reserved = e.rc, size
	return img, nil
}

// collect waits for every handle and converts each result to t. It returns
// on the first failure, in whichever order the handles resolve.
func (e *Env) collect(ctx context.Context, handles []*SliceHandle, conv pixel.Conversion, t pixel.Type) ([]pixel.Buffer, error) {
	stop := make(chan struct{})
	defer close(stop)

	ready := make(chan int, len(handles))
	for i, h := range handles {
		go func() {
			select {
			case <-h.Done():
				ready <- i
			case <-stop:
			}
		}()
	}

	slices := make([]pixel.Buffer, len(handles))
	for range handles {
		var i int
		select {
		case i = <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		buf, err := handles[i].future.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if slices[i], err = e.convert(buf, conv, t); err != nil {
			return nil, err
		}
	}
	return slices, nil
}

// submit queues one slice read of src at type t.
func (e *Env) submit(ctx context.Context, src volume.Source, desc volume.Descriptor, index int, t pixel.Type) *SliceHandle {
	h := &SliceHandle{index: index, t: t}

	if !desc.CheckIndex(index) {
		h.future = taskpool.Resolved[pixel.Buffer](nil,
			fmt.Errorf("%w: %d not in [0, %d)", ErrSliceOutOfRange, index, desc.SliceCount()))
		return h
	}

	h.future = taskpool.Submit(e.pool, ctx, func(ctx context.Context) (pixel.Buffer, error) {
		return e.readSlice(ctx, src, desc, index, t)
	})
	return h
}

// selfAdmitting sources never block on external IO themselves: readers of an
// Env queue their own admitted reads, and images are already in memory.
type selfAdmitting interface {
	selfAdmitting()
}

func (*LazyReader) selfAdmitting()   {}
func (*CachedReader) selfAdmitting() {}
func (*Image) selfAdmitting()        {}

// readSlice runs on a scheduler worker. Unless src is selfAdmitting it holds
// a reader slot for the duration of the source read.
func (e *Env) readSlice(ctx context.Context, src volume.Source, desc volume.Descriptor, index int, t pixel.Type) (pixel.Buffer, error) {
	name := desc.Name()

	if _, ok := src.(selfAdmitting); !ok {
		waitStart := time.Now()
		if err := e.rc.AcquireReader(ctx); err != nil {
			return nil, err
		}
		defer e.rc.ReleaseReader()
		e.metrics.RecordAdmissionWait(time.Since(waitStart))

		if err := e.rc.AcquireIO(ctx, desc.SliceLen()*t.Size()); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	buf, err := src.Slice(ctx, index, t)
	if err == nil {
		err = checkSlice(buf, desc.SliceLen(), t)
	}
	err = wrapSliceError(name, index, err)

	e.metrics.RecordSliceRead(time.Since(start), err)
	e.logger.LogSliceRead(ctx, name, index, t, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return buf, nil
}

func checkSlice(buf pixel.Buffer, n int, t pixel.Type) error {
	switch {
	case buf == nil:
		return fmt.Errorf("source returned no buffer")
	case buf.Type() != t:
		return fmt.Errorf("source returned %s, want %s", buf.Type(), t)
	case buf.Len() != n:
		return fmt.Errorf("source returned %d voxels, want %d", buf.Len(), n)
	}
	return nil
}

// convert returns buf at type t, recording the conversion when one happens.
func (e *Env) convert(buf pixel.Buffer, conv pixel.Conversion, t pixel.Type) (pixel.Buffer, error) {
	if buf.Type() == t {
		return buf, nil
	}
	out, err := conv.Convert(buf, t)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordConversion(buf.Type(), t, buf.Len())
	return out, nil
}

// Load returns the image for path through the path cache.
//
// With readFromCache set, an already cached image is returned as the same
// shared instance. Otherwise the configured Loader is asked for a source,
// which is materialized at its native type. With saveToCache set, the result
// replaces any cached image for the path.
func (e *Env) Load(ctx context.Context, path string, readFromCache, saveToCache bool) (*Image, error) {
	if e.opts.loader == nil {
		return nil, ErrNoLoader
	}

	img, hit, err := e.images.Get(ctx, path, readFromCache, saveToCache, e.loadImage)
	if readFromCache && err == nil {
		e.metrics.RecordCacheLookup(hit)
	}
	e.logger.LogCacheLoad(ctx, path, hit, err)

	return img, err
}

func (e *Env) loadImage(ctx context.Context, path string) (*Image, error) {
	src, err := e.opts.loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("voxcache: load %s: %w", path, err)
	}

	img, err := e.Materialize(ctx, src, src.Descriptor().PixelType)

	if c, ok := src.(io.Closer); ok && any(img) != any(src) {
		_ = c.Close()
	}
	return img, err
}

// Evict drops the cached image for path. Holders of the image keep a valid
// reference; it reports whether an entry was removed.
func (e *Env) Evict(path string) bool {
	_, ok := e.images.Evict(path)
	e.logger.LogEvict(context.Background(), path, ok)
	return ok
}

// CachedPaths returns the canonical paths of all cached images.
func (e *Env) CachedPaths() []string { return e.images.Paths() }

// CacheStats returns the path cache counters.
func (e *Env) CacheStats() pathcache.Stats { return e.images.Stats() }
