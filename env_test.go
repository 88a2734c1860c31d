package voxcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voxcache/pixel"
	"github.com/hupe1980/voxcache/testutil"
	"github.com/hupe1980/voxcache/volume"
)

var dims = volume.Point3{X: 4, Y: 3, Z: 8}

func newEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()
	e := New(opts...)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 1, newEnv(t).Workers())
	assert.Equal(t, 2, newEnv(t, WithMaxReaders(2), WithParallelism(8)).Workers())
	assert.Equal(t, 3, newEnv(t, WithMaxReaders(16), WithParallelism(3)).Workers())
}

func TestLazyReaderReadsEachSliceOnce(t *testing.T) {
	e := newEnv(t, WithMaxReaders(4))
	src := testutil.Ramp("vol", dims, pixel.Byte)
	r := e.Open(src)

	h := r.Handle(2)
	assert.Same(t, h, r.Handle(2))
	assert.Equal(t, 2, h.Index())
	assert.Equal(t, pixel.Byte, h.Type())

	for _, typ := range pixel.Types {
		buf, err := r.Slice(t.Context(), 2, typ)
		require.NoError(t, err)
		assert.Equal(t, typ, buf.Type())
		assert.Equal(t, dims.X*dims.Y, buf.Len())
	}

	assert.Equal(t, int64(1), src.Reads(2))
	assert.Equal(t, int64(1), src.TotalReads())
}

func TestLazyReaderNativeSliceIsShared(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Short)
	r := e.Open(src)

	a, err := r.Slice(t.Context(), 0, pixel.Short)
	require.NoError(t, err)
	b, err := r.Slice(t.Context(), 0, pixel.Short)
	require.NoError(t, err)

	assert.Equal(t, src.Native(0), a)
	assert.Same(t, &a.(pixel.ShortBuffer)[0], &b.(pixel.ShortBuffer)[0])
}

func TestLazyReaderConvertsOnEveryCall(t *testing.T) {
	mc := &BasicMetricsCollector{}
	e := newEnv(t, WithMetricsCollector(mc))
	r := e.Open(testutil.Ramp("vol", volume.Point3{X: 2, Y: 2, Z: 2}, pixel.Byte))

	for range 3 {
		buf, err := r.Slice(t.Context(), 1, pixel.Float)
		require.NoError(t, err)
		assert.Equal(t, pixel.FloatBuffer{4, 5, 6, 7}, buf)
	}

	stats := mc.Stats()
	assert.Equal(t, int64(3), stats.Conversions)
	assert.Equal(t, int64(12), stats.ConvertedVoxels)
	assert.Equal(t, int64(1), stats.SliceReads)
}

func TestLazyReaderConcurrentSliceSingleRead(t *testing.T) {
	e := newEnv(t, WithMaxReaders(4))
	src := testutil.Ramp("vol", dims, pixel.Int)
	r := e.Open(src)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Slice(context.Background(), 5, pixel.Int)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), src.Reads(5))
}

func TestSliceOutOfRange(t *testing.T) {
	e := newEnv(t)
	r := e.Open(testutil.Ramp("vol", dims, pixel.Byte))

	for _, i := range []int{-1, dims.Z} {
		_, err := r.Slice(t.Context(), i, pixel.Byte)
		require.ErrorIs(t, err, ErrSliceOutOfRange)

		_, err = r.Submit(i, pixel.Byte).Wait(t.Context())
		require.ErrorIs(t, err, ErrSliceOutOfRange)
	}
}

func TestSliceReadFailureIsCapturedOnce(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Byte)
	boom := errors.New("disk on fire")
	src.FailAt(3, boom)

	r := e.Open(src)
	for range 2 {
		_, err := r.Slice(t.Context(), 3, pixel.Byte)
		require.ErrorIs(t, err, ErrSliceRead)
		require.ErrorIs(t, err, boom)

		var sre *SliceReadError
		require.ErrorAs(t, err, &sre)
		assert.Equal(t, 3, sre.Index)
		assert.Equal(t, "vol", sre.Source)
	}

	// The failure is sticky for the handle even after the source recovers.
	src.FailAt(3, nil)
	_, err := r.Slice(t.Context(), 3, pixel.Byte)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), src.Reads(3))
}

func TestSlicePanicBecomesError(t *testing.T) {
	e := newEnv(t)
	r := e.Open(panicSource{desc: testutil.Ramp("vol", dims, pixel.Byte).Descriptor()})

	_, err := r.Slice(t.Context(), 0, pixel.Byte)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

type panicSource struct{ desc volume.Descriptor }

func (p panicSource) Descriptor() volume.Descriptor { return p.desc }

func (p panicSource) Slice(context.Context, int, pixel.Type) (pixel.Buffer, error) {
	panic("kaboom")
}

func TestSliceWrongLengthRejected(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Byte)
	desc := src.Descriptor()
	desc.Dims.X++

	slices := make([]pixel.Buffer, desc.Dims.Z)
	for i := range slices {
		slices[i] = src.Native(i)
	}

	r := e.Open(testutil.NewSource(desc, slices))
	_, err := r.Slice(t.Context(), 0, pixel.Byte)
	require.ErrorIs(t, err, ErrSliceRead)
	assert.Contains(t, err.Error(), "12 voxels, want 15")
}

func TestAdmissionBoundsConcurrentReads(t *testing.T) {
	e := newEnv(t, WithMaxReaders(2), WithParallelism(8))
	src := testutil.Ramp("vol", dims, pixel.Byte)
	release := src.Block()

	r := e.Open(src)
	handles := make([]*SliceHandle, dims.Z)
	for i := range handles {
		handles[i] = r.Handle(i)
	}

	require.Eventually(t, func() bool { return src.Active() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, e.Available())

	release()
	for _, h := range handles {
		_, err := h.Wait(t.Context())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, src.PeakConcurrency(), int64(2))
	assert.Equal(t, 2, e.Available())
}

func TestSharedControllerSharesBudget(t *testing.T) {
	a := newEnv(t, WithMaxReaders(1))
	b := newEnv(t, WithController(a.Controller()))

	src := testutil.Ramp("vol", dims, pixel.Byte)
	release := src.Block()
	defer release()

	h := a.Open(src).Handle(0)
	require.Eventually(t, func() bool { return src.Active() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, b.Available())

	release()
	_, err := h.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, b.Available())
}

func TestNestedEnvsShareBudget(t *testing.T) {
	a := newEnv(t)
	b := newEnv(t, WithController(a.Controller()))
	src := testutil.Ramp("vol", dims, pixel.Byte)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	img, err := b.Materialize(ctx, a.Open(src), pixel.Float)
	require.NoError(t, err)

	want, err := src.Slice(ctx, 2, pixel.Float)
	require.NoError(t, err)
	got, err := img.Slice(ctx, 2, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	img, err = b.Materialize(ctx, a.Open(src).Prefetch(pixel.Byte), pixel.Short)
	require.NoError(t, err)
	assert.Equal(t, pixel.Short, img.NativeType())

	assert.Equal(t, 1, a.Available())
	assert.Equal(t, 1, b.Available())
}

func TestMaterializeImageNeedsNoReaderSlot(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Byte)

	img, err := e.Materialize(t.Context(), src, pixel.Byte)
	require.NoError(t, err)

	require.True(t, e.Controller().TryAcquireReader())
	defer e.Controller().ReleaseReader()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	floats, err := e.Materialize(ctx, img, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, pixel.Float, floats.NativeType())
	assert.Zero(t, src.Active())
}

func TestHandleWaitContext(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Byte)
	release := src.Block()

	h := e.Open(src).Handle(0)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, h.Err())

	release()
	<-h.Done()
	buf, err := h.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, src.Native(0), buf)
}

func TestShutdownCancelsPending(t *testing.T) {
	e := New()
	src := testutil.Ramp("vol", dims, pixel.Byte)
	release := src.Block()

	r := e.Open(src)
	handles := make([]*SliceHandle, 4)
	for i := range handles {
		handles[i] = r.Handle(i)
	}
	require.Eventually(t, func() bool { return src.Active() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.Shutdown(true)
		close(done)
	}()

	require.Eventually(t, func() bool { return e.Pending() == 0 }, time.Second, time.Millisecond)
	release()
	<-done

	_, err := handles[0].Wait(t.Context())
	require.NoError(t, err)
	for _, h := range handles[1:] {
		_, err := h.Wait(t.Context())
		require.ErrorIs(t, err, ErrCancelled)
	}

	_, err = r.Slice(t.Context(), 5, pixel.Byte)
	require.ErrorIs(t, err, ErrCancelled)

	_, err = e.Materialize(t.Context(), src, pixel.Byte)
	require.ErrorIs(t, err, ErrClosed)
}

func TestShutdownDrainsQueue(t *testing.T) {
	e := New()
	src := testutil.Ramp("vol", dims, pixel.Byte)
	r := e.Open(src)

	handles := make([]*SliceHandle, dims.Z)
	for i := range handles {
		handles[i] = r.Handle(i)
	}
	e.Shutdown(false)

	for _, h := range handles {
		_, err := h.Wait(t.Context())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(dims.Z), src.TotalReads())
}

func TestMaterialize(t *testing.T) {
	e := newEnv(t, WithMaxReaders(3))
	src := testutil.Ramp("vol", dims, pixel.Short)

	img, err := e.Materialize(t.Context(), src, pixel.Float)
	require.NoError(t, err)

	assert.Equal(t, pixel.Float, img.NativeType())
	assert.Equal(t, pixel.Float, img.Descriptor().PixelType)
	assert.Equal(t, dims, img.Descriptor().Dims)
	assert.Equal(t, int64(dims.Voxels()*4), img.Bytes())
	assert.Contains(t, img.Descriptor().ProcessLog, "\tmaterialized 8 slices as FLOAT")

	for z := range dims.Z {
		buf, err := img.Slice(t.Context(), z, pixel.Short)
		require.NoError(t, err)
		assert.Equal(t, src.Native(z), buf)
	}
	assert.Equal(t, int64(dims.Z), src.TotalReads())
}

func TestMaterializeImageAtNativeTypeIsIdentity(t *testing.T) {
	e := newEnv(t)
	img, err := e.Materialize(t.Context(), testutil.Ramp("vol", dims, pixel.Byte), pixel.Byte)
	require.NoError(t, err)

	same, err := e.Materialize(t.Context(), img, pixel.Byte)
	require.NoError(t, err)
	assert.Same(t, img, same)

	other, err := e.Materialize(t.Context(), img, pixel.Int)
	require.NoError(t, err)
	assert.NotSame(t, img, other)
	assert.Equal(t, pixel.Int, other.NativeType())
}

func TestMaterializeFailureAborts(t *testing.T) {
	e := newEnv(t)
	src := testutil.Ramp("vol", dims, pixel.Byte)
	boom := errors.New("bad block")
	src.FailAt(3, boom)

	img, err := e.Materialize(t.Context(), src, pixel.Byte)
	require.Nil(t, img)
	require.ErrorIs(t, err, ErrSliceRead)
	require.ErrorIs(t, err, boom)

	var sre *SliceReadError
	require.ErrorAs(t, err, &sre)
	assert.Equal(t, 3, sre.Index)
	assert.Zero(t, e.Controller().MemoryUsage())
}

func TestMaterializeInvalidType(t *testing.T) {
	e := newEnv(t)
	_, err := e.Materialize(t.Context(), testutil.Ramp("vol", dims, pixel.Byte), pixel.Type(7))
	require.ErrorIs(t, err, ErrUnsupportedConversion)
}

func TestMaterializeMemoryBudget(t *testing.T) {
	size := dims.Voxels() * 2
	e := newEnv(t, WithMemoryLimit(size))
	src := testutil.Ramp("vol", dims, pixel.Short)

	img, err := e.Materialize(t.Context(), src, pixel.Short)
	require.NoError(t, err)
	assert.Equal(t, size, e.Controller().MemoryUsage())

	_, err = e.Materialize(t.Context(), src, pixel.Float)
	require.ErrorIs(t, err, ErrMemoryLimitExceeded)

	require.NoError(t, img.Close())
	assert.Zero(t, e.Controller().MemoryUsage())

	_, err = img.Slice(t.Context(), 0, pixel.Short)
	require.ErrorIs(t, err, ErrClosed)
}

func TestAsCachedImage(t *testing.T) {
	e := newEnv(t, WithMaxReaders(2))
	src := testutil.Ramp("vol", dims, pixel.Byte)
	r := e.Open(src)

	img, err := r.AsCachedImage(t.Context(), pixel.Int)
	require.NoError(t, err)
	assert.Equal(t, pixel.Int, img.NativeType())

	vol, err := img.Volume(pixel.Byte)
	require.NoError(t, err)

	want, err := pixel.Concat(pixel.Byte, func() []pixel.Buffer {
		out := make([]pixel.Buffer, dims.Z)
		for i := range out {
			out[i] = src.Native(i)
		}
		return out
	}())
	require.NoError(t, err)
	assert.Equal(t, want, vol)
}

func TestPrefetch(t *testing.T) {
	e := newEnv(t, WithMaxReaders(2))
	src := testutil.Ramp("vol", dims, pixel.Short)

	cr := e.Open(src).Prefetch(pixel.Float)
	assert.Equal(t, pixel.Float, cr.Descriptor().PixelType)
	assert.Nil(t, cr.Handle(dims.Z))

	buf, err := cr.Slice(t.Context(), 1, pixel.Short)
	require.NoError(t, err)
	assert.Equal(t, src.Native(1), buf)

	img, err := cr.Image(t.Context())
	require.NoError(t, err)
	assert.Equal(t, pixel.Float, img.NativeType())

	// Materializing the prefetched reader reuses its handles.
	assert.Equal(t, int64(dims.Z), src.TotalReads())

	_, err = cr.Slice(t.Context(), -1, pixel.Short)
	require.ErrorIs(t, err, ErrSliceOutOfRange)
}

func TestOpenLazyReaderIsIdempotent(t *testing.T) {
	e := newEnv(t)
	r := e.Open(testutil.Ramp("vol", dims, pixel.Byte))
	assert.Same(t, r, e.Open(r))
}

func TestLoad(t *testing.T) {
	var loads atomic.Int64
	loader := LoaderFunc(func(_ context.Context, path string) (volume.Source, error) {
		loads.Add(1)
		return testutil.Ramp(path, dims, pixel.Byte), nil
	})

	mc := &BasicMetricsCollector{}
	e := newEnv(t, WithLoader(loader), WithMaxReaders(2), WithMetricsCollector(mc))

	a, err := e.Load(t.Context(), "data/vol", true, true)
	require.NoError(t, err)
	b, err := e.Load(t.Context(), "data/../data/vol", true, true)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(1), loads.Load())
	assert.Equal(t, []string{"data/vol"}, e.CachedPaths())

	fresh, err := e.Load(t.Context(), "data/vol", false, false)
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)
	assert.Equal(t, int64(2), loads.Load())

	c, err := e.Load(t.Context(), "data/vol", true, true)
	require.NoError(t, err)
	assert.Same(t, a, c)

	assert.True(t, e.Evict("data/vol"))
	assert.False(t, e.Evict("data/vol"))
	assert.Empty(t, e.CachedPaths())

	d, err := e.Load(t.Context(), "data/vol", true, true)
	require.NoError(t, err)
	assert.NotSame(t, a, d)

	stats := e.CacheStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(2), mc.Stats().CacheHits)
	assert.Equal(t, int64(2), mc.Stats().CacheMisses)
}

func TestLoadConcurrentSharesOneLoad(t *testing.T) {
	var loads atomic.Int64
	loader := LoaderFunc(func(_ context.Context, path string) (volume.Source, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return testutil.Ramp(path, dims, pixel.Byte), nil
	})
	e := newEnv(t, WithLoader(loader))

	var wg sync.WaitGroup
	imgs := make([]*Image, 8)
	for i := range imgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := e.Load(context.Background(), "vol", true, true)
			assert.NoError(t, err)
			imgs[i] = img
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load())
	for _, img := range imgs {
		assert.Same(t, imgs[0], img)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := newEnv(t).Load(t.Context(), "vol", true, true)
	require.ErrorIs(t, err, ErrNoLoader)

	missing := errors.New("no such volume")
	e := newEnv(t, WithLoader(LoaderFunc(func(context.Context, string) (volume.Source, error) {
		return nil, missing
	})))
	_, err = e.Load(t.Context(), "vol", true, true)
	require.ErrorIs(t, err, missing)
	assert.Empty(t, e.CachedPaths())
}

func TestLoadReturnsLoaderImage(t *testing.T) {
	img, err := NewImage(volume.Descriptor{SampleName: "mem", Dims: volume.Point3{X: 1, Y: 1, Z: 1}},
		pixel.Bool, []pixel.Buffer{pixel.BoolBuffer{true}})
	require.NoError(t, err)

	e := newEnv(t, WithLoader(LoaderFunc(func(context.Context, string) (volume.Source, error) {
		return img, nil
	})))

	got, err := e.Load(t.Context(), "mem", true, true)
	require.NoError(t, err)
	assert.Same(t, img, got)
}

func TestWithCanonicalizer(t *testing.T) {
	e := newEnv(t,
		WithCanonicalizer(func(p string) (string, error) { return strings.ToLower(p), nil }),
		WithLoader(LoaderFunc(func(_ context.Context, path string) (volume.Source, error) {
			return testutil.Ramp(path, dims, pixel.Byte), nil
		})),
	)

	a, err := e.Load(t.Context(), "VOL", true, true)
	require.NoError(t, err)
	b, err := e.Load(t.Context(), "vol", true, true)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"vol"}, e.CachedPaths())
}

func constSource(dims volume.Point3, v uint8, scale float32) *testutil.Source {
	desc := volume.Descriptor{SampleName: "const", Dims: dims, PixelType: pixel.Byte, ScaleFactor: scale}
	slices := make([]pixel.Buffer, dims.Z)
	for z := range slices {
		buf := make(pixel.ByteBuffer, dims.X*dims.Y)
		for i := range buf {
			buf[i] = v
		}
		slices[z] = buf
	}
	return testutil.NewSource(desc, slices)
}

func TestAsCachedImageAppliesScaleFactor(t *testing.T) {
	e := newEnv(t)
	src := constSource(volume.Point3{X: 4, Y: 4, Z: 4}, 10, 2)

	img, err := e.Open(src).AsCachedImage(t.Context(), pixel.Float)
	require.NoError(t, err)

	vol, err := img.Volume(pixel.Float)
	require.NoError(t, err)
	require.Equal(t, 64, vol.Len())
	for _, v := range vol.(pixel.FloatBuffer) {
		assert.InDelta(t, 20.0, v, 1e-6)
	}
}

func TestAsCachedImageUnscaled(t *testing.T) {
	e := newEnv(t)
	src := constSource(volume.Point3{X: 4, Y: 4, Z: 3}, 5, 0)

	img, err := e.Open(src).AsCachedImage(t.Context(), pixel.Float)
	require.NoError(t, err)

	for z := range 3 {
		s, err := img.Slice(t.Context(), z, pixel.Float)
		require.NoError(t, err)
		assert.Equal(t, pixel.FloatBuffer{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}, s)
	}
}

func TestSignedMaxValueOverride(t *testing.T) {
	e := newEnv(t)
	desc := volume.Descriptor{
		SampleName: "ct12",
		Dims:       volume.Point3{X: 2, Y: 2, Z: 2},
		PixelType:  pixel.Short,
		Signed:     true,
		MaxValues:  map[pixel.Type]int64{pixel.Short: 4095},
	}
	src := testutil.NewSource(desc, []pixel.Buffer{
		pixel.ShortBuffer{0, 2048, 4095, 100},
		pixel.ShortBuffer{2048, 2048, 2048, 2048},
	})
	want := pixel.FloatBuffer{-2048, 0, 2047, -1948}

	r := e.Open(src)
	s, err := r.Slice(t.Context(), 0, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, want, s)

	img, err := r.AsCachedImage(t.Context(), pixel.Float)
	require.NoError(t, err)
	s, err = img.Slice(t.Context(), 0, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, want, s)

	native, err := e.Materialize(t.Context(), src, pixel.Short)
	require.NoError(t, err)
	s, err = native.Slice(t.Context(), 1, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, pixel.FloatBuffer{0, 0, 0, 0}, s)

	desc.MaxValues = nil
	s, err = e.Open(testutil.NewSource(desc, []pixel.Buffer{
		pixel.ShortBuffer{0, 2048, 4095, 100},
		pixel.ShortBuffer{2048, 2048, 2048, 2048},
	})).Slice(t.Context(), 0, pixel.Float)
	require.NoError(t, err)
	assert.Equal(t, pixel.FloatBuffer{-32768, -30720, -28673, -32668}, s)
}
