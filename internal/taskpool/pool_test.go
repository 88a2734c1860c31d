package taskpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolResolvesTasks(t *testing.T) {
	p := NewPool(4)
	defer p.Shutdown(false)

	futures := make([]*Future[int], 20)
	for i := range futures {
		futures[i] = Submit(p, t.Context(), func(context.Context) (int, error) {
			return i * i, nil
		})
	}

	for i, f := range futures {
		v, err := f.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, i*i, v)
	}
}

func TestFutureResolvesOnce(t *testing.T) {
	var runs atomic.Int32
	p := NewPool(1)
	defer p.Shutdown(false)

	f := Submit(p, t.Context(), func(context.Context) (string, error) {
		runs.Add(1)
		return "slice", nil
	})

	for range 3 {
		v, err := f.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "slice", v)
	}
	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, f.IsDone())
}

func TestFutureCarriesError(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown(false)

	boom := errors.New("boom")
	f := Submit(p, t.Context(), func(context.Context) (int, error) { return 0, boom })

	_, err := f.Wait(t.Context())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, f.Err(), boom)

	_, err = f.Wait(t.Context())
	assert.ErrorIs(t, err, boom)
}

func TestFuturePanicBecomesError(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown(false)

	f := Submit(p, t.Context(), func(context.Context) (int, error) { panic("bad slice") })

	_, err := f.Wait(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad slice")

	// The worker survives.
	g := Submit(p, t.Context(), func(context.Context) (int, error) { return 1, nil })
	v, err := g.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureWaitContext(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown(false)
	}()

	f := Submit(p, t.Context(), func(context.Context) (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, f.Err())
	assert.False(t, f.IsDone())
}

func TestSubmitCancelledContextSkipsTask(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown(false)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var ran atomic.Bool
	f := Submit(p, ctx, func(context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})

	_, err := f.Wait(t.Context())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestShutdownCancelsPendingKeepsInFlight(t *testing.T) {
	p := NewPool(2)

	gate := make(chan struct{})
	started := make(chan struct{}, 2)

	inFlight := make([]*Future[int], 2)
	for i := range inFlight {
		inFlight[i] = Submit(p, t.Context(), func(context.Context) (int, error) {
			started <- struct{}{}
			<-gate
			return 100 + i, nil
		})
	}
	<-started
	<-started

	var pendingRuns atomic.Int32
	pending := make([]*Future[int], 5)
	for i := range pending {
		pending[i] = Submit(p, t.Context(), func(context.Context) (int, error) {
			pendingRuns.Add(1)
			return i, nil
		})
	}
	assert.Equal(t, 5, p.Pending())
	assert.Equal(t, 2, p.Running())

	stopped := make(chan struct{})
	go func() {
		p.Shutdown(true)
		close(stopped)
	}()

	for _, f := range pending {
		_, err := f.Wait(t.Context())
		assert.ErrorIs(t, err, ErrCancelled)
	}

	close(gate)
	<-stopped

	for i, f := range inFlight {
		v, err := f.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 100+i, v)
	}
	assert.Equal(t, int32(0), pendingRuns.Load())
}

func TestShutdownDrainsWithoutCancel(t *testing.T) {
	p := NewPool(1)

	futures := make([]*Future[int], 10)
	for i := range futures {
		futures[i] = Submit(p, t.Context(), func(context.Context) (int, error) { return i, nil })
	}
	p.Shutdown(false)

	for i, f := range futures {
		v, err := f.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := NewPool(1)
	p.Shutdown(true)
	assert.True(t, p.Closed())

	f := Submit(p, t.Context(), func(context.Context) (int, error) { return 1, nil })
	assert.True(t, f.IsDone())
	assert.ErrorIs(t, f.Err(), ErrCancelled)
}

func TestResolved(t *testing.T) {
	f := Resolved(3, nil)
	v, err := f.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
