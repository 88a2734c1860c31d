package resource

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Readers(t *testing.T) {
	c := NewController(Config{MaxReaders: 2})
	assert.Equal(t, 2, c.MaxReaders())
	assert.Equal(t, 2, c.AvailableReaders())

	require.NoError(t, c.AcquireReader(t.Context()))
	assert.True(t, c.TryAcquireReader())
	assert.Equal(t, 0, c.AvailableReaders())

	// A failed try leaves the gate unchanged.
	assert.False(t, c.TryAcquireReader())
	assert.Equal(t, 0, c.AvailableReaders())

	c.ReleaseReader()
	assert.Equal(t, 1, c.AvailableReaders())
	assert.True(t, c.TryAcquireReader())
}

func TestController_DefaultReaders(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, 1, c.MaxReaders())
}

func TestController_AcquireReaderBlocksUntilRelease(t *testing.T) {
	c := NewController(Config{MaxReaders: 1})
	require.True(t, c.TryAcquireReader())

	acquired := make(chan error, 1)
	go func() { acquired <- c.AcquireReader(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("acquired while the only slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	c.ReleaseReader()
	require.NoError(t, <-acquired)
	assert.Equal(t, 0, c.AvailableReaders())
}

func TestController_AcquireReaderCancelled(t *testing.T) {
	c := NewController(Config{MaxReaders: 1})
	require.True(t, c.TryAcquireReader())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.AcquireReader(ctx), context.DeadlineExceeded)
	assert.Equal(t, 0, c.AvailableReaders())

	c.ReleaseReader()
	assert.Equal(t, 1, c.AvailableReaders())
}

func TestController_SingleReaderSerializes(t *testing.T) {
	c := NewController(Config{MaxReaders: 1})

	var (
		holders atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if err := c.AcquireReader(context.Background()); err != nil {
					t.Error(err)
					return
				}
				n := holders.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				holders.Add(-1)
				c.ReleaseReader()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 1, c.AvailableReaders())
}

func TestController_MemoryBlocking(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(context.Background(), 100))
	assert.Equal(t, int64(100), c.MemoryUsage())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireMemory(ctx, 1), context.DeadlineExceeded)

	assert.False(t, c.TryAcquireMemory(1))

	c.ReleaseMemory(10)
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.True(t, c.TryAcquireMemory(5))
	assert.Equal(t, int64(95), c.MemoryUsage())
}

func TestController_MemoryAboveLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})
	assert.ErrorIs(t, c.AcquireMemory(context.Background(), 11), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(context.Background(), 1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	require.NoError(t, c.AcquireIO(context.Background(), 100))
	assert.True(t, c.TryAcquireIO(100))

	unlimited := NewController(Config{})
	require.NoError(t, unlimited.AcquireIO(context.Background(), 1<<30))
}

func TestController_IOAboveBurstWaits(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Two full bursts cannot be served within 50ms.
	assert.Error(t, c.AcquireIO(ctx, 2000))
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireReader())
	assert.NoError(t, c.AcquireReader(context.Background()))
	c.ReleaseReader()
	assert.Equal(t, 0, c.AvailableReaders())

	assert.NoError(t, c.AcquireMemory(context.Background(), 100))
	assert.True(t, c.TryAcquireMemory(100))
	c.ReleaseMemory(100)
	assert.Equal(t, int64(0), c.MemoryUsage())

	assert.NoError(t, c.AcquireIO(context.Background(), 100))
	assert.True(t, c.TryAcquireIO(100))
}

func TestRateLimitedWriter(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 10000})

	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 10000})

	r := NewRateLimitedReader(context.Background(), bytes.NewReader([]byte("hello world")), c)

	buf := make([]byte, 5)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestRateLimitedReader_ContextCanceled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRateLimitedReader(ctx, bytes.NewReader([]byte("hello world")), c)

	_, err := r.Read(make([]byte, 1000))
	assert.ErrorIs(t, err, context.Canceled)
}
