// Package resource implements the Controller that governs the shared budgets
// of a slice-access runtime.
//
// The Controller manages three resource types:
//
//   - Readers: a bounded admission gate for blocking slice reads
//   - Memory: track and limit the bytes held by materialized images and cached blocks
//   - IO: rate-limit bytes pulled from storage
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                        Controller                           │
//	├─────────────────┬─────────────────┬─────────────────────────┤
//	│  Reader Gate    │  Memory Limit   │  IO Rate Limiter        │
//	│  (semaphore)    │  (semaphore)    │  (token bucket)         │
//	├─────────────────┼─────────────────┼─────────────────────────┤
//	│  TryAcquire-    │  TryAcquire-    │  AcquireIO              │
//	│  Reader         │  Memory         │  RateLimitedReader      │
//	│  AcquireReader  │  AcquireMemory  │  RateLimitedWriter      │
//	│  ReleaseReader  │  ReleaseMemory  │                         │
//	└─────────────────┴─────────────────┴─────────────────────────┘
//
// # Reader Admission
//
// At most MaxReaders holders exist at any time. A failed TryAcquireReader leaves
// the gate unchanged. AcquireReader parks the caller on the semaphore's wait
// queue until a slot frees up or ctx is done; waiters are served in arrival order.
//
//	rc := resource.NewController(resource.Config{MaxReaders: 2})
//
//	if err := rc.AcquireReader(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseReader()
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and an atomic counter
// for usage. TryAcquireMemory fails fast, AcquireMemory blocks until enough
// memory is released or ctx is done.
//
// # IO Rate Limiting
//
// A token bucket limits bytes per second. Requests larger than one second of
// budget are split into burst-sized waits.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully: they become no-ops.
package resource
