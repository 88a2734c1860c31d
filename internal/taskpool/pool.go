// Package taskpool runs submitted tasks on a fixed set of goroutines and hands
// back single-assignment futures for their results.
package taskpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrCancelled is the result of a task that was discarded before it started.
var ErrCancelled = errors.New("task cancelled")

type job struct {
	run    func()
	cancel func()
}

// Pool manages a fixed pool of goroutines fed from an unbounded FIFO queue.
// Submit never blocks.
type Pool struct {
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	running int
	closed  bool

	wg sync.WaitGroup
}

// NewPool creates a pool with workers goroutines.
// If workers <= 0, runtime.GOMAXPROCS(0) is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{workers: workers}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = job{}
		p.queue = p.queue[1:]
		p.running++
		p.mu.Unlock()

		j.run()

		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

func (p *Pool) enqueue(j job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.queue = append(p.queue, j)
	p.cond.Signal()
	return true
}

// Shutdown stops accepting work and waits for in-flight tasks to finish.
// With cancelPending, queued tasks are discarded and their futures fail with
// ErrCancelled; otherwise the queue is drained first.
func (p *Pool) Shutdown(cancelPending bool) {
	p.mu.Lock()
	p.closed = true
	var dropped []job
	if cancelPending {
		dropped = p.queue
		p.queue = nil
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, j := range dropped {
		j.cancel()
	}

	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Pending returns the number of queued tasks that have not started.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Submit queues task on p and returns its future. If ctx is done by the time a
// worker picks the task up, the future fails with ctx.Err() without running it.
// Submitting to a closed pool yields an already cancelled future.
func Submit[T any](p *Pool, ctx context.Context, task func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()

	j := job{
		run: func() {
			if err := ctx.Err(); err != nil {
				var zero T
				f.resolve(zero, err)
				return
			}
			f.resolve(call(ctx, task))
		},
		cancel: func() {
			var zero T
			f.resolve(zero, ErrCancelled)
		},
	}

	if !p.enqueue(j) {
		j.cancel()
	}
	return f
}

func call[T any](ctx context.Context, task func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("taskpool: task panicked: %v", r)
		}
	}()
	return task(ctx)
}
