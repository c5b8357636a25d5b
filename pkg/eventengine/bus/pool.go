package bus

import (
	"context"
	"sync"
)

// task is the unit of work run by the worker pool.
type task func(ctx context.Context)

// workerPool is a fixed-size goroutine pool with a bounded input queue.
// Stop signals the workers and returns immediately; queued jobs are abandoned
// and running jobs finish on their own.
type workerPool[T any] struct {
	queue    chan T
	process  func(ctx context.Context, t T)
	quit     chan struct{}
	stopOnce sync.Once
}

// newWorkerPool creates and starts a pool with n goroutines and queue capacity size.
func newWorkerPool[T any](ctx context.Context, n, size int, fn func(context.Context, T)) *workerPool[T] {
	p := &workerPool[T]{
		queue:   make(chan T, size),
		process: fn,
		quit:    make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		go p.run(ctx)
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		select {
		case t := <-p.queue:
			p.process(ctx, t)
		case <-p.quit:
			return
		}
	}
}

// Submit enqueues a job without blocking (returns false if full or stopped).
func (p *workerPool[T]) Submit(t T) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Stop tells the workers to exit without draining the queue.
func (p *workerPool[T]) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}

// QueueLen returns how many jobs are currently queued.
func (p *workerPool[T]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *workerPool[T]) QueueCap() int {
	return cap(p.queue)
}

func runTask(ctx context.Context, t task) {
	t(ctx)
}
