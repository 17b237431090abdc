package walker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Future is a single-assignment result cell, resolved exactly once by the
// goroutine a Pool spawned for it.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Result blocks until the future resolves or ctx is done, whichever comes
// first. A ctx cancellation does not stop the underlying goroutine — per
// spec, cancellation is not first-class here, so the work simply keeps
// running in the background and its result is discarded by this caller.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// Pool is a bounded-parallelism executor for network-bound fetch work.
// There is no `bump` priority hint here: golang.org/x/sync/semaphore's
// Weighted has no reordering hook for waiters, so the scheduler simply
// tolerates its absence, exactly as the FIFO-degradation spec allows.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool that runs at most parallelism submissions
// concurrently.
func NewPool(parallelism int) *Pool {
	if parallelism <= 0 {
		parallelism = 1
	}

	return &Pool{sem: semaphore.NewWeighted(int64(parallelism))}
}

// Submit runs fn in a new goroutine once a slot is free, returning a Future
// for its result. fn runs with a background context: submissions outlive
// any single Drain call's context, since the memoization maps intentionally
// persist across clear().
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	fut := newFuture[T]()

	go func() {
		bg := context.Background()

		if err := p.sem.Acquire(bg, 1); err != nil {
			var zero T

			fut.resolve(zero, err)

			return
		}
		defer p.sem.Release(1)

		val, err := fn(bg)
		fut.resolve(val, err)
	}()

	return fut
}
