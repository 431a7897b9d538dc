package conc

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/sandia-minimega/arpc/reactor"
	"github.com/sandia-minimega/arpc/rpcerr"
)

// Semaphore is spec §4.6's "queue of void with a capacity": acquire
// blocks while count permits are held, release returns one. It wraps
// golang.org/x/sync/semaphore.Weighted with weight 1 per permit rather
// than hand-rolling a counting channel, giving the server acceptor's
// connection-count cap a weighted, context-aware acquire. The pool does
// not use it; its worker count is fixed at New.
type Semaphore struct {
	w   *semaphore.Weighted
	cap int64
}

// NewSemaphore returns a semaphore with the given permit capacity.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{w: semaphore.NewWeighted(int64(capacity)), cap: int64(capacity)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return classifyCtxErr(ctx)
	}
	return nil
}

// TryAcquire takes a permit without blocking, or fails with
// rpcerr.TryAgain if none are free.
func (s *Semaphore) TryAcquire() error {
	if s.w.TryAcquire(1) {
		return nil
	}
	return rpcerr.TryAgain(nil)
}

// Release returns a permit.
func (s *Semaphore) Release() { s.w.Release(1) }

// Await returns an awaitable whose readiness, like Mutex's, is acquiring
// a permit: there is no non-consuming peek over a weighted semaphore's
// internal waiter queue, so observing readiness takes the permit.
func (s *Semaphore) Await() reactor.Awaitable { return semAwaitable{s} }

type semAwaitable struct{ s *Semaphore }

func (a semAwaitable) Channel() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_ = a.s.w.Acquire(context.Background(), 1)
		close(ch)
	}()
	return ch
}
