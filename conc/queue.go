package conc

import (
	"context"
	"sync"

	"github.com/sandia-minimega/arpc/reactor"
	"github.com/sandia-minimega/arpc/rpcerr"
)

// BoundedQueue is spec §4.6's bounded queue<T>: a fixed-capacity ring
// buffer guarded by a mutex, with can_put/can_get flags so producers and
// consumers can wait inside a reactor.Select rather than blocking
// outright. Grounded on meshage/node.go's bounded inbound message
// channel pattern, generalized from chan T (which can't expose a
// non-blocking maybe_put/maybe_get pair or a selectable can_put flag on
// the full side) to an explicit ring buffer plus condition signaling.
type BoundedQueue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	canPut *Flag
	canGet *Flag
}

// NewBoundedQueue returns an empty queue with the given capacity.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	q := &BoundedQueue[T]{
		buf:    make([]T, capacity),
		canPut: NewFlag(),
		canGet: NewFlag(),
	}
	q.canPut.Set()
	return q
}

func (q *BoundedQueue[T]) cap() int { return len(q.buf) }

// Put blocks until there is room, or ctx is done.
func (q *BoundedQueue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if q.count < q.cap() {
			q.push(v)
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()
		select {
		case <-q.canPut.Await().Channel():
		case <-ctx.Done():
			return classifyCtxErr(ctx)
		}
	}
}

// Get blocks until an item is available, or ctx is done.
func (q *BoundedQueue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			v := q.pop()
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()
		var zero T
		select {
		case <-q.canGet.Await().Channel():
		case <-ctx.Done():
			return zero, classifyCtxErr(ctx)
		}
	}
}

// MaybePut attempts a non-blocking put, failing with rpcerr.TryAgain if
// the queue is full.
func (q *BoundedQueue[T]) MaybePut(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == q.cap() {
		return rpcerr.TryAgain(nil)
	}
	q.push(v)
	return nil
}

// MaybeGet attempts a non-blocking get, failing with rpcerr.TryAgain if
// the queue is empty.
func (q *BoundedQueue[T]) MaybeGet() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.count == 0 {
		return zero, rpcerr.TryAgain(nil)
	}
	return q.pop(), nil
}

// push/pop assume q.mu is held; they also re-derive the flags so a
// waiter blocked in Put/Get (or composed inside a reactor.Select via
// CanPut/CanGet) observes the new state.
func (q *BoundedQueue[T]) push(v T) {
	idx := (q.head + q.count) % q.cap()
	q.buf[idx] = v
	q.count++
	q.canGet.Set()
	if q.count == q.cap() {
		q.canPut.Reset()
	} else {
		q.canPut.Set()
	}
}

func (q *BoundedQueue[T]) pop() T {
	v := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.cap()
	q.count--
	q.canPut.Set()
	if q.count == 0 {
		q.canGet.Reset()
	} else {
		q.canGet.Set()
	}
	return v
}

// CanPut returns an awaitable for composing a put attempt inside a
// reactor.Select alongside other events.
func (q *BoundedQueue[T]) CanPut() reactor.Awaitable { return q.canPut.Await() }

// CanGet returns an awaitable for composing a get attempt inside a
// reactor.Select alongside other events.
func (q *BoundedQueue[T]) CanGet() reactor.Awaitable { return q.canGet.Await() }

// Len reports the number of items currently queued.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
