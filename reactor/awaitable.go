// Package reactor implements spec §4.5's awaitable/select abstraction.
// Go's runtime scheduler and channels already provide the cooperative
// event loop the original reactor hand-rolls over an fd-wait syscall, so
// this package expresses "awaitable" as anything exposing a readiness
// channel and "select" as a dynamic fan-in over those channels built with
// reflect.Select — the same technique golang.org/x/sync's errgroup-style
// fan-in helpers use for a variable number of goroutines, generalized
// here to a variable number of heterogeneous awaitables (spec §4.5
// "select(a1, a2, …) takes any number of awaitables").
package reactor

// Awaitable is a suspended computation whose readiness is observable by
// closing (or sending on) a channel. Timer, Poller, and Future all
// implement it; so does anything else a caller wires up (e.g. a
// goroutine performing a blocking connection read that resolves a
// Future on completion).
type Awaitable interface {
	Channel() <-chan struct{}
}

// Future is a one-shot awaitable carrying a typed result, the Go shape
// of spec §4.6's future<T>/promise<T>: a shared state with a result
// holder and a set-flag. NewFuture returns the future and the resolve
// function a producer calls exactly once.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns an unresolved future and its resolve function.
// Calling resolve more than once panics, matching promise<T>'s
// single-assignment discipline.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	resolved := false
	resolve := func(v T, err error) {
		if resolved {
			panic("reactor: future resolved twice")
		}
		resolved = true
		f.val = v
		f.err = err
		close(f.done)
	}
	return f, resolve
}

func (f *Future[T]) Channel() <-chan struct{} { return f.done }

// Ready reports whether the future has been resolved, without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves and returns its value and
// error. Callers that want to respect a context's cancellation/deadline
// should use Select instead of calling Result directly.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then composes a continuation that runs once f resolves, on whatever
// goroutine observes the event — matching spec §4.5 "continuations
// registered via .then run on the thread that observed the event". It
// returns a new Future chaining f's result through fn.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next, resolve := NewFuture[U]()
	go func() {
		v, err := f.Result()
		resolve(fn(v, err))
	}()
	return next
}
