package conc

import (
	"context"

	"github.com/sandia-minimega/arpc/reactor"
	"github.com/sandia-minimega/arpc/rpcerr"
)

// Mutex is spec §4.6's pipe-backed mutex: a single token living in a
// one-slot channel. Lock reads the token, Unlock writes it back. This is
// the direct Go analogue of "token in a one-slot pipe" — a buffered
// channel of capacity 1 pre-loaded with one value is the idiomatic Go
// mutex-via-channel.
type Mutex struct {
	slot chan struct{}
}

// NewMutex returns an unlocked mutex.
func NewMutex() *Mutex {
	m := &Mutex{slot: make(chan struct{}, 1)}
	m.slot <- struct{}{}
	return m
}

// Lock blocks until the token is acquired or ctx is done.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case <-m.slot:
		return nil
	case <-ctx.Done():
		return classifyCtxErr(ctx)
	}
}

// Unlock returns the token. Unlocking an already-unlocked Mutex panics,
// the same contract sync.Mutex has.
func (m *Mutex) Unlock() {
	select {
	case m.slot <- struct{}{}:
	default:
		panic("conc: unlock of unlocked Mutex")
	}
}

// TryLock attempts to acquire the token without blocking; spec §4.6
// "try/maybe variants surface try-again".
func (m *Mutex) TryLock() error {
	select {
	case <-m.slot:
		return nil
	default:
		return rpcerr.TryAgain(nil)
	}
}

// Await returns an awaitable for composing a lock attempt inside
// reactor.Select alongside other awaitables. Observing this awaitable's
// readiness acquires the token, exactly as Lock does — there is no
// non-consuming peek for a token-in-a-pipe mutex, only acquisition.
func (m *Mutex) Await() reactor.Awaitable { return mutexAwaitable{m} }

type mutexAwaitable struct{ m *Mutex }

func (a mutexAwaitable) Channel() <-chan struct{} { return a.m.slot }

func classifyCtxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return rpcerr.DeadlineExceeded(ctx.Err())
	}
	return rpcerr.Cancelled(ctx.Err())
}
