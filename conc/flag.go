// Package conc implements spec §4.6's concurrency primitives: flag,
// mutex, semaphore, bounded queue, and thread/daemon_thread, each
// reactor-aware — every blocking operation exposes a reactor.Awaitable
// so it can be composed inside a reactor.Select the way the original's
// pipe-backed primitives do with the fd-wait syscall.
//
// Grounded on meshage's own use of buffered/unbuffered channels and
// sync.Mutex-guarded maps (src/meshage/node.go's clientLock/meshLock,
// messagePump) for the mutex/queue shape, generalized to expose an
// awaitable instead of blocking the calling goroutine outright.
package conc

import "github.com/sandia-minimega/arpc/reactor"

// Flag is a binary latch: set() writes one byte iff not already set,
// reset() drains it, wait_set() awaits readability (spec §4.6 "flag").
// It is backed by a buffered channel of capacity 1, the Go analogue of
// the original's one-byte pipe.
type Flag struct {
	ch chan struct{}
}

// NewFlag returns an unset flag.
func NewFlag() *Flag { return &Flag{ch: make(chan struct{}, 1)} }

// Set raises the flag. Setting an already-set flag is a no-op.
func (f *Flag) Set() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

// Reset lowers the flag. Resetting an already-clear flag is a no-op.
func (f *Flag) Reset() {
	select {
	case <-f.ch:
	default:
	}
}

// IsSet reports the flag's state without blocking or consuming it.
func (f *Flag) IsSet() bool {
	select {
	case v := <-f.ch:
		f.ch <- v // put it back; this peek must not consume the flag
		return true
	default:
		return false
	}
}

// Await returns an awaitable that becomes ready once the flag is set.
// Unlike IsSet, observing readiness through Await does consume the
// flag's pending value the way reading the backing pipe would — callers
// that need to check repeatedly should Set again after acting on it.
func (f *Flag) Await() reactor.Awaitable {
	return flagAwaitable{f}
}

type flagAwaitable struct{ f *Flag }

func (a flagAwaitable) Channel() <-chan struct{} { return a.f.ch }
