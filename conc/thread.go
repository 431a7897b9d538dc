package conc

import (
	"context"
	"sync"

	"github.com/sandia-minimega/arpc/internal/rlog"
)

// Thread is spec §4.6's "thread" primitive: it wraps a goroutine and
// installs a child context for cancellation propagation, so stopping
// the thread cancels whatever the function is blocked on. NewThread
// derives the child from parent; NewDaemonThread derives it from root
// instead, so a daemon survives cancellation of whatever spawned it —
// the receiver loop and timeout sweep must outlive any single request.
type Thread struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewThread spawns fn on its own goroutine under a context derived from
// parent. Cancelling the returned Thread (or parent itself) cancels the
// context fn observes; Join blocks until fn returns.
func NewThread(parent context.Context, fn func(ctx context.Context)) *Thread {
	ctx, cancel := context.WithCancel(parent)
	t := &Thread{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				rlog.Error("conc: thread panicked: %v", r)
			}
		}()
		fn(ctx)
	}()
	return t
}

// NewDaemonThread spawns fn under a context derived from root rather
// than the caller's own context, matching spec §4.6's daemon_thread:
// cancelling whatever context led to spawning it does not stop the
// daemon, only cancelling root (or the daemon itself) does.
func NewDaemonThread(root context.Context, fn func(ctx context.Context)) *Thread {
	return NewThread(root, fn)
}

// Cancel stops the thread's context; fn observes it via ctx.Done().
func (t *Thread) Cancel() { t.cancel() }

// Join blocks until the thread's function returns.
func (t *Thread) Join() { <-t.done }

// Done returns a channel closed once the thread's function returns,
// composing inside a reactor.Select alongside other awaitables.
func (t *Thread) Done() <-chan struct{} { return t.done }

// ThreadGroup tracks a set of threads spawned together so callers can
// cancel and join all of them at once — grounded on meshage/node.go's
// pattern of one WaitGroup per family of long-lived goroutines
// (receiver, heartbeat, degree) shut down together on Stop.
type ThreadGroup struct {
	mu      sync.Mutex
	threads []*Thread
}

// Spawn starts fn as a new thread under parent and adds it to the group.
func (g *ThreadGroup) Spawn(parent context.Context, fn func(ctx context.Context)) *Thread {
	t := NewThread(parent, fn)
	g.mu.Lock()
	g.threads = append(g.threads, t)
	g.mu.Unlock()
	return t
}

// CancelAll cancels every thread in the group.
func (g *ThreadGroup) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.threads {
		t.Cancel()
	}
}

// JoinAll blocks until every thread in the group has returned.
func (g *ThreadGroup) JoinAll() {
	g.mu.Lock()
	threads := append([]*Thread{}, g.threads...)
	g.mu.Unlock()
	for _, t := range threads {
		t.Join()
	}
}
