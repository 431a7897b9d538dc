// Package pool implements spec §4.6/§2's worker pool: a fixed set of
// goroutines executing request handlers off the reactor thread, plus
// DaemonTask, this module's home for long-lived background tasks that
// must outlive any single request (the receiver loop, the timeout
// sweep) by attaching to the pool's root context instead of whatever
// context happened to spawn them (SPEC_FULL's daemon-thread supplement
// to spec §4.6's "thread wraps OS thread... daemon_thread attaches the
// child to the root context instead of the current one").
//
// Grounded on minimega's own `ron` server dispatching each client
// command on its own goroutine off the accept loop (src/ron/server.go's
// clientHandler), generalized from an unbounded goroutine-per-request
// fan-out to a fixed worker count plus a bounded backlog queue, matching
// spec §4.9's "number of worker threads, optional cap on request queue"
// configuration knobs.
package pool

import (
	"context"

	"github.com/sandia-minimega/arpc/conc"
	"github.com/sandia-minimega/arpc/internal/rlog"
	"github.com/sandia-minimega/arpc/reactor"
)

type job struct {
	ctx context.Context
	fn  func(ctx context.Context)
}

// Pool is a fixed-size worker pool. Workers run under a context derived
// from root, so stopping root drains and stops every worker; submitted
// jobs run under whatever context the caller passes to Submit, which is
// independent of the workers' own lifecycle context.
type Pool struct {
	root  context.Context
	queue *conc.BoundedQueue[job]
	group conc.ThreadGroup
}

// New starts a pool of workers goroutines, backed by a backlog queue of
// the given capacity. A capacity below 1 is raised to 1, so one job can
// always wait in the backlog while every worker is busy.
func New(root context.Context, workers, queueCapacity int) *Pool {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	p := &Pool{root: root, queue: conc.NewBoundedQueue[job](queueCapacity)}
	for i := 0; i < workers; i++ {
		p.group.Spawn(root, p.runWorker)
	}
	return p
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		j, err := p.queue.Get(ctx)
		if err != nil {
			return
		}
		p.execute(j)
	}
}

func (p *Pool) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			rlog.Error("pool: handler panicked: %v", r)
		}
	}()
	j.fn(j.ctx)
}

// Submit enqueues fn to run under ctx on the next free worker,
// fire-and-forget (spec §4.9 work layer: "the pool submission is
// fire-and-forget, completion is surfaced via a promise observed by the
// reactor"). It blocks only long enough to find backlog room, or until
// ctx is done.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	return p.queue.Put(ctx, job{ctx: ctx, fn: fn})
}

// Stop cancels every worker's context and waits for them to drain.
func (p *Pool) Stop() {
	p.group.CancelAll()
	p.group.JoinAll()
}

// SubmitFuture wraps Submit with a typed result, for callers that need
// the reactor to observe completion through a reactor.Select alongside
// other awaitables (spec §4.9 "completion is surfaced via a promise
// observed by the reactor").
func SubmitFuture[T any](p *Pool, ctx context.Context, fn func(ctx context.Context) (T, error)) (*reactor.Future[T], error) {
	fut, resolve := reactor.NewFuture[T]()
	err := p.Submit(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		resolve(v, err)
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}

// DaemonTask spawns fn on its own goroutine attached to the pool's root
// context rather than any per-request context, so a client's receiver
// loop or a server's timeout sweep is never torn down by an individual
// request's cancellation or deadline.
func (p *Pool) DaemonTask(fn func(ctx context.Context)) *conc.Thread {
	return conc.NewDaemonThread(p.root, fn)
}
