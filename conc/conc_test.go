package conc

import (
	"context"
	"testing"
	"time"

	"github.com/sandia-minimega/arpc/rpcerr"
)

func TestFlagSetResetIsSet(t *testing.T) {
	f := NewFlag()
	if f.IsSet() {
		t.Fatal("new flag should be unset")
	}
	f.Set()
	if !f.IsSet() {
		t.Fatal("flag should be set")
	}
	if !f.IsSet() {
		t.Fatal("IsSet should not consume the flag")
	}
	f.Reset()
	if f.IsSet() {
		t.Fatal("flag should be unset after reset")
	}
}

func TestMutexLockUnlock(t *testing.T) {
	m := NewMutex()
	ctx := context.Background()
	if err := m.Lock(ctx); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := m.TryLock(); !rpcerr.IsTryAgain(err) {
		t.Fatalf("try-lock on held mutex = %v, want try-again", err)
	}
	m.Unlock()
	if err := m.TryLock(); err != nil {
		t.Fatalf("try-lock on free mutex: %v", err)
	}
}

func TestMutexUnlockOfUnlockedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unlocking an unlocked mutex")
		}
	}()
	NewMutex().Unlock()
}

func TestMutexLockRespectsCancellation(t *testing.T) {
	m := NewMutex()
	if err := m.Lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Lock(ctx); !rpcerr.IsCancelled(err) {
		t.Fatalf("lock on cancelled ctx = %v, want cancelled", err)
	}
}

func TestSemaphoreCapsConcurrency(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if err := s.TryAcquire(); !rpcerr.IsTryAgain(err) {
		t.Fatalf("try-acquire over capacity = %v, want try-again", err)
	}
	s.Release()
	if err := s.TryAcquire(); err != nil {
		t.Fatalf("try-acquire after release: %v", err)
	}
}

func TestBoundedQueuePutGet(t *testing.T) {
	q := NewBoundedQueue[int](2)
	ctx := context.Background()
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := q.Put(ctx, 2); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if err := q.MaybePut(3); !rpcerr.IsTryAgain(err) {
		t.Fatalf("maybe-put over capacity = %v, want try-again", err)
	}

	v, err := q.Get(ctx)
	if err != nil || v != 1 {
		t.Fatalf("get = %d, %v, want 1, nil", v, err)
	}
	if err := q.MaybePut(3); err != nil {
		t.Fatalf("maybe-put after drain: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestBoundedQueueMaybeGetEmpty(t *testing.T) {
	q := NewBoundedQueue[int](1)
	if _, err := q.MaybeGet(); !rpcerr.IsTryAgain(err) {
		t.Fatalf("maybe-get on empty queue = %v, want try-again", err)
	}
}

func TestBoundedQueuePutBlocksUntilRoom(t *testing.T) {
	q := NewBoundedQueue[int](1)
	ctx := context.Background()
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	done := make(chan struct{})
	go func() {
		q.Put(ctx, 2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("put on full queue should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := q.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("put should have unblocked after room was made")
	}
}

func TestThreadCancelStopsFunction(t *testing.T) {
	observed := make(chan error, 1)
	th := NewThread(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		observed <- ctx.Err()
	})
	th.Cancel()
	th.Join()
	select {
	case err := <-observed:
		if err != context.Canceled {
			t.Fatalf("ctx err = %v, want Canceled", err)
		}
	default:
		t.Fatal("thread function never observed cancellation")
	}
}

func TestDaemonThreadOutlivesParent(t *testing.T) {
	root := context.Background()
	parent, cancelParent := context.WithCancel(context.Background())

	ran := make(chan struct{})
	th := NewDaemonThread(root, func(ctx context.Context) {
		<-parent.Done() // daemon observes parent's own lifecycle if it wants, but isn't tied to it
		close(ran)
	})
	cancelParent()
	<-ran
	th.Cancel()
	th.Join()
}

func TestThreadGroupCancelAllJoinAll(t *testing.T) {
	var g ThreadGroup
	n := 3
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		g.Spawn(context.Background(), func(ctx context.Context) {
			started <- struct{}{}
			<-ctx.Done()
		})
	}
	for i := 0; i < n; i++ {
		<-started
	}
	g.CancelAll()
	done := make(chan struct{})
	go func() {
		g.JoinAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("JoinAll did not return after CancelAll")
	}
}
