package reactor

import (
	"context"
	"reflect"
	"time"

	"github.com/sandia-minimega/arpc/rpcerr"
)

// Select blocks until at least one of aws is ready, or until ctx is
// cancelled or its deadline fires (spec §4.5: "Selection also always
// watches the current context's cancellation flag and deadline"). It
// returns the indices, in input order, of every awaitable that was ready
// at the moment Select returned — "if several awaitables are ready in
// the same poll, all ready ones are reported in that one return".
//
// ctx.Err() distinguishes the two context-triggered outcomes: a
// DeadlineExceeded error maps to rpcerr.DeadlineExceeded, anything else
// (including context.Canceled) maps to rpcerr.Cancelled. The deadline
// reported by ctx.Deadline() is also watched with a timer of its own, so
// a context whose Done channel does not close on expiry (such as
// rpccontext.Context) still ends the wait with rpcerr.DeadlineExceeded.
func Select(ctx context.Context, aws ...Awaitable) ([]int, error) {
	chans := make([]<-chan struct{}, len(aws))
	cases := make([]reflect.SelectCase, 0, len(aws)+2)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for i, a := range aws {
		ch := a.Channel()
		chans[i] = ch
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	deadlineCase := -1
	if dl, ok := ctx.Deadline(); ok {
		timer := time.NewTimer(time.Until(dl))
		defer timer.Stop()
		deadlineCase = len(cases)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
	}

	chosen, _, _ := reflect.Select(cases)
	if chosen == deadlineCase {
		return nil, rpcerr.DeadlineExceeded(context.DeadlineExceeded)
	}
	if chosen == 0 {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, rpcerr.DeadlineExceeded(ctx.Err())
		}
		return nil, rpcerr.Cancelled(ctx.Err())
	}

	isReady := make([]bool, len(chans))
	isReady[chosen-1] = true
	for i, ch := range chans {
		if isReady[i] {
			continue
		}
		select {
		case <-ch:
			isReady[i] = true
		default:
		}
	}

	var ready []int
	for i, r := range isReady {
		if r {
			ready = append(ready, i)
		}
	}
	return ready, nil
}
