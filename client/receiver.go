package client

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/sandia-minimega/arpc/internal/rlog"
	"github.com/sandia-minimega/arpc/rpcerr"
)

// receiveLoop is spec §4.8's receiver task: it decodes message type,
// then id, then the remainder, dispatching RESPONSEs to their pending
// entry. On I/O error it marks the connection not-ready (waking every
// pending promise with that error) and waits to be reconnected by the
// next Call.
func (c *Conn) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		reader := c.reader
		ready := c.ready
		c.connMu.Unlock()

		if !ready || reader == nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		payload, err := c.cfg.Framer.Receive(reader)
		if err != nil {
			if err == io.EOF || rpcerr.IsEOF(err) || rpcerr.IsIOError(err) {
				c.markNotReady(err)
				continue
			}
			rlog.Warn("client: malformed frame, tearing down: %v", err)
			c.markNotReady(err)
			continue
		}

		c.dispatch(payload)
	}
}

func (c *Conn) dispatch(payload []byte) {
	if len(payload) < 5 {
		rlog.Warn("client: short frame, dropping")
		return
	}
	msgType := payload[0]
	id := c.order().Uint32(payload[1:5])
	rest := payload[5:]

	switch msgType {
	case msgResponse:
		c.pendingMu.Lock()
		entry, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if !ok {
			return
		}
		entry.resolve(rest, nil)
	default:
		rlog.Warn("client: unknown message type %d, dropping frame", msgType)
	}
}

// cancelSweepLoop is spec §4.8's timeout/cancel task: it sends
// best-effort CANCEL_REQUEST frames queued by requestCancel, and sweeps
// the pending table for entries whose deadline has passed.
func (c *Conn) cancelSweepLoop(ctx context.Context) {
	for {
		wait := c.nextWake()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case id := <-c.cancelQueue:
			timer.Stop()
			c.sendCancelRequest(ctx, id)
		case <-timer.C:
			c.sweepExpired()
		}
	}
}

func (c *Conn) nextWake() time.Duration {
	const idlePoll = 250 * time.Millisecond

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	var earliest time.Time
	found := false
	for _, e := range c.pending {
		if !e.hasDLine {
			continue
		}
		if !found || e.deadline.Before(earliest) {
			earliest = e.deadline
			found = true
		}
	}
	if !found {
		return idlePoll
	}
	d := time.Until(earliest)
	if d < 0 {
		return 0
	}
	return d
}

func (c *Conn) sweepExpired() {
	now := time.Now()
	c.pendingMu.Lock()
	var expired []*pendingEntry
	for id, e := range c.pending {
		if e.hasDLine && !e.deadline.After(now) {
			expired = append(expired, e)
			delete(c.pending, id)
		}
	}
	c.pendingMu.Unlock()

	for _, e := range expired {
		e.resolve(nil, rpcerr.DeadlineExceeded(nil))
	}
}

func (c *Conn) sendCancelRequest(ctx context.Context, id uint32) {
	var body bytes.Buffer
	if err := body.WriteByte(msgCancelRequest); err != nil {
		return
	}
	var idBuf [4]byte
	c.order().PutUint32(idBuf[:], id)
	body.Write(idBuf[:])

	if err := c.send(ctx, body.Bytes()); err != nil {
		rlog.Debug("client: cancel request for id %d failed: %v", id, err)
	}
}
