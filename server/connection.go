package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/sandia-minimega/arpc/conc"
	"github.com/sandia-minimega/arpc/internal/rlog"
	"github.com/sandia-minimega/arpc/reactor"
	"github.com/sandia-minimega/arpc/rpccontext"
	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/wire"
)

// conn is one accepted connection: a receiveLoop decoding REQUEST and
// CANCEL_REQUEST frames and dispatching work to the server's pool, and a
// sendLoop draining the connection's own response queue onto the wire.
// This is the idiomatic-Go rendering of spec §4.9's single reactor
// thread multiplexing every connection's data-available and
// pending-response events: one goroutine pair per connection rather
// than one thread multiplexing all of them, the same translation
// reactor.Select and client.Conn already apply to the original's
// single-thread event loop.
type conn struct {
	srv *Server
	id  string
	raw io.ReadWriteCloser

	sendMu        sync.Mutex
	responseQueue *conc.BoundedQueue[[]byte]

	root   context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newConn(srv *Server, id string, raw io.ReadWriteCloser) *conn {
	root, cancel := context.WithCancel(srv.root)
	return &conn{
		srv:           srv,
		id:            id,
		raw:           raw,
		responseQueue: conc.NewBoundedQueue[[]byte](srv.cfg.ResponseQueue),
		root:          root,
		cancel:        cancel,
	}
}

// run drives the connection to completion: it starts the send loop and
// runs the receive loop on the calling goroutine, returning once either
// side observes the connection is done.
func (c *conn) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sendLoop()
	}()

	c.receiveLoop()
	c.teardown(nil)
	wg.Wait()
}

func (c *conn) teardown(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			rlog.Debug("server: connection %s closed: %v", c.id, err)
		}
		c.cancel()
		c.raw.Close()
	})
}

// receiveLoop implements spec §4.9 step 1's framing/demux: each frame is
// either a REQUEST, dispatched to the worker pool, or a CANCEL_REQUEST,
// cancelling the matching tracked request context.
func (c *conn) receiveLoop() {
	r := bufio.NewReader(c.raw)
	for {
		payload, err := c.srv.cfg.Framer.Receive(r)
		if err != nil {
			c.teardown(err)
			return
		}
		if len(payload) < 1 {
			c.teardown(rpcerr.IOError(nil))
			return
		}

		switch payload[0] {
		case msgRequest:
			if err := c.dispatchRequest(payload[1:]); err != nil {
				c.teardown(err)
				return
			}
		case msgCancelRequest:
			if len(payload) < 5 {
				c.teardown(rpcerr.IOError(nil))
				return
			}
			id := c.srv.order().Uint32(payload[1:5])
			c.srv.cancelRequest(c.id, id)
		default:
			c.teardown(rpcerr.IOError(nil))
			return
		}
	}
}

// dispatchRequest implements spec §4.9's per-request worker path: decode
// the envelope, look up the (object, method) handler, build a child
// context carrying the configured request timeout, register it in the
// server's request table, and submit the actual call to the pool so the
// receive loop is never blocked on handler execution.
func (c *conn) dispatchRequest(body []byte) error {
	if len(body) < 4 {
		return rpcerr.IOError(nil)
	}
	id := c.srv.order().Uint32(body[:4])

	rr := wire.NewReader(bytes.NewReader(body[4:]), c.srv.order())
	rr.Registry = c.srv.cfg.Registry

	objectName, err := c.srv.cfg.ObjectName.DecodeObjectName(rr)
	if err != nil {
		return c.sendError(id, err)
	}
	var methodName string
	if err := wire.Decode(rr, &methodName); err != nil {
		return c.sendError(id, err)
	}
	hash, err := wire.ReadVarint(rr)
	if err != nil {
		return c.sendError(id, err)
	}
	callerCtx, err := rpccontext.DecodeContext(rr)
	if err != nil {
		return c.sendError(id, err)
	}

	obj, handler, err := c.srv.obj.lookup(objectName, methodName, hash)
	if err != nil {
		return c.sendError(id, err)
	}

	reqCtx := rpccontext.NewChild(callerCtx)
	if c.srv.cfg.RequestTimeout > 0 {
		rpccontext.WithTimeout(reqCtx, c.srv.cfg.RequestTimeout)
	}
	c.srv.trackRequest(c.id, id, reqCtx)

	// rr is positioned right after the context, with only the method
	// argument left to decode; it came from a fully-buffered
	// bytes.Reader, so decoding it later on the worker goroutine rather
	// than here on the receive loop is safe.
	err = c.srv.pl.Submit(reqCtx, func(ctx context.Context) {
		defer c.srv.untrackRequest(c.id, id)

		var resp bytes.Buffer
		rw := wire.NewWriter(&resp, c.srv.order())
		rw.Registry = c.srv.cfg.Registry

		if err := handler.call(ctx, obj, rr, rw); err != nil {
			c.enqueueError(id, err)
			return
		}
		c.enqueueResponse(id, resp.Bytes())
	})
	if err != nil {
		c.srv.untrackRequest(c.id, id)
		return c.sendError(id, err)
	}
	return nil
}

func (c *conn) sendError(id uint32, callErr error) error {
	c.enqueueError(id, callErr)
	return nil
}

func (c *conn) enqueueError(id uint32, callErr error) {
	var body bytes.Buffer
	w := wire.NewWriter(&body, c.srv.order())
	if err := wire.EncodeResult[struct{}](w, struct{}{}, callErr); err != nil {
		rlog.Error("server: encoding error response for request %d: %v", id, err)
		return
	}
	c.enqueueResponse(id, body.Bytes())
}

func (c *conn) enqueueResponse(id uint32, resultBody []byte) {
	var frame bytes.Buffer
	if err := frame.WriteByte(msgResponse); err != nil {
		rlog.Error("server: framing response for request %d: %v", id, err)
		return
	}
	if err := binary.Write(&frame, c.srv.order(), id); err != nil {
		rlog.Error("server: framing response for request %d: %v", id, err)
		return
	}
	frame.Write(resultBody)

	if err := c.responseQueue.MaybePut(frame.Bytes()); err != nil {
		if err := c.responseQueue.Put(c.root, frame.Bytes()); err != nil {
			rlog.Debug("server: dropping response for request %d: %v", id, err)
		}
	}
}

// sendLoop implements spec §4.9's "watches... each connection's pending
// response", draining the queue a pool-dispatched worker filled and
// writing each frame out in turn.
func (c *conn) sendLoop() {
	for {
		ready, err := reactor.Select(c.root, c.responseQueue.CanGet())
		if err != nil {
			return
		}
		if len(ready) == 0 {
			continue
		}

		payload, err := c.responseQueue.MaybeGet()
		if err != nil {
			continue
		}

		c.sendMu.Lock()
		err = c.srv.cfg.Framer.Send(c.raw, payload)
		c.sendMu.Unlock()
		if err != nil {
			c.teardown(err)
			return
		}
	}
}
