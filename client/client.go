// Package client implements spec §4.8's client dispatcher: a monotonic
// request id, a mutex-protected pending table, a send mutex, a receiver
// daemon task, and a timeout/cancel daemon task, all driving calls
// against object names registered on some server.
//
// Grounded on miniclient/client.go's Conn: a net.Conn wrapped with an
// encoder/decoder pair and a single receiver goroutine that decodes
// frames and dispatches them to per-call channels. This generalizes
// that shape from one JSON response channel per call to a request-id
// keyed pending table so many calls can be outstanding concurrently
// (miniclient only ever has one in flight at a time, since its CLI is
// synchronous), and adds lazy reconnect via cenkalti/backoff/v4, which
// miniclient's single-shot Dial doesn't need but a long-lived RPC
// connection does.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sandia-minimega/arpc/internal/rlog"
	"github.com/sandia-minimega/arpc/pool"
	"github.com/sandia-minimega/arpc/reactor"
	"github.com/sandia-minimega/arpc/rpccontext"
	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/wire"
)

const (
	msgRequest       byte = 0
	msgResponse      byte = 1
	msgCancelRequest byte = 2
)

// Framer is the subset of packet.StreamFramer/packet.SerialFramer a
// connection needs.
type Framer interface {
	Send(w io.Writer, payload []byte) error
	Receive(r *bufio.Reader) ([]byte, error)
}

// ObjectNameEncoder renders the caller-supplied object key into the
// bytes carried in a REQUEST body (spec §6 "object_name_bytes is the
// chosen ObjectNameEncoder's output"), SPEC_FULL's pluggability
// supplement over the original's hardcoded string encoding.
type ObjectNameEncoder interface {
	EncodeObjectName(w *wire.Writer, name string) error
}

// StringObjectNameEncoder is the default: the object name travels as a
// plain structural string.
type StringObjectNameEncoder struct{}

func (StringObjectNameEncoder) EncodeObjectName(w *wire.Writer, name string) error {
	return wire.Encode(w, name)
}

type pendingEntry struct {
	deadline time.Time
	hasDLine bool
	resolve  func([]byte, error)
}

// Config configures a Conn.
type Config struct {
	Dial           func(ctx context.Context) (io.ReadWriteCloser, error)
	Framer         Framer
	ByteOrder      wire.Order
	Registry       wire.Registry
	ObjectName     ObjectNameEncoder
	RequestTimeout time.Duration // applied in addition to any deadline on the calling context
	Pool           *pool.Pool
}

// Conn is one client connection: it owns the outbound request-id
// counter, the pending table, and the background receiver/timeout
// tasks. Safe for concurrent Call from multiple goroutines.
type Conn struct {
	cfg Config

	connMu sync.Mutex
	raw    io.ReadWriteCloser
	reader *bufio.Reader
	ready  bool

	sendMu sync.Mutex

	idMu   sync.Mutex
	nextID uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingEntry

	cancelQueue chan uint32

	root    context.Context
	shutdown context.CancelFunc
}

// Dial establishes the connection (via cfg.Dial) and starts the
// receiver and timeout/cancel daemon tasks. Subsequent connection
// failures reconnect lazily on the next Call, backed by
// cenkalti/backoff/v4 (spec §4.8's receiver loop: "on I/O error:
// propagate an exception to all pending promises and mark the
// connection not-ready until the next successful connect").
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.ObjectName == nil {
		cfg.ObjectName = StringObjectNameEncoder{}
	}
	root, shutdown := context.WithCancel(ctx)
	c := &Conn{
		cfg:         cfg,
		pending:     make(map[uint32]*pendingEntry),
		cancelQueue: make(chan uint32, 64),
		root:        root,
		shutdown:    shutdown,
	}

	if err := c.connect(ctx); err != nil {
		shutdown()
		return nil, err
	}

	c.startDaemons()
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	raw, err := c.cfg.Dial(ctx)
	if err != nil {
		return rpcerr.IOError(err)
	}
	c.connMu.Lock()
	c.raw = raw
	c.reader = bufio.NewReader(raw)
	c.ready = true
	c.connMu.Unlock()
	return nil
}

// reconnect retries c.cfg.Dial with exponential backoff until ctx is
// done, then installs the new connection.
func (c *Conn) reconnect(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return c.connect(ctx)
	}, b)
}

func (c *Conn) startDaemons() {
	if c.cfg.Pool != nil {
		for _, fn := range []func(context.Context){c.receiveLoop, c.cancelSweepLoop} {
			th := c.cfg.Pool.DaemonTask(fn)
			context.AfterFunc(c.root, th.Cancel)
		}
		return
	}
	go c.receiveLoop(c.root)
	go c.cancelSweepLoop(c.root)
}

// Close tears down the connection and its background tasks.
func (c *Conn) Close() error {
	c.shutdown()
	c.connMu.Lock()
	raw := c.raw
	c.ready = false
	c.connMu.Unlock()
	if raw != nil {
		return raw.Close()
	}
	return nil
}

func (c *Conn) nextRequestID() uint32 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.nextID++
	return c.nextID
}

// Call performs one outbound RPC: it acquires an id, encodes the
// REQUEST envelope, installs the pending entry, sends it, then blocks in
// reactor.Select on the response future and ctx and returns the decoded
// result_holder<R> value or error (spec §4.8 outbound call flow, steps
// 1-5).
func Call[R any](ctx context.Context, c *Conn, cctx *rpccontext.Context, objectName, methodName string, methodTypeHash uint64, args interface{}) (R, error) {
	var zero R

	id := c.nextRequestID()

	var body bytes.Buffer
	w := wire.NewWriter(&body, c.order())
	w.Registry = c.cfg.Registry

	if err := w.WriteByte(msgRequest); err != nil {
		return zero, rpcerr.IOError(err)
	}
	if err := binary.Write(&body, c.order(), id); err != nil {
		return zero, rpcerr.IOError(err)
	}
	if err := c.cfg.ObjectName.EncodeObjectName(w, objectName); err != nil {
		return zero, err
	}
	if err := wire.Encode(w, methodName); err != nil {
		return zero, err
	}
	if err := wire.WriteVarint(w, methodTypeHash); err != nil {
		return zero, err
	}
	if c.cfg.RequestTimeout > 0 {
		rpccontext.WithTimeout(cctx, c.cfg.RequestTimeout)
	}
	if err := rpccontext.EncodeContext(w, cctx); err != nil {
		return zero, err
	}
	if err := wire.Encode(w, args); err != nil {
		return zero, err
	}

	fut, resolve := reactor.NewFuture[[]byte]()
	entry := &pendingEntry{resolve: resolve}
	if dl, ok := cctx.Deadline(); ok {
		entry.deadline = dl
		entry.hasDLine = true
	}

	c.pendingMu.Lock()
	c.pending[id] = entry
	c.pendingMu.Unlock()

	if err := c.send(ctx, body.Bytes()); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return zero, err
	}

	if _, selErr := reactor.Select(ctx, fut); selErr != nil {
		c.requestCancel(id)
		return zero, selErr
	}

	raw, err := fut.Result()
	if err != nil {
		return zero, err
	}

	rr := wire.NewReader(bytes.NewReader(raw), c.order())
	rr.Registry = c.cfg.Registry
	return wire.DecodeResult[R](rr)
}

func (c *Conn) send(ctx context.Context, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.connMu.Lock()
	raw := c.raw
	ready := c.ready
	c.connMu.Unlock()

	if !ready || raw == nil {
		if err := c.reconnect(ctx); err != nil {
			return rpcerr.IOError(err)
		}
		c.connMu.Lock()
		raw = c.raw
		c.connMu.Unlock()
	}

	if err := c.cfg.Framer.Send(raw, payload); err != nil {
		c.markNotReady(err)
		return err
	}
	return nil
}

// requestCancel enqueues a best-effort CANCEL_REQUEST(id); a full queue
// silently drops it (spec §4.8 "failures to enqueue are dropped
// silently").
func (c *Conn) requestCancel(id uint32) {
	select {
	case c.cancelQueue <- id:
	default:
		rlog.Debug("client: dropped cancel request for id %d, queue full", id)
	}
}

func (c *Conn) order() wire.Order { return c.cfg.ByteOrder }

func (c *Conn) markNotReady(err error) {
	c.connMu.Lock()
	c.ready = false
	c.connMu.Unlock()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingEntry)
	c.pendingMu.Unlock()

	for _, e := range pending {
		e.resolve(nil, rpcerr.IOError(err))
	}
}
