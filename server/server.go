// Package server implements spec §4.9's server dispatcher: an acceptor
// that caps concurrent connections with a semaphore, one
// receive/send goroutine pair per connection standing in for the
// original's single reactor thread (the same idiom translation
// client.Conn applies to the reactor's receiver/timeout tasks — see
// reactor's own package doc), and a fixed worker pool executing request
// handlers off that path.
//
// Grounded on minimega's ron.Server: `serve(addr, ln)` accepts
// connections in a loop and spawns a goroutine per client
// (src/ron/server.go), and `clients`/`clientLock` track live connections
// under a mutex exactly the way this package's conns/connMu does. This
// generalizes that one-goroutine-per-connection shape from ron's fixed
// command/response protocol to registered (object, method) dispatch,
// and adds the connection-count semaphore and worker pool spec §4.9
// names explicitly but ron's unbounded fan-out doesn't have.
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandia-minimega/arpc/conc"
	"github.com/sandia-minimega/arpc/internal/rlog"
	"github.com/sandia-minimega/arpc/pool"
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

// Config configures a Server.
type Config struct {
	Listener   net.Listener
	Framer     Framer
	ByteOrder  wire.Order
	Registry   wire.Registry
	ObjectName ObjectNameDecoder

	MaxConnections int // semaphore cap on concurrent connections (spec §4.9.1)
	Workers        int // pool worker count (spec §4.9 "number of worker threads")
	QueueCapacity  int // optional cap on request queue (spec §4.9)
	ResponseQueue  int // per-connection outbound response queue capacity

	// RequestTimeout is imposed on every request's child context in
	// addition to the client's own deadline (spec §4.9 "per-request
	// timeout... applied in addition to the client deadline").
	RequestTimeout time.Duration
}

type reqKey struct {
	connID string
	id     uint32
}

// Server is spec §4.9's server dispatcher: an acceptor, a connection
// table, an object/method registry, and a worker pool.
type Server struct {
	cfg Config
	sem *conc.Semaphore
	pl  *pool.Pool
	obj *objectTable

	root     context.Context
	shutdown context.CancelFunc

	connMu sync.Mutex
	conns  map[string]*conn

	pendingMu sync.Mutex
	pending   map[reqKey]*rpccontext.Context
}

// New builds a Server around cfg. Call Serve to start accepting.
func New(ctx context.Context, cfg Config) *Server {
	if cfg.ObjectName == nil {
		cfg.ObjectName = StringObjectNameDecoder{}
	}
	if cfg.MaxConnections < 1 {
		cfg.MaxConnections = 1
	}
	if cfg.ResponseQueue < 1 {
		cfg.ResponseQueue = 16
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	root, shutdown := context.WithCancel(ctx)
	s := &Server{
		cfg:      cfg,
		sem:      conc.NewSemaphore(cfg.MaxConnections),
		pl:       pool.New(root, cfg.Workers, cfg.QueueCapacity),
		obj:      newObjectTable(),
		root:     root,
		shutdown: shutdown,
		conns:    make(map[string]*conn),
		pending:  make(map[reqKey]*rpccontext.Context),
	}
	s.pl.DaemonTask(s.deadlineSweepLoop)
	return s
}

// Register installs obj under objectName, dispatchable on every method
// declared by iface and everything iface (transitively) extends (spec
// §4.9 "Object registration").
func (s *Server) Register(objectName string, obj interface{}, iface *Interface) error {
	return s.obj.register(objectName, obj, iface)
}

// Unregister removes objectName from future dispatch.
func (s *Server) Unregister(objectName string) {
	s.obj.unregister(objectName)
}

// Serve runs the acceptor loop until the listener closes or Stop is
// called (spec §4.9 step 1: "an acceptor produces connections from a
// listener-backed factory; a semaphore caps concurrent connections").
func (s *Server) Serve() error {
	for {
		raw, err := s.cfg.Listener.Accept()
		if err != nil {
			select {
			case <-s.root.Done():
				return nil
			default:
			}
			return rpcerr.IOError(err)
		}

		if err := s.sem.Acquire(s.root); err != nil {
			raw.Close()
			return nil
		}

		rlog.Debug("server: accepted connection from %s", raw.RemoteAddr())
		go s.handleConn(raw)
	}
}

// Stop tears down every live connection, cancels every tracked request's
// context so running handlers can return, stops the worker pool, and
// closes the listener.
func (s *Server) Stop() {
	s.shutdown()
	s.cfg.Listener.Close()

	s.connMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		c.teardown(nil)
	}

	s.pendingMu.Lock()
	reqs := make([]*rpccontext.Context, 0, len(s.pending))
	for _, ctx := range s.pending {
		reqs = append(reqs, ctx)
	}
	s.pendingMu.Unlock()
	for _, ctx := range reqs {
		ctx.Cancel()
	}

	s.pl.Stop()
}

func (s *Server) handleConn(raw io.ReadWriteCloser) {
	id := uuid.New().String()
	c := newConn(s, id, raw)

	s.connMu.Lock()
	s.conns[id] = c
	s.connMu.Unlock()

	c.run()

	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
	s.sem.Release()
}

func (s *Server) order() wire.Order { return s.cfg.ByteOrder }

// trackRequest records a request's child context in the server's request
// record table: (connection_id, request_id) -> child_context (spec §3
// "Server request record").
func (s *Server) trackRequest(connID string, id uint32, ctx *rpccontext.Context) {
	s.pendingMu.Lock()
	s.pending[reqKey{connID, id}] = ctx
	s.pendingMu.Unlock()
}

func (s *Server) untrackRequest(connID string, id uint32) {
	s.pendingMu.Lock()
	delete(s.pending, reqKey{connID, id})
	s.pendingMu.Unlock()
}

// cancelRequest implements spec §4.9 step 3's "on CANCEL_REQUEST, cancel
// that request's context".
func (s *Server) cancelRequest(connID string, id uint32) {
	s.pendingMu.Lock()
	ctx, ok := s.pending[reqKey{connID, id}]
	s.pendingMu.Unlock()
	if ok {
		ctx.Cancel()
	}
}

// deadlineSweepLoop is the server-side analogue of client's
// cancelSweepLoop: rpccontext.Context never closes Done() on its own
// when a deadline passes (spec §9 "deadline expiry is enforced by the
// reactor, not by an internal timer"), so something has to walk the
// request table and call Cancel on anything past its deadline.
func (s *Server) deadlineSweepLoop(ctx context.Context) {
	const idlePoll = 250 * time.Millisecond

	for {
		wait := s.nextSweepWake(idlePoll)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sweepExpired()
		}
	}
}

func (s *Server) nextSweepWake(idlePoll time.Duration) time.Duration {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var earliest time.Time
	found := false
	for _, ctx := range s.pending {
		dl, ok := ctx.Deadline()
		if !ok {
			continue
		}
		if !found || dl.Before(earliest) {
			earliest = dl
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

func (s *Server) sweepExpired() {
	now := time.Now()
	s.pendingMu.Lock()
	var expired []*rpccontext.Context
	for _, ctx := range s.pending {
		if dl, ok := ctx.Deadline(); ok && !dl.After(now) {
			expired = append(expired, ctx)
		}
	}
	s.pendingMu.Unlock()

	for _, ctx := range expired {
		ctx.Cancel()
	}
}
