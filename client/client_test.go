package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sandia-minimega/arpc/packet"
	"github.com/sandia-minimega/arpc/rpccontext"
	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/wire"
)

var testKey = packet.KeyFromWords(1, 2, 3, 4)

func newPipeConfig(peer net.Conn) Config {
	return Config{
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return peer, nil
		},
		Framer:    packet.NewStreamFramer(testKey),
		ByteOrder: wire.LittleEndian,
	}
}

// decodedRequest is what the server side of these tests sees after
// unframing and parsing one REQUEST payload.
type decodedRequest struct {
	id         uint32
	objectName string
	method     string
	hash       uint64
	ctx        *rpccontext.Context
	arg        string
}

func readRequest(t *testing.T, framer Framer, r *bufio.Reader, order wire.Order) *decodedRequest {
	t.Helper()
	payload, err := framer.Receive(r)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if payload[0] != msgRequest {
		t.Fatalf("message type = %d, want request", payload[0])
	}
	req := &decodedRequest{id: order.Uint32(payload[1:5])}

	rr := wire.NewReader(bytes.NewReader(payload[5:]), order)
	if err := wire.Decode(rr, &req.objectName); err != nil {
		t.Fatalf("decode object name: %v", err)
	}
	if err := wire.Decode(rr, &req.method); err != nil {
		t.Fatalf("decode method name: %v", err)
	}
	hash, err := wire.ReadVarint(rr)
	if err != nil {
		t.Fatalf("decode method hash: %v", err)
	}
	req.hash = hash
	cctx, err := rpccontext.DecodeContext(rr)
	if err != nil {
		t.Fatalf("decode context: %v", err)
	}
	req.ctx = cctx
	if err := wire.Decode(rr, &req.arg); err != nil {
		t.Fatalf("decode arg: %v", err)
	}
	return req
}

func sendResponse(t *testing.T, framer Framer, w io.Writer, order wire.Order, id uint32, result string, callErr error) {
	t.Helper()
	var body bytes.Buffer
	if err := body.WriteByte(msgResponse); err != nil {
		t.Fatalf("write msg type: %v", err)
	}
	if err := binary.Write(&body, order, id); err != nil {
		t.Fatalf("write id: %v", err)
	}
	ww := wire.NewWriter(&body, order)
	if err := wire.EncodeResult(ww, result, callErr); err != nil {
		t.Fatalf("encode result: %v", err)
	}
	if err := framer.Send(w, body.Bytes()); err != nil {
		t.Fatalf("send response: %v", err)
	}
}

func TestCallRoundTripSuccess(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	c, err := Dial(context.Background(), newPipeConfig(clientSide))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		framer := packet.NewStreamFramer(testKey)
		r := bufio.NewReader(serverSide)
		req := readRequest(t, framer, r, wire.LittleEndian)
		if req.objectName != "greeter" || req.method != "Greet" {
			t.Errorf("got object=%q method=%q", req.objectName, req.method)
		}
		if req.arg != "ping" {
			t.Errorf("arg = %q, want ping", req.arg)
		}
		sendResponse(t, framer, serverSide, wire.LittleEndian, req.id, "pong", nil)
	}()

	cctx := rpccontext.Root()
	got, err := Call[string](context.Background(), c, cctx, "greeter", "Greet", 0xabc, "ping")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "pong" {
		t.Fatalf("result = %q, want pong", got)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server goroutine never finished")
	}
}

func TestCallReturnsDecodedTaxonomyError(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	c, err := Dial(context.Background(), newPipeConfig(clientSide))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	go func() {
		framer := packet.NewStreamFramer(testKey)
		r := bufio.NewReader(serverSide)
		req := readRequest(t, framer, r, wire.LittleEndian)
		sendResponse(t, framer, serverSide, wire.LittleEndian, req.id, "", rpcerr.NotFound(nil))
	}()

	cctx := rpccontext.Root()
	_, err = Call[string](context.Background(), c, cctx, "greeter", "Greet", 0xabc, "ping")
	if !rpcerr.IsNotFound(err) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c, err := Dial(context.Background(), newPipeConfig(clientSide))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	// The server reads the request but never responds, so the call only
	// returns via ctx cancellation.
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		framer := packet.NewStreamFramer(testKey)
		r := bufio.NewReader(serverSide)
		readRequest(t, framer, r, wire.LittleEndian)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, callErr := Call[string](ctx, c, rpccontext.Root(), "greeter", "Greet", 0xabc, "ping")
		resultCh <- callErr
	}()

	<-serverDone
	cancel()

	select {
	case err := <-resultCh:
		if !rpcerr.IsCancelled(err) {
			t.Fatalf("err = %v, want cancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("call did not return after cancellation")
	}
}

func TestCallDeadlineExceededSweepsPending(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c, err := Dial(context.Background(), newPipeConfig(clientSide))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	go func() {
		framer := packet.NewStreamFramer(testKey)
		r := bufio.NewReader(serverSide)
		readRequest(t, framer, r, wire.LittleEndian)
		// never respond
	}()

	cctx := rpccontext.Root()
	rpccontext.WithTimeout(cctx, 30*time.Millisecond)

	_, err = Call[string](context.Background(), c, cctx, "greeter", "Greet", 0xabc, "ping")
	if !rpcerr.IsDeadlineExceeded(err) {
		t.Fatalf("err = %v, want deadline_exceeded", err)
	}
}

func TestMarkNotReadyResolvesPendingAsIOError(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	c, err := Dial(context.Background(), newPipeConfig(clientSide))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	serverSide.Close() // the client's next read/write observes an I/O error

	_, err = Call[string](context.Background(), c, rpccontext.Root(), "greeter", "Greet", 0xabc, "ping")
	if !rpcerr.IsIOError(err) {
		t.Fatalf("err = %v, want io_error", err)
	}
}
