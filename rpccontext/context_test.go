package rpccontext

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sandia-minimega/arpc/registry"
	"github.com/sandia-minimega/arpc/wire"
)

func TestCancelPropagatesToDescendants(t *testing.T) {
	root := Root()
	child := NewChild(root)
	grandchild := NewChild(child)

	root.Cancel()

	for _, c := range []*Context{root, child, grandchild} {
		select {
		case <-c.Done():
		default:
			t.Fatal("descendant did not observe cancellation")
		}
		if c.Err() != context.Canceled {
			t.Fatalf("err = %v, want Canceled", c.Err())
		}
	}
}

func TestChildDeadlineNeverExceedsParent(t *testing.T) {
	root := Root()
	WithTimeout(root, 10*time.Second)
	child := NewChild(root)
	WithTimeout(child, time.Hour)

	rd, _ := root.Deadline()
	cd, ok := child.Deadline()
	if !ok {
		t.Fatal("child should have a deadline")
	}
	if cd.After(rd) {
		t.Fatalf("child deadline %v after parent deadline %v", cd, rd)
	}
}

func TestWithDeadlineTakesEarlier(t *testing.T) {
	root := Root()
	near := time.Now().Add(time.Second)
	far := time.Now().Add(time.Hour)

	WithDeadline(root, far)
	WithDeadline(root, near)

	d, _ := root.Deadline()
	if !d.Equal(near) {
		t.Fatalf("deadline = %v, want the earlier %v", d, near)
	}

	WithDeadline(root, far)
	d, _ = root.Deadline()
	if !d.Equal(near) {
		t.Fatalf("deadline = %v, a later deadline should not win", d)
	}
}

func TestShieldDetachesFromCancellation(t *testing.T) {
	root := Root()
	WithTimeout(root, time.Hour)
	shield := Shield(root)

	root.Cancel()

	select {
	case <-shield.Done():
		t.Fatal("shield should not observe parent cancellation")
	default:
	}
	if d, ok := shield.Deadline(); !ok || d.IsZero() {
		t.Fatal("shield should carry the original deadline")
	}
}

func TestSetGetResetRoundTrip(t *testing.T) {
	ctx := Root()
	type userID string
	Set(ctx, userID("alice"))

	if got := Get[userID](ctx); got != "alice" {
		t.Fatalf("get = %q, want alice", got)
	}

	Reset[userID](ctx)
	if got := Get[userID](ctx); got != "" {
		t.Fatalf("get after reset = %q, want zero value", got)
	}
}

func TestChildCopiesParentValues(t *testing.T) {
	type tag string
	root := Root()
	Set(root, tag("v1"))

	child := NewChild(root)
	if got := Get[tag](child); got != "v1" {
		t.Fatalf("child did not inherit parent value: %q", got)
	}

	Set(child, tag("v2"))
	if got := Get[tag](root); got != "v1" {
		t.Fatalf("setting on child must not affect parent, got %q", got)
	}
}

type principal struct {
	Name string
}

func TestEncodeDecodeContextRoundTrip(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterStruct[principal](reg, "github.com/sandia-minimega/arpc/rpccontext.principal", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := Root()
	deadline := time.Now().Add(time.Minute).Round(time.Millisecond)
	WithDeadline(ctx, deadline)
	Set(ctx, principal{Name: "bob"})

	var buf bytes.Buffer
	w := wire.NewWriter(&buf, wire.LittleEndian)
	w.Registry = reg
	if err := EncodeContext(w, ctx); err != nil {
		t.Fatalf("encode: %v", err)
	}

	r := wire.NewReader(&buf, wire.LittleEndian)
	r.Registry = reg
	out, err := DecodeContext(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	d, ok := out.Deadline()
	if !ok || !d.Equal(deadline) {
		t.Fatalf("decoded deadline = %v, want %v", d, deadline)
	}
	if got := Get[principal](out); got.Name != "bob" {
		t.Fatalf("decoded principal = %+v, want Name=bob", got)
	}
}

func TestEncodeContextNoDeadlineNoValues(t *testing.T) {
	ctx := Root()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, wire.LittleEndian)
	if err := EncodeContext(w, ctx); err != nil {
		t.Fatalf("encode: %v", err)
	}

	r := wire.NewReader(&buf, wire.LittleEndian)
	out, err := DecodeContext(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out.Deadline(); ok {
		t.Fatal("expected no deadline")
	}
}
