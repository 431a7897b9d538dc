package rpcerr

import (
	"errors"
	"fmt"
	"testing"
)

var errTest = errors.New("this is a test")

func TestNotFoundClassifies(t *testing.T) {
	if IsNotFound(errTest) {
		t.Fatalf("did not expect not found error, got %T", errTest)
	}
	e := NotFound(errTest)
	if !IsNotFound(e) {
		t.Fatalf("expected not found error, got: %T", e)
	}
	if !errors.Is(e, errTest) {
		t.Fatalf("expected not found error to match errTest")
	}

	wrapped := fmt.Errorf("foo: %w", e)
	if !IsNotFound(wrapped) {
		t.Fatalf("expected not found error, got: %T", wrapped)
	}
}

func TestWireRoundTrip(t *testing.T) {
	cases := []Kind{Cancelled, DataMismatch, DeadlineExceeded, EOF, InvalidArgument,
		InvalidState, IOError, NotImplemented, NotFound, OutOfRange, ShuttingDown, TryAgain}

	for _, k := range cases {
		err := New(k, errors.New("boom"))
		class, msg := ToWire(err)
		if class != string(k) {
			t.Fatalf("ToWire(%v) class = %v, want %v", k, class, k)
		}
		if msg == "" {
			t.Fatalf("ToWire(%v) message empty", k)
		}

		rebuilt := FromWire(class, msg)
		if KindOf(rebuilt) != k {
			t.Fatalf("FromWire(%v, %v) kind = %v, want %v", class, msg, KindOf(rebuilt), k)
		}
	}
}

func TestFromWireUnknownClass(t *testing.T) {
	err := FromWire("some_future_kind", "message")
	if KindOf(err) != Unknown {
		t.Fatalf("expected Unknown kind for unrecognized class, got %v", KindOf(err))
	}
}

func TestKindOfNilAndPlain(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatalf("KindOf(nil) should be empty")
	}
	if KindOf(errTest) != Unknown {
		t.Fatalf("KindOf(plain error) should be Unknown, got %v", KindOf(errTest))
	}
}
