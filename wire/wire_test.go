package wire

import (
	"bytes"
	"testing"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/typehash"
)

func TestVarintVectors(t *testing.T) {
	cases := []struct {
		n    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}

	for _, c := range cases {
		got := PutVarint(nil, c.n)
		if !bytes.Equal(got, c.want) {
			t.Errorf("PutVarint(%d) = % x, want % x", c.n, got, c.want)
		}

		back, err := ReadVarint(bytes.NewReader(got))
		if err != nil {
			t.Fatalf("ReadVarint(%d): %v", c.n, err)
		}
		if back != c.n {
			t.Errorf("round trip %d: got %d", c.n, back)
		}
	}
}

type point struct {
	X int32
	Y float64
	Z []string
}

func TestStructRoundTrip(t *testing.T) {
	in := point{X: 4, Y: 5.5, Z: []string{"first", "second", "third"}}

	var buf bytes.Buffer
	w := NewWriter(&buf, LittleEndian)
	if err := Encode(w, in); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out point
	r := NewReader(&buf, LittleEndian)
	if err := Decode(r, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.X != in.X || out.Y != in.Y || len(out.Z) != len(in.Z) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
	for i := range in.Z {
		if out.Z[i] != in.Z[i] {
			t.Fatalf("Z[%d]: got %q, want %q", i, out.Z[i], in.Z[i])
		}
	}
}

func TestVerifyStructureMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LittleEndian)
	w.VerifyStructure = true
	if err := Encode(w, int32(42)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out int64 // deliberately wrong static type
	r := NewReader(&buf, LittleEndian)
	r.VerifyStructure = true
	if err := Decode(r, &out); err == nil {
		t.Fatalf("expected a data-mismatch error decoding into the wrong static type")
	}
}

type node struct {
	Value int32
	Self  typehash.Shared[node]
}

func TestSharedGraphIdentity(t *testing.T) {
	n := &node{Value: 7}
	root := typehash.NewShared(n)
	n.Self = root

	var buf bytes.Buffer
	w := NewWriter(&buf, LittleEndian)
	if err := Encode(w, root); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out typehash.Shared[node]
	r := NewReader(&buf, LittleEndian)
	if err := Decode(r, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := out.Get()
	if got == nil {
		t.Fatalf("decoded shared pointer is nil")
	}
	if got.Value != 7 {
		t.Fatalf("Value = %d, want 7", got.Value)
	}
	if got.Self.Get() != got {
		t.Fatalf("decoded Self does not alias the decoded root: identity not preserved")
	}
}

func TestResultHolderValueRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LittleEndian)
	if err := EncodeResult[string](w, "patata_poo", nil); err != nil {
		t.Fatalf("encode: %v", err)
	}

	r := NewReader(&buf, LittleEndian)
	v, err := DecodeResult[string](r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v != "patata_poo" {
		t.Fatalf("v = %q, want patata_poo", v)
	}
}

func TestResultHolderErrorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LittleEndian)
	callErr := rpcerr.NotFound(nil)
	if err := EncodeResult[int](w, 0, callErr); err != nil {
		t.Fatalf("encode: %v", err)
	}

	r := NewReader(&buf, LittleEndian)
	_, err := DecodeResult[int](r)
	if !rpcerr.IsNotFound(err) {
		t.Fatalf("decoded err = %v, want not_found", err)
	}
}
