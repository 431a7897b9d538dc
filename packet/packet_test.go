package packet

import (
	"bufio"
	"bytes"
	"testing"
)

func TestCOBSRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{0, 0, 0},
		{1, 2, 3},
		{0, 1, 0, 2, 0},
		bytes.Repeat([]byte{0xAB}, 254),
		bytes.Repeat([]byte{0xAB}, 255),
		bytes.Repeat([]byte{0xAB}, 600),
	}

	for i, c := range cases {
		enc := cobsEncode(c)
		for _, b := range enc {
			if b == 0 {
				t.Fatalf("case %d: encoded output contains a zero byte", i)
			}
		}
		dec, err := cobsDecode(enc)
		if err != nil {
			t.Fatalf("case %d: decode error: %v", i, err)
		}
		if !bytes.Equal(dec, c) {
			t.Fatalf("case %d: round trip mismatch: got %v, want %v", i, dec, c)
		}
	}
}

func TestStreamFramerRoundTrip(t *testing.T) {
	key := KeyFromWords(1, 2, 3, 4)
	f := NewStreamFramer(key)

	var buf bytes.Buffer
	payload := []byte("patata_poo")
	if err := f.Send(&buf, payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := f.Receive(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestStreamFramerRejectsWrongKey(t *testing.T) {
	var buf bytes.Buffer
	f1 := NewStreamFramer(KeyFromWords(1, 1, 1, 1))
	f2 := NewStreamFramer(KeyFromWords(2, 2, 2, 2))

	if err := f1.Send(&buf, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f2.Receive(bufio.NewReader(&buf)); err == nil {
		t.Fatalf("expected a data-mismatch error for a wrong MAC key")
	}
}

func TestSerialFramerRoundTrip(t *testing.T) {
	key := DefaultKey
	f := NewSerialFramer(key)

	var buf bytes.Buffer
	payload := []byte{0, 1, 2, 0, 0, 255, 254}
	if err := f.Send(&buf, payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := f.Receive(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}
