package packet

import (
	"bufio"
	"io"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/wire"
)

// StreamFramer implements the protected stream protocol (spec §4.4,
// default framing over reliable byte streams): varint length, payload,
// 8-byte MAC.
type StreamFramer struct {
	key [KeySize]byte
}

// NewStreamFramer builds a framer keyed with key.
func NewStreamFramer(key [KeySize]byte) *StreamFramer { return &StreamFramer{key: key} }

// Send writes one frame of payload to w.
func (f *StreamFramer) Send(w io.Writer, payload []byte) error {
	if err := wire.WriteVarint(w, uint64(len(payload))); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return rpcerr.IOError(err)
	}
	tag := mac(nil, payload, f.key)
	if _, err := w.Write(tag); err != nil {
		return rpcerr.IOError(err)
	}
	return nil
}

// Receive reads and verifies one frame from r, returning the payload.
func (f *StreamFramer) Receive(r *bufio.Reader) ([]byte, error) {
	n, err := wire.ReadVarint(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, rpcerr.EOFErr(err)
		}
		return nil, rpcerr.IOError(err)
	}

	tag := make([]byte, MACSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, rpcerr.IOError(err)
	}

	if !macEquals(payload, f.key, tag) {
		return nil, rpcerr.DataMismatch(nil)
	}
	return payload, nil
}
