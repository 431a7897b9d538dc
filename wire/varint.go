// Package wire implements the on-wire codec: varints, byte-order-aware
// scalar transfer, and structural encode/decode of containers, structs,
// and pointers driven by reflection (mirroring the walk typehash performs
// over the same type graph, but writing/reading bytes instead of folding
// a hash).
package wire

import (
	"io"

	"github.com/sandia-minimega/arpc/rpcerr"
)

// PutVarint appends n to buf in little-endian base-128 form, the high bit
// of each byte marking continuation.
func PutVarint(buf []byte, n uint64) []byte {
	for n >= 0x80 {
		buf = append(buf, byte(n)|0x80)
		n >>= 7
	}
	return append(buf, byte(n))
}

// ReadVarint reads a varint from r.
func ReadVarint(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		if shift >= 64 {
			return 0, rpcerr.DataMismatch(nil)
		}
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, rpcerr.EOFErr(err)
			}
			return 0, rpcerr.IOError(err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// WriteVarint writes n to w as a varint.
func WriteVarint(w io.Writer, n uint64) error {
	var buf [10]byte
	out := PutVarint(buf[:0], n)
	_, err := w.Write(out)
	if err != nil {
		return rpcerr.IOError(err)
	}
	return nil
}
