package packet

import (
	"bufio"
	"io"

	"github.com/sandia-minimega/arpc/rpcerr"
)

// SerialFramer implements the serial-line protocol (spec §4.4): payload
// plus MAC are COBS-encoded to remove zero bytes, then terminated with a
// single zero delimiter, for use over character devices that have no
// other framing of their own.
type SerialFramer struct {
	key [KeySize]byte
}

// NewSerialFramer builds a framer keyed with key.
func NewSerialFramer(key [KeySize]byte) *SerialFramer { return &SerialFramer{key: key} }

// Send writes one COBS frame of payload to w.
func (f *SerialFramer) Send(w io.Writer, payload []byte) error {
	tagged := mac(append([]byte{}, payload...), payload, f.key)
	encoded := cobsEncode(tagged)
	encoded = append(encoded, 0)
	if _, err := w.Write(encoded); err != nil {
		return rpcerr.IOError(err)
	}
	return nil
}

// Receive reads bytes up to the next zero delimiter, COBS-decodes, and
// verifies the MAC, returning the payload.
func (f *SerialFramer) Receive(r *bufio.Reader) ([]byte, error) {
	raw, err := r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			return nil, rpcerr.EOFErr(err)
		}
		return nil, rpcerr.IOError(err)
	}
	raw = raw[:len(raw)-1] // drop the delimiter

	tagged, err := cobsDecode(raw)
	if err != nil {
		return nil, err
	}
	if len(tagged) < MACSize {
		return nil, rpcerr.DataMismatch(nil)
	}

	payload := tagged[:len(tagged)-MACSize]
	tag := tagged[len(tagged)-MACSize:]
	if !macEquals(payload, f.key, tag) {
		return nil, rpcerr.DataMismatch(nil)
	}
	return payload, nil
}
