// Package packet implements spec §4.4's two wire framings: the protected
// stream protocol used over reliable byte streams, and the serial-line
// (COBS) protocol used over character devices. Both use a keyed
// HighwayHash64 MAC over the payload bytes (§4.4 "MAC").
package packet

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
)

// KeySize is the HighwayHash key size: 4 little-endian u64 words, as
// spec §4.4 describes the caller-supplied key.
const KeySize = 32

// MACSize is the width of the MAC appended to every frame.
const MACSize = 8

// DefaultKey is used when a caller does not supply one. It only protects
// against corruption, not tampering, exactly as spec §4.4 warns.
var DefaultKey = [KeySize]byte{
	0x61, 0x72, 0x70, 0x63, 0x2d, 0x64, 0x65, 0x66,
	0x61, 0x75, 0x6c, 0x74, 0x2d, 0x6b, 0x65, 0x79,
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
}

// KeyFromWords builds a 32-byte key from 4 little-endian u64 words,
// matching spec §4.4's "4×u64" key shape.
func KeyFromWords(w0, w1, w2, w3 uint64) [KeySize]byte {
	var key [KeySize]byte
	binary.LittleEndian.PutUint64(key[0:8], w0)
	binary.LittleEndian.PutUint64(key[8:16], w1)
	binary.LittleEndian.PutUint64(key[16:24], w2)
	binary.LittleEndian.PutUint64(key[24:32], w3)
	return key
}

// mac computes the 64-bit keyed HighwayHash over payload and appends it
// to dst in little-endian form.
func mac(dst []byte, payload []byte, key [KeySize]byte) []byte {
	sum := highwayhash.Sum64(payload, key[:])
	var b [MACSize]byte
	binary.LittleEndian.PutUint64(b[:], sum)
	return append(dst, b[:]...)
}

func macEquals(payload []byte, key [KeySize]byte, want []byte) bool {
	got := highwayhash.Sum64(payload, key[:])
	var b [MACSize]byte
	binary.LittleEndian.PutUint64(b[:], got)
	for i := range b {
		if b[i] != want[i] {
			return false
		}
	}
	return true
}
