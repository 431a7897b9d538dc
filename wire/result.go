package wire

import "github.com/sandia-minimega/arpc/rpcerr"

// EncodeResult writes a result_holder<T> (spec §6 "RESPONSE body":
// `optional<value_R> ‖ bool has_exception ‖ opt(error_class_name,
// message); version tag 1`). Exactly one of v or callErr is meaningful:
// callErr nil means the call returned v normally.
func EncodeResult[T any](w *Writer, v T, callErr error) error {
	if err := WriteVarint(w, 1); err != nil { // result_holder version tag
		return err
	}
	if callErr != nil {
		if err := w.WriteByte(0); err != nil { // value absent
			return rpcerr.IOError(err)
		}
		if err := w.WriteByte(1); err != nil { // has_exception
			return rpcerr.IOError(err)
		}
		class, msg := rpcerr.ToWire(callErr)
		if err := Encode(w, class); err != nil {
			return err
		}
		return Encode(w, msg)
	}

	if err := w.WriteByte(1); err != nil { // value present
		return rpcerr.IOError(err)
	}
	if err := Encode(w, v); err != nil {
		return err
	}
	return w.WriteByte(0) // no exception
}

// DecodeResult reads a result_holder<T> written by EncodeResult. A
// non-nil returned error is a reconstructed member of rpcerr's taxonomy
// (spec §7 "the receiving side reconstructs and rethrows").
func DecodeResult[T any](r *Reader) (T, error) {
	var zero T

	if _, err := ReadVarint(r); err != nil { // version tag; only version 1 exists so far
		return zero, err
	}

	hasValue, err := r.ReadByte()
	if err != nil {
		return zero, rpcerr.IOError(err)
	}

	var v T
	if hasValue != 0 {
		if err := Decode(r, &v); err != nil {
			return zero, err
		}
	}

	hasExc, err := r.ReadByte()
	if err != nil {
		return zero, rpcerr.IOError(err)
	}
	if hasExc != 0 {
		var class, msg string
		if err := Decode(r, &class); err != nil {
			return zero, err
		}
		if err := Decode(r, &msg); err != nil {
			return zero, err
		}
		return zero, rpcerr.FromWire(class, msg)
	}

	return v, nil
}
