package wire

import (
	"reflect"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/typehash"
)

// Encode writes v's structural representation to w (spec §4.2). v is
// typically a pointer or a plain value; both are accepted, mirroring how
// typehash.Of walks either shape.
func Encode(w *Writer, v interface{}) error {
	rv := reflect.ValueOf(v)

	if w.VerifyStructure {
		if err := WriteVarint(w, uint64(typehash.OfType(rv.Type()))); err != nil {
			return err
		}
	}

	return encodeValue(w, rv)
}

func encodeValue(w *Writer, v reflect.Value) error {
	t := v.Type()

	switch {
	case typehash.IsShared(t):
		return encodeSharedLike(w, v, false)
	case typehash.IsWeak(t):
		return encodeSharedLike(w, v, true)
	case typehash.IsSet(t):
		return encodeSet(w, v)
	case typehash.IsTuple(t):
		return encodeTuple(w, v)
	}

	switch t.Kind() {
	case reflect.Bool:
		b := byte(0)
		if v.Bool() {
			b = 1
		}
		return w.WriteByte(b)

	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return w.writeFixed(fixedInt(v))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint, reflect.Uintptr:
		return w.writeFixed(fixedUint(v))
	case reflect.Float32:
		return w.writeFixed(float32(v.Float()))
	case reflect.Float64:
		return w.writeFixed(v.Float())

	case reflect.String:
		return encodeBytes(w, []byte(v.String()))

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(w, v.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return encodeBytes(w, v.Bytes())
		}
		if err := WriteVarint(w, uint64(v.Len())); err != nil {
			return err
		}
		for i := 0; i < v.Len(); i++ {
			if err := encodeValue(w, v.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		return encodeMap(w, v)

	case reflect.Ptr:
		if v.IsNil() {
			return w.WriteByte(0)
		}
		if err := w.WriteByte(1); err != nil {
			return err
		}
		return encodeValue(w, v.Elem())

	case reflect.Struct:
		return encodeStruct(w, v)

	case reflect.Interface:
		if v.IsNil() {
			return w.WriteByte(0)
		}
		if err := w.WriteByte(1); err != nil {
			return err
		}
		if w.Registry == nil {
			return rpcerr.NotImplemented(nil)
		}
		return w.Registry.EncodeDynamic(w, v.Interface())

	default:
		return rpcerr.InvalidArgument(nil)
	}
}

func fixedInt(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Int8:
		return int8(v.Int())
	case reflect.Int16:
		return int16(v.Int())
	case reflect.Int32:
		return int32(v.Int())
	default:
		return v.Int()
	}
}

func fixedUint(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Uint8:
		return uint8(v.Uint())
	case reflect.Uint16:
		return uint16(v.Uint())
	case reflect.Uint32:
		return uint32(v.Uint())
	default:
		return v.Uint()
	}
}

func encodeBytes(w *Writer, b []byte) error {
	if err := WriteVarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	if err != nil {
		return rpcerr.IOError(err)
	}
	return nil
}

// encodeTuple writes a Pair[A, B] (or any arpcTuple) as its fields in
// order with no arity prefix: the static type already fixes the arity.
func encodeTuple(w *Writer, v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		if err := encodeValue(w, v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

// encodeSet writes a Set[T] (key == value) as a count followed by each
// key, distinct from encodeMap's pair framing.
func encodeSet(w *Writer, v reflect.Value) error {
	keys := v.MapKeys()
	if err := WriteVarint(w, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := encodeValue(w, k); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(w *Writer, v reflect.Value) error {
	keys := v.MapKeys()
	if err := WriteVarint(w, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := encodeValue(w, k); err != nil {
			return err
		}
		if err := encodeValue(w, v.MapIndex(k)); err != nil {
			return err
		}
	}
	return nil
}

func encodeStruct(w *Writer, v reflect.Value) error {
	bases, fields := typehash.SplitFields(v.Type())

	for _, b := range bases {
		if err := encodeValue(w, v.FieldByIndex(b.Index)); err != nil {
			return err
		}
	}
	for _, f := range fields {
		if err := encodeValue(w, v.FieldByIndex(f.Index)); err != nil {
			return err
		}
	}

	av := v
	if !av.CanAddr() {
		tmp := reflect.New(v.Type()).Elem()
		tmp.Set(v)
		av = tmp
	}

	if vv, ok := av.Addr().Interface().(typehash.Versioned); ok && vv.Version() != 0 {
		if cs, ok := av.Addr().Interface().(customSaver); ok {
			return cs.SaveCustom(w)
		}
	}
	return nil
}

// customSaver is implemented by a struct opting into spec §4.2's "custom
// save/load" path instead of plain field-by-field framing.
type customSaver interface {
	SaveCustom(w *Writer) error
}

// encodeSharedLike writes the shared/weak identity-table framing common
// to Shared[T] and Weak[T] (spec §4.2 "shared"/"weak"): 0 for null, the
// current table size for a first sighting (content follows), or a
// smaller id aliasing an earlier entry.
func encodeSharedLike(w *Writer, v reflect.Value, weak bool) error {
	var ptr interface{}
	var isNil bool
	if weak {
		wl := v.Interface().(typehash.WeakLike)
		ptr, isNil = wl.WeakPtr()
	} else {
		sl := v.Interface().(typehash.SharedLike)
		ptr, isNil = sl.SharedPtr()
	}

	if isNil {
		return w.WriteByte(0)
	}

	key := reflect.ValueOf(ptr).Pointer()
	if id, ok := w.shared[key]; ok {
		return WriteVarint(w, id)
	}

	id := w.nextID
	w.nextID++
	w.shared[key] = id
	if err := WriteVarint(w, id); err != nil {
		return err
	}

	return encodeValue(w, reflect.ValueOf(ptr).Elem())
}
