package wire

import (
	"reflect"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/typehash"
)

// Decode reads a structural representation into *ptr (spec §4.2). ptr
// must be a non-nil pointer; its pointee's type drives the walk exactly
// as Encode's argument type did on the writing side.
func Decode(r *Reader, ptr interface{}) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return rpcerr.InvalidArgument(nil)
	}
	target := rv.Elem()

	if r.VerifyStructure {
		got, err := ReadVarint(r)
		if err != nil {
			return err
		}
		want := uint64(typehash.OfType(target.Type()))
		if got != want {
			return rpcerr.DataMismatch(nil)
		}
	}

	return decodeValue(r, target)
}

func decodeValue(r *Reader, v reflect.Value) error {
	t := v.Type()

	switch {
	case typehash.IsShared(t):
		return decodeSharedLike(r, v, false)
	case typehash.IsWeak(t):
		return decodeSharedLike(r, v, true)
	case typehash.IsSet(t):
		return decodeSet(r, v)
	case typehash.IsTuple(t):
		return decodeTuple(r, v)
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := r.ReadByte()
		if err != nil {
			return classifyIOErr(err)
		}
		v.SetBool(b != 0)
		return nil

	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return decodeFixedInt(r, v)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint, reflect.Uintptr:
		return decodeFixedUint(r, v)
	case reflect.Float32:
		var f float32
		if err := r.readFixed(&f); err != nil {
			return classifyIOErr(err)
		}
		v.SetFloat(float64(f))
		return nil
	case reflect.Float64:
		var f float64
		if err := r.readFixed(&f); err != nil {
			return classifyIOErr(err)
		}
		v.SetFloat(f)
		return nil

	case reflect.String:
		b, err := decodeBytes(r)
		if err != nil {
			return err
		}
		v.SetString(string(b))
		return nil

	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := decodeValue(r, v.Index(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, err := decodeBytes(r)
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		}
		n, err := ReadVarint(r)
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(t, int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := decodeValue(r, out.Index(i)); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil

	case reflect.Map:
		return decodeMap(r, v)

	case reflect.Ptr:
		b, err := r.ReadByte()
		if err != nil {
			return classifyIOErr(err)
		}
		if b == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}
		elem := reflect.New(t.Elem())
		if err := decodeValue(r, elem.Elem()); err != nil {
			return err
		}
		v.Set(elem)
		return nil

	case reflect.Struct:
		return decodeStruct(r, v)

	case reflect.Interface:
		b, err := r.ReadByte()
		if err != nil {
			return classifyIOErr(err)
		}
		if b == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}
		if r.Registry == nil {
			return rpcerr.NotImplemented(nil)
		}
		dv, err := r.Registry.DecodeDynamic(r)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(dv))
		return nil

	default:
		return rpcerr.InvalidArgument(nil)
	}
}

func classifyIOErr(err error) error {
	if err == nil {
		return nil
	}
	return rpcerr.IOError(err)
}

func decodeFixedInt(r *Reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Int8:
		var x int8
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetInt(int64(x))
	case reflect.Int16:
		var x int16
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetInt(int64(x))
	case reflect.Int32:
		var x int32
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetInt(int64(x))
	default:
		var x int64
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetInt(x)
	}
	return nil
}

func decodeFixedUint(r *Reader, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Uint8:
		var x uint8
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetUint(uint64(x))
	case reflect.Uint16:
		var x uint16
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetUint(uint64(x))
	case reflect.Uint32:
		var x uint32
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetUint(uint64(x))
	default:
		var x uint64
		if err := r.readFixed(&x); err != nil {
			return classifyIOErr(err)
		}
		v.SetUint(x)
	}
	return nil
}

func decodeBytes(r *Reader) ([]byte, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, classifyIOErr(err)
	}
	return buf, nil
}

func decodeTuple(r *Reader, v reflect.Value) error {
	for i := 0; i < v.NumField(); i++ {
		if err := decodeValue(r, v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func decodeSet(r *Reader, v reflect.Value) error {
	n, err := ReadVarint(r)
	if err != nil {
		return err
	}
	t := v.Type()
	out := reflect.MakeMapWithSize(t, int(n))
	elemZero := reflect.Zero(t.Elem())
	for i := 0; i < int(n); i++ {
		k := reflect.New(t.Key()).Elem()
		if err := decodeValue(r, k); err != nil {
			return err
		}
		out.SetMapIndex(k, elemZero)
	}
	v.Set(out)
	return nil
}

func decodeMap(r *Reader, v reflect.Value) error {
	n, err := ReadVarint(r)
	if err != nil {
		return err
	}
	t := v.Type()
	out := reflect.MakeMapWithSize(t, int(n))
	for i := 0; i < int(n); i++ {
		k := reflect.New(t.Key()).Elem()
		if err := decodeValue(r, k); err != nil {
			return err
		}
		val := reflect.New(t.Elem()).Elem()
		if err := decodeValue(r, val); err != nil {
			return err
		}
		out.SetMapIndex(k, val)
	}
	v.Set(out)
	return nil
}

func decodeStruct(r *Reader, v reflect.Value) error {
	bases, fields := typehash.SplitFields(v.Type())

	for _, b := range bases {
		if err := decodeValue(r, v.FieldByIndex(b.Index)); err != nil {
			return err
		}
	}
	for _, f := range fields {
		if err := decodeValue(r, v.FieldByIndex(f.Index)); err != nil {
			return err
		}
	}

	if vv, ok := v.Addr().Interface().(typehash.Versioned); ok && vv.Version() != 0 {
		if cl, ok := v.Addr().Interface().(customLoader); ok {
			return cl.LoadCustom(r)
		}
	}
	return nil
}

// customLoader is decodeStruct's counterpart to customSaver.
type customLoader interface {
	LoadCustom(r *Reader) error
}

// decodeSharedLike is encodeSharedLike's mirror: id 0 is null, an id
// equal to the table's current length is a first sighting (content
// follows and is appended to the table before recursing, so a
// self-referential object resolves its own in-flight entry), and any
// smaller id aliases a previously decoded object.
func decodeSharedLike(r *Reader, v reflect.Value, weak bool) error {
	id, err := ReadVarint(r)
	if err != nil {
		return err
	}
	if id == 0 {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}

	elemType := typehash.ElemType(v.Type())

	if int(id) < len(r.shared) {
		return setSharedLike(v, r.shared[id], weak)
	}
	if int(id) != len(r.shared) {
		return rpcerr.DataMismatch(nil)
	}

	ptr := reflect.New(elemType)
	r.shared = append(r.shared, ptr)

	if err := decodeValue(r, ptr.Elem()); err != nil {
		return err
	}
	return setSharedLike(v, ptr, weak)
}

func setSharedLike(v reflect.Value, ptr reflect.Value, weak bool) error {
	if weak {
		v.Addr().Interface().(typehash.WeakSetter).SetWeakPtr(ptr.Interface())
	} else {
		v.Addr().Interface().(typehash.SharedSetter).SetSharedPtr(ptr.Interface())
	}
	return nil
}
