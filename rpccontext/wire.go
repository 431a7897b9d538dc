package rpccontext

import (
	"reflect"
	"time"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/wire"
)

// EncodeContext writes ctx's wire form (spec §6 "Context wire form":
// optional<absolute_deadline_ms_since_epoch> ‖ vector<dynamic_object>").
// Only the deadline and value map cross the wire; cancellation is local
// to each side (spec §4.7 "Serialization"). Each stored value is
// encoded through w.Registry, so every concrete type ever placed in a
// context with Set must be registered first.
func EncodeContext(w *wire.Writer, ctx *Context) error {
	ctx.mu.Lock()
	deadline := ctx.deadline
	values := make([]interface{}, 0, len(ctx.values))
	for _, v := range ctx.values {
		values = append(values, v)
	}
	ctx.mu.Unlock()

	if deadline == nil {
		if err := w.WriteByte(0); err != nil {
			return rpcerr.IOError(err)
		}
	} else {
		if err := w.WriteByte(1); err != nil {
			return rpcerr.IOError(err)
		}
		ms := deadline.UnixMilli()
		if err := wire.WriteVarint(w, uint64(ms)); err != nil {
			return err
		}
	}

	if w.Registry == nil && len(values) > 0 {
		return rpcerr.NotImplemented(nil)
	}
	if err := wire.WriteVarint(w, uint64(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		ptr := asPointer(v)
		if err := w.Registry.EncodeDynamic(w, ptr); err != nil {
			return err
		}
	}
	return nil
}

// DecodeContext reads the form EncodeContext writes, returning a fresh
// root-like Context (no parent, not yet attached to any tree) populated
// with the decoded deadline and values.
func DecodeContext(r *wire.Reader) (*Context, error) {
	has, err := r.ReadByte()
	if err != nil {
		return nil, rpcerr.IOError(err)
	}

	ctx := Root()
	if has != 0 {
		ms, err := wire.ReadVarint(r)
		if err != nil {
			return nil, err
		}
		t := time.UnixMilli(int64(ms))
		ctx.deadline = &t
	}

	n, err := wire.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if n > 0 && r.Registry == nil {
		return nil, rpcerr.NotImplemented(nil)
	}
	for i := uint64(0); i < n; i++ {
		v, err := r.Registry.DecodeDynamic(r)
		if err != nil {
			return nil, err
		}
		name := className(reflect.TypeOf(v))
		if ctx.values == nil {
			ctx.values = make(map[string]interface{})
		}
		ctx.values[name] = v
	}
	return ctx, nil
}

// asPointer returns a *T pointing at a copy of v's dynamic value,
// matching the pointer-receiver convention registry.RegisterStruct's
// factory/encoder pair expects, regardless of whether the caller's Set
// stored a plain value or the decoder had already produced a pointer.
func asPointer(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		return v
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	return ptr.Interface()
}
