// Package registry implements the process-wide dynamic class registry
// (spec §4.3): a lookup from portable class name to factory, per-codec
// encoder, and per-codec decoder, plus base-class subclass sets used to
// validate shared-pointer decoding across an open class hierarchy.
//
// Grounded on minimega's own module-initializer idiom (ron and meshage
// both call gob.Register from an init() to add a type to a process-wide
// table before first use); this package generalizes that single global
// gob registry into named per-class entries with independent encode and
// decode functions, following spec §4.2/§4.3 instead of gob's wire shape.
package registry

import (
	"reflect"
	"sync"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/typehash"
	"github.com/sandia-minimega/arpc/wire"
)

// Factory constructs a default-initialized instance of a registered
// class, to be populated by the decoder.
type Factory func() interface{}

// Encoder writes a registered class's own fields (after the class-table
// framing has already been written by the registry).
type Encoder func(w *wire.Writer, v interface{}) error

// Decoder reads a registered class's own fields into the value factory
// already produced (after the class-table framing has already been read
// by the registry).
type Decoder func(r *wire.Reader, v interface{}) error

type entry struct {
	factory Factory
	encode  Encoder
	decode  Decoder
	hash    uint32
}

// Registry is a dynamic class table, safe for concurrent use. The
// zero value is usable; New is provided for clarity and for tests that
// want an isolated table instead of the process-wide Default.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*entry
	subclass map[string]map[string]struct{} // base class name -> set of registered subclass names
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*entry),
		subclass: make(map[string]map[string]struct{}),
	}
}

// Default is a process-wide registry for callers that want one shared
// table. client and server use only the Registry set in their Config;
// they do not fall back to Default when none is set.
var Default = New()

// Register installs name with its factory, per-codec encoder and
// decoder, and records it under its own subclass set and every base
// class's subclass set (spec §4.3). Registering the same name twice
// fails.
func (r *Registry) Register(name string, t reflect.Type, bases []string, factory Factory, enc Encoder, dec Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName == nil {
		r.byName = make(map[string]*entry)
	}
	if r.subclass == nil {
		r.subclass = make(map[string]map[string]struct{})
	}
	if _, exists := r.byName[name]; exists {
		return rpcerr.InvalidState(nil)
	}

	r.byName[name] = &entry{factory: factory, encode: enc, decode: dec, hash: typehash.OfType(t)}

	r.addSubclass(name, name)
	for _, b := range bases {
		r.addSubclass(b, name)
	}
	return nil
}

func (r *Registry) addSubclass(base, name string) {
	set, ok := r.subclass[base]
	if !ok {
		set = make(map[string]struct{})
		r.subclass[base] = set
	}
	set[name] = struct{}{}
}

// IsSubclass reports whether name was registered under base: either base
// is name itself or it was one of the bases passed to Register for name
// (spec §4.3 "subclass-check"). Bases of those bases are not followed.
func (r *Registry) IsSubclass(base, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.subclass[base]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, rpcerr.NotFound(nil)
	}
	return e, nil
}

// EncodeDynamic implements wire.Registry: writes the class-table framing
// (spec §4.2 "Polymorphic (dynamic) objects") then v's registered fields.
// v must be a pointer to a type registered under its own portable name
// via a prior Register call whose factory produces the same dynamic type.
func (r *Registry) EncodeDynamic(w *wire.Writer, v interface{}) error {
	name, ok := ClassNameOf(v)
	if !ok {
		return rpcerr.NotFound(nil)
	}

	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	if w.ClassIDs == nil {
		w.ClassIDs = make(map[string]uint64)
	}
	ids := w.ClassIDs
	if id, seen := ids[name]; seen {
		return wire.WriteVarint(w, id)
	}

	id := uint64(len(ids))
	ids[name] = id
	if err := wire.WriteVarint(w, id); err != nil {
		return err
	}
	if err := wire.WriteVarint(w, uint64(len(name))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(name)); err != nil {
		return rpcerr.IOError(err)
	}
	if err := wire.WriteVarint(w, uint64(e.hash)); err != nil {
		return err
	}

	return e.encode(w, v)
}

// DecodeDynamic implements wire.Registry: reads the class-table framing,
// constructs a default instance via the matching factory, and fills it
// with the registered decoder.
func (r *Registry) DecodeDynamic(rd *wire.Reader) (interface{}, error) {
	if rd.ClassNames == nil {
		rd.ClassNames = make(map[uint64]string)
	}
	names := rd.ClassNames

	id, err := wire.ReadVarint(rd)
	if err != nil {
		return nil, err
	}

	name, seen := names[id]
	if !seen {
		nlen, err := wire.ReadVarint(rd)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, nlen)
		if _, err := rd.Read(buf); err != nil {
			return nil, rpcerr.IOError(err)
		}
		name = string(buf)

		wantHash, err := wire.ReadVarint(rd)
		if err != nil {
			return nil, err
		}

		e, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		if uint64(e.hash) != wantHash {
			return nil, rpcerr.DataMismatch(nil)
		}

		names[id] = name
	}

	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	v := e.factory()
	if err := e.decode(rd, v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterStruct registers T under name using wire's own generic
// encode/decode as the per-codec functions, for the common case of a
// dynamic class with no custom wire representation. bases lists the
// portable names of T's declared base interfaces (spec §4.3).
func RegisterStruct[T any](r *Registry, name string, bases []string) error {
	var zero T
	t := reflect.TypeOf(zero)

	factory := func() interface{} { return new(T) }
	enc := func(w *wire.Writer, v interface{}) error {
		return wire.Encode(w, *v.(*T))
	}
	dec := func(rd *wire.Reader, v interface{}) error {
		return wire.Decode(rd, v.(*T))
	}

	return r.Register(name, t, bases, factory, enc, dec)
}

// classNamer is implemented by any type that wants an explicit portable
// class name instead of being identified by its Go type name.
type classNamer interface{ ClassName() string }

// ClassNameOf returns the portable class name for v: v.ClassName() if it
// implements classNamer, otherwise its Go type name (package-qualified),
// matching the original's default of using the compile-time type name
// when no custom name is registered.
func ClassNameOf(v interface{}) (string, bool) {
	if n, ok := v.(classNamer); ok {
		return n.ClassName(), true
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "", false
	}
	return t.PkgPath() + "." + t.Name(), true
}
