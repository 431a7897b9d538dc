package server

import (
	"context"
	"reflect"
	"sync"

	"github.com/sandia-minimega/arpc/rpcerr"
	"github.com/sandia-minimega/arpc/typehash"
	"github.com/sandia-minimega/arpc/wire"
)

// MethodDescriptor binds one method name to a strongly-typed handler, the
// Go stand-in for the original's compile-time member-pointer dispatch
// closure (spec §4.9 "invokes the method via a compile-time-known member
// pointer, and packages the result"). Build one with Method.
type MethodDescriptor struct {
	Name string
	hash uint64
	call func(ctx context.Context, obj interface{}, r *wire.Reader, w *wire.Writer) error
}

// Method builds a MethodDescriptor whose wire argument type is A and
// whose Go implementation is fn. The installed handler decodes one A off
// the wire, invokes fn against the registered object (type-asserted to
// O), and wraps the return value or error in a result_holder.
func Method[O, A, R any](name string, fn func(ctx context.Context, obj O, args A) (R, error)) MethodDescriptor {
	var a A
	hash := uint64(typehash.OfType(reflect.TypeOf(a)))

	return MethodDescriptor{
		Name: name,
		hash: hash,
		call: func(ctx context.Context, obj interface{}, r *wire.Reader, w *wire.Writer) error {
			var args A
			if err := wire.Decode(r, &args); err != nil {
				return err
			}
			result, callErr := fn(ctx, obj.(O), args)
			return wire.EncodeResult(w, result, callErr)
		},
	}
}

// Interface is one of the original's "traits expose an ordered list of
// base interfaces and a pack of method descriptors" (spec §4.9 "Object
// registration"). Bases lists every interface this one extends; Register
// walks Bases recursively so a method declared on a distant ancestor is
// installed exactly as if it were declared directly — the REDESIGN FLAG
// fix for "every extended interface is independently registrable and
// dispatchable" (§9 open questions).
type Interface struct {
	Name    string
	Bases   []*Interface
	Methods []MethodDescriptor
}

type methodHandler struct {
	hash uint64
	call func(ctx context.Context, obj interface{}, r *wire.Reader, w *wire.Writer) error
}

type objectEntry struct {
	value    interface{}
	handlers map[string]*methodHandler
}

// objectTable is the server's (object name) -> handler-set map (spec
// §4.9 "look up object entry under the objects-mutex").
type objectTable struct {
	mu      sync.RWMutex
	objects map[string]*objectEntry
}

func newObjectTable() *objectTable {
	return &objectTable{objects: make(map[string]*objectEntry)}
}

// register installs obj under name, walking iface and every interface it
// (transitively) extends and installing one handler per method for each
// — so an object implementing interfaces A and B is dispatchable on
// both, regardless of which one the caller passed as iface.
func (t *objectTable) register(name string, obj interface{}, iface *Interface) error {
	entry := &objectEntry{value: obj, handlers: make(map[string]*methodHandler)}

	seen := make(map[*Interface]bool)
	var walk func(i *Interface)
	walk = func(i *Interface) {
		if i == nil || seen[i] {
			return
		}
		seen[i] = true
		for _, m := range i.Methods {
			entry.handlers[m.Name] = &methodHandler{hash: m.hash, call: m.call}
		}
		for _, b := range i.Bases {
			walk(b)
		}
	}
	walk(iface)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.objects[name]; exists {
		return rpcerr.InvalidState(nil)
	}
	t.objects[name] = entry
	return nil
}

// unregister removes name. In-flight dispatches already holding a
// reference to the object run to completion; only new lookups are
// affected (spec §5 "unregistration does not wait for in-flight
// requests but prevents new dispatches").
func (t *objectTable) unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, name)
}

// lookup resolves (object, method, hash) to the registered value and
// handler, or a not_found/data_mismatch error (spec §4.9 step 2).
func (t *objectTable) lookup(objectName, methodName string, hash uint64) (interface{}, *methodHandler, error) {
	t.mu.RLock()
	entry, ok := t.objects[objectName]
	t.mu.RUnlock()
	if !ok {
		return nil, nil, rpcerr.NotFound(nil)
	}

	h, ok := entry.handlers[methodName]
	if !ok {
		return nil, nil, rpcerr.NotFound(nil)
	}
	if h.hash != hash {
		return nil, nil, rpcerr.DataMismatch(nil)
	}
	return entry.value, h, nil
}
