package server

import "github.com/sandia-minimega/arpc/wire"

// ObjectNameDecoder is the server-side counterpart of client.ObjectNameEncoder
// (SPEC_FULL's object-name pluggability supplement, spec §6 "object_name_bytes
// is the chosen ObjectNameEncoder's output"). It must decode whatever the
// peer's encoder produced.
type ObjectNameDecoder interface {
	DecodeObjectName(r *wire.Reader) (string, error)
}

// StringObjectNameDecoder is the default, matching
// client.StringObjectNameEncoder: the object name travels as a plain
// structural string.
type StringObjectNameDecoder struct{}

func (StringObjectNameDecoder) DecodeObjectName(r *wire.Reader) (string, error) {
	var name string
	if err := wire.Decode(r, &name); err != nil {
		return "", err
	}
	return name, nil
}
