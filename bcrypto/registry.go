package bcrypto

import (
	"bytes"
	"fmt"
	"reflect"
)

// Prefixes are encoded as a fixed width.
const prefixSize = 8

// Registry is a runtime-defined registry to manage encoding and decoding
// a predetermined set of public key types.
type Registry struct {
	byType map[reflect.Type]string

	// For unmarshalling.
	byPrefix map[string]NewPubKeyFunc
}

type NewPubKeyFunc func([]byte) (PubKey, error)

func (r *Registry) Register(name string, inst PubKey, newFn NewPubKeyFunc) {
	if len(name) == 0 || len(name) > prefixSize {
		panic(fmt.Errorf("BUG: registered key type name %q must be 1-%d bytes", name, prefixSize))
	}

	if r.byPrefix == nil {
		r.byPrefix = map[string]NewPubKeyFunc{}
	}
	r.byPrefix[name] = newFn

	if r.byType == nil {
		r.byType = map[reflect.Type]string{}
	}
	r.byType[reflect.TypeOf(inst)] = name
}

func (r *Registry) Marshal(pubKey PubKey) []byte {
	var nameHeader [prefixSize]byte

	typ := reflect.TypeOf(pubKey)
	prefix, ok := r.byType[typ]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to Marshal a public key that was never registered (reflect type: %s, type name: %s)",
			typ, pubKey.TypeName(),
		))
	}

	copy(nameHeader[:], prefix)

	return append(nameHeader[:], pubKey.PubKeyBytes()...)
}

// Unmarshal returns a new public key based on b,
// which should be the result of a previous call to [*Registry.Marshal].
//
// Callers should assume that the newly returned PubKey
// will retain a reference to b;
// therefore the slice must not be modified after calling Unmarshal.
func (r *Registry) Unmarshal(b []byte) (PubKey, error) {
	if len(b) < prefixSize {
		return nil, fmt.Errorf("cannot unmarshal public key: input shorter than %d-byte prefix", prefixSize)
	}
	prefix := bytes.TrimRight(b[:prefixSize], "\x00")

	fn := r.byPrefix[string(prefix)]
	if fn == nil {
		return nil, fmt.Errorf("no registered public key type for prefix %q", prefix)
	}

	return fn(b[prefixSize:])
}
