// Package codec implements the "self-describing, map-keyed binary
// encoding" collaborator spec.md §1/§6 keeps external, concretely backed by
// CBOR (github.com/fxamacker/cbor/v2): every field is keyed by its string
// name, tagged enums encode as a single-entry map, and optional values
// encode as the inner value or null — all native CBOR behavior, so no
// custom framing is needed on top of it.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
	"github.com/tickforge/ecsengine/pkg/encoding"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes v to its canonical CBOR form.
func Encode(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ecserr.ErrEncode, err)
	}
	return b, nil
}

// Decode deserializes b into v, which must be a pointer.
func Decode(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ecserr.ErrDecode, err)
	}
	return nil
}

// Serializable implements encoding.Serializable[T] over the CBOR codec, so
// component values and wire messages share one encode/decode pair.
type Serializable[T any] struct {
	Value T
}

var _ encoding.Serializable[any] = (*Serializable[any])(nil)

// Serialize encodes the wrapped value.
func (s Serializable[T]) Serialize() ([]byte, error) { return Encode(s.Value) }

// Deserialize decodes into the wrapped value.
func (s *Serializable[T]) Deserialize(b []byte) error { return Decode(b, &s.Value) }
