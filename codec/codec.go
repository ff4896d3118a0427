// Package codec implements the self-describing binary encoding used for
// node arguments and results: a length-prefixed msgpack wire
// format with four reserved extension tags (UUID, duration, a single
// dependency reference, and a tuple of dependency references), plus an
// Entity helper that serialises application objects as ordered
// positional maps keyed by declaration index so renaming a Go field
// never shifts the wire representation of the ones around it.
//
// Grounded on original_source/src/mycelia/utils.py's Codec/Entity,
// re-expressed over github.com/vmihailenco/msgpack/v5's extension-type
// registry instead of ormsgpack.
package codec

import (
	"math"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mycelia/mycelia/errors"
)

// Reserved extension tags for the wire format.
const (
	TagUUID           int8 = 0
	TagDuration       int8 = 1
	TagDependencyRef  int8 = 2
	TagDependencyRefs int8 = 3
)

func init() {
	msgpack.RegisterExt(TagUUID, (*uuid.UUID)(nil))
	msgpack.RegisterExt(TagDuration, (*Duration)(nil))
	msgpack.RegisterExt(TagDependencyRef, (*DependencyRef)(nil))
	msgpack.RegisterExt(TagDependencyRefs, (*DependencyRefs)(nil))
}

// Duration encodes a time.Duration as seconds in a float64, matching
// the original codec's timedelta extension.
type Duration float64

// MarshalBinary implements encoding.BinaryMarshaler.
func (d Duration) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	bits := math.Float64bits(float64(d))
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Duration) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return errors.Newf("codec: duration extension must be 8 bytes, got %d", len(data))
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(data[i]) << (8 * i)
	}
	*d = Duration(math.Float64frombits(bits))
	return nil
}

// DependencyRef is a single unresolved data-dependency reference placed
// into a NodeCall's argument map before admission (tag 2).
type DependencyRef uuid.UUID

// MarshalBinary implements encoding.BinaryMarshaler.
func (r DependencyRef) MarshalBinary() ([]byte, error) {
	return uuid.UUID(r).MarshalBinary()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *DependencyRef) UnmarshalBinary(data []byte) error {
	return (*uuid.UUID)(r).UnmarshalBinary(data)
}

// DependencyRefs is an ordered tuple of unresolved data-dependency
// references, used by group() to populate a positional argument tuple
// (tag 3).
type DependencyRefs []uuid.UUID

// MarshalBinary implements encoding.BinaryMarshaler: concatenated
// 16-byte UUIDs, forming a tuple of dependency references.
func (r DependencyRefs) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(r)*16)
	for _, id := range r {
		b, err := id.MarshalBinary()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *DependencyRefs) UnmarshalBinary(data []byte) error {
	if len(data)%16 != 0 {
		return errors.Newf("codec: dependency-ref tuple must be a multiple of 16 bytes, got %d", len(data))
	}
	out := make(DependencyRefs, len(data)/16)
	for i := range out {
		if err := out[i].UnmarshalBinary(data[i*16 : (i+1)*16]); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

// Encode serialises a value to the wire format. Scalars round-trip
// verbatim; maps may use non-string keys.
func Encode(value any) ([]byte, error) {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "codec: encode")
	}
	return b, nil
}

// Decode deserialises bytes produced by Encode into dst, which must be
// a pointer.
func Decode(data []byte, dst any) error {
	if err := msgpack.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "codec: decode")
	}
	return nil
}
