package codec

import (
	"reflect"

	"github.com/mycelia/mycelia/errors"
)

// EncodeEntity serialises a struct as an ordered positional map keyed by
// declaration index, matching the original Codec.Entity.to_bytes: field
// N's wire key is N regardless of its name, so renaming a field never
// changes the wire format. v must be a struct or a pointer to one.
func EncodeEntity(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return Encode(map[int]any{})
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Newf("codec: EncodeEntity requires a struct, got %s", rv.Kind())
	}

	remapped := make(map[int]any, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Type().Field(i)
		if !field.IsExported() {
			continue
		}
		remapped[i] = rv.Field(i).Interface()
	}
	return Encode(remapped)
}

// DecodeEntity is the inverse of EncodeEntity: it decodes a positional
// map and populates dst's fields by declaration index. dst must be a
// non-nil pointer to a struct.
func DecodeEntity(data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Newf("codec: DecodeEntity requires a non-nil pointer, got %T", dst)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Struct {
		return errors.Newf("codec: DecodeEntity requires a pointer to struct, got %s", elem.Kind())
	}

	if len(data) == 0 {
		return nil
	}

	remapped := map[int]any{}
	if err := Decode(data, &remapped); err != nil {
		return err
	}

	for i := 0; i < elem.NumField(); i++ {
		value, ok := remapped[i]
		if !ok {
			continue
		}
		field := elem.Field(i)
		if !field.CanSet() {
			continue
		}
		fv := reflect.ValueOf(value)
		if !fv.Type().AssignableTo(field.Type()) {
			if fv.Type().ConvertibleTo(field.Type()) {
				fv = fv.Convert(field.Type())
			} else {
				return errors.Newf("codec: field %d: cannot assign %s to %s", i, fv.Type(), field.Type())
			}
		}
		field.Set(fv)
	}
	return nil
}
