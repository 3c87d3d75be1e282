package mapping

import (
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
)

// Document is the stored form of an entity: a JSON-compatible field map.
type Document map[string]any

// ReferenceMarshaler is implemented by reference fields that write their own
// stored form. A nil result omits the field.
type ReferenceMarshaler interface {
	MarshalReference(m *Mapper) (any, error)
}

// ReferenceUnmarshaler is implemented by reference fields that decode their
// own stored form.
type ReferenceUnmarshaler interface {
	UnmarshalReference(m *Mapper, raw any) error
}

// Encode converts a mapped entity into its document form.
func (m *Mapper) Encode(entity any) (Document, error) {
	rv, mt, err := m.structValue(entity)
	if err != nil {
		return nil, err
	}
	if !rv.CanAddr() {
		cp := reflect.New(rv.Type()).Elem()
		cp.Set(rv)
		rv = cp
	}
	doc := make(Document, len(mt.fields))
	for _, f := range mt.fields {
		fv := rv.FieldByIndex(f.index)
		if rm, ok := fv.Addr().Interface().(ReferenceMarshaler); ok {
			raw, err := rm.MarshalReference(m)
			if err != nil {
				return nil, fmt.Errorf("encode %s.%s: %w", mt.Name, f.name, err)
			}
			if raw != nil {
				doc[f.name] = raw
			}
			continue
		}
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		doc[f.name] = fv.Interface()
	}
	return doc, nil
}

// Decode populates dst, a pointer to a mapped struct, from doc. Fields absent
// from the document keep their current value.
func (m *Mapper) Decode(doc Document, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("mapping: decode needs a non-nil pointer, got %T", dst)
	}
	rv, mt, err := m.structValue(dst)
	if err != nil {
		return err
	}
	for _, f := range mt.fields {
		raw, ok := doc[f.name]
		if !ok {
			continue
		}
		fv := rv.FieldByIndex(f.index)
		if ru, ok := fv.Addr().Interface().(ReferenceUnmarshaler); ok {
			if err := ru.UnmarshalReference(m, raw); err != nil {
				return fmt.Errorf("decode %s.%s: %w", mt.Name, f.name, err)
			}
			continue
		}
		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("decode %s.%s: %w", mt.Name, f.name, err)
		}
	}
	return nil
}

// assign stores raw into dst, converting through JSON when the types differ.
func assign(dst reflect.Value, raw any) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(dst.Type()) {
		dst.Set(rv)
		return nil
	}
	if isScalar(rv.Kind()) && isScalar(dst.Kind()) && rv.Type().ConvertibleTo(dst.Type()) &&
		(rv.Kind() == reflect.String) == (dst.Kind() == reflect.String) {
		dst.Set(rv.Convert(dst.Type()))
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst.Addr().Interface())
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
