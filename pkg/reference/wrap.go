package reference

import (
	"reflect"

	"odmcore/pkg/mapping"
)

// WrapID returns the stored id for value in a reference declared over
// declared. The id is bare when value's mapped struct is exactly the declared
// type and qualified with value's collection otherwise, so that references
// over interface element types collate to the right collection on the next
// read.
func WrapID(m *mapping.Mapper, declared reflect.Type, value any) (ID, error) {
	mt, err := m.MappedTypeOf(value)
	if err != nil {
		return ID{}, err
	}
	id, err := m.IDOf(value)
	if err != nil {
		return ID{}, err
	}
	if mapping.Indirect(declared) == mt.Type {
		return Bare(id), nil
	}
	return Qualified(mt.Collection, id), nil
}
