package reference

import (
	"context"
	"reflect"

	"odmcore/pkg/mapping"
)

type present[T any] struct {
	value T
	ok    bool
}

// Ref is a lazily resolved reference to a single entity of type T. The zero
// value is an empty reference.
type Ref[T any] struct {
	cell cell[ID, present[T]]
}

// NewRef returns a reference already resolved to value.
func NewRef[T any](value T) Ref[T] {
	var r Ref[T]
	r.Set(value)
	return r
}

// RefTo returns an unresolved reference to id.
func RefTo[T any](id ID) Ref[T] {
	var r Ref[T]
	if !id.IsZero() {
		r.cell.capture(id)
	}
	return r
}

// Get resolves the reference on first use with a single lookup and returns
// the cached result afterwards. ok is false when no document matches.
func (r *Ref[T]) Get(ctx context.Context, src Source) (value T, ok bool, err error) {
	p, err := r.cell.get(func(id ID, captured bool) (present[T], error) {
		if !captured {
			return present[T]{}, nil
		}
		def := src.Mapper().DefaultCollection(elemType[T]())
		found, err := fetchAll(ctx, src, collateAll(def, []ID{id}))
		if err != nil {
			return present[T]{}, err
		}
		e, hit := found.find(def, id)
		if !hit {
			return present[T]{}, nil
		}
		v, err := as[T](e)
		if err != nil {
			return present[T]{}, err
		}
		return present[T]{value: v, ok: true}, nil
	})
	return p.value, p.ok, err
}

// Set replaces the target with an in-memory value.
func (r *Ref[T]) Set(value T) {
	r.cell.settle(present[T]{value: value, ok: !isNil(value)})
}

// IsResolved reports whether the target has been loaded or set.
func (r *Ref[T]) IsResolved() bool { return r.cell.resolved }

// Type returns the element type.
func (r *Ref[T]) Type() (reflect.Type, error) { return elemType[T](), nil }

// Encode returns the stored id of the resolved value, or nil when the
// reference is unresolved or resolved to nothing. It never fetches.
func (r *Ref[T]) Encode(m *mapping.Mapper) (any, error) {
	if !r.cell.resolved || !r.cell.values.ok {
		return nil, nil
	}
	id, err := WrapID(m, elemType[T](), r.cell.values.value)
	if err != nil {
		return nil, err
	}
	return id.Wire(), nil
}

// ID returns the id the reference points to, deriving it from the resolved
// value when none was stored.
func (r *Ref[T]) ID(m *mapping.Mapper) (ID, bool, error) {
	if r.cell.captured {
		return r.cell.ids, true, nil
	}
	if !r.cell.resolved || !r.cell.values.ok {
		return ID{}, false, nil
	}
	id, err := WrapID(m, elemType[T](), r.cell.values.value)
	if err != nil {
		return ID{}, false, err
	}
	r.cell.remember(id)
	return id, true, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
