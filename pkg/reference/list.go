package reference

import (
	"context"
	"reflect"

	"odmcore/pkg/mapping"
)

// List is a lazily resolved ordered list of references. The zero value is an
// empty list.
type List[T any] struct {
	cell cell[[]ID, []T]

	// filled when decoded, where the mapper is at hand
	groups            *Collation
	defaultCollection string
}

// NewList returns a list already resolved to values.
func NewList[T any](values ...T) List[T] {
	var l List[T]
	l.Set(values)
	return l
}

// ListOf returns an unresolved list over ids.
func ListOf[T any](ids ...ID) List[T] {
	var l List[T]
	l.cell.capture(append([]ID(nil), ids...))
	return l
}

// Get resolves the list on first use: one query per destination collection,
// then the entities are emitted in stored id order. Ids without a matching
// document are left out, so the result may be shorter than the id list.
func (l *List[T]) Get(ctx context.Context, src Source) ([]T, error) {
	return l.cell.get(func(ids []ID, captured bool) ([]T, error) {
		if !captured || len(ids) == 0 {
			return nil, nil
		}
		def, groups := l.defaultCollection, l.groups
		if groups == nil {
			def = src.Mapper().DefaultCollection(elemType[T]())
			groups = collateAll(def, ids)
		}
		found, err := fetchAll(ctx, src, groups)
		if err != nil {
			return nil, err
		}
		out := make([]T, 0, len(ids))
		for _, id := range ids {
			e, ok := found.find(def, id)
			if !ok {
				continue
			}
			v, err := as[T](e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
}

// Set replaces the list with in-memory values.
func (l *List[T]) Set(values []T) {
	l.groups, l.defaultCollection = nil, ""
	l.cell.settle(values)
}

// Len returns the number of resolved values, or of stored ids when unresolved.
func (l *List[T]) Len() int {
	if l.cell.resolved {
		return len(l.cell.values)
	}
	return len(l.cell.ids)
}

// IsResolved reports whether the values have been loaded or set.
func (l *List[T]) IsResolved() bool { return l.cell.resolved }

// Type returns the slice type the list resolves to.
func (l *List[T]) Type() (reflect.Type, error) { return reflect.TypeFor[[]T](), nil }

// Encode returns the stored ids re-derived from the current values, so that
// changes to the list are written back. Unresolved lists encode to nil.
func (l *List[T]) Encode(m *mapping.Mapper) (any, error) {
	if !l.cell.resolved {
		return nil, nil
	}
	ids, err := l.wrapAll(m)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.Wire()
	}
	return out, nil
}

// IDs returns the stored ids, deriving them from the values when the list
// was built in memory.
func (l *List[T]) IDs(m *mapping.Mapper) ([]ID, error) {
	if l.cell.captured {
		return append([]ID(nil), l.cell.ids...), nil
	}
	if !l.cell.resolved {
		return nil, nil
	}
	ids, err := l.wrapAll(m)
	if err != nil {
		return nil, err
	}
	l.cell.remember(ids)
	return append([]ID(nil), ids...), nil
}

func (l *List[T]) wrapAll(m *mapping.Mapper) ([]ID, error) {
	ids := make([]ID, 0, len(l.cell.values))
	for _, v := range l.cell.values {
		id, err := WrapID(m, elemType[T](), v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
