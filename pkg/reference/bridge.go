package reference

import (
	"fmt"
	"reflect"

	"odmcore/pkg/mapping"
)

// Handle is the behaviour shared by every reference variant.
type Handle interface {
	mapping.ReferenceMarshaler
	mapping.ReferenceUnmarshaler
	IsResolved() bool
	Type() (reflect.Type, error)
}

var (
	_ Handle = (*Ref[any])(nil)
	_ Handle = (*List[any])(nil)
	_ Handle = (*Map[any])(nil)
)

// MarshalReference writes the resolved value's id, or the stored id when the
// reference was never resolved. It never fetches.
func (r *Ref[T]) MarshalReference(m *mapping.Mapper) (any, error) {
	if r.cell.resolved {
		return r.Encode(m)
	}
	if r.cell.captured {
		return r.cell.ids.Wire(), nil
	}
	return nil, nil
}

// UnmarshalReference captures a stored id without fetching.
func (r *Ref[T]) UnmarshalReference(_ *mapping.Mapper, raw any) error {
	if raw == nil {
		*r = Ref[T]{}
		return nil
	}
	id, err := ParseID(raw)
	if err != nil {
		return err
	}
	*r = RefTo[T](id)
	return nil
}

// MarshalReference writes ids derived from the current values when resolved
// and the stored ids otherwise.
func (l *List[T]) MarshalReference(m *mapping.Mapper) (any, error) {
	if l.cell.resolved {
		return l.Encode(m)
	}
	if !l.cell.captured {
		return nil, nil
	}
	out := make([]any, len(l.cell.ids))
	for i, id := range l.cell.ids {
		out[i] = id.Wire()
	}
	return out, nil
}

// UnmarshalReference captures a stored id list and collates it by
// destination collection.
func (l *List[T]) UnmarshalReference(m *mapping.Mapper, raw any) error {
	if raw == nil {
		*l = List[T]{}
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("%w: list reference stored as %T", ErrShapeMismatch, raw)
	}
	ids := make([]ID, 0, len(items))
	for i, item := range items {
		id, err := ParseID(item)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	*l = ListOf[T](ids...)
	l.defaultCollection = m.DefaultCollection(elemType[T]())
	l.groups = collateAll(l.defaultCollection, ids)
	return nil
}

// MarshalReference writes key to id derived from the current values when
// resolved and the stored ids otherwise.
func (mr *Map[T]) MarshalReference(m *mapping.Mapper) (any, error) {
	if mr.cell.resolved {
		return mr.Encode(m)
	}
	if !mr.cell.captured {
		return nil, nil
	}
	out := make(map[string]any, len(mr.cell.ids))
	for _, e := range mr.cell.ids {
		if err := checkKey(e.key); err != nil {
			return nil, err
		}
		out[e.key] = e.id.Wire()
	}
	return out, nil
}

// UnmarshalReference captures a stored key to id object and collates it by
// destination collection.
func (mr *Map[T]) UnmarshalReference(m *mapping.Mapper, raw any) error {
	if raw == nil {
		*mr = Map[T]{}
		return nil
	}
	var obj map[string]any
	switch v := raw.(type) {
	case map[string]any:
		obj = v
	case mapping.Document:
		obj = v
	default:
		return fmt.Errorf("%w: map reference stored as %T", ErrShapeMismatch, raw)
	}
	if _, ok := obj[RefKey]; ok {
		return fmt.Errorf("%w: map reference stored as a single pointer", ErrShapeMismatch)
	}
	ids := make(map[string]ID, len(obj))
	for k, item := range obj {
		if err := checkKey(k); err != nil {
			return err
		}
		id, err := ParseID(item)
		if err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		ids[k] = id
	}
	*mr = MapOf[T](ids)
	mr.defaultCollection = m.DefaultCollection(elemType[T]())
	mr.groups = NewCollation()
	for _, e := range mr.cell.ids {
		Collate(mr.defaultCollection, mr.groups, e.id)
	}
	return nil
}
