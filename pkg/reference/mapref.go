package reference

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"odmcore/pkg/mapping"
)

type entry struct {
	key string
	id  ID
}

// Map is a lazily resolved string-keyed map of references. Keys keep the
// order in which they were stored; documents decoded from JSON objects carry
// no order, so their keys are sorted at decode time.
type Map[T any] struct {
	cell cell[[]entry, map[string]T]
	keys []string

	groups            *Collation
	defaultCollection string
}

// NewMap returns a map already resolved to values.
func NewMap[T any](values map[string]T) Map[T] {
	var mr Map[T]
	mr.Set(values)
	return mr
}

// MapOf returns an unresolved map over ids.
func MapOf[T any](ids map[string]ID) Map[T] {
	var mr Map[T]
	mr.cell.capture(entriesOf(ids))
	return mr
}

// Get resolves the map on first use, batching by collection as List does.
// Keys whose target is missing are dropped from the result.
func (mr *Map[T]) Get(ctx context.Context, src Source) (map[string]T, error) {
	return mr.cell.get(func(entries []entry, captured bool) (map[string]T, error) {
		if !captured || len(entries) == 0 {
			mr.keys = nil
			return nil, nil
		}
		def, groups := mr.defaultCollection, mr.groups
		if groups == nil {
			def = src.Mapper().DefaultCollection(elemType[T]())
			groups = NewCollation()
			for _, e := range entries {
				Collate(def, groups, e.id)
			}
		}
		found, err := fetchAll(ctx, src, groups)
		if err != nil {
			return nil, err
		}
		out := make(map[string]T, len(entries))
		keys := make([]string, 0, len(entries))
		for _, e := range entries {
			hit, ok := found.find(def, e.id)
			if !ok {
				continue
			}
			v, err := as[T](hit)
			if err != nil {
				return nil, err
			}
			out[e.key] = v
			keys = append(keys, e.key)
		}
		mr.keys = keys
		return out, nil
	})
}

// Set replaces the map with in-memory values.
func (mr *Map[T]) Set(values map[string]T) {
	mr.groups, mr.defaultCollection = nil, ""
	mr.keys = sortedKeys(values)
	mr.cell.settle(values)
}

// Keys returns the keys of the resolved values, or of the stored ids when
// unresolved, in order.
func (mr *Map[T]) Keys() []string {
	if mr.cell.resolved {
		return mr.orderedKeys()
	}
	keys := make([]string, 0, len(mr.cell.ids))
	for _, e := range mr.cell.ids {
		keys = append(keys, e.key)
	}
	return keys
}

// IsResolved reports whether the values have been loaded or set.
func (mr *Map[T]) IsResolved() bool { return mr.cell.resolved }

// Type is not available for map references.
func (mr *Map[T]) Type() (reflect.Type, error) {
	return nil, fmt.Errorf("%w: type of a map reference", ErrUnsupported)
}

// Encode returns key to stored id for the current values. Unresolved maps
// encode to nil.
func (mr *Map[T]) Encode(m *mapping.Mapper) (any, error) {
	if !mr.cell.resolved {
		return nil, nil
	}
	entries, err := mr.wrapAll(m)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.key] = e.id.Wire()
	}
	return out, nil
}

// IDs returns key to stored id. When the map was built in memory the ids are
// derived from the values once and kept; decoding their wire form yields an
// equivalent map.
func (mr *Map[T]) IDs(m *mapping.Mapper) (map[string]ID, error) {
	if !mr.cell.captured {
		if !mr.cell.resolved {
			return nil, nil
		}
		entries, err := mr.wrapAll(m)
		if err != nil {
			return nil, err
		}
		mr.cell.remember(entries)
	}
	out := make(map[string]ID, len(mr.cell.ids))
	for _, e := range mr.cell.ids {
		out[e.key] = e.id
	}
	return out, nil
}

func (mr *Map[T]) wrapAll(m *mapping.Mapper) ([]entry, error) {
	entries := make([]entry, 0, len(mr.cell.values))
	for _, k := range mr.orderedKeys() {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		id, err := WrapID(m, elemType[T](), mr.cell.values[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		entries = append(entries, entry{key: k, id: id})
	}
	return entries, nil
}

// orderedKeys follows the recorded order and appends keys added to the
// resolved map in place.
func (mr *Map[T]) orderedKeys() []string {
	keys := make([]string, 0, len(mr.cell.values))
	seen := make(map[string]struct{}, len(mr.keys))
	for _, k := range mr.keys {
		if _, ok := mr.cell.values[k]; ok {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	var extra []string
	for k := range mr.cell.values {
		if _, ok := seen[k]; !ok {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return append(keys, extra...)
}

// checkKey rejects keys that would collide with the stored pointer form.
func checkKey(k string) error {
	if strings.HasPrefix(k, "$") {
		return fmt.Errorf("%w: map key %q starts with $", ErrShapeMismatch, k)
	}
	return nil
}

func entriesOf(ids map[string]ID) []entry {
	entries := make([]entry, 0, len(ids))
	for _, k := range sortedKeys(ids) {
		entries = append(entries, entry{key: k, id: ids[k]})
	}
	return entries
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
