// Package query defines the small query surface the mapper needs from a
// persistence context: id filters, a builder and a closeable cursor.
package query

import (
	"context"
	"errors"

	"odmcore/pkg/mapping"
)

// IDField is the document field holding the entity identifier.
const IDField = mapping.IDField

// Operator names a filter comparison.
type Operator string

const (
	// OpIn matches documents whose field equals any of the values.
	OpIn Operator = "$in"
	// OpEq matches documents whose field equals the single value.
	OpEq Operator = "$eq"
)

// ErrUnsupportedFilter is returned by backends for filters they cannot evaluate.
var ErrUnsupportedFilter = errors.New("query: unsupported filter")

// Filter is a single field predicate.
type Filter struct {
	Field  string
	Op     Operator
	Values []any
}

// In matches documents whose field is one of values.
func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Eq matches documents whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Values: []any{value}}
}

// Query builds a lookup against one collection.
type Query interface {
	Filter(filters ...Filter) Query
	Iterator(ctx context.Context) (Cursor, error)
}

// Cursor iterates decoded entities. Callers must always Close it.
type Cursor interface {
	Next() bool
	Entity() any
	Err() error
	Close() error
}

// IDs extracts the values of every id filter, intersecting when more than one
// is present. ok is false when no filter constrains the id.
func IDs(filters []Filter) (ids []any, ok bool, err error) {
	for _, f := range filters {
		if f.Field != IDField || (f.Op != OpIn && f.Op != OpEq) {
			return nil, false, ErrUnsupportedFilter
		}
		if !ok {
			ids, ok = append([]any(nil), f.Values...), true
			continue
		}
		ids = intersect(ids, f.Values)
	}
	return ids, ok, nil
}

func intersect(a, b []any) []any {
	keep := make(map[string]struct{}, len(b))
	for _, y := range b {
		keep[mapping.KeyOf(y)] = struct{}{}
	}
	var out []any
	for _, x := range a {
		if _, ok := keep[mapping.KeyOf(x)]; ok {
			out = append(out, x)
		}
	}
	return out
}

// SliceCursor iterates a pre-materialised result set.
type SliceCursor struct {
	items  []any
	pos    int
	closed bool
}

// NewSliceCursor returns a cursor over items.
func NewSliceCursor(items []any) *SliceCursor {
	return &SliceCursor{items: items, pos: -1}
}

// Next advances the cursor.
func (c *SliceCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

// Entity returns the current item.
func (c *SliceCursor) Entity() any {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

// Err always returns nil.
func (c *SliceCursor) Err() error { return nil }

// Close marks the cursor exhausted.
func (c *SliceCursor) Close() error {
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *SliceCursor) Closed() bool { return c.closed }
