package reference

import (
	"errors"
	"fmt"

	"odmcore/pkg/mapping"
)

// Stored keys of a collection-qualified pointer.
const (
	RefKey   = "$ref"
	RefIDKey = "$id"
)

var (
	// ErrShapeMismatch is returned when a stored reference does not have the
	// shape its field declares.
	ErrShapeMismatch = errors.New("reference: stored value does not match reference shape")
	// ErrTypeMismatch is returned when a fetched entity is not of the element type.
	ErrTypeMismatch = errors.New("reference: entity does not match element type")
	// ErrUnsupported is returned by operations a variant does not offer.
	ErrUnsupported = errors.New("reference: operation not supported")
	// ErrUnmappedElement is returned at resolution time when a bare id has no
	// destination collection.
	ErrUnmappedElement = errors.New("reference: element type has no collection")
)

// ID is a stored reference identifier: either a bare id, resolved against the
// declared element type's collection, or a pointer qualified by collection.
type ID struct {
	collection string
	value      any
}

// Bare wraps an id that resolves against the declared element collection.
func Bare(value any) ID {
	return ID{value: value}
}

// Qualified wraps an id together with the collection that stores it.
func Qualified(collection string, value any) ID {
	return ID{collection: collection, value: value}
}

// IsQualified reports whether the id carries its own collection.
func (id ID) IsQualified() bool { return id.collection != "" }

// Collection returns the embedded collection, or "" for bare ids.
func (id ID) Collection() string { return id.collection }

// Value returns the bare id value.
func (id ID) Value() any { return id.value }

// IsZero reports whether the id holds no value.
func (id ID) IsZero() bool { return id.value == nil }

// Key returns the canonical form of the bare id value.
func (id ID) Key() string { return mapping.KeyOf(id.value) }

// Wire returns the stored form of the id.
func (id ID) Wire() any {
	if id.IsQualified() {
		return map[string]any{RefKey: id.collection, RefIDKey: id.value}
	}
	return id.value
}

func (id ID) String() string {
	if id.IsQualified() {
		return fmt.Sprintf("%s/%s", id.collection, id.Key())
	}
	return id.Key()
}

// ParseID reads a stored id: a scalar is a bare id, an object with $ref and
// $id is a qualified pointer. Anything else is a shape mismatch.
func ParseID(raw any) (ID, error) {
	switch v := raw.(type) {
	case nil:
		return ID{}, fmt.Errorf("%w: null id", ErrShapeMismatch)
	case ID:
		return v, nil
	case mapping.Document:
		return parsePointer(v)
	case map[string]any:
		return parsePointer(v)
	case []any:
		return ID{}, fmt.Errorf("%w: got a list where an id was expected", ErrShapeMismatch)
	}
	return Bare(raw), nil
}

func parsePointer(obj map[string]any) (ID, error) {
	coll, _ := obj[RefKey].(string)
	value, ok := obj[RefIDKey]
	if coll == "" || !ok || value == nil {
		return ID{}, fmt.Errorf("%w: object is not a {%s, %s} pointer", ErrShapeMismatch, RefKey, RefIDKey)
	}
	return Qualified(coll, value), nil
}
