// Package mapping holds the mapped-type registry and the document codec that
// converts mapped structs to and from stored documents.
package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

const (
	// IDField is the document field that stores an entity's identifier.
	IDField = "_id"
	tagName = "odm"
)

var (
	// ErrNotMapped is returned when a type has not been registered with the mapper.
	ErrNotMapped = errors.New("mapping: type not mapped")
	// ErrNotStruct is returned when a non-struct type is registered or decoded into.
	ErrNotStruct = errors.New("mapping: not a struct")
	// ErrMissingID is returned when an entity has no usable identifier.
	ErrMissingID = errors.New("mapping: missing id")
	// ErrCollectionTaken is returned when two types claim the same collection.
	ErrCollectionTaken = errors.New("mapping: collection already mapped")
)

// CollectionNamer lets a struct choose its own collection name.
type CollectionNamer interface {
	CollectionName() string
}

// MappedType describes how a struct type maps onto a collection.
type MappedType struct {
	Name       string
	Collection string
	Type       reflect.Type

	fields  []fieldInfo
	idIndex []int
}

type fieldInfo struct {
	name      string
	index     []int
	typ       reflect.Type
	omitEmpty bool
}

// New returns a pointer to a fresh zero value of the mapped struct.
func (mt *MappedType) New() any {
	return reflect.New(mt.Type).Interface()
}

// FieldNames lists the document field names in declaration order.
func (mt *MappedType) FieldNames() []string {
	out := make([]string, 0, len(mt.fields))
	for _, f := range mt.fields {
		out = append(out, f.name)
	}
	return out
}

// TypeOption customises a registration.
type TypeOption func(*MappedType)

// Collection overrides the default collection name of a mapped type.
func Collection(name string) TypeOption {
	return func(mt *MappedType) {
		if name != "" {
			mt.Collection = name
		}
	}
}

// Mapper is the registry of mapped types. It is safe for concurrent use.
type Mapper struct {
	mu           sync.RWMutex
	byType       map[reflect.Type]*MappedType
	byCollection map[string]*MappedType
	interfaces   map[reflect.Type]string
}

// NewMapper constructs an empty registry.
func NewMapper() *Mapper {
	return &Mapper{
		byType:       make(map[reflect.Type]*MappedType),
		byCollection: make(map[string]*MappedType),
		interfaces:   make(map[reflect.Type]string),
	}
}

// Map registers the struct type of sample. Registering the same type twice
// returns the existing mapping.
func (m *Mapper) Map(sample any, opts ...TypeOption) (*MappedType, error) {
	t := indirect(reflect.TypeOf(sample))
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotStruct, sample)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byType[t]; ok {
		return existing, nil
	}

	mt := &MappedType{Name: t.Name(), Collection: t.Name(), Type: t}
	if namer, ok := reflect.New(t).Interface().(CollectionNamer); ok && namer.CollectionName() != "" {
		mt.Collection = namer.CollectionName()
	}
	for _, opt := range opts {
		opt(mt)
	}
	if err := mt.scanFields(); err != nil {
		return nil, err
	}
	if other, ok := m.byCollection[mt.Collection]; ok {
		return nil, fmt.Errorf("%w: %s is used by %s", ErrCollectionTaken, mt.Collection, other.Name)
	}
	m.byType[t] = mt
	m.byCollection[mt.Collection] = mt
	return mt, nil
}

// MustMap is Map for package-level setup; it panics on error.
func (m *Mapper) MustMap(sample any, opts ...TypeOption) *MappedType {
	mt, err := m.Map(sample, opts...)
	if err != nil {
		panic(err)
	}
	return mt
}

// MapInterface gives an interface element type a default collection, used
// for bare ids stored in references declared over that interface.
func (m *Mapper) MapInterface(iface reflect.Type, collection string) error {
	if iface == nil || iface.Kind() != reflect.Interface {
		return fmt.Errorf("mapping: %v is not an interface type", iface)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces[iface] = collection
	return nil
}

// MappedTypeFor looks up the mapping of t, dereferencing pointers.
func (m *Mapper) MappedTypeFor(t reflect.Type) (*MappedType, bool) {
	t = indirect(t)
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.byType[t]
	return mt, ok
}

// MappedTypeOf looks up the mapping of a value's dynamic type.
func (m *Mapper) MappedTypeOf(v any) (*MappedType, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: <nil>", ErrNotMapped)
	}
	mt, ok := m.MappedTypeFor(reflect.TypeOf(v))
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotMapped, v)
	}
	return mt, nil
}

// TypeForCollection returns the type stored in a collection.
func (m *Mapper) TypeForCollection(collection string) (*MappedType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.byCollection[collection]
	return mt, ok
}

// DefaultCollection returns the collection bare ids of type t resolve
// against, or "" when t carries no collection.
func (m *Mapper) DefaultCollection(t reflect.Type) string {
	t = indirect(t)
	if t == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t.Kind() == reflect.Interface {
		return m.interfaces[t]
	}
	if mt, ok := m.byType[t]; ok {
		return mt.Collection
	}
	return ""
}

// Collections lists every mapped collection.
func (m *Mapper) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byCollection))
	for name := range m.byCollection {
		out = append(out, name)
	}
	return out
}

// IDOf returns the identifier of a mapped entity. A zero id is reported as
// ErrMissingID.
func (m *Mapper) IDOf(entity any) (any, error) {
	rv, mt, err := m.structValue(entity)
	if err != nil {
		return nil, err
	}
	idv := rv.FieldByIndex(mt.idIndex)
	if idv.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrMissingID, mt.Name)
	}
	return idv.Interface(), nil
}

// SetID assigns id to the identifier field of entity, which must be a pointer.
func (m *Mapper) SetID(entity any, id any) error {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("mapping: SetID needs a non-nil pointer, got %T", entity)
	}
	rv, mt, err := m.structValue(entity)
	if err != nil {
		return err
	}
	field := rv.FieldByIndex(mt.idIndex)
	return assign(field, id)
}

func (m *Mapper) structValue(entity any) (reflect.Value, *MappedType, error) {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, nil, fmt.Errorf("%w: nil %T", ErrMissingID, entity)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("%w: %T", ErrNotStruct, entity)
	}
	mt, ok := m.MappedTypeFor(rv.Type())
	if !ok {
		return reflect.Value{}, nil, fmt.Errorf("%w: %T", ErrNotMapped, entity)
	}
	return rv, mt, nil
}

func (mt *MappedType) scanFields() error {
	for i := 0; i < mt.Type.NumField(); i++ {
		sf := mt.Type.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get(tagName), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
			if sf.Name == "ID" && mt.idIndex == nil {
				name = IDField
			}
		}
		fi := fieldInfo{
			name:      name,
			index:     sf.Index,
			typ:       sf.Type,
			omitEmpty: strings.Contains(opts, "omitempty"),
		}
		if name == IDField {
			mt.idIndex = sf.Index
		}
		mt.fields = append(mt.fields, fi)
	}
	if mt.idIndex == nil {
		return fmt.Errorf("%w: %s declares no id field", ErrMissingID, mt.Name)
	}
	return nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Indirect strips pointer indirections from t.
func Indirect(t reflect.Type) reflect.Type { return indirect(t) }
