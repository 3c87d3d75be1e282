// Package datastore binds mapped entities to a document Backend and serves as
// the persistence context references resolve through.
package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"odmcore/pkg/mapping"
	"odmcore/pkg/query"
	"odmcore/pkg/reference"
)

// Compile-time assertions for the resolution hooks.
var (
	_ reference.Source             = (*Datastore)(nil)
	_ reference.Observer           = (*Datastore)(nil)
	_ reference.ConcurrentResolver = (*Datastore)(nil)
)

// Datastore saves and loads mapped entities.
type Datastore struct {
	backend    Backend
	mapper     *mapping.Mapper
	logger     Logger
	metrics    *Metrics
	concurrent bool
	newID      func() any
}

// Option configures a Datastore.
type Option func(*Datastore)

// WithLogger sets the logger; nil keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(d *Datastore) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records reference fetches in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Datastore) { d.metrics = m }
}

// WithConcurrentResolution lets one reference fetch its collections in parallel.
func WithConcurrentResolution(enabled bool) Option {
	return func(d *Datastore) { d.concurrent = enabled }
}

// WithIDGenerator replaces the UUID generator used for entities saved without an id.
func WithIDGenerator(fn func() any) Option {
	return func(d *Datastore) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// New constructs a Datastore over backend.
func New(backend Backend, mapper *mapping.Mapper, opts ...Option) *Datastore {
	d := &Datastore{
		backend: backend,
		mapper:  mapper,
		logger:  noopLogger{},
		newID:   func() any { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mapper returns the mapped-type registry.
func (d *Datastore) Mapper() *mapping.Mapper { return d.mapper }

// Backend returns the underlying document backend.
func (d *Datastore) Backend() Backend { return d.backend }

// Close releases the backend.
func (d *Datastore) Close() error { return d.backend.Close() }

// Save writes entity, a pointer to a mapped struct. An entity without an id
// is given a generated one first.
func (d *Datastore) Save(ctx context.Context, entity any) error {
	mt, err := d.mapper.MappedTypeOf(entity)
	if err != nil {
		return err
	}
	id, err := d.mapper.IDOf(entity)
	if errors.Is(err, mapping.ErrMissingID) && reflect.ValueOf(entity).Kind() == reflect.Pointer {
		id = d.newID()
		if err := d.mapper.SetID(entity, id); err != nil {
			return fmt.Errorf("assign id to %s: %w", mt.Name, err)
		}
	} else if err != nil {
		return err
	}
	doc, err := d.mapper.Encode(entity)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", mt.Name, err)
	}
	if err := d.backend.Put(ctx, mt.Collection, mapping.KeyOf(id), payload); err != nil {
		return fmt.Errorf("put %s/%v: %w", mt.Collection, id, err)
	}
	d.logger.Debug("saved document", "collection", mt.Collection, "id", id)
	return nil
}

// Get loads the entity stored under id into dst, a pointer to a mapped
// struct. found is false when no document exists.
func (d *Datastore) Get(ctx context.Context, id any, dst any) (found bool, err error) {
	mt, err := d.mapper.MappedTypeOf(dst)
	if err != nil {
		return false, err
	}
	rows, err := d.backend.Fetch(ctx, mt.Collection, []string{mapping.KeyOf(id)})
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	if !rows.Next() {
		return false, rows.Err()
	}
	doc, err := decodePayload(rows.Payload())
	if err != nil {
		return false, fmt.Errorf("decode %s/%v: %w", mt.Collection, id, err)
	}
	if err := d.mapper.Decode(doc, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes entity's document.
func (d *Datastore) Delete(ctx context.Context, entity any) (bool, error) {
	mt, err := d.mapper.MappedTypeOf(entity)
	if err != nil {
		return false, err
	}
	id, err := d.mapper.IDOf(entity)
	if err != nil {
		return false, err
	}
	return d.backend.Delete(ctx, mt.Collection, mapping.KeyOf(id))
}

// Find starts a query against collection.
func (d *Datastore) Find(collection string) query.Query {
	return &documentQuery{ds: d, collection: collection}
}

// ResolveConcurrently reports whether references may fetch collections in parallel.
func (d *Datastore) ResolveConcurrently() bool { return d.concurrent }

// ObserveFetch records one per-collection reference fetch.
func (d *Datastore) ObserveFetch(_ context.Context, collection string, requested, found int, elapsed time.Duration, err error) {
	d.metrics.observeFetch(collection, requested, found, elapsed, err)
	if err != nil {
		d.logger.Error("reference fetch failed", "collection", collection, "requested", requested, "error", err)
		return
	}
	d.logger.Debug("reference fetch", "collection", collection, "requested", requested, "found", found, "elapsed", elapsed)
}

func decodePayload(payload []byte) (mapping.Document, error) {
	var doc mapping.Document
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
