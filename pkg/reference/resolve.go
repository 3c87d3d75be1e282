package reference

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"odmcore/pkg/mapping"
	"odmcore/pkg/query"
)

// Source is the persistence context references resolve through. Handles do
// not keep it; it is passed to every Get.
type Source interface {
	Mapper() *mapping.Mapper
	Find(collection string) query.Query
}

// Observer is optionally implemented by a Source that wants to hear about
// every per-collection fetch.
type Observer interface {
	ObserveFetch(ctx context.Context, collection string, requested, found int, elapsed time.Duration, err error)
}

// ConcurrentResolver is optionally implemented by a Source that allows the
// per-collection fetches of one resolution to run concurrently.
type ConcurrentResolver interface {
	ResolveConcurrently() bool
}

type lookupKey struct {
	collection string
	id         string
}

// lookup maps (collection, canonical bare id) to fetched entities.
type lookup map[lookupKey]any

func (l lookup) find(defaultCollection string, id ID) (any, bool) {
	e, ok := l[lookupKey{collection: destination(defaultCollection, id), id: id.Key()}]
	return e, ok
}

// fetchAll issues one id-membership query per collection in groups and
// gathers every returned entity. Query failures are returned unchanged;
// missing documents simply have no entry.
func fetchAll(ctx context.Context, src Source, groups *Collation) (lookup, error) {
	out := make(lookup)
	collections := groups.Collections()
	for _, coll := range collections {
		if coll == "" {
			return nil, ErrUnmappedElement
		}
	}
	if cr, ok := src.(ConcurrentResolver); ok && cr.ResolveConcurrently() && len(collections) > 1 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, coll := range collections {
			g.Go(func() error {
				part := make(lookup)
				if err := fetchCollection(gctx, src, coll, groups.IDs(coll), part); err != nil {
					return err
				}
				mu.Lock()
				maps.Copy(out, part)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
	for _, coll := range collections {
		if err := fetchCollection(ctx, src, coll, groups.IDs(coll), out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func fetchCollection(ctx context.Context, src Source, collection string, ids []ID, out lookup) (err error) {
	values := make([]any, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id.Key()]; dup {
			continue
		}
		seen[id.Key()] = struct{}{}
		values = append(values, id.Value())
	}

	found := 0
	if obs, ok := src.(Observer); ok {
		started := time.Now()
		defer func() {
			obs.ObserveFetch(ctx, collection, len(values), found, time.Since(started), err)
		}()
	}

	cur, err := src.Find(collection).Filter(query.In(query.IDField, values...)).Iterator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cur.Close(); err == nil {
			err = cerr
		}
	}()

	m := src.Mapper()
	for cur.Next() {
		entity := cur.Entity()
		id, err := m.IDOf(entity)
		if err != nil {
			return err
		}
		out[lookupKey{collection: collection, id: mapping.KeyOf(id)}] = entity
		found++
	}
	return cur.Err()
}

func elemType[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// as converts a fetched entity to the element type, accepting a pointer to T.
func as[T any](e any) (T, error) {
	if t, ok := e.(T); ok {
		return t, nil
	}
	rv := reflect.ValueOf(e)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		if t, ok := rv.Elem().Interface().(T); ok {
			return t, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %T is not %v", ErrTypeMismatch, e, elemType[T]())
}

func collateAll(defaultCollection string, ids []ID) *Collation {
	groups := NewCollation()
	Collate(defaultCollection, groups, ids...)
	return groups
}
