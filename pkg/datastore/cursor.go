package datastore

import (
	"context"
	"fmt"

	"odmcore/pkg/mapping"
	"odmcore/pkg/query"
)

type documentQuery struct {
	ds         *Datastore
	collection string
	filters    []query.Filter
}

func (q *documentQuery) Filter(filters ...query.Filter) query.Query {
	q.filters = append(q.filters, filters...)
	return q
}

// Iterator fetches by id when the query carries id filters and scans the
// whole collection otherwise.
func (q *documentQuery) Iterator(ctx context.Context) (query.Cursor, error) {
	mt, ok := q.ds.mapper.TypeForCollection(q.collection)
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", mapping.ErrNotMapped, q.collection)
	}
	ids, constrained, err := query.IDs(q.filters)
	if err != nil {
		return nil, err
	}
	var rows Rows
	if constrained {
		keys := make([]string, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			k := mapping.KeyOf(id)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return query.NewSliceCursor(nil), nil
		}
		rows, err = q.ds.backend.Fetch(ctx, q.collection, keys)
	} else {
		rows, err = q.ds.backend.Scan(ctx, q.collection)
	}
	if err != nil {
		return nil, err
	}
	return &documentCursor{rows: rows, mt: mt, mapper: q.ds.mapper}, nil
}

// documentCursor decodes each stored payload into a fresh entity. A decode
// failure ends iteration and is reported by Err.
type documentCursor struct {
	rows    Rows
	mt      *mapping.MappedType
	mapper  *mapping.Mapper
	current any
	err     error
}

func (c *documentCursor) Next() bool {
	c.current = nil
	if c.err != nil || !c.rows.Next() {
		return false
	}
	doc, err := decodePayload(c.rows.Payload())
	if err != nil {
		c.err = fmt.Errorf("decode %s/%s: %w", c.mt.Collection, c.rows.Key(), err)
		return false
	}
	entity := c.mt.New()
	if err := c.mapper.Decode(doc, entity); err != nil {
		c.err = err
		return false
	}
	c.current = entity
	return true
}

func (c *documentCursor) Entity() any { return c.current }

func (c *documentCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *documentCursor) Close() error { return c.rows.Close() }
