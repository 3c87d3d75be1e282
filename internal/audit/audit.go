// Package audit finds stored references whose target document no longer
// exists. It works on raw payloads, so no mapped Go types are needed.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"odmcore/pkg/datastore"
	"odmcore/pkg/mapping"
	"odmcore/pkg/reference"
)

// Field names a reference field (a gjson path) and the collection its bare
// ids point into.
type Field struct {
	Path       string
	Collection string
}

// ParseField parses "path=collection".
func ParseField(v string) (Field, error) {
	path, coll, ok := strings.Cut(v, "=")
	path, coll = strings.TrimSpace(path), strings.TrimSpace(coll)
	if !ok || path == "" || coll == "" {
		return Field{}, fmt.Errorf("field %q: want path=collection", v)
	}
	return Field{Path: path, Collection: coll}, nil
}

func (f Field) String() string { return f.Path + "=" + f.Collection }

// Dangling is one stored id with no matching document.
type Dangling struct {
	Document   string `json:"document"`
	Field      string `json:"field"`
	Collection string `json:"collection"`
	ID         any    `json:"id"`
}

// Report summarises one audit run.
type Report struct {
	Collection string     `json:"collection"`
	Documents  int        `json:"documents"`
	References int        `json:"references"`
	Queries    int        `json:"queries"`
	Dangling   []Dangling `json:"dangling"`
}

type origin struct {
	document string
	field    string
	id       reference.ID
}

// Run scans collection, gathers every id held in fields, fetches each
// destination collection once and reports the ids that resolved to nothing.
func Run(ctx context.Context, backend datastore.Backend, collection string, fields []Field) (Report, error) {
	report := Report{Collection: collection}
	rows, err := backend.Scan(ctx, collection)
	if err != nil {
		return report, err
	}
	groups := reference.NewCollation()
	var origins []origin
	for rows.Next() {
		report.Documents++
		payload := rows.Payload()
		for _, f := range fields {
			ids, err := extract(gjson.GetBytes(payload, f.Path))
			if err != nil {
				_ = rows.Close()
				return report, fmt.Errorf("%s/%s %s: %w", collection, rows.Key(), f.Path, err)
			}
			reference.Collate(f.Collection, groups, ids...)
			for _, id := range ids {
				if !id.IsQualified() {
					id = reference.Qualified(f.Collection, id.Value())
				}
				origins = append(origins, origin{document: rows.Key(), field: f.Path, id: id})
			}
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return report, err
	}
	if err := rows.Close(); err != nil {
		return report, err
	}
	report.References = len(origins)

	found := make(map[string]bool)
	for _, coll := range groups.Collections() {
		keys := uniqueKeys(groups.IDs(coll))
		report.Queries++
		hits, err := backend.Fetch(ctx, coll, keys)
		if err != nil {
			return report, fmt.Errorf("fetch %s: %w", coll, err)
		}
		for hits.Next() {
			found[coll+"\x00"+hits.Key()] = true
		}
		err = hits.Err()
		if cerr := hits.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return report, fmt.Errorf("fetch %s: %w", coll, err)
		}
	}

	for _, o := range origins {
		if found[o.id.Collection()+"\x00"+o.id.Key()] {
			continue
		}
		report.Dangling = append(report.Dangling, Dangling{
			Document:   o.document,
			Field:      o.field,
			Collection: o.id.Collection(),
			ID:         mapping.NormalizeID(o.id.Value()),
		})
	}
	sort.SliceStable(report.Dangling, func(i, j int) bool {
		return report.Dangling[i].Document < report.Dangling[j].Document
	})
	return report, nil
}

func uniqueKeys(ids []reference.ID) []string {
	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		k := id.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// extract reads the ids held by one stored reference field: a scalar or
// pointer for single references, an array for lists, an object of those for
// maps.
func extract(r gjson.Result) ([]reference.ID, error) {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil, nil
	case r.IsArray():
		var out []reference.ID
		for _, el := range r.Array() {
			id, err := parseOne(el)
			if err != nil {
				return nil, err
			}
			if !id.IsZero() {
				out = append(out, id)
			}
		}
		return out, nil
	case r.IsObject() && !r.Get(reference.RefKey).Exists():
		var out []reference.ID
		var err error
		r.ForEach(func(_, v gjson.Result) bool {
			var id reference.ID
			if id, err = parseOne(v); err != nil {
				return false
			}
			if !id.IsZero() {
				out = append(out, id)
			}
			return true
		})
		return out, err
	}
	id, err := parseOne(r)
	if err != nil || id.IsZero() {
		return nil, err
	}
	return []reference.ID{id}, nil
}

func parseOne(r gjson.Result) (reference.ID, error) {
	switch r.Type {
	case gjson.Null:
		return reference.ID{}, nil
	case gjson.Number:
		return reference.Bare(json.Number(r.Raw)), nil
	case gjson.String:
		return reference.Bare(r.Str), nil
	case gjson.JSON:
		if r.IsObject() {
			coll := r.Get(reference.RefKey)
			if coll.Type != gjson.String {
				return reference.ID{}, fmt.Errorf("%w: pointer without %s", reference.ErrShapeMismatch, reference.RefKey)
			}
			inner, err := parseOne(r.Get(reference.RefIDKey))
			if err != nil {
				return reference.ID{}, err
			}
			return reference.Qualified(coll.Str, inner.Value()), nil
		}
	}
	return reference.ID{}, fmt.Errorf("%w: %s", reference.ErrShapeMismatch, r.Raw)
}
