package reference_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"odmcore/pkg/mapping"
	"odmcore/pkg/query"
	"odmcore/pkg/reference"
)

type Author struct {
	ID   string `odm:"_id"`
	Name string `odm:"name"`
}

type Shape interface {
	Area() float64
}

type Circle struct {
	ID     string  `odm:"_id"`
	Radius float64 `odm:"radius"`
}

func (c *Circle) Area() float64 { return math.Pi * c.Radius * c.Radius }

type Square struct {
	ID   int64   `odm:"_id"`
	Side float64 `odm:"side"`
}

func (s *Square) Area() float64 { return s.Side * s.Side }

type Book struct {
	ID        string                  `odm:"_id"`
	Title     string                  `odm:"title"`
	Author    reference.Ref[*Author]  `odm:"author"`
	Coauthors reference.List[*Author] `odm:"coauthors"`
	Shapes    reference.List[Shape]   `odm:"shapes"`
	Editors   reference.Map[*Author]  `odm:"editors"`
	Cover     reference.Ref[Shape]    `odm:"cover"`
	Extras    reference.Map[Shape]    `odm:"extras"`
	Tags      []string                `odm:"tags,omitempty"`
}

func newMapper(t *testing.T) *mapping.Mapper {
	t.Helper()
	m := mapping.NewMapper()
	_, err := m.Map(&Author{}, mapping.Collection("authors"))
	require.NoError(t, err)
	_, err = m.Map(&Circle{}, mapping.Collection("circles"))
	require.NoError(t, err)
	_, err = m.Map(&Square{}, mapping.Collection("squares"))
	require.NoError(t, err)
	_, err = m.Map(&Book{}, mapping.Collection("books"))
	require.NoError(t, err)
	return m
}

// countingSource serves entities from memory and records every query.
type countingSource struct {
	mapper *mapping.Mapper

	mu       sync.Mutex
	data     map[string][]any
	queries  map[string]int
	cursors  []*trackedCursor
	failWith error
	failOn   string
	breakAt  int
	parallel bool
}

func newCountingSource(m *mapping.Mapper) *countingSource {
	return &countingSource{mapper: m, data: make(map[string][]any), queries: make(map[string]int)}
}

func (s *countingSource) add(collection string, entities ...any) {
	s.data[collection] = append(s.data[collection], entities...)
}

func (s *countingSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.queries {
		n += c
	}
	return n
}

func (s *countingSource) Mapper() *mapping.Mapper { return s.mapper }

func (s *countingSource) Find(collection string) query.Query {
	return &countingQuery{src: s, collection: collection}
}

func (s *countingSource) ResolveConcurrently() bool { return s.parallel }

type countingQuery struct {
	src        *countingSource
	collection string
	filters    []query.Filter
}

func (q *countingQuery) Filter(filters ...query.Filter) query.Query {
	q.filters = append(q.filters, filters...)
	return q
}

func (q *countingQuery) Iterator(context.Context) (query.Cursor, error) {
	s := q.src
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[q.collection]++
	if s.failWith != nil && (s.failOn == "" || s.failOn == q.collection) && s.breakAt == 0 {
		return nil, s.failWith
	}
	ids, _, err := query.IDs(q.filters)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[mapping.KeyOf(id)] = struct{}{}
	}
	var items []any
	for _, e := range s.data[q.collection] {
		id, err := s.mapper.IDOf(e)
		if err != nil {
			return nil, err
		}
		if _, ok := want[mapping.KeyOf(id)]; ok {
			items = append(items, e)
		}
	}
	cur := &trackedCursor{SliceCursor: query.NewSliceCursor(items)}
	if s.failWith != nil && s.breakAt > 0 {
		cur.breakAt, cur.err = s.breakAt, s.failWith
	}
	s.cursors = append(s.cursors, cur)
	return cur, nil
}

// trackedCursor fails after breakAt items when configured.
type trackedCursor struct {
	*query.SliceCursor
	seen    int
	breakAt int
	err     error
	failed  bool
}

func (c *trackedCursor) Next() bool {
	if c.breakAt > 0 && c.seen >= c.breakAt {
		c.failed = true
		return false
	}
	if !c.SliceCursor.Next() {
		return false
	}
	c.seen++
	return true
}

func (c *trackedCursor) Err() error {
	if c.failed {
		return c.err
	}
	return nil
}

var errBackend = errors.New("backend unavailable")

// storeRoundTrip encodes entity, passes it through JSON like a backend would,
// and decodes it into dst.
func storeRoundTrip(t *testing.T, m *mapping.Mapper, entity any, dst any) mapping.Document {
	t.Helper()
	doc, err := m.Encode(entity)
	require.NoError(t, err)
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	var stored mapping.Document
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&stored))
	require.NoError(t, m.Decode(stored, dst))
	return stored
}
