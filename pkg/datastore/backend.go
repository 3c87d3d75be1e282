package datastore

import "context"

// Backend stores raw document payloads keyed by collection and canonical id
// key (see mapping.KeyOf).
type Backend interface {
	Put(ctx context.Context, collection, key string, payload []byte) error
	// Fetch streams the documents stored under keys. Keys without a document
	// are skipped; order is unspecified.
	Fetch(ctx context.Context, collection string, keys []string) (Rows, error)
	// Scan streams every document of a collection.
	Scan(ctx context.Context, collection string) (Rows, error)
	Delete(ctx context.Context, collection, key string) (bool, error)
	Close() error
}

// Rows iterates stored payloads. Callers must always Close it.
type Rows interface {
	Next() bool
	Key() string
	Payload() []byte
	Err() error
	Close() error
}

// Record is a stored payload and its key.
type Record struct {
	Key     string
	Payload []byte
}

// SliceRows serves Rows from a pre-materialised slice.
type SliceRows struct {
	records []Record
	pos     int
	closed  bool
}

// NewSliceRows returns Rows over records.
func NewSliceRows(records []Record) *SliceRows {
	return &SliceRows{records: records, pos: -1}
}

func (r *SliceRows) Next() bool {
	if r.closed || r.pos+1 >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *SliceRows) Key() string     { return r.records[r.pos].Key }
func (r *SliceRows) Payload() []byte { return r.records[r.pos].Payload }
func (r *SliceRows) Err() error      { return nil }

func (r *SliceRows) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *SliceRows) Closed() bool { return r.closed }
