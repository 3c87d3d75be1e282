// Package memory provides an in-memory document backend used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"odmcore/pkg/datastore"
)

var _ datastore.Backend = (*Store)(nil)

// Snapshot captures a point-in-time clone of every stored payload, keyed by
// collection then id key.
type Snapshot map[string]map[string][]byte

// Store keeps payloads in memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{collections: make(map[string]map[string][]byte)}
}

// Put stores a copy of payload.
func (s *Store) Put(_ context.Context, collection, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string][]byte)
		s.collections[collection] = docs
	}
	docs[key] = append([]byte(nil), payload...)
	return nil
}

// Fetch returns the payloads stored under keys, in key order.
func (s *Store) Fetch(ctx context.Context, collection string, keys []string) (datastore.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	records := make([]datastore.Record, 0, len(keys))
	for _, key := range keys {
		if payload, ok := docs[key]; ok {
			records = append(records, datastore.Record{Key: key, Payload: append([]byte(nil), payload...)})
		}
	}
	return datastore.NewSliceRows(records), nil
}

// Scan returns every payload of collection ordered by key.
func (s *Store) Scan(ctx context.Context, collection string) (datastore.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	records := make([]datastore.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, datastore.Record{Key: key, Payload: append([]byte(nil), docs[key]...)})
	}
	return datastore.NewSliceRows(records), nil
}

// Delete removes one payload and reports whether it existed.
func (s *Store) Delete(_ context.Context, collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	if _, ok := docs[key]; !ok {
		return false, nil
	}
	delete(docs, key)
	return true, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState clones the current contents for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCollections(s.collections)
}

// ImportState replaces the store contents with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = cloneCollections(snapshot)
}

func cloneCollections(src map[string]map[string][]byte) map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(src))
	for collection, docs := range src {
		copied := make(map[string][]byte, len(docs))
		for key, payload := range docs {
			copied[key] = append([]byte(nil), payload...)
		}
		out[collection] = copied
	}
	return out
}
