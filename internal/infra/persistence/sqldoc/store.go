// Package sqldoc implements the document backend on top of database/sql. The
// sqlite and postgres packages supply a Dialect and an opened *sql.DB.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"odmcore/pkg/datastore"
)

var _ datastore.Backend = (*Store)(nil)

// Dialect captures the SQL differences between engines.
type Dialect struct {
	// Name labels errors.
	Name string
	// Schema creates the documents table when missing.
	Schema string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// PayloadCast wraps the payload placeholder in Put, e.g. "%s::jsonb".
	PayloadCast string
	// FetchBatch caps the keys bound by one Fetch statement. Zero means
	// DefaultFetchBatch.
	FetchBatch int
}

// DefaultFetchBatch stays well under the bind parameter limits of SQLite
// (32766) and Postgres (65535).
const DefaultFetchBatch = 1000

// Store keeps one row per document in the documents table.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New ensures the schema exists and returns a Store over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if _, err := db.ExecContext(ctx, dialect.Schema); err != nil {
		return nil, fmt.Errorf("%s: ensure documents table: %w", dialect.Name, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Put upserts one document.
func (s *Store) Put(ctx context.Context, collection, key string, payload []byte) error {
	ph := s.dialect.Placeholder
	value := ph(3)
	if s.dialect.PayloadCast != "" {
		value = fmt.Sprintf(s.dialect.PayloadCast, value)
	}
	stmt := fmt.Sprintf(`INSERT INTO documents(collection,id,payload) VALUES(%s,%s,%s) ON CONFLICT(collection,id) DO UPDATE SET payload=excluded.payload`,
		ph(1), ph(2), value)
	if _, err := s.db.ExecContext(ctx, stmt, collection, key, string(payload)); err != nil {
		return fmt.Errorf("%s: upsert %s/%s: %w", s.dialect.Name, collection, key, err)
	}
	return nil
}

// Fetch streams the documents stored under keys. Large key sets are split
// into several statements of at most FetchBatch keys, queried one after the
// other as the rows are consumed.
func (s *Store) Fetch(ctx context.Context, collection string, keys []string) (datastore.Rows, error) {
	if len(keys) == 0 {
		return datastore.NewSliceRows(nil), nil
	}
	size := s.dialect.FetchBatch
	if size <= 0 {
		size = DefaultFetchBatch
	}
	var batches [][]string
	for start := 0; start < len(keys); start += size {
		batches = append(batches, keys[start:min(start+size, len(keys))])
	}
	first, err := s.fetchBatch(ctx, collection, batches[0])
	if err != nil {
		return nil, err
	}
	if len(batches) == 1 {
		return first, nil
	}
	return &chainedRows{
		current: first,
		rest:    batches[1:],
		open: func(batch []string) (*sqlRows, error) {
			return s.fetchBatch(ctx, collection, batch)
		},
	}, nil
}

func (s *Store) fetchBatch(ctx context.Context, collection string, keys []string) (*sqlRows, error) {
	ph := s.dialect.Placeholder
	args := make([]any, 0, len(keys)+1)
	args = append(args, collection)
	marks := make([]string, len(keys))
	for i, key := range keys {
		marks[i] = ph(i + 2)
		args = append(args, key)
	}
	stmt := fmt.Sprintf(`SELECT id, payload FROM documents WHERE collection = %s AND id IN (%s)`,
		ph(1), strings.Join(marks, ","))
	return s.query(ctx, collection, stmt, args...)
}

// Scan streams every document of collection ordered by id.
func (s *Store) Scan(ctx context.Context, collection string) (datastore.Rows, error) {
	stmt := fmt.Sprintf(`SELECT id, payload FROM documents WHERE collection = %s ORDER BY id`, s.dialect.Placeholder(1))
	rows, err := s.query(ctx, collection, stmt, collection)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes one document and reports whether a row was affected.
func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	ph := s.dialect.Placeholder
	stmt := fmt.Sprintf(`DELETE FROM documents WHERE collection = %s AND id = %s`, ph(1), ph(2))
	res, err := s.db.ExecContext(ctx, stmt, collection, key)
	if err != nil {
		return false, fmt.Errorf("%s: delete %s/%s: %w", s.dialect.Name, collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: delete %s/%s: %w", s.dialect.Name, collection, key, err)
	}
	return n > 0, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) query(ctx context.Context, collection, stmt string, args ...any) (*sqlRows, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", s.dialect.Name, collection, err)
	}
	return &sqlRows{rows: rows}, nil
}

type sqlRows struct {
	rows    *sql.Rows
	key     string
	payload []byte
	err     error
}

func (r *sqlRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	var payload sql.RawBytes
	if err := r.rows.Scan(&r.key, &payload); err != nil {
		r.err = fmt.Errorf("scan document: %w", err)
		return false
	}
	r.payload = append(r.payload[:0:0], payload...)
	return true
}

func (r *sqlRows) Key() string     { return r.key }
func (r *sqlRows) Payload() []byte { return r.payload }

func (r *sqlRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *sqlRows) Close() error { return r.rows.Close() }


// chainedRows walks the result sets of consecutive batches. Only one
// statement is open at a time.
type chainedRows struct {
	current *sqlRows
	rest    [][]string
	open    func([]string) (*sqlRows, error)
	err     error
}

func (c *chainedRows) Next() bool {
	for c.err == nil && c.current != nil {
		if c.current.Next() {
			return true
		}
		if err := c.current.Err(); err != nil {
			c.err = err
			return false
		}
		if err := c.current.Close(); err != nil {
			c.err = err
			return false
		}
		c.current = nil
		if len(c.rest) == 0 {
			return false
		}
		next, err := c.open(c.rest[0])
		if err != nil {
			c.err = err
			return false
		}
		c.current, c.rest = next, c.rest[1:]
	}
	return false
}

func (c *chainedRows) Key() string     { return c.current.Key() }
func (c *chainedRows) Payload() []byte { return c.current.Payload() }
func (c *chainedRows) Err() error      { return c.err }

func (c *chainedRows) Close() error {
	if c.current == nil {
		return nil
	}
	err := c.current.Close()
	c.current = nil
	return err
}
