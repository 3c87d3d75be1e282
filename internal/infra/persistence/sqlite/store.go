// Package sqlite provides the SQLite document backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"odmcore/internal/infra/persistence/sqldoc"
)

const defaultPath = "odmcore.db"

// Dialect is the SQLite flavour of the documents table.
var Dialect = sqldoc.Dialect{
	Name: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	Placeholder: func(int) string { return "?" },
}

// Store is a SQLite-backed document store.
type Store struct {
	*sqldoc.Store
	path string
}

// NewStore opens (creating if needed) the database at path. An empty path
// uses odmcore.db in the working directory.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	docs, err := sqldoc.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: docs, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
