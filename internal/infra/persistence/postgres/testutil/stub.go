// Package testutil provides a stub database/sql driver that understands the
// documents table statements issued by the postgres store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// StubConn records statements and keeps documents in memory.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Queries   []string
	Documents map[string]map[string]string
	FailExec  bool
	FailQuery bool
	FailPing  bool
	RowsErr   error
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Documents: make(map[string]map[string]string)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("not implemented") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "INSERT":
		if len(args) != 3 {
			return nil, fmt.Errorf("insert wants 3 args, got %d", len(args))
		}
		coll, id := asString(args[0].Value), asString(args[1].Value)
		docs, ok := c.Documents[coll]
		if !ok {
			docs = make(map[string]string)
			c.Documents[coll] = docs
		}
		docs[id] = asString(args[2].Value)
		return driver.RowsAffected(1), nil
	case "DELETE":
		if len(args) != 2 {
			return nil, fmt.Errorf("delete wants 2 args, got %d", len(args))
		}
		coll, id := asString(args[0].Value), asString(args[1].Value)
		if _, ok := c.Documents[coll][id]; !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.Documents[coll], id)
		return driver.RowsAffected(1), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext. The first argument is the
// collection; any further arguments restrict the ids returned.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, query)
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("query without collection: %s", query)
	}
	docs := c.Documents[asString(args[0].Value)]
	var ids []string
	if len(args) > 1 {
		for _, arg := range args[1:] {
			if id := asString(arg.Value); docs[id] != "" {
				ids = append(ids, id)
			}
		}
	} else {
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	values := make([][]driver.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, []driver.Value{id, []byte(docs[id])})
	}
	return &stubRows{
		cols: []string{"id", "payload"},
		rows: values,
		err:  c.RowsErr,
	}, nil
}

func asString(v driver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
