package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStubDBStoresAndQueriesDocuments(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	require.NoError(t, conn.Ping(ctx))

	_, err := conn.ExecContext(ctx, "INSERT INTO documents(collection,id,payload) VALUES($1,$2,$3::jsonb)", []driver.NamedValue{
		{Value: "authors"}, {Value: `"a1"`}, {Value: `{"_id":"a1"}`},
	})
	require.NoError(t, err)
	require.Equal(t, `{"_id":"a1"}`, conn.Documents["authors"][`"a1"`])

	rows, err := conn.QueryContext(ctx, "SELECT id, payload FROM documents WHERE collection = $1 AND id IN ($2,$3)", []driver.NamedValue{
		{Value: "authors"}, {Value: `"a1"`}, {Value: `"nope"`},
	})
	require.NoError(t, err)
	dest := make([]driver.Value, 2)
	require.NoError(t, rows.Next(dest))
	require.Equal(t, `"a1"`, dest[0])
	require.ErrorIs(t, rows.Next(dest), io.EOF)

	res, err := conn.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", []driver.NamedValue{
		{Value: "authors"}, {Value: `"a1"`},
	})
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Empty(t, conn.Documents["authors"])
}

func TestStubDBFailureToggles(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailPing, conn.FailExec, conn.FailQuery = true, true, true
	require.Error(t, conn.Ping(ctx))
	_, err := conn.ExecContext(ctx, "CREATE TABLE documents ()", nil)
	require.Error(t, err)
	_, err = conn.QueryContext(ctx, "SELECT id, payload FROM documents WHERE collection = $1", []driver.NamedValue{{Value: "x"}})
	require.Error(t, err)
}
