package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"database/sql\"\n\t\"odmcore/internal/core\"\n\t\"strings\"\n)\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package x\n\nimport \"github.com/aws/aws-sdk-go-v2/aws\"\n"), 0o600))

	viols, err := directImportViolations(dir, Either(StorageImportForbidden, InternalImportForbidden))
	require.NoError(t, err)
	require.Equal(t, []string{"database/sql (in x.go)", "odmcore/internal/core (in x.go)"}, viols)

	var r recorder
	failIfDirectViolations(&r, "boundary", viols)
	require.Contains(t, r.msg, "boundary")

	_, err = directImportViolations(filepath.Join(dir, "missing"), StorageImportForbidden)
	require.Error(t, err)
}

func TestPredicates(t *testing.T) {
	require.True(t, StorageImportForbidden("modernc.org/sqlite"))
	require.True(t, StorageImportForbidden("github.com/jackc/pgx/v5/stdlib"))
	require.False(t, StorageImportForbidden("github.com/goccy/go-json"))
	require.True(t, InternalImportForbidden("odmcore/internal/audit"))
	require.False(t, InternalImportForbidden("odmcore/pkg/mapping"))
}
