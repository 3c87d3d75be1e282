package reference_test

import (
	"testing"

	"odmcore/testutil"
)

func TestReferenceStaysStorageAgnostic(t *testing.T) {
	forbidden := testutil.Either(testutil.StorageImportForbidden, testutil.InternalImportForbidden)
	testutil.AssertNoDirectImports(t, ".", forbidden, "resolution goes through Source only")
	testutil.AssertNoDirectImports(t, "../mapping", forbidden, "mapping is storage agnostic")
	testutil.AssertNoDirectImports(t, "../query", forbidden, "query is storage agnostic")
	testutil.AssertNoDirectImports(t, "../datastore", forbidden, "backends plug in through datastore.Backend")
}
