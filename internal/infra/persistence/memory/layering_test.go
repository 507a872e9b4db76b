package memory

import (
	"testing"

	"racecore/testutil"
)

func TestStoreDoesNotImportService(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportPrefixForbidden("racecore/internal/core", "racecore/internal/blob"),
		"stores only know the domain types")
}
