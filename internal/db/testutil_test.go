package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	testutil "github.com/mbround18/hytale-vex-lich-dungeon/internal/testing"
)

// openTestStore creates a test database in a temporary directory.
// The database is automatically closed and removed when the test completes.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := testutil.MkdirTempInDir(t, t.TempDir())
	store, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
