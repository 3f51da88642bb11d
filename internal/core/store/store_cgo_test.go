//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/riskledger/riskledger/internal/config"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a migrated file-backed store in a temp dir.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), config.StoreConfig{
		Driver: "libsql",
		Path:   filepath.Join(t.TempDir(), "riskledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Close())
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}
