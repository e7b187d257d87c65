package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmbeddedBackends(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"leveldb", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store, err := Open(Config{
				Backend:     backend,
				LevelDBPath: filepath.Join(dir, "ledger"),
				SQLitePath:  filepath.Join(dir, "ledger.db"),
			})
			require.NoError(t, err)
			assert.NoError(t, store.Ping(context.Background()))
			assert.NoError(t, store.Close())
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "postgres"})
	assert.ErrorContains(t, err, "unknown store backend")
}
