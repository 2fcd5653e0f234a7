package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/mold/pkg/adapters/fs"
	"github.com/aretw0/mold/pkg/adapters/memory"
	"github.com/aretw0/mold/pkg/adapters/sqlite"
	"github.com/aretw0/mold/pkg/core"
)

// backends lists the stores repository behaviour is checked against.
var backends = []struct {
	name string
	open func(t *testing.T) core.Database
}{
	{"memory", func(t *testing.T) core.Database {
		return memory.New(memory.Config{})
	}},
	{"fs", func(t *testing.T) core.Database {
		db, err := fs.New(fs.Config{Path: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, db.Initialize(context.Background()))
		t.Cleanup(func() { _ = db.Close(context.Background()) })
		return db
	}},
	{"sqlite", func(t *testing.T) core.Database {
		db, err := sqlite.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "repo.db")})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close(context.Background()) })
		return db
	}},
}

// eachBackend runs fn once per store; open returns a fresh, empty store.
func eachBackend(t *testing.T, fn func(t *testing.T, open func(*testing.T) core.Database)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) { fn(t, b.open) })
	}
}
