package platform

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/mold/pkg/adapters/fs"
	"github.com/aretw0/mold/pkg/adapters/memory"
	"github.com/aretw0/mold/pkg/adapters/sqlite"
	"github.com/aretw0/mold/pkg/core"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		scheme string
		path   string
		query  string
	}{
		{"Memory", "mem://scratch", SchemeMemory, "scratch", ""},
		{"Memory Unnamed", "mem://", SchemeMemory, "", ""},
		{"File With Format", "file:///var/data?format=yaml", SchemeFile, "/var/data", "yaml"},
		{"Bare Path", "./data", SchemeFile, "./data", ""},
		{"SQLite In Memory", "sqlite://:memory:", SchemeSQLite, ":memory:", ""},
		{"SQLite File", "sqlite://app.db?name=app", SchemeSQLite, "app.db", ""},
		{"Mongo", "mongodb://u:p@localhost:27017/app?authSource=admin", SchemeMongo, "u:p@localhost:27017/app?authSource=admin", ""},
		{"Mongo SRV", "MONGODB+SRV://cluster.example.com/app", SchemeMongoSRV, "cluster.example.com/app", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, loc.Scheme)
			assert.Equal(t, tt.path, loc.Path)
			assert.Equal(t, tt.query, loc.Query.Get("format"))
		})
	}

	t.Run("Errors", func(t *testing.T) {
		for _, uri := range []string{"", "  ", "redis://localhost", "file://", "sqlite://", "file://x?%zz"} {
			_, err := ParseURI(uri)
			assert.ErrorIs(t, err, core.ErrConfiguration, uri)
		}
	})
}

func TestMongoDatabase(t *testing.T) {
	assert.Equal(t, "app", mongoDatabase("u:p@h1:27017,h2:27017/app?replicaSet=rs0"))
	assert.Equal(t, "", mongoDatabase("localhost:27017"))
	assert.Equal(t, "", mongoDatabase("localhost:27017/?w=1"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		db, err := Open(ctx, "mem://scratch")
		require.NoError(t, err)
		assert.IsType(t, &memory.Database{}, db)
		assert.Equal(t, "scratch", db.Name())
	})

	t.Run("Filesystem", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "vault")
		db, err := Open(ctx, "file://"+dir+"?format=yaml")
		require.NoError(t, err)
		defer db.Close(ctx)
		fsdb, ok := db.(*fs.Database)
		require.True(t, ok)
		assert.Equal(t, dir, fsdb.Path)
		assert.Equal(t, "yaml", fsdb.State().(fs.DatabaseState).Format)

		info, err := os.Stat(dir)
		require.NoError(t, err, "store directory created on open")
		assert.True(t, info.IsDir())
	})

	t.Run("Filesystem Must Exist", func(t *testing.T) {
		_, err := Open(ctx, filepath.Join(t.TempDir(), "missing"), WithMustExist(true))
		assert.Error(t, err)
	})

	t.Run("SQLite", func(t *testing.T) {
		db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "app.db"), WithReadOnly(false))
		require.NoError(t, err)
		defer db.Close(ctx)
		assert.IsType(t, &sqlite.Database{}, db)
		assert.Equal(t, "app", db.Name())
	})

	t.Run("Read Only", func(t *testing.T) {
		db, err := Open(ctx, "sqlite://:memory:", WithReadOnly(true))
		require.NoError(t, err)
		defer db.Close(ctx)
		err = db.Collection("c").InsertOne(ctx, nil)
		assert.ErrorIs(t, err, core.ErrReadOnly)
	})

	t.Run("Mongo Without Database", func(t *testing.T) {
		_, err := Open(ctx, "mongodb://localhost:27017")
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "data", ResolvePath("data", false))
	assert.Equal(t, ".", ResolvePath("", false))

	assert.Equal(t, filepath.Join(os.TempDir(), DevDirName, "data"), ResolvePath("./projects/data", true))
	assert.Equal(t, filepath.Join(os.TempDir(), DevDirName, "default"), ResolvePath("", true))

	inside := filepath.Join(t.TempDir(), "store")
	assert.Equal(t, inside, ResolvePath(inside, true), "paths already under the temp dir are kept")
}

func TestForceTemp(t *testing.T) {
	ctx := context.Background()
	name := "mold-force-temp-test"
	t.Cleanup(func() { _ = os.RemoveAll(filepath.Join(os.TempDir(), DevDirName, name)) })

	db, err := Open(ctx, "file://relative/"+name, WithForceTemp(true))
	require.NoError(t, err)
	defer db.Close(ctx)
	assert.Equal(t, filepath.Join(os.TempDir(), DevDirName, name), db.(*fs.Database).Path)
}
