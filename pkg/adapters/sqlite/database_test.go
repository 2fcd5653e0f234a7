package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/storetest"
	"github.com/aretw0/mold/pkg/core"
)

func open(t *testing.T, config Config) *Database {
	t.Helper()
	if config.Path == "" {
		config.Path = MemoryPath
	}
	db, err := Open(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestStoreContract(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) core.Database {
			return open(t, Config{})
		})
	})
	t.Run("File", func(t *testing.T) {
		storetest.Run(t, func(t *testing.T) core.Database {
			return open(t, Config{Path: filepath.Join(t.TempDir(), "store.db")})
		})
	})
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	db := open(t, Config{Path: filepath.Join(t.TempDir(), "inventory.sqlite")})
	assert.Equal(t, "inventory", db.Name())
	assert.Equal(t, "memory", open(t, Config{}).Name())
	assert.Equal(t, "custom", open(t, Config{Name: "custom"}).Name())
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}, {Key: "name", Value: "Ada"}})))
	_, err = coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "name"}}, Unique: true})
	require.NoError(t, err)
	require.NoError(t, db.Close(ctx))

	t.Run("Closed", func(t *testing.T) {
		_, err := db.Collection("people").Count(ctx, nil)
		assert.ErrorIs(t, err, core.ErrClosed)
	})

	reopened := open(t, Config{Path: path})
	coll = reopened.Collection("people")
	n, err := coll.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	err = coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}, {Key: "name", Value: "Ada"}}))
	assert.ErrorIs(t, err, core.ErrDuplicateKey, "unique index survives reopen")
}

func TestUniqueIndexes(t *testing.T) {
	ctx := context.Background()
	db := open(t, Config{})
	coll := db.Collection("people")
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{
		storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}, {Key: "email", Value: "a@x"}}),
		storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}, {Key: "email", Value: "a@x"}}),
		storetest.Doc(t, bson.D{{Key: "_id", Value: "c"}}),
	}))

	t.Run("Build Fails On Existing Duplicates", func(t *testing.T) {
		_, err := coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "email"}}, Unique: true})
		assert.ErrorIs(t, err, core.ErrDuplicateKey)

		infos, err := coll.Indexes().List(ctx)
		require.NoError(t, err)
		assert.Len(t, infos, 1, "failed build leaves no definition behind")
	})

	_, err := coll.DeleteOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}}))
	require.NoError(t, err)

	t.Run("Sparse Skips Missing Fields", func(t *testing.T) {
		_, err := coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "email"}}, Unique: true, Sparse: true})
		require.NoError(t, err)
		require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "d"}})))
	})

	t.Run("Replace Moves Entries", func(t *testing.T) {
		_, err := coll.ReplaceOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}}),
			storetest.Doc(t, bson.D{{Key: "email", Value: "new@x"}}), false)
		require.NoError(t, err)
		require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "e"}, {Key: "email", Value: "a@x"}})))

		_, err = coll.ReplaceOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "c"}}),
			storetest.Doc(t, bson.D{{Key: "email", Value: "new@x"}}), false)
		assert.ErrorIs(t, err, core.ErrDuplicateKey)
	})

	t.Run("Immutable ID", func(t *testing.T) {
		_, err := coll.ReplaceOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}}),
			storetest.Doc(t, bson.D{{Key: "_id", Value: "zz"}}), false)
		assert.Error(t, err)
	})

	require.NoError(t, db.ReIndex(ctx, "people"))
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	writer := open(t, Config{Path: path})
	require.NoError(t, writer.Collection("c").InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}})))
	require.NoError(t, writer.Close(ctx))

	db := open(t, Config{Path: path, ReadOnly: true})
	err := db.Collection("c").InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}}))
	assert.ErrorIs(t, err, core.ErrReadOnly)
	assert.ErrorIs(t, db.DropCollection(ctx, "c"), core.ErrReadOnly)

	n, err := db.Collection("c").Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStatsAndState(t *testing.T) {
	ctx := context.Background()
	db := open(t, Config{Name: "stats"})
	coll := db.Collection("people")
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{
		storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}, {Key: "name", Value: "Ada"}}),
		storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}, {Key: "name", Value: "Bob"}}),
	}))
	_, err := coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "name"}}})
	require.NoError(t, err)

	st, err := db.Stats(ctx, "people")
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Count)
	assert.Equal(t, 2, st.IndexCount)
	assert.Equal(t, "sqlite", st.StorageType)
	assert.Positive(t, st.Size)
	assert.Equal(t, st.Size/2, st.AvgObjSize)

	_, err = db.Stats(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, db.ReIndex(ctx, "missing"), core.ErrNotFound)

	state, ok := db.State().(DatabaseState)
	require.True(t, ok)
	assert.Equal(t, "stats", state.Name)
	assert.Equal(t, 2, state.Collections["people"])
	assert.Equal(t, "store", db.ComponentType())
}
