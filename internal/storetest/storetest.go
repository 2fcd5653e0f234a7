// Package storetest checks that a core.Database implementation behaves like
// the document stores the repository layer expects.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/pkg/core"
)

// Factory opens an empty database for one test.
type Factory func(t *testing.T) core.Database

// Run exercises db against the store contract.
func Run(t *testing.T, open Factory) {
	t.Run("Insert And Find By ID", func(t *testing.T) { testInsertFind(t, open(t)) })
	t.Run("Duplicate Key", func(t *testing.T) { testDuplicate(t, open(t)) })
	t.Run("Replace And Upsert", func(t *testing.T) { testReplace(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Query Options", func(t *testing.T) { testQueryOptions(t, open(t)) })
	t.Run("Indexes", func(t *testing.T) { testIndexes(t, open(t)) })
	t.Run("Collections", func(t *testing.T) { testCollections(t, open(t)) })
	t.Run("Cancelled Context", func(t *testing.T) { testCancelled(t, open(t)) })
}

// Doc marshals v, failing the test on error.
func Doc(t *testing.T, v any) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	require.NoError(t, err)
	return b
}

// All drains a cursor.
func All(t *testing.T, cur core.Cursor) []bson.Raw {
	t.Helper()
	ctx := context.Background()
	defer cur.Close(ctx)
	var out []bson.Raw
	for cur.Next(ctx) {
		out = append(out, append(bson.Raw(nil), cur.Current()...))
	}
	require.NoError(t, cur.Err())
	return out
}

func person(id, name string, age int) bson.Raw {
	b, _ := bson.Marshal(bson.D{{Key: "_id", Value: id}, {Key: "name", Value: name}, {Key: "age", Value: age}})
	return b
}

func byID(t *testing.T, id string) bson.Raw {
	return Doc(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$eq", Value: id}}}})
}

func testInsertFind(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.Equal(t, "people", coll.Name())

	require.NoError(t, coll.InsertOne(ctx, person("a", "Ada", 36)))
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{person("b", "Bob", 41), person("c", "Cy", 19)}))

	cur, err := coll.Find(ctx, byID(t, "b"), nil)
	require.NoError(t, err)
	docs := All(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "Bob", docs[0].Lookup("name").StringValue())

	cur, err = coll.Find(ctx, byID(t, "zzz"), nil)
	require.NoError(t, err)
	assert.Empty(t, All(t, cur))

	n, err := coll.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = coll.Count(ctx, Doc(t, bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 20}}}}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = db.Collection("missing").Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDuplicate(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, person("a", "Ada", 36)))

	err := coll.InsertOne(ctx, person("a", "Other", 1))
	assert.True(t, errors.Is(err, core.ErrDuplicateKey), "got %v", err)

	err = coll.InsertMany(ctx, []bson.Raw{person("b", "Bob", 41), person("a", "Again", 2), person("c", "Cy", 19)})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	n, err := coll.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "ordered insert stops at the failing document")
}

func testReplace(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, person("a", "Ada", 36)))

	res, err := coll.ReplaceOne(ctx, byID(t, "a"), person("a", "Ada Lovelace", 37), true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Matched)
	assert.False(t, res.Upserted)

	cur, err := coll.Find(ctx, byID(t, "a"), nil)
	require.NoError(t, err)
	docs := All(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "Ada Lovelace", docs[0].Lookup("name").StringValue())

	res, err = coll.ReplaceOne(ctx, byID(t, "x"), person("x", "Xi", 5), false)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.False(t, res.Upserted)

	res, err = coll.ReplaceOne(ctx, byID(t, "x"), person("x", "Xi", 5), true)
	require.NoError(t, err)
	assert.True(t, res.Upserted)

	n, err := coll.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func testDelete(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{
		person("a", "Ada", 36), person("b", "Bob", 41), person("c", "Cy", 19), person("d", "Di", 50),
	}))

	n, err := coll.DeleteOne(ctx, Doc(t, bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 30}}}}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = coll.DeleteMany(ctx, Doc(t, bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 30}}}}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = coll.DeleteMany(ctx, Doc(t, bson.D{{Key: "name", Value: "nobody"}}))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = coll.DeleteMany(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = coll.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testQueryOptions(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{
		person("a", "Ada", 36), person("b", "Bob", 41), person("c", "Cy", 19), person("d", "Di", 50),
	}))

	cur, err := coll.Find(ctx, nil, &core.FindOptions{
		Sort:       bson.D{{Key: "age", Value: -1}},
		Skip:       1,
		Limit:      2,
		Projection: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 0}},
	})
	require.NoError(t, err)
	docs := All(t, cur)
	require.Len(t, docs, 2)
	assert.Equal(t, "Bob", docs[0].Lookup("name").StringValue())
	assert.Equal(t, "Ada", docs[1].Lookup("name").StringValue())
	_, err = docs[0].LookupErr("_id")
	assert.Error(t, err, "_id excluded by projection")
	_, err = docs[0].LookupErr("age")
	assert.Error(t, err, "age not included")

	cur, err = coll.Find(ctx, Doc(t, bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^d"}, {Key: "$options", Value: "i"}}}}), &core.FindOptions{Limit: 1})
	require.NoError(t, err)
	docs = All(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "Di", docs[0].Lookup("name").StringValue())
}

func testIndexes(t *testing.T, db core.Database) {
	ctx := context.Background()
	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, person("a", "Ada", 36)))

	name, err := coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "name"}}, Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "name_1", name)

	name, err = coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "name"}}, Unique: true})
	require.NoError(t, err, "creating the same index twice is a no-op")
	assert.Equal(t, "name_1", name)

	_, err = coll.Indexes().Create(ctx, core.IndexModel{Name: "age_desc", Keys: []core.IndexKey{{Field: "age", Descending: true}}})
	require.NoError(t, err)

	err = coll.InsertOne(ctx, person("b", "Ada", 1))
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	infos, err := coll.Indexes().List(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "name_1")
	assert.Contains(t, names, "age_desc")

	require.NoError(t, coll.Indexes().Drop(ctx, "name_1"))
	assert.ErrorIs(t, coll.Indexes().Drop(ctx, "name_1"), core.ErrNotFound)
	require.NoError(t, coll.InsertOne(ctx, person("b", "Ada", 1)))

	require.NoError(t, coll.Indexes().DropAll(ctx))
	infos, err = coll.Indexes().List(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		assert.NotEqual(t, "age_desc", info.Name)
	}
}

func testCollections(t *testing.T, db core.Database) {
	ctx := context.Background()
	for _, name := range []string{"orders", "order_items", "people"} {
		require.NoError(t, db.Collection(name).InsertOne(ctx, person("x", "X", 1)))
	}

	names, err := db.ListCollections(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "order_items", "people"}, names)

	names, err = db.ListCollections(ctx, "order*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "order_items"}, names)

	require.NoError(t, db.DropCollection(ctx, "orders"))
	require.NoError(t, db.DropCollection(ctx, "never-existed"))
	names, err = db.ListCollections(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"order_items", "people"}, names)

	n, err := db.Collection("orders").Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCancelled(t *testing.T, db core.Database) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coll := db.Collection("people")

	err := coll.InsertMany(ctx, []bson.Raw{person("a", "Ada", 36)})
	assert.ErrorIs(t, err, context.Canceled)

	n, err := coll.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
