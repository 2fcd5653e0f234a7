package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/storetest"
	"github.com/aretw0/mold/pkg/core"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Database {
		return New(Config{Name: "test"})
	})
}

func TestReadOnly(t *testing.T) {
	db := New(Config{ReadOnly: true})
	err := db.Collection("c").InsertOne(context.Background(), storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}}))
	assert.ErrorIs(t, err, core.ErrReadOnly)
}

func TestClosed(t *testing.T) {
	db := New(Config{})
	require.NoError(t, db.Close(context.Background()))
	_, err := db.Collection("c").Count(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestInsertAssignsObjectID(t *testing.T) {
	ctx := context.Background()
	db := New(Config{})
	coll := db.Collection("c")
	require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "name", Value: "x"}})))

	cur, err := coll.Find(ctx, nil, nil)
	require.NoError(t, err)
	docs := storetest.All(t, cur)
	require.Len(t, docs, 1)
	assert.Equal(t, "_id", docs[0].Index(0).Key())
	_, ok := docs[0].Lookup("_id").ObjectIDOK()
	assert.True(t, ok)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := New(Config{})

	events, err := db.Watch(ctx, "people")
	require.NoError(t, err)

	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}})))
	require.NoError(t, db.Collection("other").InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "b"}})))
	_, err = coll.DeleteMany(ctx, nil)
	require.NoError(t, err)

	expect := []core.EventType{core.EventCreate, core.EventDelete}
	for _, want := range expect {
		select {
		case e := <-events:
			assert.Equal(t, want, e.Type)
			assert.Equal(t, "people", e.Collection)
			assert.Equal(t, "a", e.ID)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}

	cancel()
	select {
	case _, open := <-events:
		assert.False(t, open, "channel closes after cancellation")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestStatsAndState(t *testing.T) {
	ctx := context.Background()
	db := New(Config{Name: "stats"})
	coll := db.Collection("people")
	require.NoError(t, coll.InsertOne(ctx, storetest.Doc(t, bson.D{{Key: "_id", Value: "a"}, {Key: "n", Value: 1}})))
	_, err := coll.Indexes().Create(ctx, core.IndexModel{Keys: []core.IndexKey{{Field: "n"}}})
	require.NoError(t, err)
	require.NoError(t, db.ReIndex(ctx, "people"))

	st, err := db.Stats(ctx, "people")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Count)
	assert.Equal(t, 2, st.IndexCount)
	assert.Positive(t, st.Size)

	_, err = db.Stats(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	state := db.State().(DatabaseState)
	assert.Equal(t, "stats", state.Name)
	assert.Equal(t, 1, state.Collections["people"])
	assert.Equal(t, "store", db.ComponentType())
}
