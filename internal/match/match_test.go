package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/aretw0/mold/pkg/core"
)

func raw(t *testing.T, v any) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCompile_Operators(t *testing.T) {
	doc := raw(t, bson.D{
		{Key: "_id", Value: "a1"},
		{Key: "name", Value: "Ada"},
		{Key: "age", Value: int32(36)},
		{Key: "score", Value: 9.5},
		{Key: "tags", Value: bson.A{"math", "engine"}},
		{Key: "address", Value: bson.D{{Key: "city", Value: "London"}, {Key: "zip", Value: "N1"}}},
		{Key: "jobs", Value: bson.A{
			bson.D{{Key: "title", Value: "analyst"}, {Key: "years", Value: 3}},
			bson.D{{Key: "title", Value: "writer"}, {Key: "years", Value: 1}},
		}},
		{Key: "_t", Value: bson.A{"Person", "Scientist"}},
		{Key: "nothing", Value: nil},
	})

	tests := []struct {
		name   string
		filter bson.D
		want   bool
	}{
		{"Empty", bson.D{}, true},
		{"Implicit Eq", bson.D{{Key: "name", Value: "Ada"}}, true},
		{"Eq Across Numeric Types", bson.D{{Key: "age", Value: bson.D{{Key: "$eq", Value: int64(36)}}}}, true},
		{"Eq Mismatch", bson.D{{Key: "name", Value: "Bob"}}, false},
		{"Ne", bson.D{{Key: "name", Value: bson.D{{Key: "$ne", Value: "Bob"}}}}, true},
		{"Gt", bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 30}}}}, true},
		{"Gte Double", bson.D{{Key: "score", Value: bson.D{{Key: "$gte", Value: 9.5}}}}, true},
		{"Lt", bson.D{{Key: "age", Value: bson.D{{Key: "$lt", Value: 30}}}}, false},
		{"Range Ignores Other Types", bson.D{{Key: "name", Value: bson.D{{Key: "$gt", Value: 1}}}}, false},
		{"Combined Range", bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 30}, {Key: "$lte", Value: 36}}}}, true},
		{"In", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"Bob", "Ada"}}}}}, true},
		{"Nin", bson.D{{Key: "name", Value: bson.D{{Key: "$nin", Value: bson.A{"Bob", "Ada"}}}}}, false},
		{"Array Contains", bson.D{{Key: "tags", Value: "math"}}, true},
		{"Discriminator Contains", bson.D{{Key: "_t", Value: bson.D{{Key: "$eq", Value: "Scientist"}}}}, true},
		{"Whole Array Eq", bson.D{{Key: "tags", Value: bson.A{"math", "engine"}}}, true},
		{"Dotted Path", bson.D{{Key: "address.city", Value: "London"}}, true},
		{"Path Through Array", bson.D{{Key: "jobs.title", Value: "writer"}}, true},
		{"Array Index", bson.D{{Key: "jobs.0.title", Value: "writer"}}, false},
		{"Embedded Doc Any Key Order", bson.D{{Key: "address", Value: bson.D{{Key: "zip", Value: "N1"}, {Key: "city", Value: "London"}}}}, true},
		{"Exists True", bson.D{{Key: "address.zip", Value: bson.D{{Key: "$exists", Value: true}}}}, true},
		{"Exists False", bson.D{{Key: "missing", Value: bson.D{{Key: "$exists", Value: false}}}}, true},
		{"Null Matches Missing", bson.D{{Key: "missing", Value: nil}}, true},
		{"Null Matches Null", bson.D{{Key: "nothing", Value: nil}}, true},
		{"Regex", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^a"}, {Key: "$options", Value: "i"}}}}, true},
		{"Regex Value", bson.D{{Key: "name", Value: primitive.Regex{Pattern: "d", Options: ""}}}, true},
		{"Not", bson.D{{Key: "age", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gt", Value: 40}}}}}}, true},
		{"Size", bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: 2}}}}, true},
		{"All", bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"engine", "math"}}}}}, true},
		{"All Missing Member", bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"engine", "art"}}}}}, false},
		{"ElemMatch Doc", bson.D{{Key: "jobs", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "title", Value: "writer"}, {Key: "years", Value: bson.D{{Key: "$gte", Value: 3}}}}}}}}, false},
		{"ElemMatch Ops", bson.D{{Key: "tags", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$regex", Value: "^eng"}}}}}}, true},
		{"Type", bson.D{{Key: "age", Value: bson.D{{Key: "$type", Value: "int"}}}}, true},
		{"Type Number", bson.D{{Key: "score", Value: bson.D{{Key: "$type", Value: "number"}}}}, true},
		{"And", bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "name", Value: "Ada"}}, bson.D{{Key: "age", Value: 36}}}}}, true},
		{"Or", bson.D{{Key: "$or", Value: bson.A{bson.D{{Key: "name", Value: "Bob"}}, bson.D{{Key: "age", Value: 36}}}}}, true},
		{"Nor", bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "name", Value: "Ada"}}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(raw(t, tt.filter))
			require.NoError(t, err)
			assert.Equal(t, tt.want, m(doc))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, f := range []bson.D{
		{{Key: "$where", Value: "true"}},
		{{Key: "a", Value: bson.D{{Key: "$near", Value: 1}}}},
		{{Key: "$or", Value: bson.A{}}},
		{{Key: "a", Value: bson.D{{Key: "$in", Value: 1}}}},
		{{Key: "name", Value: bson.D{{Key: "$regex", Value: "a"}, {Key: "$options", Value: int32(1)}}}},
		{{Key: "name", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$regex", Value: "a"}, {Key: "$options", Value: true}}}}}},
	} {
		_, err := Compile(raw(t, f))
		assert.Error(t, err, "%v", f)
	}

	_, err := Compile(raw(t, bson.D{{Key: "$text", Value: "x"}}))
	assert.True(t, errors.Is(err, ErrUnsupportedOperator))
}

func TestFind_SortPageProject(t *testing.T) {
	docs := []bson.Raw{
		raw(t, bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "c"}, {Key: "n", Value: 3}, {Key: "sub", Value: bson.D{{Key: "x", Value: 1}, {Key: "y", Value: 2}}}}),
		raw(t, bson.D{{Key: "_id", Value: 2}, {Key: "name", Value: "a"}, {Key: "n", Value: 1}}),
		raw(t, bson.D{{Key: "_id", Value: 3}, {Key: "name", Value: "b"}, {Key: "n", Value: 2}}),
		raw(t, bson.D{{Key: "_id", Value: 4}, {Key: "name", Value: "d"}}),
	}

	t.Run("Sort Ascending Puts Missing First", func(t *testing.T) {
		out, err := Find(docs, nil, &core.FindOptions{Sort: bson.D{{Key: "n", Value: 1}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "a", "b", "c"}, names(out))
	})

	t.Run("Sort Descending With Paging", func(t *testing.T) {
		out, err := Find(docs, nil, &core.FindOptions{Sort: bson.D{{Key: "name", Value: -1}}, Skip: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, names(out))
	})

	t.Run("Skip Past End", func(t *testing.T) {
		out, err := Find(docs, nil, &core.FindOptions{Skip: 10})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Inclusion Keeps Id", func(t *testing.T) {
		out, err := Find(docs[:1], nil, &core.FindOptions{Projection: bson.D{{Key: "name", Value: 1}, {Key: "sub.y", Value: 1}}})
		require.NoError(t, err)
		elems, _ := out[0].Elements()
		require.Len(t, elems, 3)
		assert.Equal(t, "_id", elems[0].Key())
		_, err = out[0].LookupErr("sub", "x")
		assert.Error(t, err)
		assert.EqualValues(t, 2, out[0].Lookup("sub", "y").Int32())
	})

	t.Run("Exclusion", func(t *testing.T) {
		out, err := Find(docs[:1], nil, &core.FindOptions{Projection: bson.D{{Key: "sub", Value: 0}, {Key: "_id", Value: 0}}})
		require.NoError(t, err)
		elems, _ := out[0].Elements()
		require.Len(t, elems, 2)
		assert.Equal(t, "name", elems[0].Key())
	})

	t.Run("Mixed Projection Fails", func(t *testing.T) {
		_, err := Find(docs, nil, &core.FindOptions{Projection: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 0}}})
		assert.Error(t, err)
	})
}

func names(docs []bson.Raw) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Lookup("name").StringValue())
	}
	return out
}

func TestKeyAndIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	strDoc := raw(t, bson.D{{Key: "_id", Value: "abc"}})
	tildeDoc := raw(t, bson.D{{Key: "_id", Value: "~abc"}})
	intDoc := raw(t, bson.D{{Key: "_id", Value: int32(7)}})
	longDoc := raw(t, bson.D{{Key: "_id", Value: int64(7)}})
	oidDoc := raw(t, bson.D{{Key: "_id", Value: oid}})

	key := func(d bson.Raw) string {
		id, err := ID(d)
		require.NoError(t, err)
		return Key(id)
	}

	assert.Equal(t, "abc", key(strDoc))
	assert.Equal(t, "~~abc", key(tildeDoc))
	assert.Equal(t, key(intDoc), key(longDoc))
	assert.Equal(t, "~o:"+oid.Hex(), key(oidDoc))

	_, err := ID(raw(t, bson.D{{Key: "x", Value: 1}}))
	assert.ErrorIs(t, err, core.ErrMissingID)

	id, ok := IDEquality(raw(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$eq", Value: "abc"}}}}))
	require.True(t, ok)
	assert.Equal(t, "abc", id.StringValue())

	id, ok = IDEqualityIn(raw(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "_t", Value: "Dog"}},
		bson.D{{Key: "_id", Value: "abc"}},
	}}}))
	require.True(t, ok)
	assert.Equal(t, "abc", id.StringValue())

	_, ok = IDEquality(raw(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{"a"}}}}}))
	assert.False(t, ok)
}

func TestUniqueIndex(t *testing.T) {
	model := core.IndexModel{Name: "email_1", Keys: []core.IndexKey{{Field: "email"}}, Unique: true, Sparse: true}
	idx := NewUniqueIndex(model)

	a := raw(t, bson.D{{Key: "_id", Value: "a"}, {Key: "email", Value: "x@y"}})
	b := raw(t, bson.D{{Key: "_id", Value: "b"}, {Key: "email", Value: "x@y"}})
	c := raw(t, bson.D{{Key: "_id", Value: "c"}})
	d := raw(t, bson.D{{Key: "_id", Value: "d"}})

	require.NoError(t, idx.Check("a", a))
	idx.Put("a", a)
	assert.ErrorIs(t, idx.Check("b", b), core.ErrDuplicateKey)
	assert.NoError(t, idx.Check("a", a), "a document never collides with itself")

	idx.Put("c", c)
	assert.NoError(t, idx.Check("d", d), "sparse indexes skip missing fields")

	idx.Remove("a", a)
	assert.NoError(t, idx.Check("b", b))
	assert.Equal(t, "email_1", IndexName(model.Keys))
	assert.Equal(t, "a_1_b_-1", IndexName([]core.IndexKey{{Field: "a"}, {Field: "b", Descending: true}}))
}
