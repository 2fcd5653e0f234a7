package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/pkg/entity"
)

type Shape interface{ Area() float64 }

type Address struct {
	City string `bson:"city"`
	Zip  string
}

type Meta struct {
	Source string `bson:"source"`
}

type Order struct {
	entity.Base `bson:",inline"`
	Meta        `bson:",inline"`
	Customer    string            `bson:"customer_name"`
	Total       float64           `bson:"total,omitempty"`
	Address     *Address          `bson:"address"`
	Lines       []Address         `bson:"lines"`
	Labels      map[string]string `bson:"labels"`
	Shape       Shape             `bson:"shape"`
	Secret      string            `bson:"-"`
	Plain       int
}

func TestRaw(t *testing.T) {
	doc, err := Eq("address.city", "Lisbon").Document()
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "address.city", Value: bson.D{{Key: "$eq", Value: "Lisbon"}}}}, doc)

	doc, err = All().Document()
	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.True(t, All().IsEmpty())
	assert.True(t, Raw(nil).IsEmpty())
}

func TestCombinators(t *testing.T) {
	t.Run("And Drops Empty Clauses", func(t *testing.T) {
		f := And(All(), Eq("a", 1))
		doc, err := f.Document()
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "a", Value: bson.D{{Key: "$eq", Value: 1}}}}, doc)
	})

	t.Run("And Of Nothing Matches All", func(t *testing.T) {
		assert.True(t, And().IsEmpty())
	})

	t.Run("Or Keeps Clauses", func(t *testing.T) {
		doc, err := Or(Eq("a", 1), Eq("b", 2)).Document()
		require.NoError(t, err)
		require.Len(t, doc, 1)
		assert.Equal(t, "$or", doc[0].Key)
		assert.Len(t, doc[0].Value, 2)
	})

	t.Run("Empty Or Is An Error", func(t *testing.T) {
		_, err := Or().Document()
		assert.ErrorIs(t, err, ErrUnsupportedPredicate)
	})

	t.Run("Not Uses Nor", func(t *testing.T) {
		doc, err := Not(Eq("a", 1)).Document()
		require.NoError(t, err)
		assert.Equal(t, "$nor", doc[0].Key)
	})

	t.Run("Errors Propagate", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := And(Eq("a", 1), Error(boom)).Document()
		assert.ErrorIs(t, err, boom)
		_, err = Not(Error(boom)).Document()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Regex Options", func(t *testing.T) {
		doc, err := Regex("name", "^a", "i").Document()
		require.NoError(t, err)
		assert.Equal(t, bson.D{{Key: "$regex", Value: "^a"}, {Key: "$options", Value: "i"}}, doc[0].Value)
	})
}

func TestFields_Path(t *testing.T) {
	fields := Of[*Order]()

	tests := []struct {
		path string
		want string
	}{
		{"ID", "_id"},
		{"_id", "_id"},
		{"Source", "source"},
		{"Customer", "customer_name"},
		{"customer_name", "customer_name"},
		{"Total", "total"},
		{"Address.City", "address.city"},
		{"Address.Zip", "address.zip"},
		{"Lines.City", "lines.city"},
		{"Labels.env", "labels.env"},
		{"Plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := fields.Path(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFields_Unsupported(t *testing.T) {
	fields := Of[Order]()

	for _, path := range []string{"Shape", "Shape.Radius", "Secret", "Missing", "Customer.Length", ""} {
		t.Run(path, func(t *testing.T) {
			_, err := fields.Path(path)
			if !errors.Is(err, ErrUnsupportedPredicate) {
				t.Fatalf("expected ErrUnsupportedPredicate for %q, got %v", path, err)
			}
		})
	}

	t.Run("Filter Carries Error", func(t *testing.T) {
		_, err := fields.Eq("Shape.Radius", 2).Document()
		assert.ErrorIs(t, err, ErrUnsupportedPredicate)
	})

	t.Run("Raw Path Escape Hatch", func(t *testing.T) {
		doc, err := Eq("shape.radius", 2).Document()
		require.NoError(t, err)
		assert.Equal(t, "shape.radius", doc[0].Key)
	})
}

func TestFields_Builders(t *testing.T) {
	fields := Of[Order]()
	doc, err := fields.Gte("Total", 10.0).And(fields.In("Address.City", "Porto", "Faro")).Document()
	require.NoError(t, err)
	assert.Equal(t, "$and", doc[0].Key)

	clauses := doc[0].Value.(bson.A)
	assert.Equal(t, bson.D{{Key: "total", Value: bson.D{{Key: "$gte", Value: 10.0}}}}, clauses[0])
	assert.Equal(t, bson.D{{Key: "address.city", Value: bson.D{{Key: "$in", Value: bson.A{"Porto", "Faro"}}}}}, clauses[1])
}

func TestFields_Operators(t *testing.T) {
	fields := Of[Order]()
	for _, tt := range []struct {
		f    Filter
		op   string
		want any
	}{
		{fields.Eq("Customer", "ada"), "$eq", "ada"},
		{fields.Ne("Customer", "ada"), "$ne", "ada"},
		{fields.Gt("Total", 1.0), "$gt", 1.0},
		{fields.Gte("Total", 1.0), "$gte", 1.0},
		{fields.Lt("Total", 1.0), "$lt", 1.0},
		{fields.Lte("Total", 1.0), "$lte", 1.0},
		{fields.Nin("Customer", "a", "b"), "$nin", bson.A{"a", "b"}},
		{fields.Exists("Customer", false), "$exists", false},
	} {
		doc, err := tt.f.Document()
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		want := bson.D{{Key: doc[0].Key, Value: bson.D{{Key: tt.op, Value: tt.want}}}}
		if !assert.Equal(t, want, doc, tt.op) {
			continue
		}
		assert.Contains(t, []string{"customer_name", "total"}, doc[0].Key)
	}

	for _, f := range []Filter{fields.Eq("Nope", 1), fields.Lte("Address.Nope", 1), fields.Size("Secret", 1)} {
		assert.ErrorIs(t, f.Err(), ErrUnsupportedPredicate)
	}
}
