package serialization

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type Status int

const (
	StatusDraft Status = iota
	StatusActive
	StatusArchived
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusActive:
		return "Active"
	case StatusArchived:
		return "Archived"
	}
	return "Unknown"
}

type Level uint8

func (l Level) String() string {
	if l == 1 {
		return "High"
	}
	return "Low"
}

type record struct {
	Status  Status    `bson:"status"`
	Level   Level     `bson:"level"`
	Created time.Time `bson:"created"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, RegisterEnumIn(r, StatusDraft, StatusActive, StatusArchived))
	require.NoError(t, RegisterEnumIn(r, Level(0), Level(1)))
	return r
}

func TestCodec_EnumsAsStrings(t *testing.T) {
	c := newTestRegistry(t).Codec()

	raw, err := c.Marshal(record{Status: StatusActive, Level: 1})
	require.NoError(t, err)
	assert.Equal(t, "Active", raw.Lookup("status").StringValue())
	assert.Equal(t, "High", raw.Lookup("level").StringValue())

	var out record
	require.NoError(t, c.Unmarshal(raw, &out))
	assert.Equal(t, StatusActive, out.Status)
	assert.Equal(t, Level(1), out.Level)
}

func TestCodec_EnumLegacyForms(t *testing.T) {
	c := newTestRegistry(t).Codec()

	tests := []struct {
		name string
		doc  bson.D
		want Status
	}{
		{"Int32", bson.D{{Key: "status", Value: int32(2)}}, StatusArchived},
		{"Int64", bson.D{{Key: "status", Value: int64(1)}}, StatusActive},
		{"Double", bson.D{{Key: "status", Value: 1.0}}, StatusActive},
		{"Case Insensitive", bson.D{{Key: "status", Value: "archived"}}, StatusArchived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(tt.doc)
			require.NoError(t, err)
			var out record
			require.NoError(t, c.Unmarshal(raw, &out))
			assert.Equal(t, tt.want, out.Status)
		})
	}

	t.Run("Unknown Name", func(t *testing.T) {
		raw, _ := bson.Marshal(bson.D{{Key: "status", Value: "Deleted"}})
		var out record
		assert.Error(t, c.Unmarshal(raw, &out))
	})
}

func TestCodec_UnregisteredValueKeepsNumber(t *testing.T) {
	c := newTestRegistry(t).Codec()
	raw, err := c.Marshal(record{Status: Status(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), raw.Lookup("status").Int64())
}

func TestCodec_TimeDecodesLocal(t *testing.T) {
	c := New().Codec()
	in := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	raw, err := c.Marshal(record{Created: in})
	require.NoError(t, err)

	var out record
	require.NoError(t, c.Unmarshal(raw, &out))
	assert.True(t, in.Equal(out.Created))
	assert.Equal(t, time.Local, out.Created.Location())
}

func TestRegistry_Initialize(t *testing.T) {
	t.Run("Concurrent First Calls Build Once", func(t *testing.T) {
		r := New()
		var wg sync.WaitGroup
		results := make([]any, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = r.Initialize()
			}(i)
		}
		wg.Wait()
		for _, got := range results {
			assert.Same(t, results[0], got)
		}
	})

	t.Run("Registration Is Idempotent Before Initialize", func(t *testing.T) {
		r := New()
		require.NoError(t, RegisterEnumIn(r, StatusDraft))
		require.NoError(t, RegisterEnumIn(r, StatusDraft, StatusActive))
		assert.Len(t, r.Enums(), 1)
	})

	t.Run("Frozen After Initialize", func(t *testing.T) {
		r := New()
		r.Initialize()
		assert.True(t, r.Initialized())
		err := RegisterEnumIn(r, StatusDraft)
		if !errors.Is(err, ErrRegistryFrozen) {
			t.Fatalf("expected ErrRegistryFrozen, got %v", err)
		}
		assert.Same(t, r.Initialize(), r.Initialize())
	})
}
