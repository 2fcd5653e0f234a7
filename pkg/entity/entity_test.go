package entity

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type customerID string

func TestDefaultGenerator(t *testing.T) {
	t.Run("String Keys Get Hex ObjectIDs", func(t *testing.T) {
		gen, ok := DefaultGenerator[string]()
		if !ok {
			t.Fatal("expected a default generator for string keys")
		}
		seen := make(map[string]bool)
		for range 1000 {
			id, err := gen()
			if err != nil {
				t.Fatalf("generate failed: %v", err)
			}
			if len(id) != 24 {
				t.Fatalf("expected 24 hex characters, got %q", id)
			}
			if _, err := primitive.ObjectIDFromHex(id); err != nil {
				t.Fatalf("id %q is not a valid ObjectID: %v", id, err)
			}
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}
	})

	t.Run("Named String Keys", func(t *testing.T) {
		gen, ok := DefaultGenerator[customerID]()
		if !ok {
			t.Fatal("expected a default generator for named string keys")
		}
		id, err := gen()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(id) != 24 {
			t.Errorf("expected 24 characters, got %q", id)
		}
	})

	t.Run("ObjectID Keys", func(t *testing.T) {
		gen, ok := DefaultGenerator[primitive.ObjectID]()
		if !ok {
			t.Fatal("expected a default generator for ObjectID keys")
		}
		id, err := gen()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if id.IsZero() {
			t.Error("expected a non-zero ObjectID")
		}
	})

	t.Run("Integer Keys Have No Default", func(t *testing.T) {
		if _, ok := DefaultGenerator[int](); ok {
			t.Error("int keys must be supplied by the caller")
		}
	})
}

func TestUUID(t *testing.T) {
	gen := UUID[string]()
	a, err := gen()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := gen()
	if len(a) != 36 || a == b {
		t.Errorf("unexpected uuids %q and %q", a, b)
	}
}

func TestIsRoot(t *testing.T) {
	type Person struct {
		Base `bson:",inline"`
	}

	tests := []struct {
		name string
		typ  reflect.Type
		want bool
	}{
		{"Base", reflect.TypeOf(Base{}), true},
		{"Keyed Int", reflect.TypeOf(Keyed[int]{}), true},
		{"Keyed ObjectID", reflect.TypeOf(Keyed[primitive.ObjectID]{}), true},
		{"Embedding Type", reflect.TypeOf(Person{}), false},
		{"Non Struct", reflect.TypeOf(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRoot(tt.typ); got != tt.want {
				t.Errorf("IsRoot(%v) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestBaseAccessors(t *testing.T) {
	var e Entity[string] = &Base{}
	if !IsZero(e.GetID()) {
		t.Fatal("expected zero id")
	}
	e.SetID("abc")
	if e.GetID() != "abc" {
		t.Errorf("expected abc, got %s", e.GetID())
	}

	var k Entity[int] = &Keyed[int]{}
	k.SetID(42)
	if k.GetID() != 42 {
		t.Errorf("expected 42, got %d", k.GetID())
	}
}
