// Package entity defines what the repository layer persists: values carrying
// a unique, comparable identifier stored under the document "_id" key.
package entity

import (
	"reflect"
	"strings"
)

// Entity is implemented by the pointer type of every persisted value.
type Entity[K comparable] interface {
	GetID() K
	SetID(id K)
}

// Base is the common root for entities identified by strings.
// Embed it inline to declare an entity:
//
//	type Customer struct {
//		entity.Base `bson:",inline"`
//		Name        string `bson:"name"`
//	}
type Base struct {
	ID string `bson:"_id,omitempty" json:"id,omitempty" yaml:"id,omitempty"`
}

func (b *Base) GetID() string   { return b.ID }
func (b *Base) SetID(id string) { b.ID = id }

// Keyed is the common root for entities with a caller-chosen key type
// (integers, primitive.ObjectID, named string types).
type Keyed[K comparable] struct {
	ID K `bson:"_id,omitempty" json:"id,omitempty" yaml:"id,omitempty"`
}

func (k *Keyed[K]) GetID() K   { return k.ID }
func (k *Keyed[K]) SetID(id K) { k.ID = id }

var (
	baseType = reflect.TypeOf(Base{})
	pkgPath  = baseType.PkgPath()
)

// IsRoot reports whether t is one of the common root bases (Base or any Keyed instantiation).
func IsRoot(t reflect.Type) bool {
	if t == baseType {
		return true
	}
	return t.Kind() == reflect.Struct && t.PkgPath() == pkgPath && strings.HasPrefix(t.Name(), "Keyed[")
}

// IsZero reports whether id is the zero value of its type, i.e. unset.
func IsZero[K comparable](id K) bool {
	var zero K
	return id == zero
}
