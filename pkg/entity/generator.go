package entity

import (
	"reflect"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Generator produces identifiers for entities inserted without one.
type Generator[K comparable] func() (K, error)

var objectIDType = reflect.TypeOf(primitive.ObjectID{})

// DefaultGenerator returns the generator used when none is configured:
// string-kinded keys get a 24-character hex ObjectID, primitive.ObjectID keys
// a fresh ObjectID. Other key types have no default.
func DefaultGenerator[K comparable]() (Generator[K], bool) {
	t := reflect.TypeFor[K]()
	switch {
	case t == objectIDType:
		return func() (K, error) {
			return any(primitive.NewObjectID()).(K), nil
		}, true
	case t.Kind() == reflect.String:
		return func() (K, error) {
			return reflect.ValueOf(primitive.NewObjectID().Hex()).Convert(t).Interface().(K), nil
		}, true
	}
	return nil, false
}

// UUID generates random (version 4) UUID strings.
func UUID[K ~string]() Generator[K] {
	return func() (K, error) {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		return K(id.String()), nil
	}
}
