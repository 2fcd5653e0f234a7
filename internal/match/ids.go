package match

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/aretw0/mold/pkg/core"
)

// ID returns the _id of doc.
func ID(doc bson.Raw) (bson.RawValue, error) {
	id, err := doc.LookupErr("_id")
	if err != nil || isNull(id) {
		return bson.RawValue{}, fmt.Errorf("%w: document has no _id", core.ErrMissingID)
	}
	return id, nil
}

// EnsureID returns doc with an _id, prepending a new ObjectID when it has none.
func EnsureID(doc bson.Raw) (bson.Raw, bson.RawValue, error) {
	if id, err := ID(doc); err == nil {
		return doc, id, nil
	}
	return WithID(doc, bson.RawValue{Type: bsontype.ObjectID, Value: objectIDBytes(primitive.NewObjectID())})
}

// WithID returns a copy of doc whose _id is id, placed first.
func WithID(doc bson.Raw, id bson.RawValue) (bson.Raw, bson.RawValue, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, bson.RawValue{}, err
	}
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendValueElement(dst, "_id", bsoncore.Value{Type: id.Type, Data: id.Value})
	for _, e := range elems {
		if e.Key() == "_id" {
			continue
		}
		dst = append(dst, e...)
	}
	dst, err = bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, bson.RawValue{}, err
	}
	out := bson.Raw(dst)
	return out, out.Lookup("_id"), nil
}

func objectIDBytes(oid primitive.ObjectID) []byte {
	b := make([]byte, len(oid))
	copy(b, oid[:])
	return b
}

// IDEquality extracts the identifier when filter is exactly an _id equality
// ({_id: v} or {_id: {$eq: v}}), letting stores use their primary key.
func IDEquality(filter bson.Raw) (bson.RawValue, bool) {
	if len(filter) == 0 {
		return bson.RawValue{}, false
	}
	elems, err := filter.Elements()
	if err != nil || len(elems) != 1 || elems[0].Key() != "_id" {
		return bson.RawValue{}, false
	}
	v := elems[0].Value()
	if v.Type == bsontype.EmbeddedDocument {
		ops, _ := v.Document().Elements()
		if len(ops) != 1 || ops[0].Key() != "$eq" {
			return bson.RawValue{}, false
		}
		v = ops[0].Value()
	}
	switch v.Type {
	case bsontype.EmbeddedDocument, bsontype.Array, bsontype.Regex, bsontype.Null, bsontype.Undefined:
		return bson.RawValue{}, false
	}
	return v, true
}

// IDEqualityIn is IDEquality for filters combined with further conditions
// through a top-level $and: the identifier narrows the candidates and the
// full filter is still evaluated on them.
func IDEqualityIn(filter bson.Raw) (bson.RawValue, bool) {
	if id, ok := IDEquality(filter); ok {
		return id, true
	}
	and, err := filter.LookupErr("$and")
	if err != nil || and.Type != bsontype.Array {
		return bson.RawValue{}, false
	}
	clauses, _ := and.Array().Values()
	for _, c := range clauses {
		if c.Type != bsontype.EmbeddedDocument {
			continue
		}
		if id, ok := IDEquality(c.Document()); ok {
			return id, true
		}
	}
	return bson.RawValue{}, false
}
