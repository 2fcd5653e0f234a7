package match

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Lookup resolves a dotted path against doc with MongoDB array semantics:
// a path crosses arrays by visiting every embedded document, and numeric
// segments also index into arrays. It returns every value reached.
func Lookup(doc bson.Raw, path string) []bson.RawValue {
	var out []bson.RawValue
	collect(bson.RawValue{Type: bsontype.EmbeddedDocument, Value: doc}, strings.Split(path, "."), &out)
	return out
}

func collect(v bson.RawValue, segs []string, out *[]bson.RawValue) {
	if len(segs) == 0 {
		*out = append(*out, v)
		return
	}
	switch v.Type {
	case bsontype.EmbeddedDocument:
		sub, err := v.Document().LookupErr(segs[0])
		if err != nil {
			return
		}
		collect(sub, segs[1:], out)
	case bsontype.Array:
		arr := v.Array()
		if _, err := strconv.Atoi(segs[0]); err == nil {
			if sub, err := arr.LookupErr(segs[0]); err == nil {
				collect(sub, segs[1:], out)
			}
		}
		vals, _ := arr.Values()
		for _, e := range vals {
			if e.Type == bsontype.EmbeddedDocument {
				collect(e, segs, out)
			}
		}
	}
}

// First returns the first value at path, or a zero RawValue when missing.
func First(doc bson.Raw, path string) (bson.RawValue, bool) {
	vals := Lookup(doc, path)
	if len(vals) == 0 {
		return bson.RawValue{}, false
	}
	return vals[0], true
}

// expand returns the values with array members added, for operators that
// match either an array or any of its elements.
func expand(vals []bson.RawValue) []bson.RawValue {
	out := make([]bson.RawValue, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if v.Type == bsontype.Array {
			elems, _ := v.Array().Values()
			out = append(out, elems...)
		}
	}
	return out
}
