// Package filter builds store-side predicates. A Filter renders to a MongoDB
// query document and is handed to the store unevaluated: embedded backends
// evaluate it in-process, the MongoDB backend sends it over the wire.
//
// Raw key paths ("address.city") address document fields directly and are
// the escape hatch for data the Go type system cannot describe, such as
// values stored behind interface-typed fields. Typed paths (see Of) resolve
// Go field names through struct tags.
package filter

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrUnsupportedPredicate is returned when a typed path cannot be resolved
// to a document key, e.g. through an interface-typed field. Use raw key
// paths or Raw instead.
var ErrUnsupportedPredicate = errors.New("unsupported predicate")

// Filter is an immutable predicate. Construction errors are carried along
// and reported when the filter is rendered.
type Filter struct {
	doc bson.D
	err error
}

// All matches every document.
func All() Filter { return Filter{doc: bson.D{}} }

// Raw wraps a store-native query document.
func Raw(doc bson.D) Filter {
	if doc == nil {
		doc = bson.D{}
	}
	return Filter{doc: doc}
}

// Error returns a filter that fails with err when rendered.
func Error(err error) Filter { return Filter{err: err} }

// Document renders the query document.
func (f Filter) Document() (bson.D, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc == nil {
		return bson.D{}, nil
	}
	return f.doc, nil
}

// Err returns the construction error, if any.
func (f Filter) Err() error { return f.err }

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool { return f.err == nil && len(f.doc) == 0 }

func op(path, operator string, v any) Filter {
	return Filter{doc: bson.D{{Key: path, Value: bson.D{{Key: operator, Value: v}}}}}
}

// ID matches the document whose identifier equals id.
func ID(id any) Filter { return Eq("_id", id) }

// Eq matches when the field at path equals v. For arrays it also matches an
// array containing v.
func Eq(path string, v any) Filter { return op(path, "$eq", v) }

// Ne matches when the field differs from v, including when it is missing.
func Ne(path string, v any) Filter { return op(path, "$ne", v) }

// Gt, Gte, Lt and Lte compare the field with v in BSON order.
// Values of a different type class never match.
func Gt(path string, v any) Filter { return op(path, "$gt", v) }

// Gte is the inclusive form of Gt.
func Gte(path string, v any) Filter { return op(path, "$gte", v) }

// Lt matches fields ordered before v.
func Lt(path string, v any) Filter { return op(path, "$lt", v) }

// Lte is the inclusive form of Lt.
func Lte(path string, v any) Filter { return op(path, "$lte", v) }

// In matches when the field equals any of values (or, for arrays, contains one).
func In(path string, values ...any) Filter { return op(path, "$in", bson.A(values)) }

// Nin is the negation of In.
func Nin(path string, values ...any) Filter { return op(path, "$nin", bson.A(values)) }

// Exists matches documents that have (or lack) the field.
func Exists(path string, exists bool) Filter { return op(path, "$exists", exists) }

// Regex matches string fields against pattern. options follows MongoDB ("i", "m", "s", "x").
func Regex(path, pattern, options string) Filter {
	doc := bson.D{{Key: "$regex", Value: pattern}}
	if options != "" {
		doc = append(doc, bson.E{Key: "$options", Value: options})
	}
	return Filter{doc: bson.D{{Key: path, Value: doc}}}
}

// Size matches array fields with exactly n elements.
func Size(path string, n int) Filter { return op(path, "$size", n) }

// ContainsAll matches array fields containing every one of values.
func ContainsAll(path string, values ...any) Filter { return op(path, "$all", bson.A(values)) }

// ElemMatch matches array fields with at least one element satisfying f.
func ElemMatch(path string, f Filter) Filter {
	if f.err != nil {
		return f
	}
	return op(path, "$elemMatch", f.doc)
}

// And matches documents satisfying every filter. Empty filters are ignored.
func And(fs ...Filter) Filter { return combine("$and", fs) }

// Or matches documents satisfying at least one filter.
func Or(fs ...Filter) Filter { return combine("$or", fs) }

// Nor matches documents satisfying none of the filters.
func Nor(fs ...Filter) Filter { return combine("$nor", fs) }

// Not negates f.
func Not(f Filter) Filter {
	if f.err != nil {
		return f
	}
	return Filter{doc: bson.D{{Key: "$nor", Value: bson.A{f.doc}}}}
}

func combine(operator string, fs []Filter) Filter {
	clauses := make(bson.A, 0, len(fs))
	for _, f := range fs {
		if f.err != nil {
			return f
		}
		if operator == "$and" && len(f.doc) == 0 {
			continue
		}
		clauses = append(clauses, f.doc)
	}
	switch {
	case operator == "$and" && len(clauses) == 1:
		return Filter{doc: clauses[0].(bson.D)}
	case len(clauses) == 0 && operator == "$or":
		return Error(fmt.Errorf("%w: $or needs at least one clause", ErrUnsupportedPredicate))
	case len(clauses) == 0:
		return All()
	}
	return Filter{doc: bson.D{{Key: operator, Value: clauses}}}
}

// And is shorthand for And(f, others...).
func (f Filter) And(others ...Filter) Filter {
	return And(append([]Filter{f}, others...)...)
}
