// Package match evaluates MongoDB query documents in-process. Embedded
// stores (memory, filesystem, SQLite) use it to execute the filters the
// repository layer hands them.
package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// ErrUnsupportedOperator is returned for query operators this engine does not evaluate.
var ErrUnsupportedOperator = errors.New("unsupported query operator")

// Matcher reports whether a document satisfies a compiled filter.
type Matcher func(doc bson.Raw) bool

// All matches every document.
func All(bson.Raw) bool { return true }

// Compile parses a query document. An empty or nil filter matches everything.
func Compile(filter bson.Raw) (Matcher, error) {
	if len(filter) == 0 {
		return All, nil
	}
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return compileDoc(filter)
}

// MustCompile is Compile for filters known to be valid.
func MustCompile(filter bson.Raw) Matcher {
	m, err := Compile(filter)
	if err != nil {
		panic(err)
	}
	return m
}

func compileDoc(filter bson.Raw) (Matcher, error) {
	elems, err := filter.Elements()
	if err != nil {
		return nil, err
	}
	ms := make([]Matcher, 0, len(elems))
	for _, e := range elems {
		m, err := compileElement(e.Key(), e.Value())
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return and(ms), nil
}

func and(ms []Matcher) Matcher {
	if len(ms) == 1 {
		return ms[0]
	}
	return func(doc bson.Raw) bool {
		for _, m := range ms {
			if !m(doc) {
				return false
			}
		}
		return true
	}
}

func compileElement(key string, v bson.RawValue) (Matcher, error) {
	switch key {
	case "$and", "$or", "$nor":
		return compileLogical(key, v)
	case "$comment":
		return All, nil
	}
	if strings.HasPrefix(key, "$") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, key)
	}

	if v.Type == bsontype.EmbeddedDocument && isOperatorDoc(v.Document()) {
		p, err := compileOperators(v.Document())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		return func(doc bson.Raw) bool { return p(Lookup(doc, key)) }, nil
	}

	p, err := eqPredicate(v)
	if err != nil {
		return nil, err
	}
	return func(doc bson.Raw) bool { return p(Lookup(doc, key)) }, nil
}

func compileLogical(op string, v bson.RawValue) (Matcher, error) {
	if v.Type != bsontype.Array {
		return nil, fmt.Errorf("%s needs an array", op)
	}
	vals, err := v.Array().Values()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s needs a nonempty array", op)
	}
	ms := make([]Matcher, 0, len(vals))
	for _, c := range vals {
		if c.Type != bsontype.EmbeddedDocument {
			return nil, fmt.Errorf("%s clauses must be documents", op)
		}
		m, err := compileDoc(c.Document())
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	switch op {
	case "$and":
		return and(ms), nil
	case "$or":
		return func(doc bson.Raw) bool {
			for _, m := range ms {
				if m(doc) {
					return true
				}
			}
			return false
		}, nil
	default:
		return func(doc bson.Raw) bool {
			for _, m := range ms {
				if m(doc) {
					return false
				}
			}
			return true
		}, nil
	}
}

func isOperatorDoc(d bson.Raw) bool {
	elems, err := d.Elements()
	if err != nil || len(elems) == 0 {
		return false
	}
	return strings.HasPrefix(elems[0].Key(), "$")
}

// predicate tests the values found at a field path (empty when missing).
type predicate func(vals []bson.RawValue) bool

func compileOperators(ops bson.Raw) (predicate, error) {
	elems, err := ops.Elements()
	if err != nil {
		return nil, err
	}
	var preds []predicate
	var options string
	if o, err := ops.LookupErr("$options"); err == nil {
		if o.Type != bsontype.String {
			return nil, fmt.Errorf("$options needs a string")
		}
		options = o.StringValue()
	}
	for _, e := range elems {
		p, err := compileOperator(e.Key(), e.Value(), options)
		if err != nil {
			return nil, err
		}
		if p != nil {
			preds = append(preds, p)
		}
	}
	return func(vals []bson.RawValue) bool {
		for _, p := range preds {
			if !p(vals) {
				return false
			}
		}
		return true
	}, nil
}

func compileOperator(op string, arg bson.RawValue, options string) (predicate, error) {
	switch op {
	case "$eq":
		return eqPredicate(arg)
	case "$ne":
		p, err := eqPredicate(arg)
		if err != nil {
			return nil, err
		}
		return func(vals []bson.RawValue) bool { return !p(vals) }, nil
	case "$gt", "$gte", "$lt", "$lte":
		return rangePredicate(op, arg), nil
	case "$in":
		return inPredicate(arg)
	case "$nin":
		p, err := inPredicate(arg)
		if err != nil {
			return nil, err
		}
		return func(vals []bson.RawValue) bool { return !p(vals) }, nil
	case "$exists":
		want := truthy(arg)
		return func(vals []bson.RawValue) bool { return (len(vals) > 0) == want }, nil
	case "$regex":
		re, err := compileRegex(arg, options)
		if err != nil {
			return nil, err
		}
		return regexPredicate(re), nil
	case "$options":
		return nil, nil
	case "$not":
		var p predicate
		var err error
		switch arg.Type {
		case bsontype.Regex:
			var re *regexp.Regexp
			if re, err = compileRegex(arg, ""); err == nil {
				p = regexPredicate(re)
			}
		case bsontype.EmbeddedDocument:
			p, err = compileOperators(arg.Document())
		default:
			err = fmt.Errorf("$not needs a regex or an operator document")
		}
		if err != nil {
			return nil, err
		}
		return func(vals []bson.RawValue) bool { return !p(vals) }, nil
	case "$size":
		_, n, ok := number(arg)
		if !ok {
			return nil, fmt.Errorf("$size needs an integer")
		}
		return func(vals []bson.RawValue) bool {
			for _, v := range vals {
				if v.Type == bsontype.Array {
					elems, _ := v.Array().Values()
					if int64(len(elems)) == n {
						return true
					}
				}
			}
			return false
		}, nil
	case "$all":
		if arg.Type != bsontype.Array {
			return nil, fmt.Errorf("$all needs an array")
		}
		wanted, _ := arg.Array().Values()
		preds := make([]predicate, 0, len(wanted))
		for _, w := range wanted {
			p, err := eqPredicate(w)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
		return func(vals []bson.RawValue) bool {
			if len(preds) == 0 {
				return false
			}
			for _, p := range preds {
				if !p(vals) {
					return false
				}
			}
			return true
		}, nil
	case "$elemMatch":
		return elemMatchPredicate(arg)
	case "$type":
		return typePredicate(arg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

// eqPredicate matches when any value, or any member of an array value, equals arg.
// A null argument also matches missing fields.
func eqPredicate(arg bson.RawValue) (predicate, error) {
	if arg.Type == bsontype.Regex {
		re, err := compileRegex(arg, "")
		if err != nil {
			return nil, err
		}
		return regexPredicate(re), nil
	}
	return func(vals []bson.RawValue) bool {
		if isNull(arg) && len(vals) == 0 {
			return true
		}
		for _, v := range expand(vals) {
			if Equal(v, arg) {
				return true
			}
		}
		return false
	}, nil
}

func inPredicate(arg bson.RawValue) (predicate, error) {
	if arg.Type != bsontype.Array {
		return nil, fmt.Errorf("$in needs an array")
	}
	members, _ := arg.Array().Values()
	preds := make([]predicate, 0, len(members))
	for _, m := range members {
		p, err := eqPredicate(m)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return func(vals []bson.RawValue) bool {
		for _, p := range preds {
			if p(vals) {
				return true
			}
		}
		return false
	}, nil
}

// rangePredicate compares within the argument's type bracket only.
func rangePredicate(op string, arg bson.RawValue) predicate {
	return func(vals []bson.RawValue) bool {
		for _, v := range expand(vals) {
			if class(v.Type) != class(arg.Type) {
				continue
			}
			c := Compare(v, arg)
			switch op {
			case "$gt":
				if c > 0 {
					return true
				}
			case "$gte":
				if c >= 0 {
					return true
				}
			case "$lt":
				if c < 0 {
					return true
				}
			case "$lte":
				if c <= 0 {
					return true
				}
			}
		}
		return false
	}
}

func compileRegex(arg bson.RawValue, options string) (*regexp.Regexp, error) {
	var pattern string
	switch arg.Type {
	case bsontype.Regex:
		var o string
		pattern, o = arg.Regex()
		if options == "" {
			options = o
		}
	case bsontype.String:
		pattern = arg.StringValue()
	default:
		return nil, fmt.Errorf("$regex needs a string or regex")
	}
	flags := ""
	for _, f := range options {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		case 'x', 'u':
		default:
			return nil, fmt.Errorf("%w: regex option %q", ErrUnsupportedOperator, f)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func regexPredicate(re *regexp.Regexp) predicate {
	return func(vals []bson.RawValue) bool {
		for _, v := range expand(vals) {
			if v.Type == bsontype.String && re.MatchString(v.StringValue()) {
				return true
			}
		}
		return false
	}
}

func elemMatchPredicate(arg bson.RawValue) (predicate, error) {
	if arg.Type != bsontype.EmbeddedDocument {
		return nil, fmt.Errorf("$elemMatch needs a document")
	}
	cond := arg.Document()

	if isOperatorDoc(cond) {
		p, err := compileOperators(cond)
		if err != nil {
			return nil, err
		}
		return func(vals []bson.RawValue) bool {
			for _, v := range vals {
				if v.Type != bsontype.Array {
					continue
				}
				elems, _ := v.Array().Values()
				for _, e := range elems {
					if p([]bson.RawValue{e}) {
						return true
					}
				}
			}
			return false
		}, nil
	}

	m, err := compileDoc(cond)
	if err != nil {
		return nil, err
	}
	return func(vals []bson.RawValue) bool {
		for _, v := range vals {
			if v.Type != bsontype.Array {
				continue
			}
			elems, _ := v.Array().Values()
			for _, e := range elems {
				if e.Type == bsontype.EmbeddedDocument && m(e.Document()) {
					return true
				}
			}
		}
		return false
	}, nil
}

var typeAliases = map[string]bsontype.Type{
	"double":    bsontype.Double,
	"string":    bsontype.String,
	"object":    bsontype.EmbeddedDocument,
	"array":     bsontype.Array,
	"binData":   bsontype.Binary,
	"objectId":  bsontype.ObjectID,
	"bool":      bsontype.Boolean,
	"date":      bsontype.DateTime,
	"null":      bsontype.Null,
	"regex":     bsontype.Regex,
	"int":       bsontype.Int32,
	"timestamp": bsontype.Timestamp,
	"long":      bsontype.Int64,
	"decimal":   bsontype.Decimal128,
}

func typePredicate(arg bson.RawValue) (predicate, error) {
	var want bsontype.Type
	numeric := false
	switch {
	case arg.Type == bsontype.String && arg.StringValue() == "number":
		numeric = true
	case arg.Type == bsontype.String:
		t, ok := typeAliases[arg.StringValue()]
		if !ok {
			return nil, fmt.Errorf("$type: unknown alias %q", arg.StringValue())
		}
		want = t
	case isNumber(arg):
		_, n, _ := number(arg)
		want = bsontype.Type(n)
	default:
		return nil, fmt.Errorf("$type needs an alias or a type number")
	}
	return func(vals []bson.RawValue) bool {
		for _, v := range expand(vals) {
			if (numeric && isNumber(v)) || (!numeric && v.Type == want) {
				return true
			}
		}
		return false
	}, nil
}

func truthy(v bson.RawValue) bool {
	switch {
	case v.Type == bsontype.Boolean:
		return v.Boolean()
	case isNumber(v):
		f, _, _ := number(v)
		return f != 0
	case isNull(v):
		return false
	}
	return true
}
