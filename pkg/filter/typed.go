package filter

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Fields builds predicates over T using Go field paths ("Address.City"),
// resolved to document keys the way the BSON encoder names them.
type Fields[T any] struct {
	typ reflect.Type
}

// Of returns the typed path resolver for T.
func Of[T any]() Fields[T] {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Fields[T]{typ: t}
}

type pathKey struct {
	typ  reflect.Type
	path string
}

type pathResult struct {
	key string
	err error
}

var paths sync.Map // pathKey -> pathResult

// Path resolves a dotted Go field path to a document key path.
// Segments may also name document keys directly ("_id").
func (f Fields[T]) Path(goPath string) (string, error) {
	k := pathKey{typ: f.typ, path: goPath}
	if v, ok := paths.Load(k); ok {
		r := v.(pathResult)
		return r.key, r.err
	}
	key, err := resolvePath(f.typ, goPath)
	paths.Store(k, pathResult{key: key, err: err})
	return key, err
}

func (f Fields[T]) build(goPath string, fn func(string) Filter) Filter {
	p, err := f.Path(goPath)
	if err != nil {
		return Error(err)
	}
	return fn(p)
}

// Eq resolves goPath and matches values equal to v. Like every predicate
// method, an unresolvable path gives a Filter whose Err wraps
// ErrUnsupportedPredicate.
func (f Fields[T]) Eq(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Eq(p, v) })
}

// Ne is the field-path form of the package-level Ne.
func (f Fields[T]) Ne(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Ne(p, v) })
}

// Gt, Gte, Lt and Lte order the field at goPath against v.
func (f Fields[T]) Gt(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Gt(p, v) })
}

// Gte is inclusive.
func (f Fields[T]) Gte(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Gte(p, v) })
}

// Lt matches values ordered before v.
func (f Fields[T]) Lt(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Lt(p, v) })
}

// Lte is inclusive.
func (f Fields[T]) Lte(goPath string, v any) Filter {
	return f.build(goPath, func(p string) Filter { return Lte(p, v) })
}

// In matches any of values.
func (f Fields[T]) In(goPath string, values ...any) Filter {
	return f.build(goPath, func(p string) Filter { return In(p, values...) })
}

// Nin matches none of values.
func (f Fields[T]) Nin(goPath string, values ...any) Filter {
	return f.build(goPath, func(p string) Filter { return Nin(p, values...) })
}

// Exists checks presence of the field.
func (f Fields[T]) Exists(goPath string, exists bool) Filter {
	return f.build(goPath, func(p string) Filter { return Exists(p, exists) })
}

// Regex matches string fields against pattern.
func (f Fields[T]) Regex(goPath, pattern, options string) Filter {
	return f.build(goPath, func(p string) Filter { return Regex(p, pattern, options) })
}

// Size matches arrays of length n.
func (f Fields[T]) Size(goPath string, n int) Filter {
	return f.build(goPath, func(p string) Filter { return Size(p, n) })
}

// ContainsAll matches arrays holding every one of values.
func (f Fields[T]) ContainsAll(goPath string, values ...any) Filter {
	return f.build(goPath, func(p string) Filter { return ContainsAll(p, values...) })
}

func resolvePath(t reflect.Type, goPath string) (string, error) {
	if goPath == "" {
		return "", fmt.Errorf("%w: empty field path", ErrUnsupportedPredicate)
	}
	segs := strings.Split(goPath, ".")
	keys := make([]string, 0, len(segs))
	cur := t
	for i, seg := range segs {
		cur = elem(cur)
		switch cur.Kind() {
		case reflect.Map:
			// map keys are data, not schema
			keys = append(keys, segs[i:]...)
			return strings.Join(keys, "."), nil
		case reflect.Interface:
			return "", fmt.Errorf("%w: %q traverses interface-typed field in %v; use a raw key path", ErrUnsupportedPredicate, goPath, t)
		case reflect.Struct:
		default:
			return "", fmt.Errorf("%w: %q: %v has no field %q", ErrUnsupportedPredicate, goPath, cur, seg)
		}

		ks, ft, ok := lookupField(cur, seg, 0)
		if !ok {
			return "", fmt.Errorf("%w: %v has no field %q", ErrUnsupportedPredicate, cur, seg)
		}
		if ft == nil {
			return "", fmt.Errorf("%w: field %q of %v is not persisted", ErrUnsupportedPredicate, seg, cur)
		}
		keys = append(keys, ks...)
		cur = ft
	}
	if elem(cur).Kind() == reflect.Interface {
		return "", fmt.Errorf("%w: %q is interface-typed; use a raw key path", ErrUnsupportedPredicate, goPath)
	}
	return strings.Join(keys, "."), nil
}

// elem strips pointers and collection wrappers: predicates on arrays apply to their elements.
func elem(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			if t.Elem().Kind() == reflect.Uint8 {
				return t // []byte is a binary value
			}
			t = t.Elem()
		default:
			return t
		}
	}
}

// lookupField finds name among the fields of t, following embedded structs.
// A nil type with ok reports a field excluded from encoding.
func lookupField(t reflect.Type, name string, depth int) ([]string, reflect.Type, bool) {
	if depth > 16 {
		return nil, nil, false
	}
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		key, skip, _ := tagKey(sf)
		if sf.Name == name || key == name {
			if skip {
				return nil, nil, true
			}
			return []string{key}, sf.Type, true
		}
	}
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.Anonymous {
			continue
		}
		key, skip, inline := tagKey(sf)
		et := sf.Type
		for et.Kind() == reflect.Pointer {
			et = et.Elem()
		}
		if skip || et.Kind() != reflect.Struct {
			continue
		}
		ks, ft, ok := lookupField(et, name, depth+1)
		if !ok {
			continue
		}
		if !inline && ft != nil {
			ks = append([]string{key}, ks...)
		}
		return ks, ft, true
	}
	return nil, nil, false
}

// tagKey mirrors the default BSON struct tag rules: an explicit key, or the lowercased field name.
func tagKey(sf reflect.StructField) (key string, skip, inline bool) {
	tag, ok := sf.Tag.Lookup("bson")
	if !ok && !strings.Contains(string(sf.Tag), ":") {
		tag = string(sf.Tag)
	}
	if tag == "-" {
		return "", true, false
	}
	parts := strings.Split(tag, ",")
	key = parts[0]
	for _, opt := range parts[1:] {
		if opt == "inline" {
			inline = true
		}
	}
	if key == "" {
		key = strings.ToLower(sf.Name)
	}
	return key, false, inline
}
