// Package naming resolves the collection an entity type is stored in.
//
// Go has no inheritance, so hierarchies are expressed by inline embedding:
// the first anonymous struct field leading to a common root base
// (entity.Base or entity.Keyed) is the type's parent link.
//
//	type Animal struct {
//		entity.Base `bson:",inline"`
//	}
//	type Dog struct {
//		Animal `bson:",inline"`
//	}
//	type Cat struct {
//		Animal `bson:",inline" collection:"cats"`
//	}
//
// Dog shares Animal's collection ("Animal"); Cat opts out into "cats".
// Names are resolved as follows, walking from the concrete type toward the root:
//
//  1. The first override found wins: a CollectionName method declared by the
//     level itself, then a collection tag on the level's parent link.
//  2. Without overrides, a type whose parent is a root base (or that has no
//     parent) uses its own name.
//  3. Otherwise the name of the base-level ancestor (the direct child of the
//     root base) is used, so sibling subtypes share one collection.
package naming

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/entity"
)

// TagKey is the struct tag carrying an explicit collection name.
const TagKey = "collection"

// CollectionNamer lets a type declare its collection name.
type CollectionNamer interface {
	CollectionName() string
}

// Binding is the resolved mapping of an entity type onto a collection.
type Binding struct {
	// Name is the physical collection name.
	Name string
	// Type is the concrete entity type (never a pointer).
	Type reflect.Type
	// Root is the hierarchy level that owns the collection.
	Root reflect.Type
	// Chain lists the type names from Root down to Type.
	Chain []string
}

// Shared reports whether documents of the bound type live beside other
// types of the same hierarchy and must carry a discriminator.
func (b Binding) Shared() bool { return len(b.Chain) > 1 }

// Leaf returns the name of the concrete type.
func (b Binding) Leaf() string { return b.Chain[len(b.Chain)-1] }

type result struct {
	binding Binding
	err     error
}

var cache sync.Map // reflect.Type -> result

var namerType = reflect.TypeOf((*CollectionNamer)(nil)).Elem()

// For resolves the binding of T. T may be a struct type or a pointer to one.
func For[T any]() (Binding, error) {
	return Resolve(reflect.TypeFor[T]())
}

// Resolve returns the binding of t. Results, errors included, are memoized
// for the lifetime of the process.
func Resolve(t reflect.Type) (Binding, error) {
	if t == nil {
		return Binding{}, fmt.Errorf("%w: nil entity type", core.ErrConfiguration)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v, ok := cache.Load(t); ok {
		r := v.(result)
		return r.binding, r.err
	}
	b, err := resolve(t)
	v, _ := cache.LoadOrStore(t, result{binding: b, err: err})
	r := v.(result)
	return r.binding, r.err
}

// level is one step of the walk: a type and the embedded field linking it to its parent.
type level struct {
	typ  reflect.Type
	link *reflect.StructField
}

func (l level) parent() reflect.Type {
	if l.link == nil {
		return nil
	}
	return l.link.Type
}

func resolve(t reflect.Type) (Binding, error) {
	if t.Kind() != reflect.Struct {
		return Binding{}, fmt.Errorf("%w: entity type %v is not a struct", core.ErrConfiguration, t)
	}
	if entity.IsRoot(t) {
		return Binding{}, fmt.Errorf("%w: %v is a root base, not an entity", core.ErrConfiguration, t)
	}

	levels, err := walk(t)
	if err != nil {
		return Binding{}, err
	}

	rootIdx := -1
	name := ""
	for i, l := range levels {
		if n, ok := override(l); ok {
			name, rootIdx = n, i
			break
		}
	}
	if rootIdx < 0 {
		rootIdx = len(levels) - 1
		name = typeName(levels[rootIdx].typ)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Binding{}, fmt.Errorf("%w: empty collection name for %v", core.ErrConfiguration, t)
	}

	chain := make([]string, 0, rootIdx+1)
	for i := rootIdx; i >= 0; i-- {
		chain = append(chain, typeName(levels[i].typ))
	}

	return Binding{
		Name:  name,
		Type:  t,
		Root:  levels[rootIdx].typ,
		Chain: chain,
	}, nil
}

// walk follows parent links from t up to the base-level type.
// The last level's parent is a root base or nothing.
func walk(t reflect.Type) ([]level, error) {
	var levels []level
	seen := map[reflect.Type]bool{}
	for cur := t; cur != nil; {
		if seen[cur] {
			return nil, fmt.Errorf("%w: embedding cycle at %v", core.ErrConfiguration, cur)
		}
		seen[cur] = true

		link, err := parentLink(cur)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level{typ: cur, link: link})
		if link == nil || entity.IsRoot(link.Type) {
			break
		}
		cur = link.Type
	}
	return levels, nil
}

// parentLink finds the anonymous field that leads to a root base.
func parentLink(t reflect.Type) (*reflect.StructField, error) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.Anonymous || f.Type.Kind() != reflect.Struct || !reachesRoot(f.Type, 0) {
			continue
		}
		if !isInline(f) {
			return nil, fmt.Errorf("%w: %v embeds %v without `bson:\",inline\"`", core.ErrConfiguration, t, f.Type)
		}
		return &f, nil
	}
	return nil, nil
}

func reachesRoot(t reflect.Type, depth int) bool {
	if entity.IsRoot(t) {
		return true
	}
	if depth > 32 {
		return false
	}
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && reachesRoot(f.Type, depth+1) {
			return true
		}
	}
	return false
}

func isInline(f reflect.StructField) bool {
	tag, ok := f.Tag.Lookup("bson")
	if !ok {
		return false
	}
	for _, opt := range strings.Split(tag, ",")[1:] {
		if opt == "inline" {
			return true
		}
	}
	return false
}

// override returns the explicit name declared at this level, if any.
func override(l level) (string, bool) {
	if n, ok := declaredName(l.typ, l.parent()); ok {
		return n, true
	}
	if l.link != nil {
		if n, ok := l.link.Tag.Lookup(TagKey); ok {
			return n, true
		}
	}
	return "", false
}

// declaredName reports the CollectionName of t unless t merely promotes its parent's method.
func declaredName(t, parent reflect.Type) (string, bool) {
	n, ok := callNamer(t)
	if !ok {
		return "", false
	}
	if parent != nil {
		if pn, ok := callNamer(parent); ok && pn == n {
			return "", false
		}
	}
	return n, true
}

func callNamer(t reflect.Type) (string, bool) {
	if !reflect.PointerTo(t).Implements(namerType) {
		return "", false
	}
	return reflect.New(t).Interface().(CollectionNamer).CollectionName(), true
}

// typeName strips type arguments from generic instantiations.
func typeName(t reflect.Type) string {
	n := t.Name()
	if i := strings.IndexByte(n, '['); i >= 0 {
		n = n[:i]
	}
	return n
}
