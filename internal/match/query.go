package match

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/aretw0/mold/pkg/core"
)

// Find filters, sorts, pages and projects docs in memory.
// docs is not modified; the result shares document bytes with it.
func Find(docs []bson.Raw, filter bson.Raw, opts *core.FindOptions) ([]bson.Raw, error) {
	m, err := Compile(filter)
	if err != nil {
		return nil, err
	}
	out := make([]bson.Raw, 0, len(docs))
	for _, d := range docs {
		if m(d) {
			out = append(out, d)
		}
	}
	if opts == nil {
		return out, nil
	}

	if len(opts.Sort) > 0 {
		if err := Sort(out, opts.Sort); err != nil {
			return nil, err
		}
	}
	out = Page(out, opts.Skip, opts.Limit)
	if len(opts.Projection) > 0 {
		p, err := NewProjection(opts.Projection)
		if err != nil {
			return nil, err
		}
		for i, d := range out {
			out[i] = p.Apply(d)
		}
	}
	return out, nil
}

// Page applies skip and limit (zero limit means unlimited).
func Page(docs []bson.Raw, skip, limit int64) []bson.Raw {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

type sortKey struct {
	path string
	desc bool
}

func parseSort(spec bson.D) ([]sortKey, error) {
	keys := make([]sortKey, 0, len(spec))
	for _, e := range spec {
		dir, ok := direction(e.Value)
		if !ok {
			return nil, fmt.Errorf("invalid sort direction for %q: %v", e.Key, e.Value)
		}
		keys = append(keys, sortKey{path: e.Key, desc: dir < 0})
	}
	return keys, nil
}

func direction(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n == 1 || n == -1
	case int32:
		return int(n), n == 1 || n == -1
	case int64:
		return int(n), n == 1 || n == -1
	case float64:
		return int(n), n == 1 || n == -1
	}
	return 0, false
}

// Sort orders docs by spec ({field: 1|-1}) in place, stably.
// Arrays sort by their smallest member ascending and largest descending.
func Sort(docs []bson.Raw, spec bson.D) error {
	keys, err := parseSort(spec)
	if err != nil {
		return err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := Compare(sortValue(docs[i], k), sortValue(docs[j], k))
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

func sortValue(doc bson.Raw, k sortKey) bson.RawValue {
	vals := Lookup(doc, k.path)
	var best bson.RawValue
	found := false
	for _, v := range vals {
		cands := []bson.RawValue{v}
		if v.Type == bsontype.Array {
			cands, _ = v.Array().Values()
		}
		for _, c := range cands {
			if !found {
				best, found = c, true
				continue
			}
			cmp := Compare(c, best)
			if (k.desc && cmp > 0) || (!k.desc && cmp < 0) {
				best = c
			}
		}
	}
	if !found {
		return bson.RawValue{Type: bsontype.Null}
	}
	return best
}

// Projection reshapes documents by inclusion or exclusion of key paths.
type Projection struct {
	include bool
	noID    bool
	tree    node
}

type node map[string]node

// NewProjection parses {field: 1} (inclusion) or {field: 0} (exclusion).
// The two forms cannot be mixed except for excluding _id.
func NewProjection(spec bson.D) (*Projection, error) {
	p := &Projection{tree: node{}}
	mode := 0 // 1 include, -1 exclude
	for _, e := range spec {
		on, ok := flag(e.Value)
		if !ok {
			return nil, fmt.Errorf("%w: projection value for %q", ErrUnsupportedOperator, e.Key)
		}
		if e.Key == "_id" {
			p.noID = !on
			if on {
				p.tree.add(e.Key)
			}
			continue
		}
		m := -1
		if on {
			m = 1
		}
		if mode != 0 && mode != m {
			return nil, fmt.Errorf("projection cannot mix inclusion and exclusion")
		}
		mode = m
		p.tree.add(e.Key)
	}
	p.include = mode == 1 || (mode == 0 && !p.noID)
	if p.include {
		if !p.noID {
			p.tree.add("_id")
		}
	} else if p.noID {
		p.tree.add("_id")
	}
	return p, nil
}

func flag(v any) (bool, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	case int:
		return n != 0, true
	case int32:
		return n != 0, true
	case int64:
		return n != 0, true
	case float64:
		return n != 0, true
	}
	return false, false
}

func (n node) add(path string) {
	cur := n
	segs := strings.Split(path, ".")
	for i, s := range segs {
		if i == len(segs)-1 {
			cur[s] = nil
			return
		}
		next, ok := cur[s]
		if ok && next == nil {
			return // a shorter path already covers this one
		}
		if !ok {
			next = node{}
			cur[s] = next
		}
		cur = next
	}
}

// Apply returns the projected copy of doc.
func (p *Projection) Apply(doc bson.Raw) bson.Raw {
	return bson.Raw(project(doc, p.tree, p.include))
}

func project(doc bson.Raw, tree node, include bool) []byte {
	elems, _ := doc.Elements()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		key := e.Key()
		sub, listed := tree[key]
		switch {
		case listed && sub == nil:
			if include {
				dst = append(dst, e...)
			}
		case listed:
			v := e.Value()
			switch v.Type {
			case bsontype.EmbeddedDocument:
				dst = bsoncore.AppendDocumentElement(dst, key, project(v.Document(), sub, include))
			case bsontype.Array:
				dst = bsoncore.AppendArrayElement(dst, key, projectArray(v.Array(), sub, include))
			default:
				if !include {
					dst = append(dst, e...)
				}
			}
		case !include:
			dst = append(dst, e...)
		}
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func projectArray(arr bson.Raw, tree node, include bool) []byte {
	vals, _ := arr.Values()
	out := make([]bsoncore.Value, 0, len(vals))
	for _, v := range vals {
		switch {
		case v.Type == bsontype.EmbeddedDocument:
			out = append(out, bsoncore.Value{Type: bsontype.EmbeddedDocument, Data: project(v.Document(), tree, include)})
		case !include:
			out = append(out, bsoncore.Value{Type: v.Type, Data: v.Value})
		}
	}
	return bsoncore.BuildArray(nil, out...)
}
