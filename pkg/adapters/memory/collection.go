package memory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// collection holds documents in insertion order. Stored documents are
// private copies and never mutated, so readers may share them.
type collection struct {
	docs    []bson.Raw
	keys    []string
	pos     map[string]int
	indexes map[string]*index
}

type index struct {
	model  core.IndexModel
	unique *match.UniqueIndex
}

func newCollection() *collection {
	return &collection{
		pos:     make(map[string]int),
		indexes: make(map[string]*index),
	}
}

func (c *collection) checkUnique(key string, doc bson.Raw) error {
	for _, idx := range c.indexes {
		if idx.unique != nil {
			if err := idx.unique.Check(key, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *collection) insert(doc bson.Raw) (string, error) {
	doc, id, err := match.EnsureID(doc)
	if err != nil {
		return "", err
	}
	key := match.Key(id)
	if _, exists := c.pos[key]; exists {
		return "", fmt.Errorf("%w: _id %s", core.ErrDuplicateKey, id)
	}
	if err := c.checkUnique(key, doc); err != nil {
		return "", err
	}

	stored := clone(doc)
	c.pos[key] = len(c.docs)
	c.docs = append(c.docs, stored)
	c.keys = append(c.keys, key)
	for _, idx := range c.indexes {
		if idx.unique != nil {
			idx.unique.Put(key, stored)
		}
	}
	return key, nil
}

func (c *collection) replaceAt(i int, doc bson.Raw) error {
	key := c.keys[i]
	if err := c.checkUnique(key, doc); err != nil {
		return err
	}
	old := c.docs[i]
	stored := clone(doc)
	for _, idx := range c.indexes {
		if idx.unique != nil {
			idx.unique.Remove(key, old)
			idx.unique.Put(key, stored)
		}
	}
	c.docs[i] = stored
	return nil
}

// remove deletes the documents at the given positions (ascending).
func (c *collection) remove(positions []int) []string {
	if len(positions) == 0 {
		return nil
	}
	removed := make([]string, 0, len(positions))
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
		for _, idx := range c.indexes {
			if idx.unique != nil {
				idx.unique.Remove(c.keys[p], c.docs[p])
			}
		}
		removed = append(removed, c.keys[p])
	}

	docs := make([]bson.Raw, 0, len(c.docs)-len(positions))
	keys := make([]string, 0, len(c.docs)-len(positions))
	for i := range c.docs {
		if !drop[i] {
			docs = append(docs, c.docs[i])
			keys = append(keys, c.keys[i])
		}
	}
	c.docs, c.keys = docs, keys
	c.pos = make(map[string]int, len(keys))
	for i, k := range keys {
		c.pos[k] = i
	}
	return removed
}

// matching returns the positions of documents satisfying m, up to limit (0 = all).
func (c *collection) matching(filter bson.Raw, m match.Matcher, limit int) []int {
	if id, ok := match.IDEqualityIn(filter); ok {
		if p, found := c.pos[match.Key(id)]; found && m(c.docs[p]) {
			return []int{p}
		}
		return nil
	}
	var out []int
	for i, d := range c.docs {
		if m(d) {
			out = append(out, i)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func clone(doc bson.Raw) bson.Raw {
	b := make([]byte, len(doc))
	copy(b, doc)
	return b
}

// Collection is a handle over one named collection of a Database.
type Collection struct {
	db   *Database
	name string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Find(ctx context.Context, filter bson.Raw, opts *core.FindOptions) (core.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := match.Compile(filter)
	if err != nil {
		return nil, err
	}

	c.db.mu.RLock()
	coll, err := c.db.readColl(c.name)
	var snapshot []bson.Raw
	if err == nil && coll != nil {
		for _, p := range coll.matching(filter, m, 0) {
			snapshot = append(snapshot, coll.docs[p])
		}
	}
	c.db.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	docs, err := match.Find(snapshot, nil, opts)
	if err != nil {
		return nil, err
	}
	return match.NewCursor(docs), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.Raw) error {
	return c.InsertMany(ctx, []bson.Raw{doc})
}

func (c *Collection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var events []core.Event

	c.db.mu.Lock()
	coll, err := c.db.writeColl(c.name)
	if err == nil {
		for _, doc := range docs {
			var key string
			if key, err = coll.insert(doc); err != nil {
				break
			}
			events = append(events, c.event(core.EventCreate, key))
		}
	}
	c.db.mu.Unlock()

	c.db.broadcast(events)
	return err
}

func (c *Collection) ReplaceOne(ctx context.Context, filter bson.Raw, doc bson.Raw, upsert bool) (core.ReplaceResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ReplaceResult{}, err
	}
	m, err := match.Compile(filter)
	if err != nil {
		return core.ReplaceResult{}, err
	}

	var res core.ReplaceResult
	var ev core.Event

	c.db.mu.Lock()
	err = func() error {
		coll, err := c.db.writeColl(c.name)
		if err != nil {
			return err
		}
		if hits := coll.matching(filter, m, 1); len(hits) > 0 {
			p := hits[0]
			existing, _ := match.ID(coll.docs[p])
			if id, err := match.ID(doc); err == nil && !match.Equal(id, existing) {
				return fmt.Errorf("replacement would change immutable _id from %s to %s", existing, id)
			}
			doc, _, err := match.WithID(doc, existing)
			if err != nil {
				return err
			}
			if err := coll.replaceAt(p, doc); err != nil {
				return err
			}
			res.Matched, res.Modified = 1, 1
			ev = c.event(core.EventModify, coll.keys[p])
			return nil
		}
		if !upsert {
			return nil
		}
		if _, err := match.ID(doc); err != nil {
			if id, ok := match.IDEqualityIn(filter); ok {
				if doc, _, err = match.WithID(doc, id); err != nil {
					return err
				}
			}
		}
		key, err := coll.insert(doc)
		if err != nil {
			return err
		}
		res.Upserted = true
		ev = c.event(core.EventCreate, key)
		return nil
	}()
	c.db.mu.Unlock()

	if ev.Type != "" {
		c.db.broadcast([]core.Event{ev})
	}
	return res, err
}

func (c *Collection) DeleteOne(ctx context.Context, filter bson.Raw) (int64, error) {
	return c.delete(ctx, filter, 1)
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.Raw) (int64, error) {
	return c.delete(ctx, filter, 0)
}

func (c *Collection) delete(ctx context.Context, filter bson.Raw, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := match.Compile(filter)
	if err != nil {
		return 0, err
	}

	var events []core.Event
	c.db.mu.Lock()
	if err = c.db.writable(); err == nil {
		if coll := c.db.collections[c.name]; coll != nil {
			for _, key := range coll.remove(coll.matching(filter, m, limit)) {
				events = append(events, c.event(core.EventDelete, key))
			}
		}
	}
	c.db.mu.Unlock()
	if err != nil {
		return 0, err
	}

	c.db.broadcast(events)
	return int64(len(events)), nil
}

func (c *Collection) Count(ctx context.Context, filter bson.Raw) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := match.Compile(filter)
	if err != nil {
		return 0, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	coll, err := c.db.readColl(c.name)
	if err != nil || coll == nil {
		return 0, err
	}
	if len(filter) == 0 {
		return int64(len(coll.docs)), nil
	}
	return int64(len(coll.matching(filter, m, 0))), nil
}

func (c *Collection) Indexes() core.Indexes { return &Indexes{coll: c} }

func (c *Collection) event(t core.EventType, key string) core.Event {
	return core.Event{Type: t, Collection: c.name, ID: key, Timestamp: time.Now().Unix()}
}

var _ core.Collection = (*Collection)(nil)
