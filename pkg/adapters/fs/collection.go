package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// Collection is a directory of document files.
type Collection struct {
	db   *Database
	name string
	dir  string // escaped directory name
}

// stored is a document together with the file it was read from.
type stored struct {
	key  string
	rel  string
	path string
	doc  bson.Raw
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) dirPath() string { return filepath.Join(c.db.Path, c.dir) }

// locate finds the file holding key in any readable format.
func (c *Collection) locate(key string) (string, Serializer, bool) {
	base := filepath.Join(c.dirPath(), escapeName(key))
	exists := func(ext string) bool {
		_, err := os.Stat(base + ext)
		return err == nil
	}
	if exists(c.db.serializer.Ext()) {
		return base + c.db.serializer.Ext(), c.db.serializer, true
	}
	for ext, s := range c.db.serializers {
		if ext != c.db.serializer.Ext() && exists(ext) {
			return base + ext, s, true
		}
	}
	return "", nil, false
}

// load reads one file, going through the cache.
func (c *Collection) load(path string, s Serializer, info os.FileInfo) (stored, error) {
	rel := c.dir + "/" + filepath.Base(path)
	if entry, hit := c.db.cache.Get(rel, info.ModTime(), info.Size()); hit {
		return stored{key: entry.Key, rel: rel, path: path, doc: entry.Doc}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return stored{}, err
	}
	doc, err := s.Unmarshal(data)
	if err != nil {
		return stored{}, err
	}
	id, err := match.ID(doc)
	if err != nil {
		return stored{}, err
	}
	key := match.Key(id)
	c.db.cache.Set(rel, info, key, doc)
	return stored{key: key, rel: rel, path: path, doc: doc}, nil
}

// scan loads every document of the collection in file name order.
// Unreadable files are logged and skipped.
func (c *Collection) scan(ctx context.Context) ([]stored, error) {
	entries, err := os.ReadDir(c.dirPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]stored, 0, len(entries))
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), TempFilePrefix) {
			continue
		}
		s, ok := c.db.serializers[filepath.Ext(e.Name())]
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed while scanning
		}
		path := filepath.Join(c.dirPath(), e.Name())
		st, err := c.load(path, s, info)
		if err != nil {
			c.db.logger.Warn("skipping unreadable document", "collection", c.name, "file", e.Name(), "error", err)
			continue
		}
		keep[st.rel] = true
		out = append(out, st)
	}
	c.db.cache.Prune(c.dir, keep)
	return out, nil
}

// candidates returns the documents that may match filter, reading a single
// file when the filter pins the identifier.
func (c *Collection) candidates(ctx context.Context, filter bson.Raw) ([]stored, error) {
	id, ok := match.IDEqualityIn(filter)
	if !ok {
		return c.scan(ctx)
	}
	path, s, found := c.locate(match.Key(id))
	if !found {
		return nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil
	}
	st, err := c.load(path, s, info)
	if err != nil {
		return nil, err
	}
	return []stored{st}, nil
}

// write stores doc under key in the configured format, replacing a file of
// another format if there is one.
func (c *Collection) write(key string, doc bson.Raw, previous string) error {
	if err := os.MkdirAll(c.dirPath(), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	data, err := c.db.serializer.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document %s: %w", key, err)
	}
	name := escapeName(key) + c.db.serializer.Ext()
	path := filepath.Join(c.dirPath(), name)
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	if info, err := os.Stat(path); err == nil {
		c.db.cache.Set(c.dir+"/"+name, info, key, doc)
	}
	if previous != "" && previous != path {
		if err := os.Remove(previous); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		c.db.cache.Delete(c.dir + "/" + filepath.Base(previous))
	}
	return nil
}

// uniqueIndexes builds the unique indexes of the collection from its documents.
func (c *Collection) uniqueIndexes(ctx context.Context) ([]*match.UniqueIndex, error) {
	models, err := c.readCatalog()
	if err != nil {
		return nil, err
	}
	var out []*match.UniqueIndex
	for _, m := range models {
		if m.Unique {
			out = append(out, match.NewUniqueIndex(m))
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	docs, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range out {
		for _, st := range docs {
			u.Put(st.key, st.doc)
		}
	}
	return out, nil
}

func (c *Collection) insert(doc bson.Raw, uniques []*match.UniqueIndex) (string, error) {
	doc, id, err := match.EnsureID(doc)
	if err != nil {
		return "", err
	}
	key := match.Key(id)
	if _, _, exists := c.locate(key); exists {
		return "", fmt.Errorf("%w: _id %s", core.ErrDuplicateKey, id)
	}
	for _, u := range uniques {
		if err := u.Check(key, doc); err != nil {
			return "", err
		}
	}
	if err := c.write(key, doc, ""); err != nil {
		return "", err
	}
	for _, u := range uniques {
		u.Put(key, doc)
	}
	return key, nil
}

func (c *Collection) Find(ctx context.Context, filter bson.Raw, opts *core.FindOptions) (core.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.readable(); err != nil {
		return nil, err
	}

	cands, err := c.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]bson.Raw, len(cands))
	for i, st := range cands {
		docs[i] = st.doc
	}
	res, err := match.Find(docs, filter, opts)
	if err != nil {
		return nil, err
	}
	return match.NewCursor(res), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.Raw) error {
	return c.InsertMany(ctx, []bson.Raw{doc})
}

// InsertMany writes docs in order and stops at the first failure.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return err
	}

	uniques, err := c.uniqueIndexes(ctx)
	if err != nil {
		return err
	}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.insert(doc, uniques); err != nil {
			if len(docs) == 1 {
				return err
			}
			return fmt.Errorf("insert document %d: %w", i, err)
		}
	}
	return nil
}

func (c *Collection) ReplaceOne(ctx context.Context, filter bson.Raw, doc bson.Raw, upsert bool) (core.ReplaceResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ReplaceResult{}, err
	}
	m, err := match.Compile(filter)
	if err != nil {
		return core.ReplaceResult{}, err
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return core.ReplaceResult{}, err
	}

	cands, err := c.candidates(ctx, filter)
	if err != nil {
		return core.ReplaceResult{}, err
	}
	uniques, err := c.uniqueIndexes(ctx)
	if err != nil {
		return core.ReplaceResult{}, err
	}

	for _, st := range cands {
		if !m(st.doc) {
			continue
		}
		existing, _ := match.ID(st.doc)
		if id, err := match.ID(doc); err == nil && !match.Equal(id, existing) {
			return core.ReplaceResult{}, fmt.Errorf("replacement would change immutable _id from %s to %s", existing, id)
		}
		doc, _, err := match.WithID(doc, existing)
		if err != nil {
			return core.ReplaceResult{}, err
		}
		for _, u := range uniques {
			u.Remove(st.key, st.doc)
			if err := u.Check(st.key, doc); err != nil {
				return core.ReplaceResult{}, err
			}
		}
		if err := c.write(st.key, doc, st.path); err != nil {
			return core.ReplaceResult{}, err
		}
		return core.ReplaceResult{Matched: 1, Modified: 1}, nil
	}

	if !upsert {
		return core.ReplaceResult{}, nil
	}
	if _, err := match.ID(doc); err != nil {
		if id, ok := match.IDEqualityIn(filter); ok {
			if doc, _, err = match.WithID(doc, id); err != nil {
				return core.ReplaceResult{}, err
			}
		}
	}
	if _, err := c.insert(doc, uniques); err != nil {
		return core.ReplaceResult{}, err
	}
	return core.ReplaceResult{Upserted: true}, nil
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

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return 0, err
	}

	cands, err := c.candidates(ctx, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, st := range cands {
		if !m(st.doc) {
			continue
		}
		if err := os.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, fmt.Errorf("failed to remove document %s: %w", st.key, err)
		}
		c.db.cache.Delete(st.rel)
		n++
		if limit > 0 && n >= int64(limit) {
			break
		}
	}
	return n, nil
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
	if err := c.db.readable(); err != nil {
		return 0, err
	}

	cands, err := c.candidates(ctx, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, st := range cands {
		if m(st.doc) {
			n++
		}
	}
	return n, nil
}

func (c *Collection) Indexes() core.Indexes { return &Indexes{coll: c} }
