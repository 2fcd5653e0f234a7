package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// IDIndex is the name of the implicit primary key index: the file name.
const IDIndex = "_id_"

// Indexes manages the index catalog of a collection, persisted as
// <SystemDir>/indexes/<collection>.json. Only unique indexes change
// behavior; the others are recorded for parity with server stores.
type Indexes struct {
	coll *Collection
}

func (c *Collection) readCatalog() ([]core.IndexModel, error) {
	data, err := os.ReadFile(c.db.catalogPath(c.dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index catalog of %s: %w", c.name, err)
	}
	var models []core.IndexModel
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("corrupted index catalog of %s: %w", c.name, err)
	}
	return models, nil
}

func (c *Collection) writeCatalog(models []core.IndexModel) error {
	path := c.db.catalogPath(c.dir)
	if len(models) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0644)
}

func (ix *Indexes) Create(ctx context.Context, model core.IndexModel) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(model.Keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrConfiguration)
	}
	if model.Name == "" {
		model.Name = match.IndexName(model.Keys)
	}

	c := ix.coll
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return "", err
	}

	models, err := c.readCatalog()
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if m.Name != model.Name {
			continue
		}
		if !reflect.DeepEqual(m, model) {
			return "", fmt.Errorf("index %s already exists with different options", model.Name)
		}
		return model.Name, nil
	}

	if model.Unique {
		u := match.NewUniqueIndex(model)
		docs, err := c.scan(ctx)
		if err != nil {
			return "", err
		}
		for _, st := range docs {
			if err := u.Check(st.key, st.doc); err != nil {
				return "", err
			}
			u.Put(st.key, st.doc)
		}
	}

	if err := os.MkdirAll(c.dirPath(), 0755); err != nil {
		return "", err
	}
	if err := c.writeCatalog(append(models, model)); err != nil {
		return "", fmt.Errorf("failed to write index catalog: %w", err)
	}
	c.db.logger.Debug("index created", "collection", c.name, "index", model.Name, "unique", model.Unique)
	return model.Name, nil
}

func (ix *Indexes) Drop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == IDIndex {
		return fmt.Errorf("%w: cannot drop the %s index", core.ErrUnsupported, IDIndex)
	}

	c := ix.coll
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return err
	}
	models, err := c.readCatalog()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(models, func(m core.IndexModel) bool { return m.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: index %s", core.ErrNotFound, name)
	}
	return c.writeCatalog(slices.Delete(models, i, i+1))
}

func (ix *Indexes) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := ix.coll
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if err := c.db.writable(); err != nil {
		return err
	}
	return c.writeCatalog(nil)
}

func (ix *Indexes) List(ctx context.Context) ([]core.IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := ix.coll
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if err := c.db.readable(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(c.dirPath()); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	models, err := c.readCatalog()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(models, func(a, b core.IndexModel) int { return strings.Compare(a.Name, b.Name) })

	out := []core.IndexInfo{{Name: IDIndex, Keys: []core.IndexKey{{Field: "_id"}}, Unique: true}}
	for _, m := range models {
		out = append(out, core.IndexInfo{Name: m.Name, Keys: m.Keys, Unique: m.Unique, Sparse: m.Sparse})
	}
	return out, nil
}

// ReIndex drops the cached decodings of a collection, parses every file again
// and verifies the unique indexes against the result.
func (d *Database) ReIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}

	c := &Collection{db: d, name: name, dir: escapeName(name)}
	if _, err := os.Stat(c.dirPath()); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}
	d.cache.Prune(c.dir, nil)

	models, err := c.readCatalog()
	if err != nil {
		return err
	}
	docs, err := c.scan(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if !m.Unique {
			continue
		}
		u := match.NewUniqueIndex(m)
		for _, st := range docs {
			if err := u.Check(st.key, st.doc); err != nil {
				return err
			}
			u.Put(st.key, st.doc)
		}
	}
	d.logger.Debug("collection reindexed", "collection", name, "documents", len(docs))
	return d.cache.Save()
}

// Stats summarizes a collection from its files.
func (d *Database) Stats(ctx context.Context, name string) (core.CollectionStats, error) {
	if err := ctx.Err(); err != nil {
		return core.CollectionStats{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.readable(); err != nil {
		return core.CollectionStats{}, err
	}

	c := &Collection{db: d, name: name, dir: escapeName(name)}
	entries, err := os.ReadDir(c.dirPath())
	if errors.Is(err, os.ErrNotExist) {
		return core.CollectionStats{}, fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}
	if err != nil {
		return core.CollectionStats{}, err
	}
	models, err := c.readCatalog()
	if err != nil {
		return core.CollectionStats{}, err
	}

	st := core.CollectionStats{
		Name:        name,
		IndexCount:  len(models) + 1,
		StorageType: "fs/" + d.config.Format,
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), TempFilePrefix) {
			continue
		}
		if _, ok := d.serializers[filepath.Ext(e.Name())]; !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Count++
		st.Size += info.Size()
	}
	if st.Count > 0 {
		st.AvgObjSize = st.Size / st.Count
	}
	return st, nil
}
