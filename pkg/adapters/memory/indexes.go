package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// IDIndex is the name of the implicit primary key index.
const IDIndex = "_id_"

// Indexes manages the indexes of a memory collection.
type Indexes struct {
	coll *Collection
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

	db := ix.coll.db
	db.mu.Lock()
	defer db.mu.Unlock()
	coll, err := db.writeColl(ix.coll.name)
	if err != nil {
		return "", err
	}

	if existing, ok := coll.indexes[model.Name]; ok {
		if !reflect.DeepEqual(existing.model, model) {
			return "", fmt.Errorf("index %s already exists with different options", model.Name)
		}
		return model.Name, nil
	}

	idx := &index{model: model}
	if model.Unique {
		idx.unique = match.NewUniqueIndex(model)
		for i, doc := range coll.docs {
			if err := idx.unique.Check(coll.keys[i], doc); err != nil {
				return "", err
			}
			idx.unique.Put(coll.keys[i], doc)
		}
	}
	coll.indexes[model.Name] = idx
	db.logger.Debug("index created", "collection", ix.coll.name, "index", model.Name, "unique", model.Unique)
	return model.Name, nil
}

func (ix *Indexes) Drop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == IDIndex {
		return fmt.Errorf("%w: cannot drop the %s index", core.ErrUnsupported, IDIndex)
	}
	db := ix.coll.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.writable(); err != nil {
		return err
	}
	coll := db.collections[ix.coll.name]
	if coll == nil {
		return fmt.Errorf("%w: index %s", core.ErrNotFound, name)
	}
	if _, ok := coll.indexes[name]; !ok {
		return fmt.Errorf("%w: index %s", core.ErrNotFound, name)
	}
	delete(coll.indexes, name)
	return nil
}

func (ix *Indexes) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db := ix.coll.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.writable(); err != nil {
		return err
	}
	if coll := db.collections[ix.coll.name]; coll != nil {
		coll.indexes = make(map[string]*index)
	}
	return nil
}

func (ix *Indexes) List(ctx context.Context) ([]core.IndexInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db := ix.coll.db
	db.mu.RLock()
	defer db.mu.RUnlock()
	coll, err := db.readColl(ix.coll.name)
	if err != nil || coll == nil {
		return nil, err
	}

	out := []core.IndexInfo{{Name: IDIndex, Keys: []core.IndexKey{{Field: "_id"}}, Unique: true}}
	names := make([]string, 0, len(coll.indexes))
	for name := range coll.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := coll.indexes[name].model
		out = append(out, core.IndexInfo{Name: m.Name, Keys: m.Keys, Unique: m.Unique, Sparse: m.Sparse})
	}
	return out, nil
}

// ReIndex rebuilds the unique indexes of a collection from its documents.
func (d *Database) ReIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	coll := d.collections[name]
	if coll == nil {
		return fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}
	for _, idx := range coll.indexes {
		if !idx.model.Unique {
			continue
		}
		rebuilt := match.NewUniqueIndex(idx.model)
		for i, doc := range coll.docs {
			if err := rebuilt.Check(coll.keys[i], doc); err != nil {
				return err
			}
			rebuilt.Put(coll.keys[i], doc)
		}
		idx.unique = rebuilt
	}
	return nil
}

// Stats summarizes a collection.
func (d *Database) Stats(ctx context.Context, name string) (core.CollectionStats, error) {
	if err := ctx.Err(); err != nil {
		return core.CollectionStats{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	coll, err := d.readColl(name)
	if err != nil {
		return core.CollectionStats{}, err
	}
	if coll == nil {
		return core.CollectionStats{}, fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}

	st := core.CollectionStats{
		Name:        name,
		Count:       int64(len(coll.docs)),
		IndexCount:  len(coll.indexes) + 1,
		StorageType: "memory",
	}
	for _, doc := range coll.docs {
		st.Size += int64(len(doc))
	}
	if st.Count > 0 {
		st.AvgObjSize = st.Size / st.Count
	}
	return st, nil
}
