package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aretw0/mold/internal/match"
	"github.com/aretw0/mold/pkg/core"
)

// IDIndex is the name of the implicit primary key index.
const IDIndex = "_id_"

// Indexes manages the indexes of a MongoDB collection.
type Indexes struct {
	coll *Collection
}

// keysDocument renders index keys as the ordered document the server expects.
func keysDocument(keys []core.IndexKey) bson.D {
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Descending {
			dir = -1
		}
		d = append(d, bson.E{Key: k.Field, Value: dir})
	}
	return d
}

// parseKeys reads a server key document back. Special index kinds ("text",
// "2dsphere") are reported as ascending.
func parseKeys(doc bson.Raw) []core.IndexKey {
	elems, err := doc.Elements()
	if err != nil {
		return nil
	}
	keys := make([]core.IndexKey, 0, len(elems))
	for _, e := range elems {
		k := core.IndexKey{Field: e.Key()}
		v := e.Value()
		switch v.Type {
		case bsontype.Int32:
			k.Descending = v.Int32() < 0
		case bsontype.Int64:
			k.Descending = v.Int64() < 0
		case bsontype.Double:
			k.Descending = v.Double() < 0
		}
		keys = append(keys, k)
	}
	return keys
}

func (ix *Indexes) Create(ctx context.Context, model core.IndexModel) (string, error) {
	if len(model.Keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrConfiguration)
	}
	if err := ix.coll.db.writable(); err != nil {
		return "", err
	}
	if model.Name == "" {
		model.Name = match.IndexName(model.Keys)
	}

	opts := options.Index().SetName(model.Name)
	if model.Unique {
		opts.SetUnique(true)
	}
	if model.Sparse {
		opts.SetSparse(true)
	}
	name, err := ix.coll.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keysDocument(model.Keys), Options: opts})
	if err != nil {
		return "", fmt.Errorf("failed to create index %s: %w", model.Name, mapError(err))
	}
	ix.coll.db.logger.Debug("index created", "collection", ix.coll.name, "index", name, "unique", model.Unique)
	return name, nil
}

func (ix *Indexes) Drop(ctx context.Context, name string) error {
	if name == IDIndex {
		return fmt.Errorf("%w: cannot drop the %s index", core.ErrUnsupported, IDIndex)
	}
	if err := ix.coll.db.writable(); err != nil {
		return err
	}
	if _, err := ix.coll.coll.Indexes().DropOne(ctx, name); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, mapError(err))
	}
	return nil
}

func (ix *Indexes) DropAll(ctx context.Context) error {
	if err := ix.coll.db.writable(); err != nil {
		return err
	}
	if _, err := ix.coll.coll.Indexes().DropAll(ctx); err != nil {
		if err = mapError(err); !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("failed to drop indexes of %s: %w", ix.coll.name, err)
		}
	}
	return nil
}

func (ix *Indexes) List(ctx context.Context) ([]core.IndexInfo, error) {
	if err := ix.coll.db.readable(); err != nil {
		return nil, err
	}
	specs, err := ix.coll.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", ix.coll.name, err)
	}
	out := make([]core.IndexInfo, 0, len(specs))
	for _, s := range specs {
		info := core.IndexInfo{Name: s.Name, Keys: parseKeys(s.KeysDocument)}
		if s.Unique != nil {
			info.Unique = *s.Unique
		}
		if s.Sparse != nil {
			info.Sparse = *s.Sparse
		}
		if s.Name == IDIndex {
			info.Unique = true
		}
		out = append(out, info)
	}
	return out, nil
}

// ReIndex runs the reIndex command. Servers only accept it on standalone deployments.
func (d *Database) ReIndex(ctx context.Context, name string) error {
	if err := d.writable(); err != nil {
		return err
	}
	ok, err := d.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}
	if err := d.db.RunCommand(ctx, bson.D{{Key: "reIndex", Value: name}}).Err(); err != nil {
		return fmt.Errorf("failed to reindex %s: %w", name, mapError(err))
	}
	d.logger.Debug("collection reindexed", "collection", name)
	return nil
}

type collStats struct {
	Count      int64   `bson:"count"`
	Size       int64   `bson:"size"`
	NIndexes   int     `bson:"nindexes"`
	AvgObjSize float64 `bson:"avgObjSize"`
}

// Stats summarizes a collection with the collStats command.
func (d *Database) Stats(ctx context.Context, name string) (core.CollectionStats, error) {
	if err := d.readable(); err != nil {
		return core.CollectionStats{}, err
	}
	ok, err := d.exists(ctx, name)
	if err != nil {
		return core.CollectionStats{}, err
	}
	if !ok {
		return core.CollectionStats{}, fmt.Errorf("%w: collection %s", core.ErrNotFound, name)
	}

	var cs collStats
	if err := d.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: name}}).Decode(&cs); err != nil {
		return core.CollectionStats{}, fmt.Errorf("failed to compute stats of %s: %w", name, mapError(err))
	}
	return core.CollectionStats{
		Name:        name,
		Count:       cs.Count,
		Size:        cs.Size,
		IndexCount:  cs.NIndexes,
		AvgObjSize:  int64(cs.AvgObjSize),
		StorageType: "mongo",
	}, nil
}
