package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aretw0/mold/pkg/core"
)

// Collection is a handle over one MongoDB collection.
type Collection struct {
	db   *Database
	name string
	coll *mongo.Collection
}

func (c *Collection) Name() string { return c.name }

// query turns an absent filter into the empty document the driver requires.
func query(filter bson.Raw) any {
	if len(filter) == 0 {
		return bson.D{}
	}
	return filter
}

func findOptions(opts *core.FindOptions) *options.FindOptions {
	fo := options.Find()
	if opts == nil {
		return fo
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Sort) > 0 {
		fo.SetSort(opts.Sort)
	}
	if len(opts.Projection) > 0 {
		fo.SetProjection(opts.Projection)
	}
	return fo
}

func (c *Collection) Find(ctx context.Context, filter bson.Raw, opts *core.FindOptions) (core.Cursor, error) {
	if err := c.db.readable(); err != nil {
		return nil, err
	}
	cur, err := c.coll.Find(ctx, query(filter), findOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	return &Cursor{cur: cur}, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.Raw) error {
	if err := c.db.writable(); err != nil {
		return err
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return mapError(err)
	}
	return nil
}

// InsertMany performs an ordered insert: the server stops at the first
// failing document and keeps the ones before it.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if err := c.db.writable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	if _, err := c.coll.InsertMany(ctx, batch, options.InsertMany().SetOrdered(true)); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Collection) ReplaceOne(ctx context.Context, filter bson.Raw, doc bson.Raw, upsert bool) (core.ReplaceResult, error) {
	if err := c.db.writable(); err != nil {
		return core.ReplaceResult{}, err
	}
	res, err := c.coll.ReplaceOne(ctx, query(filter), doc, options.Replace().SetUpsert(upsert))
	if err != nil {
		return core.ReplaceResult{}, mapError(err)
	}
	return core.ReplaceResult{
		Matched:  res.MatchedCount,
		Modified: res.ModifiedCount,
		Upserted: res.UpsertedID != nil,
	}, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter bson.Raw) (int64, error) {
	if err := c.db.writable(); err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteOne(ctx, query(filter))
	if err != nil {
		return 0, mapError(err)
	}
	return res.DeletedCount, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.Raw) (int64, error) {
	if err := c.db.writable(); err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteMany(ctx, query(filter))
	if err != nil {
		return 0, mapError(err)
	}
	return res.DeletedCount, nil
}

func (c *Collection) Count(ctx context.Context, filter bson.Raw) (int64, error) {
	if err := c.db.readable(); err != nil {
		return 0, err
	}
	n, err := c.coll.CountDocuments(ctx, query(filter))
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Collection) Indexes() core.Indexes { return &Indexes{coll: c} }

// Cursor adapts a driver cursor.
type Cursor struct {
	cur *mongo.Cursor
}

func (c *Cursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }
func (c *Cursor) Current() bson.Raw { return c.cur.Current }
func (c *Cursor) Err() error { return c.cur.Err() }
func (c *Cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

var (
	_ core.Collection = (*Collection)(nil)
	_ core.Cursor     = (*Cursor)(nil)
)
