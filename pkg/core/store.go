package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Database is the capability a document store hands to the repository layer.
// Adhering to this interface keeps repositories independent of the
// underlying storage mechanism (memory, filesystem, SQLite, MongoDB).
type Database interface {
	// Name returns the logical database name.
	Name() string

	// Collection returns a handle to the named collection.
	// Handles are cheap and the collection does not need to exist yet.
	Collection(name string) Collection

	// ListCollections returns the names of the existing collections matching
	// pattern (doublestar glob syntax). An empty pattern matches everything.
	ListCollections(ctx context.Context, pattern string) ([]string, error)

	// DropCollection removes a collection with all its documents and indexes.
	// Dropping a missing collection is not an error.
	DropCollection(ctx context.Context, name string) error

	// Close releases the resources held by the store.
	Close(ctx context.Context) error
}

// Collection is an opaque handle over one named collection.
// Filters and documents are BSON documents already encoded with the
// serialization registry; the store only composes and executes them.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Find returns a cursor over the documents matching filter.
	Find(ctx context.Context, filter bson.Raw, opts *FindOptions) (Cursor, error)

	// InsertOne inserts a document. Duplicate identifiers fail with ErrDuplicateKey.
	InsertOne(ctx context.Context, doc bson.Raw) error

	// InsertMany inserts documents in order, stopping at the first failure.
	InsertMany(ctx context.Context, docs []bson.Raw) error

	// ReplaceOne replaces the first document matching filter.
	// With upsert, doc is inserted when nothing matches.
	ReplaceOne(ctx context.Context, filter bson.Raw, doc bson.Raw, upsert bool) (ReplaceResult, error)

	// DeleteOne removes the first document matching filter.
	DeleteOne(ctx context.Context, filter bson.Raw) (int64, error)

	// DeleteMany removes every document matching filter.
	DeleteMany(ctx context.Context, filter bson.Raw) (int64, error)

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter bson.Raw) (int64, error)

	// Indexes returns the index management view of the collection.
	Indexes() Indexes
}

// Cursor iterates over query results.
type Cursor interface {
	// Next advances to the next document. It returns false when the results
	// are exhausted or an error occurred (see Err).
	Next(ctx context.Context) bool

	// Current returns the document the cursor points at.
	// The slice is only valid until the next call to Next.
	Current() bson.Raw

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// FindOptions controls result shaping for Find.
type FindOptions struct {
	Skip       int64
	Limit      int64  // zero means no limit
	Sort       bson.D // {field: 1|-1}
	Projection bson.D // {field: 1} inclusion or {field: 0} exclusion
}

// ReplaceResult reports the outcome of ReplaceOne.
type ReplaceResult struct {
	Matched  int64
	Modified int64
	Upserted bool
}

// Indexes manages the indexes of a collection.
type Indexes interface {
	// Create builds the index if it does not exist and returns its name.
	Create(ctx context.Context, model IndexModel) (string, error)

	// Drop removes the named index. Unknown names fail with ErrNotFound.
	Drop(ctx context.Context, name string) error

	// DropAll removes every index except the primary key.
	DropAll(ctx context.Context) error

	// List describes the existing indexes.
	List(ctx context.Context) ([]IndexInfo, error)
}

// IndexKey is one field of an index.
type IndexKey struct {
	Field      string
	Descending bool
}

// IndexModel describes an index to create.
type IndexModel struct {
	Name   string // derived from the keys when empty
	Keys   []IndexKey
	Unique bool
	Sparse bool
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name   string
	Keys   []IndexKey
	Unique bool
	Sparse bool
}

// Reindexer is implemented by stores able to rebuild the indexes of a collection.
type Reindexer interface {
	ReIndex(ctx context.Context, collection string) error
}

// StatsProvider is implemented by stores exposing per-collection statistics.
type StatsProvider interface {
	Stats(ctx context.Context, collection string) (CollectionStats, error)
}

// CollectionStats summarizes a collection.
type CollectionStats struct {
	Name        string `json:"name" yaml:"name"`
	Count       int64  `json:"count" yaml:"count"`
	Size        int64  `json:"size" yaml:"size"` // total document bytes
	IndexCount  int    `json:"index_count" yaml:"index_count"`
	AvgObjSize  int64  `json:"avg_obj_size" yaml:"avg_obj_size"`
	StorageType string `json:"storage_type" yaml:"storage_type"`
}

// Watchable is implemented by stores that can notify about document changes.
type Watchable interface {
	// Watch observes changes in collection (empty means every collection).
	// The channel is closed when ctx is cancelled.
	Watch(ctx context.Context, collection string) (<-chan Event, error)
}
