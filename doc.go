// Package mold is the entry point of the mold repository layer.
//
// mold maps strongly-typed Go entities onto collections of a document store
// without per-entity data access code. A repository resolves the collection
// of its entity type once (hierarchies embedding a common base share one
// collection, a `collection` struct tag overrides the name) and then offers
// CRUD, upsert, predicate-based delete, count and exists, and a lazy query.
//
// Stores are selected by connection string:
//
//   - mem://name keeps documents in process memory.
//   - file:///path stores one JSON or YAML file per document.
//   - sqlite://path/app.db keeps documents in a SQLite database.
//   - mongodb://host/db connects to a MongoDB deployment.
//
// Usage:
//
//	db, err := mold.Open(ctx, "sqlite://./app.db")
//	repo, err := mold.NewRepository[*Customer, string](db)
//	c, err := repo.Add(ctx, &Customer{Name: "Ada"})
//	n, err := repo.CountWhere(ctx, filter.Eq("name", "Ada"))
//
// Custom enums are registered with serialization.RegisterEnum before the
// first repository or MongoDB client is created.
package mold
