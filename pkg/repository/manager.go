package repository

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/naming"
)

// Manager performs administrative operations on one collection.
// Every call is forwarded to the store unchanged.
type Manager struct {
	db     core.Database
	coll   core.Collection
	name   string
	logger *slog.Logger
}

// IndexOptions carries the flags of EnsureIndex.
type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

// Asc is an ascending index key.
func Asc(field string) core.IndexKey { return core.IndexKey{Field: field} }

// Desc is a descending index key.
func Desc(field string) core.IndexKey { return core.IndexKey{Field: field, Descending: true} }

// NewManager binds a manager to the named collection.
func NewManager(db core.Database, name string, opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{
		db:     db,
		coll:   db.Collection(name),
		name:   name,
		logger: o.logger.With("collection", name),
	}
}

// ManagerFor binds a manager to the collection entities of type T resolve to.
func ManagerFor[T any](db core.Database, opts ...Option) (*Manager, error) {
	o := buildOptions(opts)
	name := o.collection
	if name == "" {
		b, err := naming.Resolve(reflect.TypeFor[T]())
		if err != nil {
			return nil, err
		}
		name = b.Name
	}
	return NewManager(db, name, opts...), nil
}

// Name returns the managed collection name.
func (m *Manager) Name() string { return m.name }

// Exists reports whether the collection is present in the database.
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	names, err := m.db.ListCollections(ctx, "")
	if err != nil {
		return false, err
	}
	return slices.Contains(names, m.name), nil
}

// Drop removes the collection with its documents and indexes.
func (m *Manager) Drop(ctx context.Context) error {
	if err := m.db.DropCollection(ctx, m.name); err != nil {
		return err
	}
	m.logger.Info("collection dropped")
	return nil
}

// EnsureIndex creates an index over keys unless it exists, returning its name.
func (m *Manager) EnsureIndex(ctx context.Context, keys []core.IndexKey, opts IndexOptions) (string, error) {
	name, err := m.coll.Indexes().Create(ctx, core.IndexModel{
		Name:   opts.Name,
		Keys:   keys,
		Unique: opts.Unique,
		Sparse: opts.Sparse,
	})
	if err != nil {
		return "", err
	}
	m.logger.Debug("index ensured", "index", name)
	return name, nil
}

// EnsureIndexes creates each model in order, stopping at the first failure.
func (m *Manager) EnsureIndexes(ctx context.Context, models ...core.IndexModel) ([]string, error) {
	names := make([]string, 0, len(models))
	for _, model := range models {
		name, err := m.coll.Indexes().Create(ctx, model)
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// DropIndex removes the named index.
func (m *Manager) DropIndex(ctx context.Context, name string) error {
	return m.coll.Indexes().Drop(ctx, name)
}

// DropAllIndexes removes every index except the primary key.
func (m *Manager) DropAllIndexes(ctx context.Context) error {
	return m.coll.Indexes().DropAll(ctx)
}

// ListIndexes describes the indexes of the collection.
func (m *Manager) ListIndexes(ctx context.Context) ([]core.IndexInfo, error) {
	return m.coll.Indexes().List(ctx)
}

// IndexExists reports whether an index with the given name exists.
func (m *Manager) IndexExists(ctx context.Context, name string) (bool, error) {
	infos, err := m.ListIndexes(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ReIndex rebuilds the indexes of the collection.
func (m *Manager) ReIndex(ctx context.Context) error {
	r, ok := m.db.(core.Reindexer)
	if !ok {
		return fmt.Errorf("%w: reindex", core.ErrUnsupported)
	}
	return r.ReIndex(ctx, m.name)
}

// Stats returns the collection statistics.
func (m *Manager) Stats(ctx context.Context) (core.CollectionStats, error) {
	s, ok := m.db.(core.StatsProvider)
	if !ok {
		return core.CollectionStats{}, fmt.Errorf("%w: stats", core.ErrUnsupported)
	}
	return s.Stats(ctx, m.name)
}
