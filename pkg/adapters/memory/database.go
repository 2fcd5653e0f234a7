// Package memory provides an in-process document store. It evaluates filters
// with the same semantics as MongoDB for the supported operators and is the
// default backend for tests and ephemeral data.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/introspection"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/mold/pkg/core"
)

// Config holds the configuration for the memory store.
type Config struct {
	Name     string
	Logger   *slog.Logger
	ReadOnly bool
}

// Database implements core.Database in memory.
type Database struct {
	config Config
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// New creates an empty store.
func New(config Config) *Database {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Name == "" {
		config.Name = "memory"
	}
	return &Database{
		config:      config,
		logger:      logger,
		collections: make(map[string]*collection),
		subs:        make(map[int]*subscriber),
	}
}

func (d *Database) Name() string { return d.config.Name }

// Collection returns a handle; the collection is created on first write.
func (d *Database) Collection(name string) core.Collection {
	return &Collection{db: d, name: name}
}

func (d *Database) ListCollections(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, core.ErrClosed
	}

	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		if pattern != "" {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return nil, fmt.Errorf("invalid collection pattern %q: %w", pattern, err)
			}
			if !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Database) DropCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return err
	}
	delete(d.collections, name)
	d.logger.Debug("collection dropped", "collection", name)
	return nil
}

// Close discards every collection and ends active watches.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.collections = make(map[string]*collection)
	d.mu.Unlock()

	d.subMu.Lock()
	for id, s := range d.subs {
		s.close()
		delete(d.subs, id)
	}
	d.subMu.Unlock()
	return nil
}

// writable must be called with mu held.
func (d *Database) writable() error {
	if d.closed {
		return core.ErrClosed
	}
	if d.config.ReadOnly {
		return core.ErrReadOnly
	}
	return nil
}

// readColl returns the named collection or nil. mu must be held.
func (d *Database) readColl(name string) (*collection, error) {
	if d.closed {
		return nil, core.ErrClosed
	}
	return d.collections[name], nil
}

// writeColl returns the named collection, creating it. mu must be held for writing.
func (d *Database) writeColl(name string) (*collection, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	c, ok := d.collections[name]
	if !ok {
		c = newCollection()
		d.collections[name] = c
	}
	return c, nil
}

// DatabaseState exposes internal state for observability.
type DatabaseState struct {
	Name        string              `json:"name"`
	ReadOnly    bool                `json:"read_only"`
	Closed      bool                `json:"closed"`
	Collections map[string]int      `json:"collections"`
	Indexes     map[string][]string `json:"indexes,omitempty"`
	Watchers    int                 `json:"watchers"`
}

// State implements introspection.Introspectable.
func (d *Database) State() any {
	d.mu.RLock()
	st := DatabaseState{
		Name:        d.config.Name,
		ReadOnly:    d.config.ReadOnly,
		Closed:      d.closed,
		Collections: make(map[string]int, len(d.collections)),
		Indexes:     make(map[string][]string),
	}
	for name, c := range d.collections {
		st.Collections[name] = len(c.docs)
		for _, idx := range c.indexes {
			st.Indexes[name] = append(st.Indexes[name], idx.model.Name)
		}
	}
	d.mu.RUnlock()

	d.subMu.Lock()
	st.Watchers = len(d.subs)
	d.subMu.Unlock()
	return st
}

// ComponentType implements introspection.Component.
func (d *Database) ComponentType() string {
	return "store"
}

var (
	_ core.Database                = (*Database)(nil)
	_ core.Watchable               = (*Database)(nil)
	_ core.Reindexer               = (*Database)(nil)
	_ core.StatsProvider           = (*Database)(nil)
	_ introspection.Introspectable = (*Database)(nil)
	_ introspection.Component      = (*Database)(nil)
)
