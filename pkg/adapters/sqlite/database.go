// Package sqlite provides a document store in a single SQLite database,
// through the pure Go modernc.org/sqlite driver. Documents are kept as BSON
// blobs in one table keyed by collection and identifier; unique indexes are
// materialized as rows of an entry table so that SQLite enforces them.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aretw0/mold/pkg/core"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const defaultBusyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (collection, key)
);

CREATE TABLE IF NOT EXISTS indexes (
	collection TEXT NOT NULL,
	name TEXT NOT NULL,
	model TEXT NOT NULL,
	is_unique INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection, name)
);

CREATE TABLE IF NOT EXISTS index_entries (
	collection TEXT NOT NULL,
	name TEXT NOT NULL,
	entry TEXT NOT NULL,
	key TEXT NOT NULL,
	PRIMARY KEY (collection, name, entry)
);

CREATE INDEX IF NOT EXISTS idx_index_entries_key ON index_entries(collection, key);
`

// Config holds the configuration for the SQLite store.
type Config struct {
	Path        string // database file, or MemoryPath
	Name        string // defaults to the file name without extension
	ReadOnly    bool
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Database implements core.Database on SQLite.
type Database struct {
	config Config
	logger *slog.Logger
	db     *sql.DB

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the database at config.Path and migrates its schema.
func Open(ctx context.Context, config Config) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: sqlite store needs a path", core.ErrConfiguration)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = defaultBusyTimeout
	}
	if config.Name == "" {
		config.Name = defaultName(config.Path)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database lives and dies with it, and
	// writers never contend with each other for the file lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &Database{config: config, logger: config.Logger, db: db}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	d.logger.Debug("sqlite store opened", "path", config.Path, "name", config.Name)
	return d, nil
}

func defaultName(path string) string {
	if path == MemoryPath || strings.HasPrefix(path, "file::memory:") {
		return "memory"
	}
	base := filepath.Base(strings.TrimPrefix(path, "file:"))
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (d *Database) migrate(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", d.config.BusyTimeout.Milliseconds()),
	}
	if d.config.Path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := d.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

func (d *Database) Name() string { return d.config.Name }

// DB exposes the underlying handle, for inspection and maintenance.
func (d *Database) DB() *sql.DB { return d.db }

func (d *Database) Collection(name string) core.Collection {
	return &Collection{db: d, name: name}
}

func (d *Database) ListCollections(ctx context.Context, pattern string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, core.ErrClosed
	}

	rows, err := d.db.QueryContext(ctx, `SELECT name FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (d *Database) DropCollection(ctx context.Context, name string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.writable(); err != nil {
		return err
	}
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"documents", "indexes", "index_entries"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE collection = ?`, name); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	d.logger.Debug("collection dropped", "collection", name)
	return nil
}

// Close closes the database. Further operations fail with core.ErrClosed.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
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

// inTx runs fn in a transaction, committing when it returns nil.
func (d *Database) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isConstraint reports whether err is a UNIQUE or PRIMARY KEY violation.
func isConstraint(err error) bool {
	var se *driver.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
