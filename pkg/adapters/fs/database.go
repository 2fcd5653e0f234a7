// Package fs provides a document store on the local filesystem. Each
// collection is a directory under the root and each document one file named
// after its identifier, in Extended JSON or YAML. Writes are atomic (temp
// file and rename) and decoded documents are cached by modification time
// under the system directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/mold/pkg/core"
)

// DefaultSystemDir holds the cache and the index catalog.
const DefaultSystemDir = ".mold"

// Config holds the configuration for the filesystem store.
type Config struct {
	Path         string
	Format       string // "json" (default) or "yaml"
	SystemDir    string // defaults to DefaultSystemDir
	MustExist    bool
	ReadOnly     bool
	Logger       *slog.Logger
	ErrorHandler func(error) // receives watcher errors
}

// Database implements core.Database on a directory tree.
type Database struct {
	Path        string
	config      Config
	logger      *slog.Logger
	serializer  Serializer
	serializers map[string]Serializer
	cache       *cache

	mu       sync.RWMutex
	closed   bool
	watchers int
}

// New creates a store rooted at config.Path. Call Initialize before use.
func New(config Config) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: fs store needs a path", core.ErrConfiguration)
	}
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	serializers := DefaultSerializers()
	format := strings.TrimPrefix(strings.ToLower(config.Format), ".")
	if format == "" {
		format = "json"
	}
	s, ok := serializers["."+format]
	if !ok {
		return nil, fmt.Errorf("%w: unknown document format %q", core.ErrConfiguration, config.Format)
	}
	config.Format = format

	return &Database{
		Path:        config.Path,
		config:      config,
		logger:      config.Logger,
		serializer:  s,
		serializers: serializers,
		cache:       newCache(config.Path, config.SystemDir),
	}, nil
}

// Initialize creates the root directory (unless MustExist) and loads the cache.
func (d *Database) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.config.MustExist {
		info, err := os.Stat(d.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("store path does not exist: %s", d.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", d.Path)
		}
	} else if !d.config.ReadOnly {
		if err := os.MkdirAll(d.Path, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	if err := d.cache.Load(); err != nil {
		d.logger.Warn("cache unreadable, starting fresh", "error", err)
	}
	return nil
}

func (d *Database) Name() string { return filepath.Base(d.Path) }

// Collection returns a handle; the directory is created on first write.
func (d *Database) Collection(name string) core.Collection {
	return &Collection{db: d, name: name, dir: escapeName(name)}
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

	entries, err := os.ReadDir(d.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name, err := unescapeName(e.Name())
		if err != nil {
			continue
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

	dir := escapeName(name)
	if err := os.RemoveAll(filepath.Join(d.Path, dir)); err != nil {
		return fmt.Errorf("failed to remove collection %s: %w", name, err)
	}
	if err := os.Remove(d.catalogPath(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index catalog of %s: %w", name, err)
	}
	d.cache.Prune(dir, nil)
	d.logger.Debug("collection dropped", "collection", name)
	return nil
}

// Close persists the cache. Further calls fail with core.ErrClosed.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.config.ReadOnly {
		return nil
	}
	if err := d.cache.Save(); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
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

func (d *Database) readable() error {
	if d.closed {
		return core.ErrClosed
	}
	return nil
}

func (d *Database) catalogPath(dir string) string {
	return filepath.Join(d.Path, d.config.SystemDir, "indexes", dir+".json")
}

// escapeName maps a collection name or document key onto a single path
// segment. Leading dots are escaped so names never collide with hidden or
// system entries.
func escapeName(name string) string {
	s := url.PathEscape(name)
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}

func unescapeName(s string) (string, error) {
	return url.PathUnescape(s)
}
