package mold

import (
	"context"
	"log/slog"

	"github.com/aretw0/mold/internal/platform"
	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/repository"
)

// --- Types ---

// Repository is a public alias for the generic entity repository.
type Repository[T entity.Entity[K], K comparable] = repository.Repository[T, K]

// Manager is a public alias for the collection manager.
type Manager = repository.Manager

// Config describes how to reach a store (see LoadConfig).
type Config = platform.Config

// --- Configuration ---

// Option defines a functional option for opening a store.
type Option = platform.Option

// WithLogger sets the logger handed to the store.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithReadOnly opens the store in read-only mode.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithDevSafety relocates file-backed stores to a temporary directory under `go run` and `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithForceTemp forces file-backed stores into a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithMustExist ensures the fs store directory already exists.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithFormat selects the document format of fs stores ("json" or "yaml").
func WithFormat(format string) Option {
	return platform.WithFormat(format)
}

// WithDatabase sets the MongoDB database when the URI carries none.
func WithDatabase(name string) Option {
	return platform.WithDatabase(name)
}

// WithCredentials overrides the credentials of a MongoDB URI.
func WithCredentials(username, password string) Option {
	return platform.WithCredentials(username, password)
}

// --- Factory ---

// Open builds the store designated by uri.
func Open(ctx context.Context, uri string, opts ...Option) (core.Database, error) {
	return platform.Open(ctx, uri, opts...)
}

// OpenConfig opens the store described by cfg.
func OpenConfig(ctx context.Context, cfg Config, opts ...Option) (core.Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return platform.OpenConfig(ctx, cfg, opts...)
}

// LoadConfig reads a mold.yaml configuration file.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// --- Typed Factories ---

// NewRepository binds a repository for T to its collection in db.
func NewRepository[T entity.Entity[K], K comparable](db core.Database, opts ...repository.Option) (*repository.Repository[T, K], error) {
	return repository.New[T, K](db, opts...)
}

// OpenRepository opens the store described by cfg and binds a repository for T.
// A collection set in cfg overrides the resolved name. The caller closes the
// returned database.
func OpenRepository[T entity.Entity[K], K comparable](ctx context.Context, cfg Config, opts ...Option) (*repository.Repository[T, K], core.Database, error) {
	db, err := OpenConfig(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	var ropts []repository.Option
	if cfg.Collection != "" {
		ropts = append(ropts, repository.WithCollectionName(cfg.Collection))
	}
	repo, err := repository.New[T, K](db, ropts...)
	if err != nil {
		_ = db.Close(ctx)
		return nil, nil, err
	}
	return repo, db, nil
}

// NewManager returns the manager of the named collection.
func NewManager(db core.Database, name string) *repository.Manager {
	return repository.NewManager(db, name)
}

// --- Safety & Utils ---

// ResolvePath determines the path a file-backed store uses under the dev safety rules.
func ResolvePath(userPath string, forceTemp bool) string {
	return platform.ResolvePath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot recursively looks upwards for a directory holding mold.yaml or a .mold store.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
