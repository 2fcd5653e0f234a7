package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/mold/pkg/adapters/fs"
	"github.com/aretw0/mold/pkg/adapters/memory"
	"github.com/aretw0/mold/pkg/adapters/mongo"
	"github.com/aretw0/mold/pkg/adapters/sqlite"
	"github.com/aretw0/mold/pkg/core"
)

func openMemory(loc Location, o *options) core.Database {
	return memory.New(memory.Config{Name: loc.Path, Logger: o.logger, ReadOnly: o.readOnly})
}

// resolvePath applies the dev safety rules to a file-backed store path.
func resolvePath(path string, o *options) string {
	useTemp := o.forceTemp || (o.devSafety && !o.readOnly && IsDevRun())
	resolved := ResolvePath(path, useTemp)
	if resolved != path {
		o.logger.Warn("running in SAFE MODE (dev sandbox)", "original_path", path, "resolved_path", resolved)
	}
	return resolved
}

func openFS(ctx context.Context, loc Location, o *options) (core.Database, error) {
	format := o.format
	if f := loc.Query.Get("format"); f != "" {
		format = f
	}
	db, err := fs.New(fs.Config{
		Path:         resolvePath(loc.Path, o),
		Format:       format,
		SystemDir:    o.systemDir,
		MustExist:    o.mustExist,
		ReadOnly:     o.readOnly,
		Logger:       o.logger,
		ErrorHandler: o.errorHandler,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", db.Path, err)
	}
	return db, nil
}

func openSQLite(ctx context.Context, loc Location, o *options) (core.Database, error) {
	path := loc.Path
	if path != sqlite.MemoryPath {
		path = resolvePath(path, o)
	}
	return sqlite.Open(ctx, sqlite.Config{
		Path:     path,
		Name:     loc.Query.Get("name"),
		ReadOnly: o.readOnly,
		Logger:   o.logger,
	})
}

// mongoDatabase extracts the database of a MongoDB URI ("host/app?opts" -> "app").
func mongoDatabase(rest string) string {
	rest, _, _ = strings.Cut(rest, "?")
	_, db, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return db
}

func openMongo(ctx context.Context, uri string, loc Location, o *options) (core.Database, error) {
	database := o.database
	if database == "" {
		database = mongoDatabase(loc.Path)
	}
	if database == "" {
		return nil, fmt.Errorf("%w: no database in %s URI, set one in the path or the configuration", core.ErrConfiguration, loc.Scheme)
	}
	return mongo.Open(ctx, mongo.Config{
		URI:            uri,
		Database:       database,
		Username:       o.username,
		Password:       o.password,
		AppName:        o.appName,
		Registry:       o.registry,
		ConnectTimeout: o.connectTimeout,
		ReadOnly:       o.readOnly,
		Logger:         o.logger,
	})
}
