// Package mongo adapts a MongoDB deployment to the store capability through
// the official driver. The client is configured with the serialization
// registry so that values encoded by the driver itself follow the same type
// mapping as the repositories.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aretw0/mold/pkg/core"
	"github.com/aretw0/mold/pkg/serialization"
)

const defaultConnectTimeout = 10 * time.Second

// Server error codes mapped onto core errors.
const (
	codeNamespaceNotFound = 26
	codeIndexNotFound     = 27
)

// Config holds the connection settings of the MongoDB store.
type Config struct {
	URI      string // mongodb:// or mongodb+srv:// connection string
	Database string
	Username string // overrides the credentials of the URI when set
	Password string
	AppName  string

	// Registry defaults to the process-wide serialization registry.
	Registry       *bsoncodec.Registry
	ConnectTimeout time.Duration
	ReadOnly       bool
	Logger         *slog.Logger
}

// Database implements core.Database on a MongoDB database.
type Database struct {
	config Config
	logger *slog.Logger
	client *mongo.Client
	db     *mongo.Database

	mu     sync.RWMutex
	closed bool
}

// Open connects to the deployment and verifies it answers a ping.
func Open(ctx context.Context, config Config) (*Database, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("%w: mongo store needs a connection string", core.ErrConfiguration)
	}
	if config.Database == "" {
		return nil, fmt.Errorf("%w: mongo store needs a database name", core.ErrConfiguration)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Registry == nil {
		config.Registry = serialization.Initialize()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetRegistry(config.Registry).
		SetConnectTimeout(config.ConnectTimeout).
		SetServerSelectionTimeout(config.ConnectTimeout)
	if config.Username != "" {
		opts.SetAuth(options.Credential{Username: config.Username, Password: config.Password, PasswordSet: config.Password != ""})
	}
	if config.AppName != "" {
		opts.SetAppName(config.AppName)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", redact(config.URI), err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to reach %s: %w", redact(config.URI), err)
	}

	config.Logger.Debug("mongo store connected", "uri", redact(config.URI), "database", config.Database)
	return &Database{
		config: config,
		logger: config.Logger,
		client: client,
		db:     client.Database(config.Database),
	}, nil
}

// redact removes the password from a connection string.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func (d *Database) Name() string { return d.config.Database }

// Client exposes the driver client.
func (d *Database) Client() *mongo.Client { return d.client }

func (d *Database) Collection(name string) core.Collection {
	return &Collection{db: d, name: name, coll: d.db.Collection(name)}
}

func (d *Database) ListCollections(ctx context.Context, pattern string) ([]string, error) {
	if err := d.readable(); err != nil {
		return nil, err
	}
	all, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	names := make([]string, 0, len(all))
	for _, name := range all {
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
	if err := d.writable(); err != nil {
		return err
	}
	if err := d.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	d.logger.Debug("collection dropped", "collection", name)
	return nil
}

// Close disconnects the client.
func (d *Database) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.client.Disconnect(ctx)
}

func (d *Database) readable() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return core.ErrClosed
	}
	return nil
}

func (d *Database) writable() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return core.ErrClosed
	}
	if d.config.ReadOnly {
		return core.ErrReadOnly
	}
	return nil
}

// exists reports whether the database holds the named collection.
func (d *Database) exists(ctx context.Context, name string) (bool, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("failed to look up collection %s: %w", name, err)
	}
	return len(names) > 0, nil
}

// mapError translates server errors into core sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", core.ErrDuplicateKey, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeIndexNotFound) || se.HasErrorCode(codeNamespaceNotFound)) {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	return err
}
