package platform

import (
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsoncodec"
)

// options holds the settings shared by every store Open can build.
type options struct {
	logger         *slog.Logger
	readOnly       bool
	devSafety      bool
	forceTemp      bool
	mustExist      bool
	format         string
	systemDir      string
	errorHandler   func(error)
	database       string
	username       string
	password       string
	appName        string
	registry       *bsoncodec.Registry
	connectTimeout time.Duration
}

// Option defines a functional option for opening a store.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger handed to the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithReadOnly opens the store in read-only mode: writes fail with core.ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.readOnly = enabled
	}
}

// WithDevSafety relocates file-backed stores (fs, sqlite) into a temporary
// directory when the process runs through `go run` or `go test`, so that
// experiments never touch real data. Read-only stores are not relocated.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}

// WithForceTemp always relocates file-backed stores into a temporary directory.
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.forceTemp = force
	}
}

// WithMustExist fails instead of creating a missing fs store directory.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.mustExist = must
	}
}

// WithFormat selects the document format of fs stores ("json" or "yaml").
// A format query parameter in the URI takes precedence.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithSystemDir sets the hidden directory of fs stores (default ".mold").
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.systemDir = name
	}
}

// WithWatcherErrorHandler receives runtime failures of fs change watchers.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithDatabase sets the MongoDB database name when the URI carries none.
func WithDatabase(name string) Option {
	return func(o *options) {
		o.database = name
	}
}

// WithCredentials overrides the credentials of a MongoDB URI.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithAppName identifies the application to MongoDB servers.
func WithAppName(name string) Option {
	return func(o *options) {
		o.appName = name
	}
}

// WithRegistry sets the BSON registry installed on MongoDB clients.
// Defaults to the process-wide serialization registry.
func WithRegistry(registry *bsoncodec.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithConnectTimeout bounds connection establishment to MongoDB.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}
