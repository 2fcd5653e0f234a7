package core

import "errors"

// Common errors.
var (
	// ErrConfiguration marks fatal setup problems: an empty collection name,
	// a malformed connection string, an entity hierarchy that cannot be mapped.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingID is returned when an entity without identifier is inserted
	// and no generator exists for its key type.
	ErrMissingID = errors.New("entity has no identifier and no generator is configured")

	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned for missing store objects (indexes, collections).
	// Missing entities are reported as absent results, not with this error.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned when the store lacks an optional capability.
	ErrUnsupported = errors.New("operation not supported by store")

	// ErrReadOnly is returned for writes against a read-only store.
	ErrReadOnly = errors.New("store is in read-only mode")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
