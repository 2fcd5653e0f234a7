package repository

import (
	"log/slog"

	"github.com/aretw0/mold/pkg/entity"
	"github.com/aretw0/mold/pkg/serialization"
)

// Option configures a Repository or Manager.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	collection string
	codec      *serialization.Codec
	generator  any // entity.Generator[K], checked against K in New
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.codec == nil {
		o.codec = serialization.DefaultCodec()
	}
	return o
}

// WithLogger sets the logger. Operations log at Debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollectionName bypasses name resolution and binds to name.
func WithCollectionName(name string) Option {
	return func(o *options) {
		o.collection = name
	}
}

// WithCodec sets the BSON codec. Defaults to the process-wide registry.
func WithCodec(codec *serialization.Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithIDGenerator sets how identifiers are generated for entities inserted
// without one. K must match the repository key type.
func WithIDGenerator[K comparable](gen entity.Generator[K]) Option {
	return func(o *options) {
		o.generator = gen
	}
}
