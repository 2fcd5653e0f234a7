// Package lifecycle exposes store change events as lifecycle sources, so
// supervisors built on github.com/aretw0/lifecycle can react to document changes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/mold/pkg/core"
)

// Option configures a watch source.
type Option func(*watchSource)

// WithTypes keeps only events of the given types.
func WithTypes(types ...core.EventType) Option {
	return func(s *watchSource) {
		s.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// WithLogger sets the logger reporting bridge failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *watchSource) { s.logger = logger }
}

type watchSource struct {
	store      core.Watchable
	collection string
	types      map[core.EventType]bool
	logger     *slog.Logger
	out        chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that watches collection ("" for all)
// once started. The events channel closes when the start context is done.
func NewSource(store core.Watchable, collection string, opts ...Option) lifecycle.Source {
	s := &watchSource{
		store:      store,
		collection: collection,
		logger:     slog.New(slog.DiscardHandler),
		out:        make(chan lifecycle.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *watchSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *watchSource) Start(ctx context.Context) error {
	events, err := s.store.Watch(ctx, s.collection)
	if err != nil {
		close(s.out)
		return fmt.Errorf("failed to watch %q: %w", s.collection, err)
	}
	bridge(ctx, events, s.out, s.keep, s.logger)
	return nil
}

func (s *watchSource) keep(e core.Event) bool {
	return len(s.types) == 0 || s.types[e.Type]
}

type channelSource struct {
	events <-chan core.Event
	out    chan lifecycle.Event
}

// FromChannel creates a lifecycle.Source over an existing event channel,
// such as the one returned by a store's Watch.
func FromChannel(events <-chan core.Event) lifecycle.Source {
	return &channelSource{events: events, out: make(chan lifecycle.Event)}
}

func (s *channelSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *channelSource) Start(ctx context.Context) error {
	bridge(ctx, s.events, s.out, func(core.Event) bool { return true }, slog.New(slog.DiscardHandler))
	return nil
}

// bridge forwards events until the input closes or ctx is done, then closes out.
func bridge(ctx context.Context, in <-chan core.Event, out chan<- lifecycle.Event, keep func(core.Event) bool, logger *slog.Logger) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-in:
				if !ok {
					return nil
				}
				if !keep(e) {
					continue
				}
				// core.Event satisfies lifecycle.Event through String.
				select {
				case out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		logger.Error("event bridge failed", "error", err)
	}))
}
