package memory

import (
	"context"
	"sync"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/mold/pkg/core"
)

const watchBuffer = 64

type subscriber struct {
	collection string
	ch         chan core.Event
	once       sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Watch streams changes made through this Database. Events are dropped when
// the consumer falls behind by more than the channel buffer.
func (d *Database) Watch(ctx context.Context, collection string) (<-chan core.Event, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, core.ErrClosed
	}

	s := &subscriber{collection: collection, ch: make(chan core.Event, watchBuffer)}
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = s
	d.subMu.Unlock()

	lifecycle.Go(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		d.subMu.Lock()
		delete(d.subs, id)
		s.close()
		d.subMu.Unlock()
		return nil
	})
	return s.ch, nil
}

func (d *Database) broadcast(events []core.Event) {
	if len(events) == 0 {
		return
	}
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, s := range d.subs {
		for _, e := range events {
			if s.collection != "" && s.collection != e.Collection {
				continue
			}
			select {
			case s.ch <- e:
			default:
				d.logger.Warn("watch consumer is slow, dropping event", "event", e.String())
			}
		}
	}
}
