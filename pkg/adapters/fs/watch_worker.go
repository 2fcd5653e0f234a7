package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/mold/pkg/core"
)

const watchBuffer = 64

// watchWorker turns fsnotify events of one collection directory into core events.
type watchWorker struct {
	db      *Database
	coll    *Collection
	watcher *fsnotify.Watcher
	events  chan core.Event
	known   map[string]bool // file names present, to tell creates from rewrites
}

// Watch streams changes to the files of a collection, including edits made
// outside this process. The channel is closed when ctx is done.
func (d *Database) Watch(ctx context.Context, collection string) (<-chan core.Event, error) {
	d.mu.RLock()
	err := d.readable()
	d.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	c := &Collection{db: d, name: collection, dir: escapeName(collection)}
	if err := os.MkdirAll(c.dirPath(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create collection directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dirPath()); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", c.dirPath(), err)
	}

	w := &watchWorker{
		db:      d,
		coll:    c,
		watcher: watcher,
		events:  make(chan core.Event, watchBuffer),
		known:   make(map[string]bool),
	}
	if entries, err := os.ReadDir(c.dirPath()); err == nil {
		for _, e := range entries {
			w.known[e.Name()] = true
		}
	}

	d.setWatching(1)
	lifecycle.Go(ctx, w.run, lifecycle.WithErrorHandler(func(err error) {
		if d.config.ErrorHandler != nil {
			d.config.ErrorHandler(fmt.Errorf("watcher panic: %w", err))
		} else {
			d.logger.Error("watcher panic", "collection", collection, "error", err)
		}
	}))
	return w.events, nil
}

func (d *Database) setWatching(delta int) {
	d.mu.Lock()
	d.watchers += delta
	d.mu.Unlock()
}

func (w *watchWorker) run(ctx context.Context) error {
	defer close(w.events)
	defer w.db.setWatching(-1)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if e, ok := w.translate(event); ok {
				select {
				case w.events <- e:
				case <-ctx.Done():
					return nil
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.db.logger.Error("fsnotify error", "collection", w.coll.name, "error", err)
			if w.db.config.ErrorHandler != nil {
				w.db.config.ErrorHandler(err)
			}
		}
	}
}

// translate maps a file event onto a document event. Temporary files of
// atomic writes and files of unknown formats are ignored; an atomic rewrite
// shows up as a create of a name already known and is reported as a modify.
func (w *watchWorker) translate(event fsnotify.Event) (core.Event, bool) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, TempFilePrefix) || strings.HasPrefix(name, ".") {
		return core.Event{}, false
	}
	ext := filepath.Ext(name)
	if _, ok := w.db.serializers[ext]; !ok {
		return core.Event{}, false
	}
	key, err := unescapeName(strings.TrimSuffix(name, ext))
	if err != nil {
		w.db.logger.Debug("unresolvable document file", "file", name, "error", err)
		return core.Event{}, false
	}

	var t core.EventType
	switch {
	case event.Has(fsnotify.Create):
		t = core.EventCreate
		if w.known[name] {
			t = core.EventModify
		}
		w.known[name] = true
	case event.Has(fsnotify.Write):
		t = core.EventModify
		w.known[name] = true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, err := os.Stat(event.Name); err == nil {
			return core.Event{}, false // replaced in place
		}
		t = core.EventDelete
		delete(w.known, name)
	default:
		return core.Event{}, false
	}

	w.db.logger.Debug("document changed", "collection", w.coll.name, "id", key, "type", t)
	return core.Event{
		Type:       t,
		Collection: w.coll.name,
		ID:         key,
		Timestamp:  time.Now().Unix(),
	}, true
}
