package vfs

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// OutOfBandChange reports that the real filesystem changed under a live
// store's root. It never mutates the store — the overlay always wins on
// read (spec §9 Open Question) — it only lets a caller decide whether to
// warn or re-stage.
type OutOfBandChange struct {
	Path string
}

// Watcher observes out-of-band changes to a Store's on-disk root. Attaching
// one is entirely optional and has no effect on Store.Read's precedence.
type Watcher struct {
	w       *fsnotify.Watcher
	changes chan OutOfBandChange
	logger  *slog.Logger
}

// Watch starts watching store's root directory for on-disk changes.
func Watch(store *Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("vfs: create watcher: %w", err)
	}
	if err := fw.Add(store.Root()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("vfs: watch %s: %w", store.Root(), err)
	}
	w := &Watcher{w: fw, changes: make(chan OutOfBandChange, 64), logger: logger.With("component", "vfs.watcher")}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				close(w.changes)
				return
			}
			select {
			case w.changes <- OutOfBandChange{Path: ev.Name}:
			default:
				w.logger.Warn("out-of-band change channel full, dropping event", "path", ev.Name)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				continue
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// Changes returns the channel of out-of-band disk changes.
func (w *Watcher) Changes() <-chan OutOfBandChange { return w.changes }

// Close stops watching.
func (w *Watcher) Close() error { return w.w.Close() }
