package sensorlog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a log file. It watches the parent directory so
// the file may be created, replaced or rotated after the watch starts.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the directory of path.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		watcher: watcher,
	}, nil
}

// Run calls notify for every change to the watched file until ctx is done
// or the watcher is closed. notify must not block.
func (w *Watcher) Run(ctx context.Context, notify func()) {
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(evt) {
				continue
			}
			notify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Log watcher error", slog.String("path", w.path), slog.Any("error", err))
		}
	}
}

// relevant reports whether evt could have changed the log contents.
func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != w.path {
		return false
	}
	return evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename) || evt.Has(fsnotify.Remove)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
