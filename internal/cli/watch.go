package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/neurobot/internal/chatstore"
	"github.com/fsnotify/fsnotify"
)

// StateWatcher reloads the store when another process rewrites its state file.
type StateWatcher struct {
	store    *chatstore.Store
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	onReload func()
}

// NewStateWatcher watches the directory holding path. Watching the directory rather
// than the file survives the rename FileStorage uses to replace it.
func NewStateWatcher(store *chatstore.Store, path string, debounce time.Duration, logger *slog.Logger) (*StateWatcher, error) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &StateWatcher{
		store:    store,
		path:     path,
		debounce: debounce,
		watcher:  w,
		logger:   logger,
	}, nil
}

// OnReload registers a callback run after each reload.
func (w *StateWatcher) OnReload(fn func()) {
	w.onReload = fn
}

// Run processes events until ctx is done or the watcher is closed.
func (w *StateWatcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reloadIfChanged(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("State watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *StateWatcher) Close() error {
	return w.watcher.Close()
}

func (w *StateWatcher) reloadIfChanged(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to read state file", "path", w.path, "error", err)
		return
	}
	if !w.changed(data) {
		return
	}

	if err := w.store.Reload(ctx); err != nil {
		w.logger.Error("Failed to reload chat state", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Chat state reloaded after external change", "path", w.path, "chats", len(w.store.Chats()))
	if w.onReload != nil {
		w.onReload()
	}
}

// changed reports whether data differs from what the store itself would write, which
// filters out the events caused by our own saves.
func (w *StateWatcher) changed(data []byte) bool {
	own, err := chatstore.Encode(w.store.Snapshot())
	if err != nil {
		return true
	}
	return !bytes.Equal(bytes.TrimSpace(data), own)
}
