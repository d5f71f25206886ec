package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is called when the fleet file changes on disk.
type ReloadFunc func() error

// Watcher watches the fleet config file and calls its ReloadFunc when the
// file is written or created (SUPPLEMENTED FEATURES "Fleet-file hot
// watch"). It does not re-read or apply the file itself; what a change
// triggers is entirely up to the handler.
type Watcher struct {
	path     string
	handler  ReloadFunc
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu         sync.Mutex
	lastReload time.Time
}

// NewWatcher opens an fsnotify watcher on path's directory (editors
// frequently replace the file rather than writing in place, which removes
// a direct watch on the file itself).
func NewWatcher(path string, handler ReloadFunc, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("app: watcher requires a reload handler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("app: create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("app: resolve config path: %w", err)
	}

	return &Watcher{path: absPath, handler: handler, logger: logger, fsw: fsw, debounce: debounce}, nil
}

// Start begins watching in a background goroutine until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("app: watch config directory: %w", err)
	}
	w.logger.Info("fleet config watcher started", "path", w.path, "debounce", w.debounce)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.handleChange(event)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fleet config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleChange(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.debounce {
		return
	}

	w.logger.Info("fleet config changed, reloading", "path", event.Name)
	if err := w.handler(); err != nil {
		w.logger.Error("fleet config reload failed", "error", err)
		return
	}
	w.lastReload = time.Now()
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}
