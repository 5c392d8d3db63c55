// Package configwatch hot-reloads dynamic task registrations when the
// registrations file changes on disk, mirroring the teacher's
// fsnotify-driven policy hot-reload (services/policy-service) but
// repurposed from OPA policy bytes to registry YAML entries. Reload is
// additive only: codes removed from the file are never unregistered live
// (unregistration stays an explicit registry API per spec.md 4.2).
package configwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader is the narrow surface a watched registry must satisfy.
type Reloader interface {
	ReloadPersisted() error
}

// Watcher watches one file path and calls Reloader.ReloadPersisted on write,
// debounced to coalesce rapid successive writes.
type Watcher struct {
	path     string
	reloader Reloader
	logger   *slog.Logger
	debounce time.Duration
}

// New builds a watcher for path. The file need not exist yet; fsnotify
// watches its parent directory and filters on the basename.
func New(path string, reloader Reloader, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, reloader: reloader, logger: logger, debounce: 200 * time.Millisecond}
}

// Run watches until ctx is canceled. Errors starting the watcher are
// logged and treated as non-fatal: a reload-on-write is a convenience,
// not a requirement of the core.
func (w *Watcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("configwatch_init_failed", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("configwatch_watch_failed", "dir", dir, "error", err)
		return
	}
	base := filepath.Base(w.path)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == base && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configwatch_error", "error", err)
		case <-timer.C:
			if err := w.reloader.ReloadPersisted(); err != nil {
				w.logger.Error("configwatch_reload_failed", "error", err)
			} else {
				w.logger.Info("configwatch_reloaded", "path", w.path)
			}
		}
	}
}
