package garmin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher monitors a FileStore's directory for token files written by
// another process (a `login` invocation alongside a running daemon) and
// invokes reload when a complete pair has settled on disk. Rewrites by the
// owning process also trigger reload; Resume is cheap and idempotent, so
// that is harmless.
type StoreWatcher struct {
	store  *FileStore
	reload func(ctx context.Context) error
	logger *slog.Logger
}

// NewStoreWatcher creates a watcher that calls reload when the token pair
// on disk changes.
func NewStoreWatcher(store *FileStore, reload func(ctx context.Context) error, logger *slog.Logger) *StoreWatcher {
	return &StoreWatcher{store: store, reload: reload, logger: logger}
}

// Watch blocks until the context is cancelled, reloading after token file
// writes. Writes are debounced: the two files land in quick succession
// (plus their temp-file renames), and one reload per save is enough.
func (w *StoreWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := w.store.Dir()

	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching token dir: %w", err)
	}

	w.logger.Info("token watcher started", slog.String("dir", dir))

	var pendingAt time.Time

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if !w.isTokenFile(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				pendingAt = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if pendingAt.IsZero() || time.Since(pendingAt) < 300*time.Millisecond {
				continue
			}
			pendingAt = time.Time{}

			if err := w.reload(ctx); err != nil {
				w.logger.Warn("token reload failed", slog.String("error", err.Error()))
				continue
			}

			w.logger.Info("tokens reloaded from disk")
		}
	}
}

func (w *StoreWatcher) isTokenFile(path string) bool {
	base := filepath.Base(path)

	return base == oauth1FileName || base == oauth2FileName
}
