package endpoint

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// WatchOverlay hot-reloads the overlay file into the registry whenever it
// changes on disk. A broken edit never tears down the running catalogue:
// parse or validation errors are logged and the previous snapshot stays
// live. Blocks until ctx is cancelled.
func WatchOverlay(ctx context.Context, registry *Registry, path string, logger logr.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace the file by rename, which drops
	// a watch held on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logger = logger.WithName("overlay").WithValues("path", path)

	var debounce *time.Timer
	reload := func() {
		overlay, err := LoadOverlay(path)
		if err != nil {
			logger.Error(err, "overlay reload skipped")
			return
		}
		if err := registry.ApplyOverlay(overlay); err != nil {
			logger.Error(err, "overlay rejected, keeping previous catalogue")
			return
		}
		logger.Info("overlay applied", "descriptors", len(overlay.Descriptors), "buckets", len(overlay.Buckets))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors emit bursts of events per save; coalesce them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "overlay watcher error")
		}
	}
}
