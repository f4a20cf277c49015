package registry

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads schema files in dir whenever they are created or written,
// until ctx is cancelled. Removing a file does not delete the stored
// schema.
//
// Watch returns once the watcher is established; reloads happen on a
// background goroutine and failures are logged.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !IsSchemaFile(event.Name) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				name, err := r.LoadFile(ctx, event.Name)
				if err != nil {
					slog.WarnContext(ctx, "schema reload failed", "path", event.Name, "error", err)
					continue
				}
				slog.InfoContext(ctx, "schema reloaded", "name", name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "error watching schema directory", "dir", dir, "error", err)
			}
		}
	}()
	return nil
}
