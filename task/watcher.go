package task

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 2 * time.Second

// WatchFile calls onChange when the file at path is written, created or renamed into
// place. The parent directory is watched so editors that replace the file are seen.
// Events closer together than debounce result in a single call. Watching stops when
// ctx is done.
func WatchFile(ctx context.Context, logger *slog.Logger, path string, debounce time.Duration, onChange func()) error {
	name, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(name)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(name), err)
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(debounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("file changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
				timer.Reset(debounce)
			case <-timer.C:
				logger.Info("file changed, re-planning", slog.String("path", name))
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("file watcher error", slog.Any("error", err))
			}
		}
	}()

	logger.Debug("watching file", slog.String("path", name))
	return nil
}
