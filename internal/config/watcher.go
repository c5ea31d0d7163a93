package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when the config file changes on disk.
// Only the serve command uses it; one-shot commands read config once.
type Watcher struct {
	loader  *Loader
	path    string
	onState func(*Config)
	onError func(error)
}

// NewWatcher creates a watcher for a loaded config file. onChange receives
// the freshly parsed config; onError receives reload failures (the previous
// config stays in effect).
func NewWatcher(loader *Loader, path string, onChange func(*Config), onError func(error)) *Watcher {
	return &Watcher{
		loader:  loader,
		path:    path,
		onState: onChange,
		onError: onError,
	}
}

// Run blocks until ctx is cancelled, delivering reloads as they happen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fs watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory: editors replace files on save, which breaks a
	// direct file watch.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := w.loader.Load()
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			if w.onState != nil {
				w.onState(cfg)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}
