package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/robotmemory/keydrive/logging"
)

// DefaultWatchDebounce collapses the burst of events an editor produces when saving.
const DefaultWatchDebounce = 250 * time.Millisecond

// WatchOption customizes a Watcher.
type WatchOption func(*Watcher)

// WithWatchDebounce sets how long the file must be quiet before it is read again.
func WithWatchDebounce(window time.Duration) WatchOption {
	return func(w *Watcher) {
		w.window = window
	}
}

// A Watcher re-reads a config file when it changes and hands every valid result to onChange.
type Watcher struct {
	path     string
	window   time.Duration
	onChange func(*Config)
	logger   logging.Logger

	watcher *fsnotify.Watcher
	// reloadMu serializes onChange calls.
	reloadMu sync.Mutex
}

// NewWatcher starts watching path. Events are only handled once Run is called.
func NewWatcher(path string, onChange func(*Config), logger logging.Logger, opts ...WatchOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     absPath,
		window:   DefaultWatchDebounce,
		onChange: onChange,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	// Editors often replace the file instead of writing it, so watch the directory.
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot watch config directory"), w.watcher.Close())
	}
	return w, nil
}

// Run handles file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	debounced := debounce.New(w.window)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(func() {
				w.reload(ctx)
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	cfg, err := Read(w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring invalid config", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	w.onChange(cfg)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Watch watches path until ctx is done, calling onChange with every new valid config.
func Watch(ctx context.Context, path string, onChange func(*Config), logger logging.Logger, opts ...WatchOption) error {
	w, err := NewWatcher(path, onChange, logger, opts...)
	if err != nil {
		return err
	}
	return multierr.Combine(w.Run(ctx), w.Close())
}
