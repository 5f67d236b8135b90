// Package watcher applies config file changes to a running server.
//
// The serve loop watches the active stela.yaml and re-reads it when the
// file changes, so operators can adjust the log level without a restart.
// fsnotify drives detection where the platform supports it, with an
// mtime polling fallback otherwise. Editor write bursts (write, chmod,
// atomic rename) are debounced into a single reload.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures the config watcher.
type Options struct {
	// DebounceWindow is how long to wait after the last event before
	// reloading. Default: 200ms.
	DebounceWindow time.Duration

	// PollInterval is the stat interval for polling mode (fallback).
	// Default: 2s.
	PollInterval time.Duration
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 200 * time.Millisecond
	}
	if o.PollInterval == 0 {
		o.PollInterval = 2 * time.Second
	}
	return o
}

// ConfigWatcher watches one config file and invokes a callback after
// each (debounced) change.
type ConfigWatcher struct {
	path     string
	onChange func(path string)
	opts     Options
}

// New creates a watcher for the config file at path. onChange runs on
// the watcher goroutine after each debounced change; it must not block
// for long.
func New(path string, onChange func(path string), opts Options) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	return &ConfigWatcher{
		path:     abs,
		onChange: onChange,
		opts:     opts.WithDefaults(),
	}, nil
}

// Path returns the absolute path of the watched file.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Run watches until ctx is cancelled. A missing file is not an error:
// the watcher keeps going and fires when the file appears.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		return w.runPolling(ctx)
	}
	defer func() { _ = fsw.Close() }()

	// Watch the parent directory: editors replace config files via
	// rename, which drops a watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	debouncer := NewDebouncer(w.opts.DebounceWindow)
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.isConfigEvent(event) {
				continue
			}
			debouncer.Trigger()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))

		case <-debouncer.C():
			slog.Debug("config file changed", slog.String("path", w.path))
			w.onChange(w.path)
		}
	}
}

// isConfigEvent reports whether event concerns the watched file with an
// operation that can change its contents.
func (w *ConfigWatcher) isConfigEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Rename)
}

// runPolling detects changes by comparing mtime and size on a ticker.
func (w *ConfigWatcher) runPolling(ctx context.Context) error {
	var lastMod time.Time
	var lastSize int64
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
		lastSize = info.Size()
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
				continue
			}
			lastMod = info.ModTime()
			lastSize = info.Size()
			slog.Debug("config file changed", slog.String("path", w.path))
			w.onChange(w.path)
		}
	}
}
