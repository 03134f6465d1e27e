package cli

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay lets an editor finish writing before the file is read.
const reloadDelay = 100 * time.Millisecond

// ApplyFunc receives a freshly loaded config file.
type ApplyFunc func(ctx context.Context, cfg *Config) error

// ConfigWatcher reloads an explicit config file when it changes on disk and
// hands the result to an ApplyFunc. The parent directory is watched rather
// than the file, because editors usually replace files by rename.
type ConfigWatcher struct {
	path    string
	apply   ApplyFunc
	verbose bool

	watcher *fsnotify.Watcher

	reloads  atomic.Uint64
	failures atomic.Uint64

	stopOnce sync.Once
}

// WatchStats counts reload attempts.
type WatchStats struct {
	Path     string `json:"path"`
	Reloads  uint64 `json:"reloads"`
	Failures uint64 `json:"failures"`
}

// NewConfigWatcher prepares a watcher for path. Nothing happens until Run.
func NewConfigWatcher(path string, apply ApplyFunc, verbose bool) (*ConfigWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if apply == nil {
		return nil, fmt.Errorf("apply function cannot be nil")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &ConfigWatcher{
		path:    abs,
		apply:   apply,
		verbose: verbose,
		watcher: watcher,
	}, nil
}

// Run watches until ctx is cancelled. Bad edits are logged and skipped; the
// previous settings stay in effect.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	defer w.Stop()

	if w.verbose {
		log.Printf("📁 Watching %s for changes\n", w.path)
	}

	var pending <-chan time.Time
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
			// Coalesce the burst of events a single save produces
			pending = time.After(reloadDelay)

		case <-pending:
			pending = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  Config watcher error: %v\n", err)
		}
	}
}

func (w *ConfigWatcher) reload(ctx context.Context) {
	cfg, err := LoadConfigFromFile(w.path)
	if err == nil {
		err = w.apply(ctx, cfg)
	}
	if err != nil {
		w.failures.Add(1)
		log.Printf("⚠️  Config reload of %s failed, keeping previous settings: %v\n", w.path, err)
		return
	}

	w.reloads.Add(1)
	log.Printf("🔧 Reloaded %s\n", filepath.Base(w.path))
}

// Stop releases the underlying watcher. It is safe to call more than once.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() { w.watcher.Close() })
}

// Stats returns current statistics.
func (w *ConfigWatcher) Stats() WatchStats {
	return WatchStats{
		Path:     w.path,
		Reloads:  w.reloads.Load(),
		Failures: w.failures.Load(),
	}
}
