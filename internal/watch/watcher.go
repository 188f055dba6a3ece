// Package watch re-runs traceability validation whenever project files
// change, debouncing filesystem events so editor save bursts trigger a
// single rescan.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// RunFunc is invoked after a debounced batch of file changes.
type RunFunc func(ctx context.Context) error

// Config configures the watcher.
type Config struct {
	// Debounce is the quiet period after the last event before the run
	// function fires (default: 500ms).
	Debounce time.Duration

	// SkipDirs are directory names that are never watched (default:
	// .git, .gated, node_modules, vendor, dist).
	SkipDirs []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce: 500 * time.Millisecond,
		SkipDirs: []string{".git", ".gated", "node_modules", "vendor", "dist"},
	}
}

// Watcher watches a project tree and invokes a run function after file
// changes settle.
type Watcher struct {
	root    string
	run     RunFunc
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	cfg     Config
	skip    map[string]bool
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewWatcher creates a watcher over the project root.
func NewWatcher(root string, run RunFunc, logger *logging.Logger, cfg Config) (*Watcher, error) {
	if root == "" {
		return nil, errors.New("project root is required")
	}
	if run == nil {
		return nil, errors.New("run function is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = def.SkipDirs
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	skip := make(map[string]bool, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		skip[d] = true
	}

	return &Watcher{
		root:    root,
		run:     run,
		watcher: fsw,
		logger:  logger,
		cfg:     cfg,
		skip:    skip,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start registers watches for every directory under the root and begins
// processing events. It runs one initial pass before the first event.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	if err := w.run(ctx); err != nil {
		w.logger.Warn(ctx, "initial run failed", zap.Error(err))
	}

	w.started = true
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
		if w.started {
			<-w.done
		}
	}
}

// addTree registers the directory and all its subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip[d.Name()] {
			return fs.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn(context.Background(), "cannot watch directory",
				zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// processEvents debounces filesystem events and fires the run function
// after the quiet period.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.skipEvent(event) {
				continue
			}
			// New directories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addTree(event.Name)
				}
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.cfg.Debounce)
			pending = true

		case <-timer.C:
			pending = false
			if err := w.run(ctx); err != nil {
				w.logger.Warn(ctx, "watch run failed", zap.Error(err))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// skipEvent filters events from skipped directories and chmod noise.
func (w *Watcher) skipEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return false
	}
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if w.skip[filepath.Base(dir)] {
			return true
		}
	}
	return w.skip[filepath.Base(rel)]
}
