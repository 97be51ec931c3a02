// Package watch turns file system changes under a granted directory into
// debounced refresh calls.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/metrics"
	"github.com/mesh-intelligence/fira/internal/scan"
)

// DefaultDebounce collapses bursts of events, such as a record write
// followed by the removal of its prior copy, into one refresh.
const DefaultDebounce = 250 * time.Millisecond

// ErrRunning is returned by Run when the watcher is already running.
var ErrRunning = errors.New("watcher already running")

// Handler is called once per debounced batch of changes.
type Handler func(ctx context.Context, paths []string) error

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Watcher watches a project tree: the root, every project, stage and owner
// directory. Directories created while running are added.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
	fsw     *fsnotify.Watcher
}

// New creates a watcher for root. Nothing is watched until Run.
func New(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Watcher{root: root, debounce: opts.Debounce, logger: opts.Logger, metrics: opts.Metrics}
}

// Run watches until ctx is done, calling h after each quiet period that
// follows at least one relevant change. Handler errors are logged.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrRunning
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.fsw = nil
		w.mu.Unlock()
		fsw.Close()
	}()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching directory", zap.String("root", w.root), zap.Int("watches", len(fsw.WatchList())))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var pending []string
	seen := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !Relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, ev.Name); err != nil {
						w.logger.Warn("watching new directory failed", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			if !seen[ev.Name] {
				seen[ev.Name] = true
				pending = append(pending, ev.Name)
			}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			batch := pending
			pending = nil
			seen = map[string]bool{}
			w.metrics.RecordWatchEvent()
			w.logger.Debug("directory changed", zap.Int("paths", len(batch)))
			if err := h(ctx, batch); err != nil {
				w.logger.Warn("refresh after change failed", zap.Error(err))
			}
		}
	}
}

// addTree watches dir and the directories below it down to owner
// directories, skipping hidden and denied names.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && scan.IsDenied(d.Name()) {
			return filepath.SkipDir
		}
		if depth(w.root, path) > 4 {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// depth counts path elements below root: projects(1)/project(2)/stage(3)/owner(4).
func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// Relevant reports whether a change to path can affect the dataset.
// Hidden files, which include temp files and access probes, are ignored.
func Relevant(path string) bool {
	name := filepath.Base(path)
	return name != "" && !strings.HasPrefix(name, ".")
}
