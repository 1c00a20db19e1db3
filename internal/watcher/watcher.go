// Package watcher subscribes to filesystem change notifications under the
// configured roots and feeds surviving events to the root debouncer.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"codeatlas/internal/debounce"
	"codeatlas/internal/logging"
)

// ignoredDirNames are directory components that disqualify an event path.
var ignoredDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".ruff_cache":   true,
}

// defaultIgnorePatterns filter out files that change constantly without
// meaning anything for the catalog.
var defaultIgnorePatterns = []string{
	"**/*.log",
	"**/*.tmp",
	"**/*.swp",
	"**/*.pyc",
	"**/.DS_Store",
	"**/*.sqlite3*",
	"**/*.db-journal",
}

// Watcher wires fsnotify to the debouncer.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *debounce.Debouncer
	patterns  []string

	mu    sync.Mutex
	roots map[string]bool

	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over the debouncer. Extra glob patterns are added
// to the default ignore set.
func New(d *debounce.Debouncer, extraIgnores []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	patterns := append([]string{}, defaultIgnorePatterns...)
	for _, p := range extraIgnores {
		if _, err := doublestar.Match(p, "x"); err != nil {
			logging.Watcher("skipping invalid ignore pattern %q: %v", p, err)
			continue
		}
		patterns = append(patterns, p)
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: d,
		patterns:  patterns,
		roots:     make(map[string]bool),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start subscribes to the given roots and begins dispatching events.
func (w *Watcher) Start(roots []string) error {
	for _, root := range roots {
		if err := w.AddWatchPath(root); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop()
	logging.Watcher("watching %d root(s)", len(roots))
	return nil
}

// AddWatchPath subscribes recursively to a root. Safe to call after Start.
func (w *Watcher) AddWatchPath(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.roots[abs] = true
	w.mu.Unlock()

	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirNames[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != abs {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.WatcherDebug("cannot watch %s: %v", path, err)
		}
		return nil
	})
}

// RemoveWatchPath unsubscribes a root and its known subdirectories.
func (w *Watcher) RemoveWatchPath(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.roots, abs)
	w.mu.Unlock()

	for _, watched := range w.fsw.WatchList() {
		if watched == abs || strings.HasPrefix(watched, abs+string(filepath.Separator)) {
			w.fsw.Remove(watched)
		}
	}
	w.debouncer.ClearCache()
	return nil
}

// Stop flushes the debouncer and unsubscribes everything.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		close(w.stopChan)
		if started {
			<-w.doneChan
		}
		w.debouncer.Flush()
		w.fsw.Close()
		logging.Watcher("watcher stopped")
	})
}

func (w *Watcher) loop() {
	defer close(w.doneChan)
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Watcher("watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name

	// Newly created directories need their own subscription before any
	// filtering decision about the event itself.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !w.ignored(path) {
				if err := w.fsw.Add(path); err != nil {
					logging.WatcherDebug("cannot watch new directory %s: %v", path, err)
				}
			}
			return // directory events are not project activity
		}
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return
	}
	if w.ignored(path) {
		return
	}
	logging.WatcherDebug("event %s %s", event.Op, path)
	w.debouncer.HandleEvent(path)
}

// ignored reports whether the path contains an ignored directory component
// or matches an ignore glob.
func (w *Watcher) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if ignoredDirNames[part] {
			return true
		}
	}
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.patterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}
