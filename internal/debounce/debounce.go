// Package debounce coalesces bursts of filesystem events into one refresh
// per project root and quiet window.
package debounce

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeatlas/internal/discovery"
	"codeatlas/internal/logging"
)

// RefreshFunc receives the project root once its burst has settled. It may
// run synchronously or dispatch to its own goroutine; panics are logged and
// swallowed.
type RefreshFunc func(root string)

type pendingRefresh struct {
	firstEventAt time.Time
	lastEventAt  time.Time
	eventCount   int
	timer        *time.Timer
}

// Debouncer maps event paths to project roots and fires one refresh per
// root after the debounce window elapses, or after maxWait at the latest.
type Debouncer struct {
	window    time.Duration
	maxWait   time.Duration
	onRefresh RefreshFunc

	mu      sync.Mutex
	pending map[string]*pendingRefresh
	// rootCache remembers path → root (empty string means no root found).
	rootCache map[string]string
}

// New creates a debouncer. Defaults: 5s window, 30s max wait.
func New(window, maxWait time.Duration, onRefresh RefreshFunc) *Debouncer {
	if window <= 0 {
		window = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Debouncer{
		window:    window,
		maxWait:   maxWait,
		onRefresh: onRefresh,
		pending:   make(map[string]*pendingRefresh),
		rootCache: make(map[string]string),
	}
}

// HandleEvent registers a filesystem event. Events whose path does not
// resolve to a project root are dropped.
func (d *Debouncer) HandleEvent(path string) {
	root := d.resolveRoot(path)
	if root == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	p, ok := d.pending[root]
	if !ok {
		p = &pendingRefresh{firstEventAt: now, lastEventAt: now, eventCount: 1}
		p.timer = time.AfterFunc(d.window, func() { d.fire(root) })
		d.pending[root] = p
		logging.WatcherDebug("debounce started for %s", root)
		return
	}

	p.lastEventAt = now
	p.eventCount++
	if now.Sub(p.firstEventAt) >= d.maxWait {
		// Burst has dragged on too long; refresh now.
		p.timer.Stop()
		go d.fire(root)
		return
	}
	p.timer.Reset(d.window)
}

// fire removes the pending entry for root and invokes the callback.
func (d *Debouncer) fire(root string) {
	d.mu.Lock()
	p, ok := d.pending[root]
	if ok {
		p.timer.Stop()
		delete(d.pending, root)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	logging.Watcher("refreshing %s after %d event(s)", root, p.eventCount)
	defer func() {
		if r := recover(); r != nil {
			logging.Watcher("refresh callback for %s panicked: %v", root, r)
		}
	}()
	d.onRefresh(root)
}

// Flush fires every pending entry immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	roots := make([]string, 0, len(d.pending))
	for root := range d.pending {
		roots = append(roots, root)
	}
	d.mu.Unlock()

	for _, root := range roots {
		d.fire(root)
	}
}

// PendingCount reports how many roots have an unfired refresh.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ClearCache drops the path → root cache, for when the tree layout changes.
func (d *Debouncer) ClearCache() {
	d.mu.Lock()
	d.rootCache = make(map[string]string)
	d.mu.Unlock()
}

// resolveRoot walks up from the event path until it finds a directory with
// a project marker. Results are cached per path.
func (d *Debouncer) resolveRoot(path string) string {
	d.mu.Lock()
	if root, ok := d.rootCache[path]; ok {
		d.mu.Unlock()
		return root
	}
	d.mu.Unlock()

	root := findRoot(path)

	d.mu.Lock()
	d.rootCache[path] = root
	d.mu.Unlock()
	return root
}

func findRoot(path string) string {
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}
	for {
		if discovery.IsProjectRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
