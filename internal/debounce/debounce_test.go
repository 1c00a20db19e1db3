package debounce

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

type refreshRecorder struct {
	mu    sync.Mutex
	roots []string
}

func (r *refreshRecorder) record(root string) {
	r.mu.Lock()
	r.roots = append(r.roots, root)
	r.mu.Unlock()
}

func (r *refreshRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roots...)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBurstCoalescesToOneRefresh(t *testing.T) {
	dir := projectDir(t)
	rec := &refreshRecorder{}
	d := New(30*time.Millisecond, time.Second, rec.record)

	for i := 0; i < 10; i++ {
		d.HandleEvent(filepath.Join(dir, "main.go"))
	}
	waitFor(t, func() bool { return len(rec.snapshot()) > 0 }, time.Second)
	time.Sleep(60 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 1 || got[0] != dir {
		t.Errorf("expected one refresh for %s, got %v", dir, got)
	}
}

func TestEventsOutsideProjectsDropped(t *testing.T) {
	rec := &refreshRecorder{}
	d := New(10*time.Millisecond, time.Second, rec.record)

	d.HandleEvent(filepath.Join(t.TempDir(), "stray.txt"))
	time.Sleep(50 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("expected no refreshes, got %v", got)
	}
	if d.PendingCount() != 0 {
		t.Error("expected no pending entries")
	}
}

func TestMaxWaitForcesRefreshDuringSustainedBurst(t *testing.T) {
	dir := projectDir(t)
	rec := &refreshRecorder{}
	d := New(50*time.Millisecond, 100*time.Millisecond, rec.record)

	// Keep resetting faster than the window so only max wait can fire.
	stop := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(stop) {
		d.HandleEvent(filepath.Join(dir, "main.go"))
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) > 0 }, time.Second)
}

func TestFlushFiresPending(t *testing.T) {
	dir := projectDir(t)
	rec := &refreshRecorder{}
	d := New(time.Hour, time.Hour, rec.record)

	d.HandleEvent(filepath.Join(dir, "main.go"))
	if d.PendingCount() != 1 {
		t.Fatal("expected one pending entry")
	}
	d.Flush()

	if got := rec.snapshot(); len(got) != 1 || got[0] != dir {
		t.Errorf("flush did not fire: %v", got)
	}
	if d.PendingCount() != 0 {
		t.Error("pending entry survived flush")
	}
}

func TestTwoRootsRefreshIndependently(t *testing.T) {
	dir1 := projectDir(t)
	dir2 := projectDir(t)
	rec := &refreshRecorder{}
	d := New(20*time.Millisecond, time.Second, rec.record)

	d.HandleEvent(filepath.Join(dir1, "a.go"))
	d.HandleEvent(filepath.Join(dir2, "b.go"))
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second)

	got := rec.snapshot()
	seen := map[string]bool{}
	for _, r := range got {
		seen[r] = true
	}
	if !seen[dir1] || !seen[dir2] {
		t.Errorf("expected refreshes for both roots, got %v", got)
	}
}

func TestCallbackPanicSwallowed(t *testing.T) {
	dir := projectDir(t)
	d := New(time.Hour, time.Hour, func(string) { panic("boom") })

	d.HandleEvent(filepath.Join(dir, "main.go"))
	d.Flush() // must not propagate the panic
}

func TestClearCache(t *testing.T) {
	dir := projectDir(t)
	rec := &refreshRecorder{}
	d := New(time.Hour, time.Hour, rec.record)

	path := filepath.Join(dir, "main.go")
	d.HandleEvent(path)
	d.Flush()
	d.ClearCache()

	// Root marker removed; after the cache is cleared the path no longer
	// resolves.
	os.Remove(filepath.Join(dir, "go.mod"))
	d.HandleEvent(path)
	if d.PendingCount() != 0 {
		t.Error("event should have been dropped after cache clear")
	}
}
