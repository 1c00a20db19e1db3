package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeatlas/internal/debounce"
)

func newTestWatcher(t *testing.T, extra []string) (*Watcher, *refreshRecorder) {
	t.Helper()
	rec := &refreshRecorder{}
	d := debounce.New(20*time.Millisecond, time.Second, rec.record)
	w, err := New(d, extra)
	if err != nil {
		t.Fatal(err)
	}
	return w, rec
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

func TestIgnoredPaths(t *testing.T) {
	w, _ := newTestWatcher(t, []string{"**/generated/**"})
	defer w.fsw.Close()

	cases := []struct {
		path string
		want bool
	}{
		{"/repo/app/main.go", false},
		{"/repo/node_modules/pkg/index.js", true},
		{"/repo/.git/HEAD", true},
		{"/repo/app/debug.log", true},
		{"/repo/app/cache.sqlite3-wal", true},
		{"/repo/generated/api.go", true},
		{"/repo/src/server.py", false},
	}
	for _, tc := range cases {
		if got := w.ignored(tc.path); got != tc.want {
			t.Errorf("ignored(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestInvalidIgnorePatternSkipped(t *testing.T) {
	w, _ := newTestWatcher(t, []string{"[unclosed"})
	defer w.fsw.Close()
	// The invalid pattern is dropped; the defaults still apply.
	if !w.ignored("/repo/x.log") {
		t.Error("default patterns lost")
	}
}

func TestFileChangeTriggersRefresh(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "svc")
	if err := os.MkdirAll(proj, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proj, "go.mod"), []byte("module svc\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, rec := newTestWatcher(t, nil)
	if err := w.Start([]string{root}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(proj, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range rec.snapshot() {
			if r == proj {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no refresh observed for %s; got %v", proj, rec.snapshot())
}

func TestStopFlushesPending(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "svc")
	os.MkdirAll(proj, 0o755)
	os.WriteFile(filepath.Join(proj, "go.mod"), []byte("module svc\n"), 0o644)

	rec := &refreshRecorder{}
	d := debounce.New(time.Hour, time.Hour, rec.record) // would never fire on its own
	w, err := New(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start([]string{root}); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(proj, "main.go"), []byte("package main\n"), 0o644)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.PendingCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if d.PendingCount() == 0 {
		t.Skip("no event delivered by the platform watcher")
	}

	w.Stop()
	if got := rec.snapshot(); len(got) != 1 || got[0] != proj {
		t.Errorf("stop did not flush pending refresh: %v", got)
	}
}

func TestAddRemoveWatchPath(t *testing.T) {
	w, _ := newTestWatcher(t, nil)
	defer w.fsw.Close()

	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := w.AddWatchPath(root); err != nil {
		t.Fatal(err)
	}
	if len(w.fsw.WatchList()) < 3 {
		t.Errorf("expected recursive watches, got %v", w.fsw.WatchList())
	}
	if err := w.RemoveWatchPath(root); err != nil {
		t.Fatal(err)
	}
	if len(w.fsw.WatchList()) != 0 {
		t.Errorf("watches remain after removal: %v", w.fsw.WatchList())
	}
}
