package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"codeatlas/internal/catalog"
	"codeatlas/internal/config"
	"codeatlas/internal/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.DatabasePath = filepath.Join(dir, "catalog.db")
	cfg.Embedding.CachePath = filepath.Join(dir, "vectors.json")
	cfg.Worker.PollInterval = 20 * time.Millisecond
	cfg.Watcher.WatchPaths = nil
	return cfg
}

func TestAppScanEndToEnd(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "alpha")
	if err := os.MkdirAll(proj, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proj, "go.mod"), []byte("module example.com/alpha\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Stop()

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	job, err := a.EnqueueScan("acme", []string{root})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session := a.Store.Session(context.Background())
		got, err := session.GetJob(job.ID)
		session.Close()
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == catalog.JobCompleted {
			break
		}
		if got.Status == catalog.JobFailed {
			t.Fatalf("scan failed: %v", got.LastError)
		}
		time.Sleep(20 * time.Millisecond)
	}

	session := a.Store.Session(context.Background())
	defer session.Close()
	p, err := session.GetProjectByPath("acme", proj)
	if err != nil {
		t.Fatalf("project not cataloged: %v", err)
	}
	if p.Name != "alpha" || len(p.Languages) == 0 {
		t.Errorf("unexpected project: %+v", p)
	}
}

func TestAppStopWithoutStart(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	// Must not hang even though the watcher never started.
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung")
	}
}

func TestDebugConfigEnablesDebugLogging(t *testing.T) {
	t.Cleanup(func() { logging.SetRoot(zap.NewNop()) })

	cfg := testConfig(t)
	cfg.Logging.Debug = true
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	if !logging.Get(logging.CategoryJobs).Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Error("logging.debug from config did not enable debug level")
	}
}

func TestDebouncerCallbackEnqueuesRefresh(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	a.DefaultOrg = "acme"
	a.enqueueRefresh("/srv/alpha")

	session := a.Store.Session(context.Background())
	defer session.Close()
	jobs, err := session.ListJobs("acme", catalog.JobPending, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Kind != catalog.JobRefresh {
		t.Fatalf("expected one pending refresh, got %+v", jobs)
	}
	if jobs[0].Result["path"] != "/srv/alpha" {
		t.Errorf("path parameter missing: %v", jobs[0].Result)
	}
}
