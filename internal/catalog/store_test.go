package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProjectRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	health := 42.0
	p := &Project{
		OrgID:       "O",
		Name:        "demoapp",
		Description: "Demo",
		Path:        "/r/p1",
		Languages:   []string{" Rust ", "rust", "RUST", ""},
		Frameworks:  []string{"Tokio"},
		Tags:        []string{"demo"},
		HealthScore: &health,
	}
	if err := sess.InsertProject(p); err != nil {
		t.Fatalf("InsertProject failed: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := sess.GetProjectByPath("O", "/r/p1")
	if err != nil {
		t.Fatalf("GetProjectByPath failed: %v", err)
	}
	if len(got.Languages) != 1 || got.Languages[0] != "rust" {
		t.Errorf("languages not normalized: %v", got.Languages)
	}
	if got.Frameworks[0] != "tokio" {
		t.Errorf("frameworks not normalized: %v", got.Frameworks)
	}
	if got.HealthScore == nil || *got.HealthScore != 42.0 {
		t.Errorf("health score lost: %v", got.HealthScore)
	}
	if got.Type != TypeOther || got.Lifecycle != LifecycleActive || got.Readiness != ReadinessUnknown {
		t.Errorf("defaults not applied: %s/%s/%s", got.Type, got.Lifecycle, got.Readiness)
	}
}

func TestProjectUniqueConstraints(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	if err := sess.InsertProject(&Project{OrgID: "O", Name: "svc", Path: "/r/a"}); err != nil {
		t.Fatal(err)
	}
	err := sess.InsertProject(&Project{OrgID: "O", Name: "svc", Path: "/r/b"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on name collision, got %v", err)
	}
	sess.Rollback()

	// Different org: same name is fine.
	sess2 := store.Session(context.Background())
	defer sess2.Close()
	if err := sess2.InsertProject(&Project{OrgID: "P", Name: "svc", Path: "/r/a"}); err != nil {
		t.Errorf("cross-org insert should succeed: %v", err)
	}
}

func TestJobClaimAndRuns(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	job := &Job{OrgID: "O", Kind: JobScan, Result: map[string]interface{}{"paths": []interface{}{"/r"}}}
	if err := sess.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	pending, err := sess.SelectPendingJobs(5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("expected the enqueued job, got %v", pending)
	}

	claimed, err := sess.ClaimJob(job.ID)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	if claimed.Status != JobRunning || claimed.Attempts != 1 {
		t.Errorf("claim did not transition: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
	if claimed.StartedAt == nil {
		t.Error("started_at not set")
	}

	// A second claim must fail: one running record per id.
	if _, err := sess.ClaimJob(job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double claim, got %v", err)
	}

	run := &JobRun{JobID: job.ID, Status: RunRunning}
	if err := sess.InsertJobRun(run); err != nil {
		t.Fatal(err)
	}
	run.Status = RunSucceeded
	if err := sess.FinishJobRun(run); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	runs, err := sess.ListRuns(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != RunSucceeded || runs[0].FinishedAt == nil {
		t.Errorf("unexpected runs: %+v", runs)
	}

	// Cascade: deleting the job removes its runs.
	if err := sess.DeleteJob(job.ID); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}
	runs, err = sess.ListRuns(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs should cascade on job delete, got %d", len(runs))
	}
}

func TestSelectPendingOrderingAndExclusion(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	low := &Job{OrgID: "O", Kind: JobScan, Priority: 9}
	high := &Job{OrgID: "O", Kind: JobRefresh, Priority: 1}
	future := &Job{OrgID: "O", Kind: JobHealthCheck, Priority: 1, RunAfter: time.Now().UTC().Add(time.Hour)}
	for _, j := range []*Job{low, high, future} {
		if err := sess.EnqueueJob(j); err != nil {
			t.Fatal(err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := sess.SelectPendingJobs(10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("future job should be excluded, got %d jobs", len(got))
	}
	if got[0].ID != high.ID {
		t.Errorf("priority ordering violated: first=%s", got[0].Kind)
	}

	got, err = sess.SelectPendingJobs(10, []string{high.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != low.ID {
		t.Errorf("exclusion list not honored: %v", got)
	}
}

func TestResetStuckJobs(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	job := &Job{OrgID: "O", Kind: JobScan}
	if err := sess.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.ClaimJob(job.ID); err != nil {
		t.Fatal(err)
	}
	// Backdate the claim past the threshold.
	old := time.Now().UTC().Add(-time.Hour)
	if _, err := sess.exec(`UPDATE catalog_jobs SET started_at=? WHERE id=?`, old, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	n, err := sess.ResetStuckJobs(10 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered job, got %d", n)
	}
	got, err := sess.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobPending {
		t.Errorf("stuck job not reset: %s", got.Status)
	}
}

func TestResetStuckJobsFinalizesExhaustedAttempts(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	job := &Job{OrgID: "O", Kind: JobScan, MaxAttempts: 1}
	if err := sess.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.ClaimJob(job.ID); err != nil {
		t.Fatal(err)
	}
	old := time.Now().UTC().Add(-time.Hour)
	if _, err := sess.exec(`UPDATE catalog_jobs SET started_at=? WHERE id=?`, old, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	n, err := sess.ResetStuckJobs(10 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("exhausted job must not be requeued, got %d recovered", n)
	}
	got, err := sess.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on finalized job")
	}
	if got.Attempts > got.MaxAttempts {
		t.Errorf("attempts overflow: %d > %d", got.Attempts, got.MaxAttempts)
	}

	// The finalized job is no longer claimable.
	if _, err := sess.ClaimJob(job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound claiming a finalized job, got %v", err)
	}
}

func TestKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	sess := store.Session(context.Background())
	defer sess.Close()

	projects := []*Project{
		{OrgID: "O", Name: "pyweb", Title: "Python web framework", Path: "/r/pyweb"},
		{OrgID: "O", Name: "gamekit", Description: "A game engine in C++", Path: "/r/gamekit"},
		{OrgID: "X", Name: "otherorg-web", Title: "web thing", Path: "/r/other"},
	}
	for _, p := range projects {
		if err := sess.InsertProject(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := sess.Commit(); err != nil {
		t.Fatal(err)
	}

	hits, err := sess.KeywordSearch("O", "web framework", 10)
	if err != nil {
		t.Fatalf("KeywordSearch failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	for _, h := range hits {
		if h.ProjectID == projects[2].ID {
			t.Error("org isolation violated: other org's project returned")
		}
	}
	if hits[0].ProjectID != projects[0].ID {
		t.Errorf("expected pyweb first, got %s", hits[0].ProjectID)
	}
}

func TestFTSMatchExprSanitizes(t *testing.T) {
	expr := ftsMatchExpr(`web "framework" (python) -game`)
	for _, bad := range []string{"(", ")", "-"} {
		if containsOutsideQuotes(expr, bad) {
			t.Errorf("expression %q leaks %q", expr, bad)
		}
	}
}

func containsOutsideQuotes(s, sub string) bool {
	inQuote := false
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && i+len(sub) <= len(s) && s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
