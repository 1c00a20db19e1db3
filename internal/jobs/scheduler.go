package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"codeatlas/internal/catalog"
	"codeatlas/internal/logging"
)

const (
	// backoffBase and backoffCap shape the retry delay
	// min(backoffCap, backoffBase · 2^attempts).
	backoffBase = 5 * time.Second
	backoffCap  = 300 * time.Second

	// stuckThreshold is how long a job may sit in running before startup
	// recovery returns it to pending.
	stuckThreshold = 10 * time.Minute
)

// SchedulerConfig tunes the polling worker.
type SchedulerConfig struct {
	PollInterval  time.Duration
	MaxConcurrent int
}

// DefaultSchedulerConfig returns the standard worker tuning.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{PollInterval: 5 * time.Second, MaxConcurrent: 3}
}

// Scheduler polls the job table and runs claimed jobs on per-job
// goroutines, each with its own session.
type Scheduler struct {
	store    *catalog.Store
	registry map[catalog.JobKind]Handler
	cfg      SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc

	activeMu sync.Mutex
	active   map[string]bool

	started  bool
	wg       sync.WaitGroup
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler over the handler registry.
func NewScheduler(store *catalog.Store, registry map[catalog.JobKind]Handler, cfg SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		registry: registry,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]bool),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start recovers stuck jobs and begins polling.
func (s *Scheduler) Start() {
	s.recoverStuck()
	s.activeMu.Lock()
	s.started = true
	s.activeMu.Unlock()
	go s.supervise()
	logging.Jobs("scheduler started: poll=%s max_concurrent=%d", s.cfg.PollInterval, s.cfg.MaxConcurrent)
}

// Stop halts polling, cancels the job context and waits for active jobs to
// reach a task boundary. In-flight jobs are not marked failed; a stale
// running row is recovered at the next startup.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.activeMu.Lock()
		started := s.started
		s.activeMu.Unlock()
		close(s.stopChan)
		if started {
			<-s.doneChan
		}
		s.cancel()
		s.wg.Wait()
		logging.Jobs("scheduler stopped")
	})
}

// ActiveCount reports how many jobs are currently running.
func (s *Scheduler) ActiveCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// recoverStuck returns jobs abandoned in running state to pending.
func (s *Scheduler) recoverStuck() {
	session := s.store.Session(s.ctx)
	defer session.Close()

	n, err := session.ResetStuckJobs(stuckThreshold)
	if err != nil {
		logging.Jobs("stuck-job recovery failed: %v", err)
		session.Rollback()
		return
	}
	if err := session.Commit(); err != nil {
		logging.Jobs("stuck-job recovery commit failed: %v", err)
		return
	}
	if n > 0 {
		jobsRecovered.Add(float64(n))
		logging.Jobs("recovered %d stuck job(s)", n)
	}
}

func (s *Scheduler) supervise() {
	defer close(s.doneChan)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Poll once immediately so enqueued work does not wait a full interval.
	s.poll()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll claims up to the free concurrency slots worth of pending jobs and
// spawns a task per claim.
func (s *Scheduler) poll() {
	s.activeMu.Lock()
	free := s.cfg.MaxConcurrent - len(s.active)
	exclude := make([]string, 0, len(s.active))
	for id := range s.active {
		exclude = append(exclude, id)
	}
	s.activeMu.Unlock()
	if free <= 0 {
		return
	}

	session := s.store.Session(s.ctx)
	defer session.Close()

	pending, err := session.SelectPendingJobs(free, exclude)
	if err != nil {
		logging.Jobs("selecting pending jobs: %v", err)
		return
	}

	for _, job := range pending {
		claimed, err := session.ClaimJob(job.ID)
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				logging.Jobs("claiming job %s: %v", job.ID, err)
			}
			continue
		}
		if err := session.Commit(); err != nil {
			logging.Jobs("committing claim of job %s: %v", job.ID, err)
			session.Rollback()
			continue
		}

		s.activeMu.Lock()
		s.active[claimed.ID] = true
		s.activeMu.Unlock()
		jobsActive.Inc()

		s.wg.Add(1)
		go s.runJob(claimed.ID)
	}
}

// runJob executes one claimed job on its own session and records the
// outcome on both the job row and a JobRun.
func (s *Scheduler) runJob(jobID string) {
	defer s.wg.Done()
	defer func() {
		s.activeMu.Lock()
		delete(s.active, jobID)
		s.activeMu.Unlock()
		jobsActive.Dec()
	}()

	if err := s.executeJob(jobID); err != nil {
		logging.Jobs("job %s wrapper failure: %v", jobID, err)
		s.failBestEffort(jobID, err)
	}
}

// executeJob is the normal path; an error return means session-level
// bookkeeping itself failed.
func (s *Scheduler) executeJob(jobID string) error {
	session := s.store.Session(s.ctx)
	defer session.Close()

	job, err := session.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("refetch: %w", err)
	}

	run := &catalog.JobRun{JobID: job.ID, Status: catalog.RunRunning}
	if err := session.InsertJobRun(run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := session.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	handler, ok := s.registry[job.Kind]
	if !ok {
		s.recordFailure(session, job, run, fmt.Errorf("no handler for kind %q", job.Kind))
		return nil
	}

	started := time.Now()
	result, err := s.invoke(handler, session, job)
	jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(started).Seconds())

	if err != nil {
		if s.ctx.Err() != nil {
			// Shutdown cancellation: leave the job running for recovery.
			logging.Jobs("job %s interrupted by shutdown", job.ID)
			return nil
		}
		s.recordFailure(session, job, run, err)
		return nil
	}

	now := time.Now().UTC()
	job.Status = catalog.JobCompleted
	job.CompletedAt = &now
	job.Result = result
	if err := session.UpdateJob(job); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	run.Status = catalog.RunSucceeded
	run.Result = result
	if err := session.FinishJobRun(run); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := session.Commit(); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}

	jobsProcessedTotal.WithLabelValues(string(job.Kind), string(catalog.JobCompleted)).Inc()
	logging.Jobs("job %s (%s) completed", job.ID, job.Kind)
	return nil
}

// invoke runs a handler, converting a panic into an error.
func (s *Scheduler) invoke(handler Handler, session *catalog.Session, job *catalog.Job) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(s.ctx, session, job)
}

// recordFailure applies the retry policy and records a failed run. Any
// uncommitted handler work is rolled back first.
func (s *Scheduler) recordFailure(session *catalog.Session, job *catalog.Job, run *catalog.JobRun, cause error) {
	session.Rollback()

	job.LastError = map[string]interface{}{
		"message": cause.Error(),
		"type":    fmt.Sprintf("%T", cause),
	}
	now := time.Now().UTC()
	if job.Attempts < job.MaxAttempts {
		job.Status = catalog.JobPending
		job.RunAfter = now.Add(retryBackoff(job.Attempts))
		logging.Jobs("job %s (%s) failed on attempt %d/%d, retrying at %s: %v",
			job.ID, job.Kind, job.Attempts, job.MaxAttempts, job.RunAfter.Format(time.RFC3339), cause)
	} else {
		job.Status = catalog.JobFailed
		job.CompletedAt = &now
		logging.Jobs("job %s (%s) failed permanently: %v", job.ID, job.Kind, cause)
	}
	if err := session.UpdateJob(job); err != nil {
		logging.Jobs("recording failure of job %s: %v", job.ID, err)
		return
	}
	run.Status = catalog.RunFailed
	run.Error = cause.Error()
	if err := session.FinishJobRun(run); err != nil {
		logging.Jobs("finishing failed run of job %s: %v", job.ID, err)
	}
	if err := session.Commit(); err != nil {
		logging.Jobs("committing failure of job %s: %v", job.ID, err)
		session.Rollback()
		return
	}
	jobsProcessedTotal.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
}

// failBestEffort marks a job failed in a fresh session after a wrapper
// error left its state uncertain.
func (s *Scheduler) failBestEffort(jobID string, cause error) {
	session := s.store.Session(context.Background())
	defer session.Close()

	job, err := session.GetJob(jobID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	job.Status = catalog.JobFailed
	job.CompletedAt = &now
	job.LastError = map[string]interface{}{
		"message": cause.Error(),
		"type":    fmt.Sprintf("%T", cause),
	}
	if err := session.UpdateJob(job); err != nil {
		return
	}
	session.Commit()
}

// retryBackoff is min(backoffCap, backoffBase · 2^attempts).
func retryBackoff(attempts int) time.Duration {
	if attempts > 10 {
		return backoffCap
	}
	d := backoffBase * time.Duration(1<<uint(attempts))
	if d > backoffCap {
		return backoffCap
	}
	return d
}
