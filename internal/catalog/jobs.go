package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, organization_id, project_id, job_type, status, priority,
	attempts, max_attempts, run_after, result, last_error,
	started_at, completed_at, created_at, updated_at`

// EnqueueJob inserts a pending job. Priority defaults to 5, max attempts to 3.
func (s *Session) EnqueueJob(j *Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	if j.Priority == 0 {
		j.Priority = 5
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}
	now := time.Now().UTC()
	if j.RunAfter.IsZero() {
		j.RunAfter = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	_, err := s.exec(`INSERT INTO catalog_jobs (`+jobColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OrgID, nullable(j.ProjectID), string(j.Kind), string(j.Status), j.Priority,
		j.Attempts, j.MaxAttempts, j.RunAfter, jsonColumn(j.Result), jsonColumn(j.LastError),
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt)
	return err
}

// GetJob fetches one job by id.
func (s *Session) GetJob(id string) (*Job, error) {
	row, err := s.queryRow(`SELECT `+jobColumns+` FROM catalog_jobs WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// UpdateJob writes back a job's mutable fields.
func (s *Session) UpdateJob(j *Job) error {
	j.UpdatedAt = time.Now().UTC()
	res, err := s.exec(`UPDATE catalog_jobs SET
		status=?, priority=?, attempts=?, max_attempts=?, run_after=?,
		result=?, last_error=?, started_at=?, completed_at=?, updated_at=?
		WHERE id=?`,
		string(j.Status), j.Priority, j.Attempts, j.MaxAttempts, j.RunAfter,
		jsonColumn(j.Result), jsonColumn(j.LastError), j.StartedAt, j.CompletedAt, j.UpdatedAt,
		j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, j.ID)
	}
	return nil
}

// ClaimJob atomically transitions one pending job to running, incrementing
// its attempt counter. Returns ErrNotFound if the job was claimed elsewhere
// or is no longer pending.
func (s *Session) ClaimJob(id string) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.exec(`UPDATE catalog_jobs
		SET status=?, attempts=attempts+1, started_at=?, updated_at=?
		WHERE id=? AND status=?`,
		string(JobRunning), now, now, id, string(JobPending))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: job %s not pending", ErrNotFound, id)
	}
	return s.GetJob(id)
}

// SelectPendingJobs returns up to limit runnable pending jobs ordered by
// (priority asc, created_at asc), excluding the given ids.
func (s *Session) SelectPendingJobs(limit int, exclude []string) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM catalog_jobs WHERE status=? AND run_after<=?`
	args := []interface{}{string(JobPending), time.Now().UTC()}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY priority ASC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Session) ListJobs(orgID string, status JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM catalog_jobs WHERE organization_id=?`
	args := []interface{}{orgID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ResetStuckJobs recovers jobs still marked running with started_at older
// than the threshold, left behind by an unclean shutdown. Jobs with attempts
// remaining go back to pending; attempt-exhausted jobs are finalized as
// failed so the next claim cannot push attempts past max_attempts. Returns
// the number of jobs returned to pending.
func (s *Session) ResetStuckJobs(olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	if _, err := s.exec(`UPDATE catalog_jobs SET status=?, completed_at=?, updated_at=?
		WHERE status=? AND started_at<? AND attempts>=max_attempts`,
		string(JobFailed), now, now, string(JobRunning), cutoff); err != nil {
		return 0, err
	}
	res, err := s.exec(`UPDATE catalog_jobs SET status=?, updated_at=?
		WHERE status=? AND started_at<? AND attempts<max_attempts`,
		string(JobPending), now, string(JobRunning), cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteJob removes a job; its runs cascade.
func (s *Session) DeleteJob(id string) error {
	res, err := s.exec(`DELETE FROM catalog_jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return nil
}

// InsertJobRun appends an execution-attempt record.
func (s *Session) InsertJobRun(r *JobRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.exec(`INSERT INTO catalog_job_runs (id, job_id, status, started_at, finished_at, result, error)
		VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.JobID, string(r.Status), r.StartedAt, r.FinishedAt, jsonColumn(r.Result), nullable(r.Error))
	return err
}

// FinishJobRun records a run's terminal status.
func (s *Session) FinishJobRun(r *JobRun) error {
	now := time.Now().UTC()
	r.FinishedAt = &now
	_, err := s.exec(`UPDATE catalog_job_runs SET status=?, finished_at=?, result=?, error=? WHERE id=?`,
		string(r.Status), r.FinishedAt, jsonColumn(r.Result), nullable(r.Error), r.ID)
	return err
}

// ListRuns returns the runs of a job in execution order.
func (s *Session) ListRuns(jobID string) ([]*JobRun, error) {
	rows, err := s.query(`SELECT id, job_id, status, started_at, finished_at, result, error
		FROM catalog_job_runs WHERE job_id=? ORDER BY started_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JobRun
	for rows.Next() {
		var r JobRun
		var status string
		var finished sql.NullTime
		var result, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.JobID, &status, &r.StartedAt, &finished, &result, &errMsg); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Result = scanMap(result)
		r.Error = errMsg.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (*Job, error) {
	var j Job
	var projectID, result, lastErr sql.NullString
	var kind, status string
	var started, completed sql.NullTime

	err := r.Scan(&j.ID, &j.OrgID, &projectID, &kind, &status, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &j.RunAfter, &result, &lastErr,
		&started, &completed, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	j.ProjectID = projectID.String
	j.Kind = JobKind(kind)
	j.Status = JobStatus(status)
	j.Result = scanMap(result)
	j.LastError = scanMap(lastErr)
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}
