package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"codeatlas/internal/catalog"
	"codeatlas/internal/discovery"
	"codeatlas/internal/logging"
)

// Refresh re-reads one project's manifest and recomputes its health. The
// project is addressed by id or, for debouncer-originated jobs, by path.
func (h *Handlers) Refresh(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	p, err := h.resolveProject(session, job)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return map[string]interface{}{
				"status": StatusSkipped,
				"reason": "project not found",
			}, nil
		}
		return nil, err
	}

	if d, ok := discovery.DetectProject(p.Path); ok {
		applyManifest(p, d.Manifest)
	} else {
		logging.ScanDebug("refresh: no manifest at %s, recomputing health only", p.Path)
	}
	h.recomputeHealth(p)

	if err := session.UpdateProject(p); err != nil {
		return nil, fmt.Errorf("update project %s: %w", p.Name, err)
	}
	if err := session.Commit(); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":  StatusCompleted,
		"project": p.Name,
	}, nil
}

// resolveProject finds the job's target by project id or path parameter.
func (h *Handlers) resolveProject(session *catalog.Session, job *catalog.Job) (*catalog.Project, error) {
	if job.ProjectID != "" {
		return session.GetProject(job.OrgID, job.ProjectID)
	}
	if path := resultString(job.Result, "path"); path != "" {
		return session.GetProjectByPath(job.OrgID, path)
	}
	return nil, fmt.Errorf("refresh job %s has neither project_id nor path", job.ID)
}

// HealthCheck recomputes the health score of every org project whose path
// still exists. One commit covers the whole pass.
func (h *Handlers) HealthCheck(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	projects, err := session.ListProjects(job.OrgID)
	if err != nil {
		return nil, err
	}

	var checked, missing int
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(p.Path); err != nil {
			missing++
			continue
		}
		h.recomputeHealth(p)
		if err := session.UpdateProject(p); err != nil {
			return nil, fmt.Errorf("update project %s: %w", p.Name, err)
		}
		checked++
	}
	if err := session.Commit(); err != nil {
		return nil, err
	}

	logging.Jobs("health check for org %s: %d checked, %d paths missing", job.OrgID, checked, missing)
	return map[string]interface{}{
		"status":  StatusCompleted,
		"checked": checked,
		"missing": missing,
	}, nil
}
