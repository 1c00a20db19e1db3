package jobs

import (
	"context"

	"codeatlas/internal/catalog"
	"codeatlas/internal/logging"
	"codeatlas/internal/quality"
)

// QualityAssessment scores projects with the indicator scan and the LLM
// assessor. Without force_refresh only projects that were never scored are
// touched. Progress is written back onto the job row after each project so
// observers can poll assessed/total.
func (h *Handlers) QualityAssessment(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	if h.assessor == nil {
		return map[string]interface{}{
			"status": StatusSkipped,
			"reason": "no assessor configured",
		}, nil
	}

	all, err := h.targetProjects(session, job)
	if err != nil {
		return nil, err
	}
	force := resultBool(job.Result, "force_refresh")

	var projects []*catalog.Project
	for _, p := range all {
		if force || p.QualityScore == nil {
			projects = append(projects, p)
		}
	}

	var assessed int
	var errs []string
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.assessProject(ctx, session, p); err != nil {
			session.Rollback()
			errs = recordError(errs, "%s: %v", p.Name, err)
			continue
		}
		assessed++

		if job.Result == nil {
			job.Result = make(map[string]interface{})
		}
		job.Result["assessed"] = assessed
		job.Result["total"] = len(projects)
		if err := session.UpdateJob(job); err != nil {
			logging.JobsDebug("progress update for job %s: %v", job.ID, err)
		}
		if err := session.Commit(); err != nil {
			session.Rollback()
			errs = recordError(errs, "%s: commit: %v", p.Name, err)
			assessed--
		}
	}

	logging.Jobs("quality assessment for org %s: %d/%d assessed", job.OrgID, assessed, len(projects))
	result := map[string]interface{}{
		"status":   StatusCompleted,
		"assessed": assessed,
		"total":    len(projects),
	}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result, nil
}

func (h *Handlers) assessProject(ctx context.Context, session *catalog.Session, p *catalog.Project) error {
	ind := quality.ScanIndicators(p.Path)
	assessment := h.assessor.Assess(ctx, p, ind)

	score := assessment.QualityScore(ind.Completeness())
	now := h.now()

	p.Readiness = catalog.ParseReadiness(assessment.ProductionReadiness)
	p.QualityScore = &score
	p.QualityReport = assessment.Map()
	p.Indicators = ind.Map()
	p.LastQualityAt = &now

	return session.UpdateProject(p)
}
