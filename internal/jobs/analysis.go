package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"codeatlas/internal/catalog"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/quality"
)

const (
	maxTags            = 10
	analysisFileLimit  = 50
	indexedReadmeChars = 2000
	analysisReadmeChar = 3000
)

// LLMAnalysis enriches projects with model-derived metadata: description,
// tags, type, frameworks, and an extra-metadata bundle. Each project
// commits on its own; a failing project rolls back and the pass continues.
func (h *Handlers) LLMAnalysis(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	if h.analyzer == nil {
		return map[string]interface{}{
			"status": StatusSkipped,
			"reason": "no LLM configured",
		}, nil
	}

	projects, err := h.targetProjects(session, job)
	if err != nil {
		return nil, err
	}

	var analyzed int
	var errs []string
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.analyzeProject(ctx, session, p); err != nil {
			session.Rollback()
			errs = recordError(errs, "%s: %v", p.Name, err)
			continue
		}
		if err := session.Commit(); err != nil {
			session.Rollback()
			errs = recordError(errs, "%s: commit: %v", p.Name, err)
			continue
		}
		analyzed++
	}

	if err := h.embeddings.Save(false); err != nil {
		logging.Embedding("saving vector snapshot after analysis: %v", err)
	}

	result := map[string]interface{}{
		"status":   StatusCompleted,
		"analyzed": analyzed,
		"total":    len(projects),
	}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result, nil
}

// analyzeProject runs one project through the analyzer and folds the
// answer into the catalog row, then refreshes its vector.
func (h *Handlers) analyzeProject(ctx context.Context, session *catalog.Session, p *catalog.Project) error {
	readme := quality.ReadReadme(p.Path)
	analysis, err := h.analyzer.Analyze(ctx, llm.ProjectEvidence{
		Name:        p.Name,
		Description: p.Description,
		Languages:   p.Languages,
		Frameworks:  p.Frameworks,
		Readme:      truncate(readme, analysisReadmeChar),
		FileNames:   shallowFileNames(p.Path, analysisFileLimit),
	})
	if err != nil {
		return err
	}

	if p.Description == "" && analysis.Description != "" {
		p.Description = analysis.Description
	}
	if len(analysis.Tags) > 0 {
		merged := catalog.MergeTechLists(p.Tags, analysis.Tags)
		if len(merged) > maxTags {
			merged = merged[:maxTags]
		}
		p.Tags = merged
	}
	if p.Type == catalog.TypeOther && analysis.ProjectType != "" {
		p.Type = catalog.ParseProjectType(analysis.ProjectType)
	}
	if len(analysis.Frameworks) > 0 {
		p.Frameworks = catalog.MergeTechLists(p.Frameworks, analysis.Frameworks)
	}
	if p.ExtraMetadata == nil {
		p.ExtraMetadata = make(map[string]interface{})
	}
	if analysis.Complexity != "" {
		p.ExtraMetadata["complexity"] = analysis.Complexity
	}
	if len(analysis.KeyFeatures) > 0 {
		p.ExtraMetadata["key_features"] = analysis.KeyFeatures
	}
	if len(analysis.ImprovementSuggestions) > 0 {
		p.ExtraMetadata["improvement_suggestions"] = analysis.ImprovementSuggestions
	}

	if err := session.UpdateProject(p); err != nil {
		return err
	}
	if err := h.embeddings.IndexProject(ctx, p, truncate(readme, indexedReadmeChars)); err != nil {
		// Indexing failures should not undo the metadata enrichment.
		logging.Embedding("indexing %s after analysis: %v", p.Name, err)
	}
	return nil
}

// EmbeddingIndex rebuilds the vector for every org project and persists the
// snapshot.
func (h *Handlers) EmbeddingIndex(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	projects, err := h.targetProjects(session, job)
	if err != nil {
		return nil, err
	}

	var indexed int
	var errs []string
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		readme := truncate(quality.ReadReadme(p.Path), indexedReadmeChars)
		if err := h.embeddings.IndexProject(ctx, p, readme); err != nil {
			errs = recordError(errs, "%s: %v", p.Name, err)
			continue
		}
		indexed++
	}
	if err := h.embeddings.Save(false); err != nil {
		return nil, fmt.Errorf("save vector snapshot: %w", err)
	}

	result := map[string]interface{}{
		"status":  StatusCompleted,
		"indexed": indexed,
		"total":   len(projects),
	}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result, nil
}

// targetProjects resolves the job scope: one project when project_id is
// set, all org projects otherwise.
func (h *Handlers) targetProjects(session *catalog.Session, job *catalog.Job) ([]*catalog.Project, error) {
	if job.ProjectID != "" {
		p, err := session.GetProject(job.OrgID, job.ProjectID)
		if err != nil {
			return nil, err
		}
		return []*catalog.Project{p}, nil
	}
	return session.ListProjects(job.OrgID)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// shallowFileNames lists up to limit non-hidden top-level entry names.
func shallowFileNames(dir string, limit int) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
		if len(out) >= limit {
			break
		}
	}
	return out
}
