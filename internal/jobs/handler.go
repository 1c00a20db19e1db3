// Package jobs implements the catalog job handlers and the polling
// scheduler that drives them.
package jobs

import (
	"context"
	"fmt"
	"time"

	"codeatlas/internal/catalog"
	"codeatlas/internal/discovery"
	"codeatlas/internal/embedding"
	"codeatlas/internal/llm"
	"codeatlas/internal/quality"
)

// Handler statuses reported in the result map.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusSkipped   = "skipped"
)

// maxRecordedErrors caps the errors list carried in a job result.
const maxRecordedErrors = 10

// Handler executes one job against a scoped session. The returned map is
// stored as the job result and always carries a "status" key.
type Handler func(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error)

// Handlers bundles the services the job handlers need.
type Handlers struct {
	embeddings *embedding.Service
	assessor   *quality.Assessor
	analyzer   *llm.Analyzer
	walkOpts   discovery.Options
	now        func() time.Time

	insertProject func(session *catalog.Session, p *catalog.Project) error
}

// NewHandlers wires the handler set. assessor and analyzer may be nil; the
// jobs that need them then degrade (fallback assessment, analysis skipped).
func NewHandlers(embeddings *embedding.Service, assessor *quality.Assessor, analyzer *llm.Analyzer, walkOpts discovery.Options) *Handlers {
	return &Handlers{
		embeddings: embeddings,
		assessor:   assessor,
		analyzer:   analyzer,
		walkOpts:   walkOpts,
		now:        time.Now,
		insertProject: func(session *catalog.Session, p *catalog.Project) error {
			return session.InsertProject(p)
		},
	}
}

// Registry maps each job kind to its handler.
func (h *Handlers) Registry() map[catalog.JobKind]Handler {
	return map[catalog.JobKind]Handler{
		catalog.JobScan:              h.Scan,
		catalog.JobRefresh:           h.Refresh,
		catalog.JobHealthCheck:       h.HealthCheck,
		catalog.JobLLMAnalysis:       h.LLMAnalysis,
		catalog.JobEmbeddingIndex:    h.EmbeddingIndex,
		catalog.JobQualityAssessment: h.QualityAssessment,
	}
}

// resultStrings reads a string-list parameter from a job result map.
func resultStrings(result map[string]interface{}, key string) []string {
	if result == nil {
		return nil
	}
	switch v := result[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// resultBool reads a boolean parameter from a job result map.
func resultBool(result map[string]interface{}, key string) bool {
	if result == nil {
		return false
	}
	b, _ := result[key].(bool)
	return b
}

// resultInt reads an integer parameter from a job result map. Numbers that
// went through a JSON round trip come back as float64.
func resultInt(result map[string]interface{}, key string) int {
	if result == nil {
		return 0
	}
	switch v := result[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// resultString reads a string parameter from a job result map.
func resultString(result map[string]interface{}, key string) string {
	if result == nil {
		return ""
	}
	s, _ := result[key].(string)
	return s
}

// recordError appends to the bounded error list.
func recordError(errs []string, format string, args ...interface{}) []string {
	if len(errs) >= maxRecordedErrors {
		return errs
	}
	return append(errs, fmt.Sprintf(format, args...))
}
