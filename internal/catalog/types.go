// Package catalog implements the relational store for projects, jobs and job
// runs, including the full-text index used by keyword search.
package catalog

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a project or job does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned when a unique constraint (org-scoped name or path)
// would be violated.
var ErrConflict = errors.New("catalog: conflict")

// ProjectType classifies what a project is.
type ProjectType string

const (
	TypeLibrary     ProjectType = "library"
	TypeAPI         ProjectType = "api"
	TypeCLI         ProjectType = "cli"
	TypeWeb         ProjectType = "web"
	TypeService     ProjectType = "service"
	TypeApplication ProjectType = "application"
	TypeTool        ProjectType = "tool"
	TypeFramework   ProjectType = "framework"
	TypePlugin      ProjectType = "plugin"
	TypeScript      ProjectType = "script"
	TypeDocs        ProjectType = "docs"
	TypeBot         ProjectType = "bot"
	TypeGame        ProjectType = "game"
	TypeData        ProjectType = "data"
	TypeTemplate    ProjectType = "template"
	TypeOther       ProjectType = "other"
)

var projectTypes = map[ProjectType]bool{
	TypeLibrary: true, TypeAPI: true, TypeCLI: true, TypeWeb: true,
	TypeService: true, TypeApplication: true, TypeTool: true, TypeFramework: true,
	TypePlugin: true, TypeScript: true, TypeDocs: true, TypeBot: true,
	TypeGame: true, TypeData: true, TypeTemplate: true, TypeOther: true,
}

// ParseProjectType validates a type value against the fixed taxonomy.
// Unknown values map to TypeOther so that LLM-provided labels cannot
// introduce new categories.
func ParseProjectType(v string) ProjectType {
	t := ProjectType(strings.ToLower(strings.TrimSpace(v)))
	if projectTypes[t] {
		return t
	}
	return TypeOther
}

// Lifecycle describes a project's maintenance state.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleMaintenance Lifecycle = "maintenance"
	LifecycleDeprecated  Lifecycle = "deprecated"
	LifecycleArchived    Lifecycle = "archived"
)

// Readiness is the ordered production-readiness scale plus side states.
type Readiness string

const (
	ReadinessUnknown    Readiness = "unknown"
	ReadinessPrototype  Readiness = "prototype"
	ReadinessAlpha      Readiness = "alpha"
	ReadinessBeta       Readiness = "beta"
	ReadinessProduction Readiness = "production"
	ReadinessMature     Readiness = "mature"
	ReadinessLegacy     Readiness = "legacy"
	ReadinessDeprecated Readiness = "deprecated"
)

var readinessValues = map[Readiness]bool{
	ReadinessUnknown: true, ReadinessPrototype: true, ReadinessAlpha: true,
	ReadinessBeta: true, ReadinessProduction: true, ReadinessMature: true,
	ReadinessLegacy: true, ReadinessDeprecated: true,
}

// ParseReadiness validates a readiness value, defaulting to unknown.
func ParseReadiness(v string) Readiness {
	r := Readiness(strings.ToLower(strings.TrimSpace(v)))
	if readinessValues[r] {
		return r
	}
	return ReadinessUnknown
}

// Project is the canonical catalog record.
type Project struct {
	ID             string
	OrgID          string
	Name           string
	Title          string
	Description    string
	Path           string
	Type           ProjectType
	Lifecycle      Lifecycle
	Languages      []string
	Frameworks     []string
	Tags           []string
	RepositoryURL  string
	DefaultBranch  string
	LicenseSPDX    string
	HealthScore    *float64
	QualityScore   *float64
	LOCTotal       *int
	FileCount      *int
	AvgComplexity  *float64
	TestCoverage   *float64
	Readiness      Readiness
	QualityReport  map[string]interface{}
	Indicators     map[string]interface{}
	LastSyncedAt   *time.Time
	LastCommitAt   *time.Time
	LastCommitSHA  string
	LastQualityAt  *time.Time
	ExtraMetadata  map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobKind enumerates the catalog job types.
type JobKind string

const (
	JobScan              JobKind = "scan"
	JobRefresh           JobKind = "refresh"
	JobHealthCheck       JobKind = "health_check"
	JobLLMAnalysis       JobKind = "llm_analysis"
	JobEmbeddingIndex    JobKind = "embedding_index"
	JobQualityAssessment JobKind = "quality_assessment"
)

// JobStatus is a job's queue state. Completed and failed are terminal.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a queued work item. Result doubles as the input-parameter carrier
// (paths, max_depth, force_refresh) and the handler output.
type Job struct {
	ID          string
	OrgID       string
	ProjectID   string
	Kind        JobKind
	Status      JobStatus
	Priority    int
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	Result      map[string]interface{}
	LastError   map[string]interface{}
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunStatus is a job run's state.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// JobRun is an append-only record of one execution attempt.
type JobRun struct {
	ID         string
	JobID      string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Result     map[string]interface{}
	Error      string
}

// NormalizeTechList lowercases, trims, deduplicates and drops empty entries.
// Every write of languages[] or frameworks[] goes through this.
func NormalizeTechList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		v := strings.ToLower(strings.TrimSpace(item))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MergeTechLists unions two normalized lists, keeping a stable sorted order.
func MergeTechLists(a, b []string) []string {
	merged := NormalizeTechList(append(append([]string{}, a...), b...))
	sort.Strings(merged)
	return merged
}
