package quality

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"codeatlas/internal/catalog"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
)

const (
	readmeContextChars = 3000
	maxContextFiles    = 50
)

const assessmentSystemPrompt = `You are a software quality auditor. Given a description of a project, respond with ONLY a JSON object, no prose, with these fields:
{
  "production_readiness": one of "prototype", "alpha", "beta", "production", "mature", "legacy", "deprecated", "unknown",
  "code_quality": integer 0-100,
  "documentation": integer 0-100,
  "tests": integer 0-100,
  "security": integer 0-100,
  "maintainability": integer 0-100,
  "key_features": [strings],
  "strengths": [strings],
  "weaknesses": [strings],
  "production_blockers": [strings],
  "recommended_improvements": [strings],
  "technology_stack": [strings],
  "use_cases": [strings]
}
Base your judgment only on the evidence provided.`

// Assessment is the structured result of a quality assessment.
type Assessment struct {
	ProductionReadiness string `json:"production_readiness"`

	CodeQuality     int `json:"code_quality"`
	Documentation   int `json:"documentation"`
	Tests           int `json:"tests"`
	Security        int `json:"security"`
	Maintainability int `json:"maintainability"`

	KeyFeatures             []string `json:"key_features"`
	Strengths               []string `json:"strengths"`
	Weaknesses              []string `json:"weaknesses"`
	ProductionBlockers      []string `json:"production_blockers"`
	RecommendedImprovements []string `json:"recommended_improvements"`
	TechnologyStack         []string `json:"technology_stack"`
	UseCases                []string `json:"use_cases"`

	// LLMBacked is false when the assessment came from the indicator-only
	// fallback.
	LLMBacked bool `json:"llm_backed"`
}

// QualityScore composes the overall score from the dimension mean and the
// indicator completeness.
func (a *Assessment) QualityScore(completeness float64) float64 {
	mean := float64(a.CodeQuality+a.Documentation+a.Tests+a.Security+a.Maintainability) / 5
	score := mean + 0.1*completeness
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Map renders the assessment for JSON storage on the project row.
func (a *Assessment) Map() map[string]interface{} {
	return map[string]interface{}{
		"production_readiness":     a.ProductionReadiness,
		"code_quality":             a.CodeQuality,
		"documentation":            a.Documentation,
		"tests":                    a.Tests,
		"security":                 a.Security,
		"maintainability":          a.Maintainability,
		"key_features":             a.KeyFeatures,
		"strengths":                a.Strengths,
		"weaknesses":               a.Weaknesses,
		"production_blockers":      a.ProductionBlockers,
		"recommended_improvements": a.RecommendedImprovements,
		"technology_stack":         a.TechnologyStack,
		"use_cases":                a.UseCases,
		"llm_backed":               a.LLMBacked,
	}
}

// Assessor runs LLM quality assessments with an indicator-only fallback.
type Assessor struct {
	client  llm.Client
	timeout time.Duration
}

// NewAssessor creates an assessor. A nil client means every assessment uses
// the fallback.
func NewAssessor(client llm.Client, timeout time.Duration) *Assessor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Assessor{client: client, timeout: timeout}
}

// Assess evaluates a project, preferring the LLM and falling back to the
// deterministic indicator assessment when the model is unavailable or
// returns unparseable output.
func (a *Assessor) Assess(ctx context.Context, p *catalog.Project, ind Indicators) *Assessment {
	if a.client == nil {
		return FallbackAssessment(ind)
	}
	llmCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := BuildContext(p, ind)
	raw, err := a.client.Generate(llmCtx, prompt, llm.Options{
		System:      assessmentSystemPrompt,
		Temperature: 0.2,
	})
	if err != nil {
		logging.Get(logging.CategoryQuality).Infof("LLM assessment of %s failed, using fallback: %v", p.Name, err)
		return FallbackAssessment(ind)
	}

	var result Assessment
	if err := llm.DecodeJSON(raw, &result); err != nil {
		logging.Get(logging.CategoryQuality).Infof("unparseable assessment for %s, using fallback: %v", p.Name, err)
		return FallbackAssessment(ind)
	}
	result.ProductionReadiness = string(catalog.ParseReadiness(result.ProductionReadiness))
	clampDimensions(&result)
	result.LLMBacked = true
	return &result
}

func clampDimensions(a *Assessment) {
	clamp := func(v *int) {
		if *v < 0 {
			*v = 0
		}
		if *v > 100 {
			*v = 100
		}
	}
	clamp(&a.CodeQuality)
	clamp(&a.Documentation)
	clamp(&a.Tests)
	clamp(&a.Security)
	clamp(&a.Maintainability)
}

// BuildContext assembles the evidence string handed to the model.
func BuildContext(p *catalog.Project, ind Indicators) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if len(p.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(p.Languages, ", "))
	}
	if len(p.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(p.Frameworks, ", "))
	}

	b.WriteString("Indicators:\n")
	for key, val := range ind.Map() {
		fmt.Fprintf(&b, "  %s: %v\n", key, val)
	}

	if readme := ReadReadme(p.Path); readme != "" {
		if len(readme) > readmeContextChars {
			cut := readmeContextChars
			for cut > 0 && !utf8.RuneStart(readme[cut]) {
				cut--
			}
			readme = readme[:cut]
		}
		fmt.Fprintf(&b, "README excerpt:\n%s\n", readme)
	}

	if files := topLevelFiles(p.Path, maxContextFiles); len(files) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(files, ", "))
	}
	return b.String()
}

// topLevelFiles lists up to limit non-hidden entry names.
func topLevelFiles(dir string, limit int) []string {
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

// FallbackAssessment derives an assessment from the indicator bundle alone.
func FallbackAssessment(ind Indicators) *Assessment {
	completeness := ind.Completeness()

	readiness := catalog.ReadinessPrototype
	switch {
	case completeness >= 80 && ind.Tests && ind.CI:
		readiness = catalog.ReadinessProduction
	case completeness >= 60 && ind.Tests:
		readiness = catalog.ReadinessBeta
	case completeness >= 40:
		readiness = catalog.ReadinessAlpha
	}

	docScore := 20
	if ind.Readme {
		docScore += 40
	}
	if ind.Docs {
		docScore += 20
	}
	if ind.Changelog {
		docScore += 10
	}
	testScore := 10
	if ind.Tests {
		testScore += 50
	}
	if ind.CI {
		testScore += 20
	}
	secScore := 20
	if ind.Security {
		secScore += 40
	}
	if ind.License {
		secScore += 10
	}
	maintainScore := int(completeness * 0.8)

	missing := ind.Missing()
	improvements := make([]string, len(missing))
	for i, m := range missing {
		improvements[i] = "Add " + m
	}
	weaknesses := make([]string, len(missing))
	for i, m := range missing {
		weaknesses[i] = "Missing " + m
	}

	a := &Assessment{
		ProductionReadiness:     string(readiness),
		CodeQuality:             int(completeness * 0.6),
		Documentation:           docScore,
		Tests:                   testScore,
		Security:                secScore,
		Maintainability:         maintainScore,
		Weaknesses:              weaknesses,
		RecommendedImprovements: improvements,
		LLMBacked:               false,
	}
	clampDimensions(a)
	return a
}
