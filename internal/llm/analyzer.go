package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeatlas/internal/logging"
)

const analyzerSystemPrompt = `You are a software project analyst. Given project evidence, respond with ONLY a JSON object, no prose:
{
  "description": one-sentence summary,
  "project_type": one of "library", "api", "cli", "web", "service", "application", "tool", "framework", "plugin", "script", "docs", "bot", "game", "data", "template", "other",
  "tags": [up to 10 short lowercase topic tags],
  "frameworks": [framework names found in the evidence],
  "complexity": one of "trivial", "low", "medium", "high", "very_high",
  "key_features": [strings],
  "improvement_suggestions": [strings]
}
Do not invent frameworks that are not evidenced.`

// ProjectAnalysis is the model's read on a project.
type ProjectAnalysis struct {
	Description            string   `json:"description"`
	ProjectType            string   `json:"project_type"`
	Tags                   []string `json:"tags"`
	Frameworks             []string `json:"frameworks"`
	Complexity             string   `json:"complexity"`
	KeyFeatures            []string `json:"key_features"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

// ProjectEvidence is what the analyzer gets to look at.
type ProjectEvidence struct {
	Name        string
	Description string
	Languages   []string
	Frameworks  []string
	Readme      string // already truncated by the caller
	FileNames   []string
}

// Analyzer runs project analyses against a generation client.
type Analyzer struct {
	client  Client
	timeout time.Duration
}

// NewAnalyzer creates an analyzer. A nil client makes Analyze always error.
func NewAnalyzer(client Client, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Analyzer{client: client, timeout: timeout}
}

// Analyze asks the model for a project analysis.
func (a *Analyzer) Analyze(ctx context.Context, ev ProjectEvidence) (*ProjectAnalysis, error) {
	if a.client == nil {
		return nil, fmt.Errorf("no generation client configured")
	}
	llmCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.client.Generate(llmCtx, buildEvidence(ev), Options{
		System:      analyzerSystemPrompt,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", ev.Name, err)
	}
	var result ProjectAnalysis
	if err := DecodeJSON(raw, &result); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", ev.Name, err)
	}
	logging.Get(logging.CategoryLLM).Debugf("analyzed %s: type=%s complexity=%s", ev.Name, result.ProjectType, result.Complexity)
	return &result, nil
}

func buildEvidence(ev ProjectEvidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", ev.Name)
	if ev.Description != "" {
		fmt.Fprintf(&b, "Existing description: %s\n", ev.Description)
	}
	if len(ev.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(ev.Languages, ", "))
	}
	if len(ev.Frameworks) > 0 {
		fmt.Fprintf(&b, "Known frameworks: %s\n", strings.Join(ev.Frameworks, ", "))
	}
	if len(ev.FileNames) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(ev.FileNames, ", "))
	}
	if ev.Readme != "" {
		fmt.Fprintf(&b, "README:\n%s\n", ev.Readme)
	}
	return b.String()
}
