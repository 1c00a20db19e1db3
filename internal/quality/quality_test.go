package quality

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"codeatlas/internal/catalog"
	"codeatlas/internal/llm"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHealthScoreEmptyProject(t *testing.T) {
	p := &catalog.Project{Path: t.TempDir()}
	if got := HealthScore(p, time.Now()); got != 0 {
		t.Errorf("empty project scored %v, want 0", got)
	}
}

func TestHealthScoreFullProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# hi")
	writeFile(t, dir, "LICENSE", "MIT")
	writeFile(t, dir, filepath.Join("tests", "x_test.py"), "")
	writeFile(t, dir, filepath.Join(".github", "workflows", "ci.yml"), "")

	recent := time.Now().Add(-24 * time.Hour)
	p := &catalog.Project{
		Path:         dir,
		Description:  "A service",
		Languages:    []string{"python"},
		Frameworks:   []string{"fastapi"},
		LastCommitAt: &recent,
	}
	if got := HealthScore(p, time.Now()); got != 100 {
		t.Errorf("full project scored %v, want 100", got)
	}
}

func TestHealthScoreCommitRecency(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		age  time.Duration
		want int
	}{
		{24 * time.Hour, 20},
		{10 * 24 * time.Hour, 15},
		{60 * 24 * time.Hour, 10},
		{200 * 24 * time.Hour, 5},
		{400 * 24 * time.Hour, 0},
	}
	now := time.Now()
	for _, tc := range cases {
		at := now.Add(-tc.age)
		p := &catalog.Project{Path: dir, LastCommitAt: &at}
		want := float64(tc.want) / float64(healthMax) * 100
		if got := HealthScore(p, now); got != want {
			t.Errorf("age %v scored %v, want %v", tc.age, got, want)
		}
	}
}

func TestHealthScoreLicenseFromMetadata(t *testing.T) {
	p := &catalog.Project{Path: t.TempDir(), LicenseSPDX: "Apache-2.0"}
	want := float64(weightLicense) / float64(healthMax) * 100
	if got := HealthScore(p, time.Now()); got != want {
		t.Errorf("scored %v, want %v", got, want)
	}
}

func TestScanIndicators(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "")
	writeFile(t, dir, "CHANGELOG.md", "")
	writeFile(t, dir, "package.json", "{}")
	writeFile(t, dir, "Dockerfile", "")
	writeFile(t, dir, ".golangci.yml", "")
	writeFile(t, dir, "tsconfig.json", "{}")
	writeFile(t, dir, filepath.Join("docs", "index.md"), "")

	ind := ScanIndicators(dir)
	if !ind.Readme || !ind.Changelog || !ind.PackageJSON || !ind.Docker || !ind.Linting || !ind.TypeHints || !ind.Docs {
		t.Errorf("indicators missed present files: %+v", ind)
	}
	if ind.License || ind.Tests || ind.CI || ind.Contributing || ind.Security {
		t.Errorf("indicators reported absent files: %+v", ind)
	}
}

func TestCompletenessWeights(t *testing.T) {
	all := Indicators{
		Readme: true, License: true, Tests: true, CI: true, Docs: true,
		Changelog: true, Contributing: true, Security: true,
		PackageJSON: true, Docker: true, Linting: true, TypeHints: true,
	}
	if got := all.Completeness(); got != 100 {
		t.Errorf("full bundle completeness %v, want 100", got)
	}
	some := Indicators{Readme: true, Tests: true}
	if got := some.Completeness(); got != 35 {
		t.Errorf("readme+tests completeness %v, want 35", got)
	}
}

func TestQualityScoreComposition(t *testing.T) {
	a := &Assessment{CodeQuality: 80, Documentation: 70, Tests: 90, Security: 60, Maintainability: 100}
	// mean = 80, + 0.1*50 = 85
	if got := a.QualityScore(50); got != 85 {
		t.Errorf("QualityScore = %v, want 85", got)
	}
	b := &Assessment{CodeQuality: 100, Documentation: 100, Tests: 100, Security: 100, Maintainability: 100}
	if got := b.QualityScore(100); got != 100 {
		t.Errorf("QualityScore not clamped: %v", got)
	}
}

// fakeLLM answers every Generate with a fixed response or error.
type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(context.Context, string, llm.Options) (string, error) {
	return f.response, f.err
}
func (f *fakeLLM) ListModels(context.Context) ([]string, error) { return nil, f.err }
func (f *fakeLLM) Name() string                                 { return "fake" }

func TestAssessParsesLLMResponse(t *testing.T) {
	client := &fakeLLM{response: "```json\n" + `{
		"production_readiness": "beta",
		"code_quality": 75, "documentation": 60, "tests": 80,
		"security": 70, "maintainability": 65,
		"strengths": ["clear structure"],
		"weaknesses": ["no docs dir"]
	}` + "\n```"}
	a := NewAssessor(client, time.Second)
	p := &catalog.Project{Name: "svc", Path: t.TempDir()}

	got := a.Assess(context.Background(), p, Indicators{})
	if !got.LLMBacked {
		t.Fatal("expected LLM-backed assessment")
	}
	if got.ProductionReadiness != "beta" || got.CodeQuality != 75 {
		t.Errorf("unexpected assessment: %+v", got)
	}
}

func TestAssessInvalidReadinessNormalized(t *testing.T) {
	client := &fakeLLM{response: `{"production_readiness": "awesome", "code_quality": 50, "documentation": 50, "tests": 50, "security": 50, "maintainability": 50}`}
	a := NewAssessor(client, time.Second)
	p := &catalog.Project{Name: "svc", Path: t.TempDir()}

	got := a.Assess(context.Background(), p, Indicators{})
	if got.ProductionReadiness != "unknown" {
		t.Errorf("invalid readiness not normalized: %q", got.ProductionReadiness)
	}
}

func TestAssessFallsBackOnError(t *testing.T) {
	client := &fakeLLM{err: fmt.Errorf("connection refused")}
	a := NewAssessor(client, time.Second)
	p := &catalog.Project{Name: "svc", Path: t.TempDir()}

	got := a.Assess(context.Background(), p, Indicators{Readme: true, Tests: true})
	if got.LLMBacked {
		t.Fatal("expected fallback assessment")
	}
}

func TestAssessFallsBackOnGarbage(t *testing.T) {
	client := &fakeLLM{response: "I would rather not."}
	a := NewAssessor(client, time.Second)
	p := &catalog.Project{Name: "svc", Path: t.TempDir()}

	if got := a.Assess(context.Background(), p, Indicators{}); got.LLMBacked {
		t.Fatal("expected fallback assessment")
	}
}

func TestFallbackReadinessTiers(t *testing.T) {
	full := Indicators{
		Readme: true, License: true, Tests: true, CI: true, Docs: true,
		Changelog: true, Contributing: true, Security: true,
		PackageJSON: true, Docker: true, Linting: true,
	}
	if got := FallbackAssessment(full); got.ProductionReadiness != "production" {
		t.Errorf("full bundle readiness %q, want production", got.ProductionReadiness)
	}
	if got := FallbackAssessment(Indicators{}); got.ProductionReadiness != "prototype" {
		t.Errorf("empty bundle readiness %q, want prototype", got.ProductionReadiness)
	}
}

func TestFallbackListsMissingIndicators(t *testing.T) {
	got := FallbackAssessment(Indicators{Readme: true})
	foundWeakness := false
	for _, w := range got.Weaknesses {
		if w == "Missing tests" {
			foundWeakness = true
		}
	}
	if !foundWeakness {
		t.Errorf("weaknesses missing expected entry: %v", got.Weaknesses)
	}
}

func TestBuildContextIncludesReadmeAndFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "This service handles invoices.")
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, dir, ".hidden", "")

	p := &catalog.Project{Name: "billing", Description: "Invoices", Path: dir, Languages: []string{"go"}}
	ctx := BuildContext(p, ScanIndicators(dir))

	for _, want := range []string{"Project: billing", "This service handles invoices", "main.go"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q", want)
		}
	}
	if strings.Contains(ctx, ".hidden") {
		t.Error("hidden files must not appear in context")
	}
}

func TestBuildContextReadmeExcerptStaysValidUTF8(t *testing.T) {
	dir := t.TempDir()
	// Multi-byte runes cross the excerpt boundary.
	writeFile(t, dir, "README.md", strings.Repeat("a", readmeContextChars-1)+strings.Repeat("ü", 50))

	p := &catalog.Project{Name: "billing", Path: dir}
	ctx := BuildContext(p, ScanIndicators(dir))
	if !utf8.ValidString(ctx) {
		t.Error("readme excerpt split a multi-byte rune")
	}
}
