package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeatlas/internal/catalog"
	"codeatlas/internal/embedding"
	"codeatlas/internal/llm"
	"codeatlas/internal/vectorstore"
)

type stubEngine struct {
	dim  int
	fail bool
	// axis maps a substring to the vector axis it activates.
	axis map[string]int
}

func (e *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("embedder down")
	}
	vec := make([]float32, e.dim)
	lower := strings.ToLower(text)
	for sub, i := range e.axis {
		if strings.Contains(lower, sub) {
			vec[i] = 1
		}
	}
	if isAllZero(vec) {
		vec[e.dim-1] = 1
	}
	return vec, nil
}

func isAllZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (e *stubEngine) ListModels(context.Context) ([]string, error) {
	if e.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return []string{"stub"}, nil
}
func (e *stubEngine) Dimensions() int { return e.dim }
func (e *stubEngine) Name() string    { return "stub" }

type stubLLM struct {
	response string
	err      error
}

func (f *stubLLM) Generate(context.Context, string, llm.Options) (string, error) {
	return f.response, f.err
}
func (f *stubLLM) ListModels(context.Context) ([]string, error) { return nil, f.err }
func (f *stubLLM) Name() string                                 { return "stub" }

func newTestEngine(t *testing.T, eng *stubEngine, parser *Parser) (*Engine, *catalog.Store, *embedding.Service) {
	t.Helper()
	store, err := catalog.NewStore(":memory:", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := vectorstore.New(filepath.Join(t.TempDir(), "vectors.json"))
	cfg := embedding.DefaultServiceConfig()
	cfg.RetryDelay = time.Millisecond
	svc := embedding.NewService(eng, vectors, cfg)
	return NewEngine(store, svc, parser, DefaultConfig()), store, svc
}

func insertProject(t *testing.T, store *catalog.Store, p *catalog.Project) *catalog.Project {
	t.Helper()
	session := store.Session(context.Background())
	defer session.Close()
	if err := session.InsertProject(p); err != nil {
		t.Fatal(err)
	}
	if err := session.Commit(); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHybridSearchFusesBothLegs(t *testing.T) {
	eng := &stubEngine{dim: 4, axis: map[string]int{"billing": 0, "frontend": 1}}
	e, store, svc := newTestEngine(t, eng, nil)
	ctx := context.Background()

	billing := insertProject(t, store, &catalog.Project{
		OrgID: "acme", Name: "billing-api", Path: "/srv/billing",
		Description: "Invoice and billing processing",
	})
	insertProject(t, store, &catalog.Project{
		OrgID: "acme", Name: "frontend", Path: "/srv/frontend",
		Description: "Customer frontend",
	})

	session := store.Session(ctx)
	projects, _ := session.ListProjects("acme")
	session.Close()
	for _, p := range projects {
		if err := svc.IndexProject(ctx, p, ""); err != nil {
			t.Fatal(err)
		}
	}

	results, err := e.Search(ctx, "acme", "billing", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 || results[0].Project.ID != billing.ID {
		t.Errorf("expected billing-api first, got %+v", results)
	}
	if results[0].Score <= 0 {
		t.Error("fused score must be positive")
	}
}

func TestSearchOrgIsolation(t *testing.T) {
	eng := &stubEngine{dim: 4, axis: map[string]int{"billing": 0}}
	e, store, svc := newTestEngine(t, eng, nil)
	ctx := context.Background()

	insertProject(t, store, &catalog.Project{
		OrgID: "other", Name: "billing-api", Path: "/srv/billing",
		Description: "Invoice and billing processing",
	})
	session := store.Session(ctx)
	projects, _ := session.ListProjects("other")
	session.Close()
	for _, p := range projects {
		svc.IndexProject(ctx, p, "")
	}

	results, err := e.Search(ctx, "acme", "billing", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results crossed org boundary: %+v", results)
	}
}

func TestSearchDegradesWhenEmbedderDown(t *testing.T) {
	eng := &stubEngine{dim: 4, fail: true}
	e, store, _ := newTestEngine(t, eng, nil)
	ctx := context.Background()

	insertProject(t, store, &catalog.Project{
		OrgID: "acme", Name: "billing-api", Path: "/srv/billing",
		Description: "Invoice and billing processing",
	})

	results, err := e.Search(ctx, "acme", "billing", 5)
	if err != nil {
		t.Fatalf("keyword-only search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 keyword hit, got %d", len(results))
	}
}

func TestFuseOrderInvariantAndWeighted(t *testing.T) {
	keyword := []catalog.KeywordHit{{ProjectID: "a", Rank: 5}, {ProjectID: "b", Rank: 3}}
	semantic := []vectorstore.Result{{ID: "b", Score: 0.9}, {ID: "c", Score: 0.5}}

	fused := fuse(keyword, semantic, 0.6, 0.4)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused ids, got %d", len(fused))
	}
	// b appears in both lists and must win.
	if fused[0].id != "b" {
		t.Errorf("expected b first, got %+v", fused)
	}
	wantB := 0.6/float64(rrfK+2) + 0.4/float64(rrfK+1)
	if diff := fused[0].score - wantB; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("b score = %v, want %v", fused[0].score, wantB)
	}
}

func TestTypeMatchesPartial(t *testing.T) {
	cases := []struct {
		have, want string
		match      bool
	}{
		{"web", "web_app", true},
		{"web_app", "web", true},
		{"api", "API", true},
		{"library", "cli", false},
		{"", "web", false},
	}
	for _, tc := range cases {
		if got := typeMatches(tc.have, tc.want); got != tc.match {
			t.Errorf("typeMatches(%q, %q) = %v, want %v", tc.have, tc.want, got, tc.match)
		}
	}
}

func TestApplyFilters(t *testing.T) {
	score80 := 80.0
	hasTests := true
	results := []Result{
		{Project: &catalog.Project{ID: "a", Type: catalog.TypeWeb, Languages: []string{"python"}, HealthScore: &score80,
			Indicators: map[string]interface{}{"tests": true}}},
		{Project: &catalog.Project{ID: "b", Type: catalog.TypeCLI, Languages: []string{"go"}}},
	}

	got := applyFilters(results, Filters{Languages: []string{"Python"}})
	if len(got) != 1 || got[0].Project.ID != "a" {
		t.Errorf("language filter: %+v", got)
	}

	min := 50.0
	got = applyFilters(results, Filters{MinHealthScore: &min})
	if len(got) != 1 || got[0].Project.ID != "a" {
		t.Errorf("min_health_score must exclude unscored projects: %+v", got)
	}

	got = applyFilters(results, Filters{HasTests: &hasTests})
	if len(got) != 1 || got[0].Project.ID != "a" {
		t.Errorf("has_tests filter: %+v", got)
	}

	got = applyFilters(results, Filters{Type: "web_app"})
	if len(got) != 1 || got[0].Project.ID != "a" {
		t.Errorf("partial type filter: %+v", got)
	}
}

func TestRelaxationOrder(t *testing.T) {
	mk := func(id string, typ catalog.ProjectType, lang string) Result {
		return Result{Project: &catalog.Project{ID: id, Type: typ, Languages: []string{lang}}}
	}
	fused := []Result{
		mk("a", catalog.TypeCLI, "go"),
		mk("b", catalog.TypeCLI, "go"),
		mk("c", catalog.TypeCLI, "go"),
		mk("d", catalog.TypeAPI, "python"),
	}

	// Type filter alone keeps 1 < threshold(3); dropping it keeps the
	// language filter, which yields exactly the three go projects.
	got := relaxFilters(fused, Filters{Type: "api", Languages: []string{"go"}}, 6)
	if len(got) != 3 {
		t.Fatalf("expected 3 after dropping type, got %d", len(got))
	}

	// Nothing matches any stage; the unfiltered list comes back.
	got = relaxFilters(fused, Filters{Type: "game", Languages: []string{"rust"}}, 6)
	if len(got) != len(fused) {
		t.Errorf("expected unfiltered fallback, got %d", len(got))
	}

	// A satisfied filter set is not relaxed.
	got = relaxFilters(fused, Filters{Languages: []string{"go"}}, 6)
	if len(got) != 3 {
		t.Errorf("satisfied filters were altered: %d", len(got))
	}
}

func TestParserFallbackTokenizes(t *testing.T) {
	p := NewParser(&stubLLM{err: fmt.Errorf("offline")}, time.Second)
	got := p.Parse(context.Background(), "Python web-apps with tests!")
	if got.LLMParsed {
		t.Error("expected fallback parse")
	}
	want := []string{"python", "web", "apps", "with", "tests"}
	if len(got.Keywords) != len(want) {
		t.Fatalf("keywords = %v, want %v", got.Keywords, want)
	}
	for i := range want {
		if got.Keywords[i] != want[i] {
			t.Errorf("keywords[%d] = %q, want %q", i, got.Keywords[i], want[i])
		}
	}
	if got.Intent != "search" {
		t.Errorf("intent = %q", got.Intent)
	}
}

func TestParserStructuredResponse(t *testing.T) {
	p := NewParser(&stubLLM{response: `{
		"keywords": ["auth", "service"],
		"filters": {"languages": ["go"], "min_health_score": 70},
		"intent": "search"
	}`}, time.Second)

	got := p.Parse(context.Background(), "healthy go auth services")
	if !got.LLMParsed {
		t.Fatal("expected LLM parse")
	}
	if len(got.Filters.Languages) != 1 || got.Filters.Languages[0] != "go" {
		t.Errorf("languages filter: %+v", got.Filters)
	}
	if got.Filters.MinHealthScore == nil || *got.Filters.MinHealthScore != 70 {
		t.Errorf("min_health_score filter: %+v", got.Filters)
	}
}

func TestSearchNaturalWithoutParser(t *testing.T) {
	eng := &stubEngine{dim: 4, axis: map[string]int{"billing": 0}}
	e, store, _ := newTestEngine(t, eng, nil)
	ctx := context.Background()

	insertProject(t, store, &catalog.Project{
		OrgID: "acme", Name: "billing-api", Path: "/srv/billing",
		Description: "Invoice and billing processing",
	})

	results, parsed, err := e.SearchNatural(ctx, "acme", "find the billing service", 5)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.LLMParsed {
		t.Error("expected tokenizer parse")
	}
	if len(results) == 0 {
		t.Error("expected at least one result")
	}
}
