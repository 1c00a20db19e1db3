// Package search fuses keyword and semantic retrieval with reciprocal rank
// fusion and layers the natural-language query flow on top.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"codeatlas/internal/catalog"
	"codeatlas/internal/embedding"
	"codeatlas/internal/logging"
	"codeatlas/internal/vectorstore"
)

// rrfK is the standard reciprocal-rank-fusion constant.
const rrfK = 60

// semanticMinScore drops weak cosine matches before fusion.
const semanticMinScore = 0.2

// Config tunes the hybrid engine.
type Config struct {
	FTSWeight       float64
	SemanticWeight  float64
	SemanticEnabled bool
	// ExpandQueries rewrites the query with the LLM before embedding.
	ExpandQueries bool
}

// DefaultConfig returns the standard weighting.
func DefaultConfig() Config {
	return Config{FTSWeight: 0.6, SemanticWeight: 0.4, SemanticEnabled: true}
}

// Result is one fused hit.
type Result struct {
	Project *catalog.Project
	Score   float64
}

// Engine runs hybrid searches over the catalog and vector store.
type Engine struct {
	store      *catalog.Store
	embeddings *embedding.Service
	parser     *Parser
	cfg        Config
}

// NewEngine wires the hybrid engine. parser may be nil; natural-language
// queries then use the tokenizer fallback.
func NewEngine(store *catalog.Store, embeddings *embedding.Service, parser *Parser, cfg Config) *Engine {
	if cfg.FTSWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, embeddings: embeddings, parser: parser, cfg: cfg}
}

// Search runs both retrieval legs and fuses them. Results are scoped to the
// org and capped at limit.
func (e *Engine) Search(ctx context.Context, orgID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	var keywordHits []catalog.KeywordHit
	var semanticHits []vectorstore.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		session := e.store.Session(gctx)
		defer session.Close()
		hits, err := session.KeywordSearch(orgID, query, 2*limit)
		if err != nil {
			return err
		}
		keywordHits = hits
		return nil
	})
	if e.semanticReady(gctx) {
		g.Go(func() error {
			q := e.maybeExpand(gctx, query)
			hits, err := e.embeddings.SearchSimilar(gctx, orgID, q, embedding.SimilarOptions{
				Limit:    2 * limit,
				MinScore: semanticMinScore,
			})
			if err != nil {
				// A failing embedder degrades to keyword-only search.
				logging.Search("semantic leg failed, continuing keyword-only: %v", err)
				return nil
			}
			semanticHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(keywordHits, semanticHits, e.cfg.FTSWeight, e.cfg.SemanticWeight)
	return e.materialize(ctx, orgID, fused, limit)
}

func (e *Engine) semanticReady(ctx context.Context) bool {
	return e.cfg.SemanticEnabled && e.embeddings != nil && e.embeddings.Available(ctx)
}

// maybeExpand rewrites the query for embedding when expansion is on.
func (e *Engine) maybeExpand(ctx context.Context, query string) string {
	if !e.cfg.ExpandQueries || e.parser == nil {
		return query
	}
	if expanded := e.parser.ExpandQuery(ctx, query); expanded != "" {
		return expanded
	}
	return query
}

type fusedHit struct {
	id    string
	score float64
}

// fuse sums per-list RRF contributions w/(K + rank + 1). The result does
// not depend on which list is processed first.
func fuse(keyword []catalog.KeywordHit, semantic []vectorstore.Result, wFTS, wSem float64) []fusedHit {
	scores := make(map[string]float64)
	for rank, hit := range keyword {
		scores[hit.ProjectID] += wFTS / float64(rrfK+rank+1)
	}
	for rank, hit := range semantic {
		scores[hit.ID] += wSem / float64(rrfK+rank+1)
	}

	out := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		out = append(out, fusedHit{id: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

// materialize loads the project rows for the top fused ids. Vector entries
// whose project has since been deleted are skipped.
func (e *Engine) materialize(ctx context.Context, orgID string, fused []fusedHit, limit int) ([]Result, error) {
	session := e.store.Session(ctx)
	defer session.Close()

	results := make([]Result, 0, limit)
	for _, hit := range fused {
		if len(results) >= limit {
			break
		}
		p, err := session.GetProject(orgID, hit.id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, Result{Project: p, Score: hit.score})
	}
	return results, nil
}

// SearchNatural parses a free-text query, searches over the extracted
// keywords and applies the parsed filters with progressive relaxation.
func (e *Engine) SearchNatural(ctx context.Context, orgID, query string, limit int) ([]Result, *ParsedQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	parsed := e.parseQuery(ctx, query)

	keywordJoin := strings.Join(parsed.Keywords, " ")
	if keywordJoin == "" {
		keywordJoin = query
	}
	// Fetch wide so relaxation has material to work with.
	fused, err := e.Search(ctx, orgID, keywordJoin, 2*limit)
	if err != nil {
		return nil, nil, err
	}

	results := relaxFilters(fused, parsed.Filters, limit)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, parsed, nil
}

func (e *Engine) parseQuery(ctx context.Context, query string) *ParsedQuery {
	if e.parser == nil {
		return fallbackParse(query)
	}
	return e.parser.Parse(ctx, query)
}

// relaxFilters applies the filter set and, while the match count stays
// under max(limit/2, 3), relaxes in a fixed order: drop type, keep only
// languages, then give up filtering entirely.
func relaxFilters(fused []Result, f Filters, limit int) []Result {
	threshold := limit / 2
	if threshold < 3 {
		threshold = 3
	}

	results := applyFilters(fused, f)
	if len(results) >= threshold || f.IsEmpty() {
		return results
	}

	relaxed := f
	relaxed.Type = ""
	results = applyFilters(fused, relaxed)
	if len(results) >= threshold {
		logging.SearchDebug("relaxed filters: dropped type")
		return results
	}

	languagesOnly := Filters{Languages: f.Languages}
	results = applyFilters(fused, languagesOnly)
	if len(results) >= threshold {
		logging.SearchDebug("relaxed filters: languages only")
		return results
	}

	logging.SearchDebug("relaxed filters: unfiltered")
	return fused
}
