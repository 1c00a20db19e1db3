package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"codeatlas/internal/catalog"
	"codeatlas/internal/logging"
	"codeatlas/internal/vectorstore"
)

const (
	// maxInputChars bounds the text sent to the embedder; longer inputs are
	// truncated, not rejected.
	maxInputChars = 8000

	// readmeExcerptChars is how much of a README is folded into a project
	// document.
	readmeExcerptChars = 2000

	queryPrefix    = "search_query: "
	documentPrefix = "search_document: "
)

// ServiceConfig tunes retry and concurrency behavior.
type ServiceConfig struct {
	MaxRetries    int           // embed attempts per input
	RetryDelay    time.Duration // base delay, doubled per attempt
	MaxConcurrent int64         // parallel embeds in EmbedBatch
}

// DefaultServiceConfig returns the standard service tuning.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
		MaxConcurrent: 4,
	}
}

// Service wraps an Engine with retries, asymmetric prefixes and project
// indexing into the vector store.
type Service struct {
	engine Engine
	store  *vectorstore.Store
	cfg    ServiceConfig

	mu        sync.Mutex
	probed    bool
	available bool
}

// NewService creates an embedding service over the given engine and store.
func NewService(engine Engine, store *vectorstore.Store, cfg ServiceConfig) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Service{engine: engine, store: store, cfg: cfg}
}

// Store exposes the backing vector store.
func (s *Service) Store() *vectorstore.Store {
	return s.store
}

// Available reports whether the embedding backend answers. The probe result
// is cached; ResetAvailability forces a fresh probe.
func (s *Service) Available(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probed {
		return s.available
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.engine.ListModels(probeCtx)
	s.probed = true
	s.available = err == nil
	if err != nil {
		logging.Embedding("embedding backend %s unavailable: %v", s.engine.Name(), err)
	}
	return s.available
}

// ResetAvailability clears the cached probe result.
func (s *Service) ResetAvailability() {
	s.mu.Lock()
	s.probed = false
	s.available = false
	s.mu.Unlock()
}

// usesAsymmetricPrefixes reports whether the model wants nomic-style
// query/document prefixes.
func (s *Service) usesAsymmetricPrefixes() bool {
	return strings.Contains(strings.ToLower(s.engine.Name()), "nomic")
}

// EmbedQuery embeds text for use as a search query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.usesAsymmetricPrefixes() {
		text = queryPrefix + text
	}
	return s.embed(ctx, text)
}

// EmbedDocument embeds text for storage.
func (s *Service) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	if s.usesAsymmetricPrefixes() {
		text = documentPrefix + text
	}
	return s.embed(ctx, text)
}

// embed truncates, retries with exponential backoff and verifies the
// returned dimensionality.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateText(text, maxInputChars)
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		vec, err := s.engine.Embed(ctx, text)
		if err != nil {
			lastErr = err
			logging.EmbeddingDebug("embed attempt %d/%d failed: %v", attempt+1, s.cfg.MaxRetries, err)
			continue
		}
		if want := s.engine.Dimensions(); want > 0 && len(vec) != want {
			return nil, fmt.Errorf("engine %s returned %d dimensions, want %d", s.engine.Name(), len(vec), want)
		}
		return vec, nil
	}
	return nil, fmt.Errorf("embed failed after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

// EmbedBatch embeds each text concurrently. The results and errors slices
// are index-aligned with texts; a failed input leaves a nil vector and a
// non-nil error at its index without affecting the others.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []error) {
	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, text := range texts {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = s.EmbedDocument(ctx, text)
		}(i, text)
	}
	wg.Wait()
	return results, errs
}

// ProjectDocument composes the text that represents a project in the vector
// space. The readme excerpt has newlines collapsed so the document reads as
// one prose block.
func ProjectDocument(p *catalog.Project, readme string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if readme != "" {
		excerpt := truncateText(readme, readmeExcerptChars)
		excerpt = strings.Join(strings.Fields(excerpt), " ")
		fmt.Fprintf(&b, "Documentation: %s\n", excerpt)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(p.Tags, ", "))
	}
	if len(p.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(p.Languages, ", "))
	}
	if len(p.Frameworks) > 0 {
		fmt.Fprintf(&b, "Frameworks: %s\n", strings.Join(p.Frameworks, ", "))
	}
	return b.String()
}

// projectMetadata builds the filterable metadata stored alongside a
// project's vector. String values are lowercased so filters can match
// case-insensitively.
func projectMetadata(p *catalog.Project) vectorstore.Metadata {
	lower := func(items []string) []string {
		out := make([]string, len(items))
		for i, v := range items {
			out[i] = strings.ToLower(v)
		}
		return out
	}
	return vectorstore.Metadata{
		"org_id":     p.OrgID,
		"name":       strings.ToLower(p.Name),
		"type":       string(p.Type),
		"lifecycle":  string(p.Lifecycle),
		"languages":  lower(p.Languages),
		"frameworks": lower(p.Frameworks),
		"tags":       lower(p.Tags),
	}
}

// IndexProject embeds the project document and stores it under the project
// id, replacing any previous vector.
func (s *Service) IndexProject(ctx context.Context, p *catalog.Project, readme string) error {
	doc := ProjectDocument(p, readme)
	vec, err := s.EmbedDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("index project %s: %w", p.Name, err)
	}
	s.store.Add(p.ID, vec, projectMetadata(p))
	logging.EmbeddingDebug("indexed project %s (%s)", p.Name, p.ID)
	return nil
}

// RemoveProject drops a project's vector.
func (s *Service) RemoveProject(projectID string) bool {
	return s.store.Remove(projectID)
}

// SimilarOptions narrows a semantic search.
type SimilarOptions struct {
	Limit     int
	MinScore  float64
	Languages []string
	Lifecycle string
}

// SearchSimilar embeds the query and returns the closest projects within
// the org. Results never cross org boundaries.
func (s *Service) SearchSimilar(ctx context.Context, orgID, query string, opts SimilarOptions) ([]vectorstore.Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	vec, err := s.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	filter := orgFilter(orgID, opts)
	return s.store.Search(vec, opts.Limit, filter, opts.MinScore), nil
}

// FindRelated returns the projects closest to an already indexed project,
// excluding the project itself and anything outside its org.
func (s *Service) FindRelated(orgID, projectID string, limit int) ([]vectorstore.Result, error) {
	vec, _, ok := s.store.Get(projectID)
	if !ok {
		return nil, fmt.Errorf("project %s is not indexed", projectID)
	}
	if limit <= 0 {
		limit = 5
	}
	base := orgFilter(orgID, SimilarOptions{})
	filter := func(id string, meta vectorstore.Metadata) bool {
		return id != projectID && base(id, meta)
	}
	return s.store.Search(vec, limit, filter, 0), nil
}

// orgFilter builds the metadata filter for a search. The org check is
// always present.
func orgFilter(orgID string, opts SimilarOptions) vectorstore.FilterFunc {
	return func(id string, meta vectorstore.Metadata) bool {
		if metaString(meta, "org_id") != orgID {
			return false
		}
		if opts.Lifecycle != "" && metaString(meta, "lifecycle") != strings.ToLower(opts.Lifecycle) {
			return false
		}
		if len(opts.Languages) > 0 {
			have := metaStrings(meta, "languages")
			found := false
			for _, want := range opts.Languages {
				for _, h := range have {
					if h == strings.ToLower(want) {
						found = true
					}
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// metaString reads a string metadata value.
func metaString(meta vectorstore.Metadata, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaStrings reads a string-list metadata value. Lists that went through a
// JSON snapshot round trip come back as []interface{}.
func metaStrings(meta vectorstore.Metadata, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// truncateText cuts s to at most limit bytes, backing up to a rune boundary
// so the result stays valid UTF-8.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// Save persists the vector store snapshot.
func (s *Service) Save(force bool) error {
	return s.store.Save(force)
}
