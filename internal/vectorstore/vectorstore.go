// Package vectorstore keeps project embeddings in memory with an atomic
// on-disk snapshot. Vectors are L2-normalized on insert so cosine similarity
// reduces to a dot product.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"codeatlas/internal/logging"
)

const snapshotVersion = 2

// Metadata is the per-entry payload carried alongside a vector.
type Metadata map[string]interface{}

// FilterFunc decides whether an entry participates in a search. A panic in
// the filter excludes the entry rather than failing the search.
type FilterFunc func(id string, meta Metadata) bool

// Result is one search hit.
type Result struct {
	ID    string
	Score float64
	Meta  Metadata
}

type entry struct {
	vector []float32
	meta   Metadata
}

// Store is the thread-safe in-memory vector index.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	path    string
	dirty   bool
}

// New creates a store persisting to path and loads any existing snapshot.
// Load errors leave the store empty; they are logged, not returned.
func New(path string) *Store {
	s := &Store{
		entries: make(map[string]entry),
		path:    path,
	}
	if path != "" {
		if err := s.load(); err != nil {
			logging.Get(logging.CategoryEmbedding).Warnf("vector snapshot load failed, starting empty: %v", err)
			s.entries = make(map[string]entry)
		}
	}
	return s
}

// Add stores a vector under id, overwriting any prior entry. The vector is
// L2-normalized; zero vectors are stored as-is and never surface in search.
func (s *Store) Add(id string, vector []float32, meta Metadata) {
	normalized := normalize(vector)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{vector: normalized, meta: meta}
	s.dirty = true
}

// Remove deletes an entry, reporting whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.dirty = true
	return true
}

// Get returns the stored vector and metadata for id.
func (s *Store) Get(id string) ([]float32, Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil, false
	}
	vec := make([]float32, len(e.vector))
	copy(vec, e.vector)
	return vec, e.meta, true
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Search returns the top limit entries by cosine similarity to query, keeping
// only entries passing filter (nil matches all) with similarity >= minScore.
func (s *Store) Search(query []float32, limit int, filter FilterFunc, minScore float64) []Result {
	if limit <= 0 {
		limit = 10
	}
	q := normalize(query)
	if isZero(q) {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Result, 0, len(s.entries))
	for id, e := range s.entries {
		if len(e.vector) != len(q) || isZero(e.vector) {
			continue
		}
		if filter != nil && !applyFilter(filter, id, e.meta) {
			continue
		}
		score := dot(q, e.vector)
		if score < minScore {
			continue
		}
		results = append(results, Result{ID: id, Score: score, Meta: e.meta})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// applyFilter shields the search from filter panics; a panicking filter
// excludes the entry.
func applyFilter(filter FilterFunc, id string, meta Metadata) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryEmbedding).Warnf("search filter panicked for %s: %v", id, r)
			keep = false
		}
	}()
	return filter(id, meta)
}

// snapshot is the versioned on-disk format.
type snapshot struct {
	Version  int                    `json:"version"`
	Count    int                    `json:"count"`
	Vectors  map[string][]float32   `json:"vectors"`
	Metadata map[string]Metadata    `json:"metadata,omitempty"`
}

// Save writes the snapshot if the store is dirty or force is set. The write
// is atomic: a temp sibling file is renamed into place.
func (s *Store) Save(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" || (!s.dirty && !force) {
		return nil
	}

	snap := snapshot{
		Version:  snapshotVersion,
		Count:    len(s.entries),
		Vectors:  make(map[string][]float32, len(s.entries)),
		Metadata: make(map[string]Metadata, len(s.entries)),
	}
	for id, e := range s.entries {
		snap.Vectors[id] = e.vector
		if e.meta != nil {
			snap.Metadata[id] = e.meta
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	s.dirty = false
	logging.EmbeddingDebug("vector snapshot saved: %d entries", snap.Count)
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Version != 1 && snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for id, vec := range snap.Vectors {
		var meta Metadata
		if snap.Metadata != nil {
			meta = snap.Metadata[id]
		}
		// v1 snapshots carry no metadata; entries stay searchable by vector.
		s.entries[id] = entry{vector: vec, meta: meta}
	}
	logging.Embedding("vector snapshot loaded: %d entries (v%d)", len(s.entries), snap.Version)
	return nil
}

// Stats reports store counters.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dim := 0
	for _, e := range s.entries {
		dim = len(e.vector)
		break
	}
	return map[string]interface{}{
		"count":     len(s.entries),
		"dimension": dim,
		"dirty":     s.dirty,
		"path":      s.path,
	}
}

// normalize returns the unit-length copy of v; zero vectors return as copies.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
