// Package embedding wraps an external embedder with retry, asymmetric
// query/document prefixes and project indexing into the vector store.
// Backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"

	"codeatlas/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ListModels returns the model ids available on the backend; used as
	// the availability probe.
	ListModels(ctx context.Context) ([]string, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// EngineConfig selects and configures a backend.
type EngineConfig struct {
	Provider  string // "ollama" or "genai"
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg EngineConfig) (Engine, error) {
	switch cfg.Provider {
	case "", "ollama":
		logging.Embedding("initializing ollama embedding engine: endpoint=%s model=%s", cfg.Endpoint, cfg.Model)
		return NewOllamaEngine(cfg.Endpoint, cfg.Model, cfg.Dimension), nil
	case "genai":
		logging.Embedding("initializing genai embedding engine: model=%s", cfg.Model)
		return NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}
