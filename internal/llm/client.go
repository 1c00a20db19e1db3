// Package llm defines the generation-model port consumed by project
// analysis, quality assessment and query parsing, with Ollama and Google
// GenAI backends.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Options tune a single generation call. Zero values fall back to backend
// defaults.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// Client is the generation port. Implementations must be safe for concurrent
// use.
type Client interface {
	// Generate produces a completion for prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// ListModels returns the model ids available on the backend. Used as an
	// availability probe.
	ListModels(ctx context.Context) ([]string, error)

	// Name identifies the backend and model.
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "ollama" or "genai"
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// NewClient constructs the configured backend.
func NewClient(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg.Endpoint, cfg.Model, cfg.Timeout), nil
	case "genai":
		return NewGenAIClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}
