// Package config holds codeatlas configuration. Values come from an optional
// YAML file, overridden by CATALOG_* environment variables. A .env file in the
// working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Worker    WorkerConfig    `yaml:"worker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig configures the SQLite catalog store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	// BusyTimeout is the SQLite busy_timeout applied to every connection.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// WatcherConfig configures filesystem watching and debouncing.
type WatcherConfig struct {
	WatchPaths     []string      `yaml:"watch_paths"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	MaxWait        time.Duration `yaml:"max_wait"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
	// IncludeHidden lets scans descend into hidden directories.
	IncludeHidden bool `yaml:"include_hidden"`
}

// WorkerConfig configures the job scheduler.
type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // "ollama" or "genai"
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Dimension   int           `yaml:"dimension"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Concurrency int           `yaml:"concurrency"`
	CachePath   string        `yaml:"cache_path"` // vector snapshot location
}

// LLMConfig configures the generation model used for analysis, quality
// assessment and query parsing.
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SearchConfig configures hybrid search fusion.
type SearchConfig struct {
	FTSWeight      float64 `yaml:"fts_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	SemanticAuto   bool    `yaml:"semantic_auto"`
	ExpandQueries  bool    `yaml:"expand_queries"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the defaults documented in the service contract.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Store: StoreConfig{
			DatabasePath: filepath.Join(home, ".codeatlas", "catalog.db"),
			BusyTimeout:  30 * time.Second,
		},
		Watcher: WatcherConfig{
			DebounceWindow: 5 * time.Second,
			MaxWait:        30 * time.Second,
			IgnorePatterns: []string{"**/*.swp", "**/*.tmp", "**/*~", "**/.#*"},
		},
		Worker: WorkerConfig{
			PollInterval:  5 * time.Second,
			MaxConcurrent: 3,
		},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "nomic-embed-text",
			Dimension:   768,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
			RetryDelay:  time.Second,
			Concurrency: 4,
			CachePath:   filepath.Join(home, ".codeatlas", "cache", "embeddings", "project_embeddings.json"),
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Endpoint: "http://localhost:11434",
			Model:    "llama3.1",
			Timeout:  120 * time.Second,
		},
		Search: SearchConfig{
			FTSWeight:      0.6,
			SemanticWeight: 0.4,
			SemanticAuto:   true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. A missing .env is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies the CATALOG_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CATALOG_WATCH_PATHS"); v != "" {
		parts := strings.Split(v, ",")
		paths := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		c.Watcher.WatchPaths = paths
	}
	if d, ok := envSeconds("CATALOG_DEBOUNCE_SECONDS"); ok {
		c.Watcher.DebounceWindow = d
	}
	if d, ok := envSeconds("CATALOG_MAX_WAIT_SECONDS"); ok {
		c.Watcher.MaxWait = d
	}
	if d, ok := envSeconds("CATALOG_WORKER_POLL_INTERVAL"); ok {
		c.Worker.PollInterval = d
	}
	if n, ok := envInt("CATALOG_WORKER_MAX_CONCURRENT"); ok {
		c.Worker.MaxConcurrent = n
	}
	if f, ok := envFloat("CATALOG_SEMANTIC_WEIGHT"); ok {
		c.Search.SemanticWeight = f
	}
	if f, ok := envFloat("CATALOG_FTS_WEIGHT"); ok {
		c.Search.FTSWeight = f
	}
	if v := os.Getenv("CATALOG_SEMANTIC_AUTO"); v != "" {
		c.Search.SemanticAuto = parseBool(v)
	}
	if v := os.Getenv("CATALOG_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CATALOG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("CATALOG_VECTOR_CACHE"); v != "" {
		c.Embedding.CachePath = v
	}
	if v := os.Getenv("CATALOG_DATABASE_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
}

func envSeconds(key string) (time.Duration, bool) {
	f, ok := envFloat(key)
	if !ok || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
