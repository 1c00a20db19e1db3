// Package app assembles the catalog service: store, vector store,
// embedding service, LLM clients, search engine, job scheduler, debouncer
// and watcher, all built from one Config.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"codeatlas/internal/catalog"
	"codeatlas/internal/config"
	"codeatlas/internal/debounce"
	"codeatlas/internal/discovery"
	"codeatlas/internal/embedding"
	"codeatlas/internal/jobs"
	"codeatlas/internal/llm"
	"codeatlas/internal/logging"
	"codeatlas/internal/quality"
	"codeatlas/internal/search"
	"codeatlas/internal/vectorstore"
	"codeatlas/internal/watcher"
)

// App owns every long-lived component of the service.
type App struct {
	Config config.Config

	Store      *catalog.Store
	Vectors    *vectorstore.Store
	Embeddings *embedding.Service
	Search     *search.Engine
	Scheduler  *jobs.Scheduler
	Debouncer  *debounce.Debouncer
	Watcher    *watcher.Watcher

	// DefaultOrg scopes CLI-originated work. Multi-org callers pass their
	// own org ids through the job and search APIs directly.
	DefaultOrg string
}

// New builds the application graph. The watcher is created but not
// started; Start wires it to the configured watch paths.
func New(cfg config.Config) (*App, error) {
	if cfg.Logging.Debug {
		if err := logging.Initialize(true); err != nil {
			return nil, fmt.Errorf("initialize logging: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := catalog.NewStore(cfg.Store.DatabasePath, cfg.Store.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Embedding.CachePath), 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("create vector cache directory: %w", err)
	}
	vectors := vectorstore.New(cfg.Embedding.CachePath)

	engine, err := embedding.NewEngine(embedding.EngineConfig{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create embedding engine: %w", err)
	}
	embeddings := embedding.NewService(engine, vectors, embedding.ServiceConfig{
		MaxRetries:    cfg.Embedding.MaxRetries,
		RetryDelay:    cfg.Embedding.RetryDelay,
		MaxConcurrent: int64(cfg.Embedding.Concurrency),
	})

	// The LLM is optional: analysis, assessment and query parsing all
	// degrade without it.
	var client llm.Client
	var analyzer *llm.Analyzer
	var parser *search.Parser
	client, err = llm.NewClient(llm.Config{
		Provider: cfg.LLM.Provider,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		logging.Get(logging.CategoryLLM).Infof("no generation client: %v", err)
		client = nil
	} else {
		analyzer = llm.NewAnalyzer(client, cfg.LLM.Timeout)
		parser = search.NewParser(client, cfg.LLM.Timeout)
	}
	assessor := quality.NewAssessor(client, cfg.LLM.Timeout)

	searchEngine := search.NewEngine(store, embeddings, parser, search.Config{
		FTSWeight:       cfg.Search.FTSWeight,
		SemanticWeight:  cfg.Search.SemanticWeight,
		SemanticEnabled: cfg.Search.SemanticAuto,
		ExpandQueries:   cfg.Search.ExpandQueries,
	})

	walkOpts := discovery.DefaultOptions()
	walkOpts.SkipHidden = !cfg.Watcher.IncludeHidden
	handlers := jobs.NewHandlers(embeddings, assessor, analyzer, walkOpts)
	scheduler := jobs.NewScheduler(store, handlers.Registry(), jobs.SchedulerConfig{
		PollInterval:  cfg.Worker.PollInterval,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
	})

	a := &App{
		Config:     cfg,
		Store:      store,
		Vectors:    vectors,
		Embeddings: embeddings,
		Search:     searchEngine,
		Scheduler:  scheduler,
		DefaultOrg: defaultOrg(),
	}

	a.Debouncer = debounce.New(cfg.Watcher.DebounceWindow, cfg.Watcher.MaxWait, a.enqueueRefresh)
	a.Watcher, err = watcher.New(a.Debouncer, cfg.Watcher.IgnorePatterns)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return a, nil
}

// Start launches the scheduler and, when watch paths are configured, the
// filesystem watcher.
func (a *App) Start() error {
	a.Scheduler.Start()
	if len(a.Config.Watcher.WatchPaths) > 0 {
		if err := a.Watcher.Start(a.Config.Watcher.WatchPaths); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	return nil
}

// Stop shuts the components down in dependency order and persists the
// vector snapshot.
func (a *App) Stop() {
	a.Watcher.Stop()
	a.Scheduler.Stop()
	if err := a.Embeddings.Save(false); err != nil {
		logging.Embedding("saving vector snapshot on shutdown: %v", err)
	}
	a.Store.Close()
	logging.Sync()
}

// enqueueRefresh is the debouncer callback: one refresh job per settled
// project root.
func (a *App) enqueueRefresh(root string) {
	session := a.Store.Session(context.Background())
	defer session.Close()

	job := &catalog.Job{
		OrgID:  a.DefaultOrg,
		Kind:   catalog.JobRefresh,
		Result: map[string]interface{}{"path": root},
	}
	if err := session.EnqueueJob(job); err != nil {
		logging.Jobs("enqueue refresh for %s: %v", root, err)
		session.Rollback()
		return
	}
	if err := session.Commit(); err != nil {
		logging.Jobs("commit refresh for %s: %v", root, err)
	}
}

// EnqueueScan queues a scan job over the given paths.
func (a *App) EnqueueScan(orgID string, paths []string) (*catalog.Job, error) {
	session := a.Store.Session(context.Background())
	defer session.Close()

	job := &catalog.Job{
		OrgID:  orgID,
		Kind:   catalog.JobScan,
		Result: map[string]interface{}{"paths": paths},
	}
	if err := session.EnqueueJob(job); err != nil {
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func defaultOrg() string {
	if v := os.Getenv("CATALOG_ORG_ID"); v != "" {
		return v
	}
	return "default"
}
