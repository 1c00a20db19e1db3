// Package logging provides categorized structured logging for codeatlas.
// Each subsystem logs under its own category so that noisy components
// (scans, embedding batches) can be silenced independently.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, DI wiring
	CategoryStore     Category = "store"     // SQLite sessions, commits
	CategoryCatalog   Category = "catalog"   // Project CRUD
	CategoryScan      Category = "scan"      // Discovery walks, manifest parsing
	CategoryEmbedding Category = "embedding" // Embedding engine calls
	CategoryJobs      Category = "jobs"      // Scheduler, handlers
	CategorySearch    Category = "search"    // Hybrid search, NL parsing
	CategoryWatcher   Category = "watcher"   // Filesystem events, debouncing
	CategoryQuality   Category = "quality"   // Health and quality scoring
	CategoryLLM       Category = "llm"       // Generation calls
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

func init() {
	root = zap.NewNop()
}

// Initialize installs the process-wide root logger. Call once at startup;
// callers that skip it get a no-op logger.
func Initialize(debug bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetRoot(logger)
	return nil
}

// SetRoot replaces the root logger. Tests inject zaptest loggers here.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Best effort; safe on no-op loggers.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Convenience helpers for hot categories.

func Store(format string, args ...interface{})     { Get(CategoryStore).Infof(format, args...) }
func Scan(format string, args ...interface{})      { Get(CategoryScan).Infof(format, args...) }
func Jobs(format string, args ...interface{})      { Get(CategoryJobs).Infof(format, args...) }
func Search(format string, args ...interface{})    { Get(CategorySearch).Infof(format, args...) }
func Watcher(format string, args ...interface{})   { Get(CategoryWatcher).Infof(format, args...) }
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Infof(format, args...) }

func ScanDebug(format string, args ...interface{})      { Get(CategoryScan).Debugf(format, args...) }
func JobsDebug(format string, args ...interface{})      { Get(CategoryJobs).Debugf(format, args...) }
func SearchDebug(format string, args ...interface{})    { Get(CategorySearch).Debugf(format, args...) }
func WatcherDebug(format string, args ...interface{})   { Get(CategoryWatcher).Debugf(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debugf(format, args...) }
