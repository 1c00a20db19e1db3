package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeatlas/internal/logging"
)

var memSeq atomic.Int64

// Store owns the SQLite database. Sessions are opened per job (or per
// request) and hold their own transactions.
type Store struct {
	db         *sql.DB
	dbPath     string
	ftsEnabled bool
}

// NewStore opens (creating if needed) the catalog database at path.
// ":memory:" is supported for tests. WAL journalling and a busy timeout are
// applied to every connection.
func NewStore(path string, busyTimeout time.Duration) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path, busyTimeout.Milliseconds())
	if path == ":memory:" {
		// A named shared-cache database keeps all pooled connections on the
		// same data while staying private to this Store.
		dsn = fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_foreign_keys=on", memSeq.Add(1))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("catalog store ready at %s (fts=%v)", path, s.ftsEnabled)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FTSEnabled reports whether the full-text index is available.
func (s *Store) FTSEnabled() bool {
	return s.ftsEnabled
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog_projects (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		title TEXT,
		description TEXT,
		path TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'other',
		lifecycle TEXT NOT NULL DEFAULT 'active',
		languages TEXT,
		frameworks TEXT,
		tags TEXT,
		repository_url TEXT,
		default_branch TEXT,
		license_spdx TEXT,
		health_score REAL,
		quality_score REAL,
		loc_total INTEGER,
		file_count INTEGER,
		avg_complexity REAL,
		test_coverage REAL,
		production_readiness TEXT NOT NULL DEFAULT 'unknown',
		quality_assessment TEXT,
		quality_indicators TEXT,
		last_synced_at DATETIME,
		last_commit_at DATETIME,
		last_commit_sha TEXT,
		last_quality_check_at DATETIME,
		extra_metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(organization_id, name),
		UNIQUE(organization_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_projects_org ON catalog_projects(organization_id);
	CREATE INDEX IF NOT EXISTS idx_projects_lifecycle ON catalog_projects(lifecycle);
	CREATE INDEX IF NOT EXISTS idx_projects_type ON catalog_projects(type);
	CREATE INDEX IF NOT EXISTS idx_projects_readiness ON catalog_projects(production_readiness);

	CREATE TABLE IF NOT EXISTS catalog_jobs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		project_id TEXT,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 5,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		run_after DATETIME NOT NULL,
		result TEXT,
		last_error TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON catalog_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_run_after ON catalog_jobs(run_after);

	CREATE TABLE IF NOT EXISTS catalog_job_runs (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES catalog_jobs(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		result TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_job ON catalog_job_runs(job_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	fts := `
	CREATE VIRTUAL TABLE IF NOT EXISTS catalog_projects_fts USING fts5(
		name, title, description, path,
		content='catalog_projects', content_rowid='rowid'
	);
	CREATE TRIGGER IF NOT EXISTS catalog_projects_fts_ai AFTER INSERT ON catalog_projects BEGIN
		INSERT INTO catalog_projects_fts(rowid, name, title, description, path)
		VALUES (new.rowid, new.name, new.title, new.description, new.path);
	END;
	CREATE TRIGGER IF NOT EXISTS catalog_projects_fts_ad AFTER DELETE ON catalog_projects BEGIN
		INSERT INTO catalog_projects_fts(catalog_projects_fts, rowid, name, title, description, path)
		VALUES ('delete', old.rowid, old.name, old.title, old.description, old.path);
	END;
	CREATE TRIGGER IF NOT EXISTS catalog_projects_fts_au AFTER UPDATE ON catalog_projects BEGIN
		INSERT INTO catalog_projects_fts(catalog_projects_fts, rowid, name, title, description, path)
		VALUES ('delete', old.rowid, old.name, old.title, old.description, old.path);
		INSERT INTO catalog_projects_fts(rowid, name, title, description, path)
		VALUES (new.rowid, new.name, new.title, new.description, new.path);
	END;
	`
	if _, err := s.db.Exec(fts); err != nil {
		// SQLite builds without FTS5 fall back to substring search.
		logging.Get(logging.CategoryStore).Warnf("FTS5 unavailable, keyword search degrades to substring match: %v", err)
		s.ftsEnabled = false
		return nil
	}
	s.ftsEnabled = true
	return nil
}

// isBusy reports whether an error is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// isConstraint reports whether an error is a unique-constraint violation.
func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
