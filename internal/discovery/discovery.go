// Package discovery walks filesystem roots and detects project roots by
// their manifest marker files.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"codeatlas/internal/logging"
	"codeatlas/internal/manifest"
)

// DefaultMaxDepth bounds the walk below a root.
const DefaultMaxDepth = 10

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, ".hg": true, ".svn": true,
	"__pycache__": true, ".mypy_cache": true, ".pytest_cache": true,
	".ruff_cache": true, ".tox": true, ".venv": true, "venv": true,
	"env": true, "virtualenv": true, ".cache": true, "dist": true,
	"build": true, "target": true, "out": true, "bin": true, "obj": true,
	".next": true, ".nuxt": true, "coverage": true, ".terraform": true,
	"vendor": true, ".idea": true, ".vscode": true,
}

// ProjectMarkers are the filenames whose presence makes a directory a project
// root. The debouncer shares this set (plus .git) for root detection.
var ProjectMarkers = []string{
	"catalog-info.yaml", "catalog-info.yml", "pyproject.toml", "package.json",
	"Cargo.toml", "go.mod", "pom.xml", "build.gradle", "build.gradle.kts",
	"Gemfile", "setup.py", "requirements.txt",
}

// Discovered is one detected project root.
type Discovered struct {
	Path     string
	Manifest *manifest.Manifest
}

// Options controls a walk.
type Options struct {
	MaxDepth   int
	SkipHidden bool
}

// DefaultOptions matches the scan job defaults.
func DefaultOptions() Options {
	return Options{MaxDepth: DefaultMaxDepth, SkipHidden: true}
}

// Walk discovers projects under root depth-first. A directory holding a
// recognised manifest is emitted and not descended into, so no discovered
// project is an ancestor of another. Unreadable directories are skipped.
func Walk(root string, opts Options) []Discovered {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	root = filepath.Clean(root)
	var out []Discovered
	walk(root, 0, opts, &out)
	logging.Scan("discovered %d projects under %s", len(out), root)
	return out
}

func walk(dir string, depth int, opts Options, out *[]Discovered) {
	if depth > opts.MaxDepth {
		return
	}

	if d, ok := DetectProject(dir); ok {
		*out = append(*out, d)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.ScanDebug("skipping unreadable directory %s: %v", dir, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if skipDirs[name] {
			continue
		}
		if opts.SkipHidden && strings.HasPrefix(name, ".") {
			continue
		}
		walk(filepath.Join(dir, name), depth+1, opts, out)
	}
}

// DetectProject checks whether dir is a project root and parses its
// best-priority manifest if so. Directories with no recognised manifest but
// with source files are not projects; discovery relies on markers only.
func DetectProject(dir string) (Discovered, bool) {
	path, _, ok := manifest.Detect(dir)
	if !ok {
		return Discovered{}, false
	}
	m := manifest.Read(path)
	if len(m.Languages) == 0 {
		m.Languages = manifest.DetectLanguages(dir)
	}
	return Discovered{Path: dir, Manifest: m}, true
}

// IsProjectRoot reports whether dir contains any project marker or a .git
// directory. Used by the debouncer's upward root search.
func IsProjectRoot(dir string) bool {
	for _, marker := range ProjectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return true
	}
	return false
}
