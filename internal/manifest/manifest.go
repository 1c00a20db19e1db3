// Package manifest parses project manifest files (pyproject.toml,
// package.json, Cargo.toml, go.mod, catalog-info.yaml and friends) into a
// normalized Manifest record. Parse failures never propagate: the reader
// falls back to a name-only manifest and logs a warning.
package manifest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeatlas/internal/logging"
)

// Manifest is the normalized view of one project manifest.
type Manifest struct {
	Name          string
	Title         string
	Description   string
	Version       string
	Languages     []string
	Frameworks    []string
	License       string
	RepositoryURL string
	Keywords      []string
	Dependencies  map[string]string
	Extra         map[string]interface{}
}

// format describes one recognised manifest file. Higher priority wins when
// several coexist in one directory.
type format struct {
	priority int
	language string
	parse    func(path string, m *Manifest) error
}

// Match pattern is the exact filename except csproj, which matches by suffix.
var formats = map[string]format{
	"catalog-info.yaml": {priority: 100, parse: parseCatalogInfo},
	"catalog-info.yml":  {priority: 100, parse: parseCatalogInfo},
	"pyproject.toml":    {priority: 90, language: "python", parse: parsePyproject},
	"package.json":      {priority: 85, language: "javascript", parse: parsePackageJSON},
	"Cargo.toml":        {priority: 80, language: "rust", parse: parseCargo},
	"go.mod":            {priority: 75, language: "go", parse: parseGoMod},
	"*.csproj":          {priority: 60, language: "c#", parse: parseCsproj},
	"pom.xml":           {priority: 55, language: "java", parse: parsePom},
	"build.gradle":      {priority: 50, language: "java", parse: parseGradle},
	"build.gradle.kts":  {priority: 50, language: "kotlin", parse: parseGradle},
	"Gemfile":           {priority: 50, language: "ruby", parse: parseGemfile},
	"setup.py":          {priority: 50, language: "python", parse: parseSetupPy},
	"requirements.txt":  {priority: 50, language: "python", parse: parseRequirements},
}

// Detect returns the best-priority manifest file in dir, or ok=false when the
// directory holds none.
func Detect(dir string) (path string, priority int, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}
	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		f, found := formats[name]
		if !found && strings.HasSuffix(name, ".csproj") {
			f, found = formats["*.csproj"], true
		}
		if !found {
			continue
		}
		if f.priority > best {
			best = f.priority
			path = filepath.Join(dir, name)
		}
	}
	return path, best, best >= 0
}

// Read parses the manifest at path. On any parse error it returns a fallback
// manifest named after the enclosing directory; it never returns nil.
func Read(path string) *Manifest {
	m := &Manifest{
		Dependencies: make(map[string]string),
		Extra:        make(map[string]interface{}),
	}

	name := filepath.Base(path)
	f, found := formats[name]
	if !found && strings.HasSuffix(name, ".csproj") {
		f, found = formats["*.csproj"], true
	}
	if !found {
		return fallback(path)
	}

	if err := f.parse(path, m); err != nil {
		logging.Get(logging.CategoryScan).Warnf("manifest parse failed for %s: %v", path, err)
		return fallback(path)
	}
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Dir(path))
	}
	if f.language != "" {
		m.Languages = appendUnique(m.Languages, f.language)
	}
	m.Frameworks = appendUnique(m.Frameworks, DetectFrameworks(m.Dependencies)...)
	return m
}

func fallback(path string) *Manifest {
	return &Manifest{
		Name:         filepath.Base(filepath.Dir(path)),
		Dependencies: make(map[string]string),
		Extra:        make(map[string]interface{}),
	}
}

// frameworkTable maps well-known dependency names to framework labels.
var frameworkTable = map[string]string{
	// Python
	"fastapi": "FastAPI", "django": "Django", "flask": "Flask",
	"sqlalchemy": "SQLAlchemy", "pydantic": "Pydantic", "celery": "Celery",
	"pytest": "pytest", "numpy": "NumPy", "pandas": "pandas",
	// JavaScript / TypeScript
	"react": "React", "vue": "Vue", "angular": "Angular", "svelte": "Svelte",
	"next": "Next.js", "nuxt": "Nuxt", "express": "Express", "nestjs": "NestJS",
	"@nestjs/core": "NestJS", "electron": "Electron", "jest": "Jest",
	// Rust
	"tokio": "Tokio", "actix-web": "Actix Web", "axum": "Axum", "serde": "Serde",
	"rocket": "Rocket", "bevy": "Bevy",
	// Go
	"github.com/gin-gonic/gin": "Gin", "github.com/labstack/echo": "Echo",
	"github.com/gorilla/mux": "Gorilla Mux", "github.com/spf13/cobra": "Cobra",
	"github.com/go-chi/chi": "Chi", "k8s.io/client-go": "Kubernetes",
	// Java / JVM
	"org.springframework.boot": "Spring Boot", "io.quarkus": "Quarkus",
	"io.micronaut": "Micronaut",
	// Ruby
	"rails": "Rails", "sinatra": "Sinatra",
	// .NET
	"microsoft.aspnetcore.app": "ASP.NET Core",
}

// DetectFrameworks looks up dependency names in the fixed ecosystem table.
func DetectFrameworks(deps map[string]string) []string {
	var out []string
	for dep := range deps {
		key := strings.ToLower(dep)
		if fw, ok := frameworkTable[key]; ok {
			out = append(out, fw)
			continue
		}
		// Versioned Go module paths: strip the /vN suffix.
		if i := strings.LastIndex(key, "/v"); i > 0 {
			if fw, ok := frameworkTable[key[:i]]; ok {
				out = append(out, fw)
			}
		}
	}
	sort.Strings(out)
	return out
}

// extensionTable maps file suffixes to languages for manifest-less projects.
var extensionTable = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript", ".tsx": "typescript",
	".jsx": "javascript", ".go": "go", ".rs": "rust", ".rb": "ruby",
	".java": "java", ".kt": "kotlin", ".cs": "c#", ".cpp": "c++", ".cc": "c++",
	".c": "c", ".h": "c", ".swift": "swift", ".php": "php", ".ex": "elixir",
	".exs": "elixir", ".scala": "scala", ".clj": "clojure", ".hs": "haskell",
	".lua": "lua", ".r": "r", ".sh": "shell", ".zig": "zig",
}

// DetectLanguages suffix-scans a directory (non-recursive) for up to three
// distinct languages. Used when no manifest is recognised.
func DetectLanguages(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var langs []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lang, ok := extensionTable[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
		if len(langs) == 3 {
			break
		}
	}
	return langs
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, d := range dst {
		seen[strings.ToLower(d)] = true
	}
	for _, item := range items {
		if item == "" || seen[strings.ToLower(item)] {
			continue
		}
		seen[strings.ToLower(item)] = true
		dst = append(dst, item)
	}
	return dst
}
