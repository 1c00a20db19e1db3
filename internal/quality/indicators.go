package quality

import (
	"os"
	"path/filepath"
	"strings"
)

// Indicators is the boolean bundle of project hygiene signals.
type Indicators struct {
	Readme       bool `json:"readme"`
	License      bool `json:"license"`
	Tests        bool `json:"tests"`
	CI           bool `json:"ci"`
	Docs         bool `json:"docs"`
	Changelog    bool `json:"changelog"`
	Contributing bool `json:"contributing"`
	Security     bool `json:"security"`
	PackageJSON  bool `json:"package_json"`
	Docker       bool `json:"docker"`
	Linting      bool `json:"linting"`
	TypeHints    bool `json:"type_hints"`
}

var lintConfigNames = []string{
	".eslintrc", ".eslintrc.js", ".eslintrc.json", ".eslintrc.yml",
	"eslint.config.js", "eslint.config.mjs",
	".golangci.yml", ".golangci.yaml",
	".flake8", "ruff.toml", ".ruff.toml", ".pylintrc",
	".rubocop.yml", "clippy.toml",
}

var dockerNames = []string{"Dockerfile", "docker-compose.yml", "docker-compose.yaml", "compose.yaml"}

// ScanIndicators inspects a project directory for the indicator bundle.
func ScanIndicators(dir string) Indicators {
	ind := Indicators{
		Readme:  HasReadme(dir),
		License: hasLicenseFile(dir),
		Tests:   hasTestDir(dir),
		CI:      hasCIConfig(dir),
	}
	if info, err := os.Stat(filepath.Join(dir, "docs")); err == nil && info.IsDir() {
		ind.Docs = true
	}
	ind.Changelog = hasFilePrefix(dir, "changelog")
	ind.Contributing = hasFilePrefix(dir, "contributing")
	ind.Security = hasFilePrefix(dir, "security")
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		ind.PackageJSON = true
	}
	for _, name := range dockerNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			ind.Docker = true
			break
		}
	}
	for _, name := range lintConfigNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			ind.Linting = true
			break
		}
	}
	for _, name := range []string{"py.typed", "tsconfig.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			ind.TypeHints = true
			break
		}
	}
	return ind
}

func hasFilePrefix(dir, prefix string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	return false
}

// Completeness is the 0-100 weighted presence score of the bundle. Type
// hints are tracked but carry no weight.
func (ind Indicators) Completeness() float64 {
	score := 0.0
	add := func(present bool, weight float64) {
		if present {
			score += weight
		}
	}
	add(ind.Readme, 15)
	add(ind.License, 10)
	add(ind.Tests, 20)
	add(ind.CI, 15)
	add(ind.Docs, 10)
	add(ind.Changelog, 5)
	add(ind.Contributing, 5)
	add(ind.Security, 5)
	add(ind.PackageJSON, 5)
	add(ind.Docker, 5)
	add(ind.Linting, 5)
	if score > 100 {
		score = 100
	}
	return score
}

// Missing lists the names of absent indicators, for fallback assessments.
func (ind Indicators) Missing() []string {
	var out []string
	entries := []struct {
		present bool
		name    string
	}{
		{ind.Readme, "README"},
		{ind.License, "LICENSE"},
		{ind.Tests, "tests"},
		{ind.CI, "CI/CD configuration"},
		{ind.Docs, "docs directory"},
		{ind.Changelog, "CHANGELOG"},
		{ind.Contributing, "CONTRIBUTING guide"},
		{ind.Security, "SECURITY policy"},
		{ind.Docker, "Docker artifacts"},
		{ind.Linting, "lint configuration"},
	}
	for _, e := range entries {
		if !e.present {
			out = append(out, e.name)
		}
	}
	return out
}

// Map renders the bundle as a generic map for JSON storage on the project
// row.
func (ind Indicators) Map() map[string]interface{} {
	return map[string]interface{}{
		"readme":       ind.Readme,
		"license":      ind.License,
		"tests":        ind.Tests,
		"ci":           ind.CI,
		"docs":         ind.Docs,
		"changelog":    ind.Changelog,
		"contributing": ind.Contributing,
		"security":     ind.Security,
		"package_json": ind.PackageJSON,
		"docker":       ind.Docker,
		"linting":      ind.Linting,
		"type_hints":   ind.TypeHints,
	}
}
