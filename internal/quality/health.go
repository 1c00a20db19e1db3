// Package quality scores projects: a deterministic health score from
// filesystem signals, a boolean indicator bundle with a completeness score,
// and an optional LLM assessment composed into an overall quality score.
package quality

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeatlas/internal/catalog"
)

// Health score weights. The score is reported as a percentage of the
// attainable maximum.
const (
	weightReadme      = 15
	weightLicense     = 10
	weightTests       = 15
	weightCI          = 10
	weightDescription = 10
	weightLanguages   = 5
	weightFrameworks  = 5
	weightCommitMax   = 20

	healthMax = weightReadme + weightLicense + weightTests + weightCI +
		weightDescription + weightLanguages + weightFrameworks + weightCommitMax
)

var testDirNames = []string{"tests", "test", "spec", "__tests__"}

var ciPaths = []string{
	filepath.Join(".github", "workflows"),
	".gitlab-ci.yml",
	"Jenkinsfile",
	".circleci",
}

// HealthScore computes the 0-100 health score for a project rooted at its
// catalog path.
func HealthScore(p *catalog.Project, now time.Time) float64 {
	score := 0

	if HasReadme(p.Path) {
		score += weightReadme
	}
	if p.LicenseSPDX != "" || hasLicenseFile(p.Path) {
		score += weightLicense
	}
	if hasTestDir(p.Path) {
		score += weightTests
	}
	if hasCIConfig(p.Path) {
		score += weightCI
	}
	if strings.TrimSpace(p.Description) != "" {
		score += weightDescription
	}
	if p.LastCommitAt != nil {
		score += commitRecencyPoints(now.Sub(*p.LastCommitAt))
	}
	if len(p.Languages) > 0 {
		score += weightLanguages
	}
	if len(p.Frameworks) > 0 {
		score += weightFrameworks
	}

	return float64(score) / float64(healthMax) * 100
}

func commitRecencyPoints(age time.Duration) int {
	switch {
	case age < 0:
		return weightCommitMax
	case age < 7*24*time.Hour:
		return 20
	case age < 30*24*time.Hour:
		return 15
	case age < 90*24*time.Hour:
		return 10
	case age < 365*24*time.Hour:
		return 5
	}
	return 0
}

// HasReadme reports whether the directory contains a README.* file.
func HasReadme(dir string) bool {
	return readmePath(dir) != ""
}

// ReadReadme returns the README contents, or "" when absent or unreadable.
func ReadReadme(dir string) string {
	path := readmePath(dir)
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func readmePath(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if name == "readme" || strings.HasPrefix(name, "readme.") {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

func hasLicenseFile(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if name == "license" || strings.HasPrefix(name, "license.") ||
			name == "copying" || name == "licence" {
			return true
		}
	}
	return false
}

func hasTestDir(dir string) bool {
	for _, name := range testDirNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func hasCIConfig(dir string) bool {
	for _, rel := range ciPaths {
		if _, err := os.Stat(filepath.Join(dir, rel)); err == nil {
			return true
		}
	}
	return false
}
