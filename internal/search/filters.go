package search

import (
	"strings"
)

// Filters narrows a natural-language search. Zero values mean "no
// constraint"; pointers distinguish absent from false/zero.
type Filters struct {
	Languages      []string `json:"languages,omitempty"`
	Type           string   `json:"type,omitempty"`
	Lifecycle      string   `json:"lifecycle,omitempty"`
	HasTests       *bool    `json:"has_tests,omitempty"`
	MinHealthScore *float64 `json:"min_health_score,omitempty"`
}

// IsEmpty reports whether no constraint is set.
func (f Filters) IsEmpty() bool {
	return len(f.Languages) == 0 && f.Type == "" && f.Lifecycle == "" &&
		f.HasTests == nil && f.MinHealthScore == nil
}

// applyFilters keeps the results matching every set constraint. All string
// comparisons are case-insensitive.
func applyFilters(results []Result, f Filters) []Result {
	if f.IsEmpty() {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r Result, f Filters) bool {
	p := r.Project

	if len(f.Languages) > 0 {
		have := lowerSet(append(append([]string{}, p.Languages...), p.Frameworks...))
		found := false
		for _, want := range f.Languages {
			if have[strings.ToLower(strings.TrimSpace(want))] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Type != "" && !typeMatches(string(p.Type), f.Type) {
		return false
	}

	if f.Lifecycle != "" && !strings.EqualFold(string(p.Lifecycle), f.Lifecycle) {
		return false
	}

	if f.HasTests != nil {
		has := false
		if p.Indicators != nil {
			has, _ = p.Indicators["tests"].(bool)
		}
		if has != *f.HasTests {
			return false
		}
	}

	if f.MinHealthScore != nil {
		// Unscored projects never satisfy a health threshold.
		if p.HealthScore == nil || *p.HealthScore < *f.MinHealthScore {
			return false
		}
	}
	return true
}

// typeMatches supports partial matching in both directions, so "web"
// matches "web_app" and vice versa.
func typeMatches(have, want string) bool {
	have = strings.ToLower(strings.TrimSpace(have))
	want = strings.ToLower(strings.TrimSpace(want))
	if have == "" || want == "" {
		return false
	}
	return strings.Contains(have, want) || strings.Contains(want, have)
}

func lowerSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return out
}
