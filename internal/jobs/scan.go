package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"

	"codeatlas/internal/catalog"
	"codeatlas/internal/discovery"
	"codeatlas/internal/logging"
	"codeatlas/internal/manifest"
	"codeatlas/internal/quality"
)

// Scan walks the paths in the job parameters, inserting newly discovered
// projects and updating known ones. Each path commits independently; a
// failing path rolls back and is recorded without aborting the rest.
func (h *Handlers) Scan(ctx context.Context, session *catalog.Session, job *catalog.Job) (map[string]interface{}, error) {
	paths := resultStrings(job.Result, "paths")
	if len(paths) == 0 {
		return map[string]interface{}{
			"status": StatusSkipped,
			"reason": "no paths to scan",
		}, nil
	}

	names, err := session.ListProjectNames(job.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list project names: %w", err)
	}

	opts := h.walkOpts
	if depth := resultInt(job.Result, "max_depth"); depth > 0 {
		opts.MaxDepth = depth
	}

	var discovered, created, updated int
	var errs []string

	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found := discovery.Walk(root, opts)
		discovered += len(found)

		// Counters and synthesized names are folded in only once the
		// path's transaction commits; a rollback discards both.
		var pathCreated, pathUpdated int
		var pathNames []string
		pathFailed := false
		for _, d := range found {
			c, u, name, err := h.upsertProject(session, job.OrgID, d, names)
			if err != nil {
				errs = recordError(errs, "%s: %v", d.Path, err)
				pathFailed = true
				break
			}
			pathCreated += c
			pathUpdated += u
			if name != "" {
				pathNames = append(pathNames, name)
			}
		}
		if !pathFailed {
			if err := session.Commit(); err != nil {
				errs = recordError(errs, "%s: commit: %v", root, err)
				pathFailed = true
			}
		}
		if pathFailed {
			session.Rollback()
			for _, name := range pathNames {
				delete(names, name)
			}
			continue
		}
		created += pathCreated
		updated += pathUpdated
	}

	logging.Scan("scan for org %s: %d discovered, %d created, %d updated, %d errors",
		job.OrgID, discovered, created, updated, len(errs))

	result := map[string]interface{}{
		"status":     StatusCompleted,
		"discovered": discovered,
		"created":    created,
		"updated":    updated,
	}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result, nil
}

// upsertProject inserts or updates one discovered project. names tracks the
// org's project names across the whole batch so synthesized names stay
// unique within it; name is non-empty for inserts so the caller can release
// it if the path's transaction rolls back.
func (h *Handlers) upsertProject(session *catalog.Session, orgID string, d discovery.Discovered, names map[string]bool) (created, updated int, name string, err error) {
	existing, err := session.GetProjectByPath(orgID, d.Path)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return 0, 0, "", err
	}

	if existing != nil {
		applyManifest(existing, d.Manifest)
		h.recomputeHealth(existing)
		if err := session.UpdateProject(existing); err != nil {
			return 0, 0, "", err
		}
		return 0, 1, "", nil
	}

	p := &catalog.Project{
		OrgID: orgID,
		Name:  uniqueName(d.Manifest.Name, d.Path, names),
		Path:  d.Path,
	}
	applyManifest(p, d.Manifest)
	h.recomputeHealth(p)
	if err := h.insertProject(session, p); err != nil {
		return 0, 0, "", err
	}
	names[p.Name] = true
	return 1, 0, p.Name, nil
}

// applyManifest copies the manifest's mutable fields onto the project,
// normalizing tech lists on the way.
func applyManifest(p *catalog.Project, m *manifest.Manifest) {
	if m.Title != "" {
		p.Title = m.Title
	}
	if m.Description != "" {
		p.Description = m.Description
	}
	if len(m.Languages) > 0 {
		p.Languages = catalog.NormalizeTechList(m.Languages)
	}
	if len(m.Frameworks) > 0 {
		p.Frameworks = catalog.MergeTechLists(p.Frameworks, m.Frameworks)
	}
	if len(m.Keywords) > 0 {
		p.Tags = catalog.MergeTechLists(p.Tags, m.Keywords)
	}
	if m.License != "" {
		p.LicenseSPDX = m.License
	}
	if m.RepositoryURL != "" {
		p.RepositoryURL = m.RepositoryURL
	}
	if t, ok := m.Extra["type"].(string); ok && t != "" {
		p.Type = catalog.ParseProjectType(t)
	}
	if l, ok := m.Extra["lifecycle"].(string); ok && l != "" {
		p.Lifecycle = catalog.Lifecycle(strings.ToLower(l))
	}
}

// recomputeHealth refreshes the health score and sync timestamp.
func (h *Handlers) recomputeHealth(p *catalog.Project) {
	now := h.now()
	score := quality.HealthScore(p, now)
	p.HealthScore = &score
	p.LastSyncedAt = &now
}

// uniqueName synthesizes a project name not yet present in names. The base
// name is tried first, then base-parent, then numbered variants, then a
// path-hash suffix as the last resort.
func uniqueName(base, path string, names map[string]bool) string {
	base = slugify(base)
	if base == "" {
		base = slugify(filepath.Base(path))
	}
	if base == "" {
		base = "project"
	}
	if !names[base] {
		return base
	}

	parent := slugify(filepath.Base(filepath.Dir(path)))
	if parent != "" {
		withParent := base + "-" + parent
		if !names[withParent] {
			return withParent
		}
		for i := 2; i <= 10; i++ {
			numbered := fmt.Sprintf("%s-%s-%d", base, parent, i)
			if !names[numbered] {
				return numbered
			}
		}
	}

	hash := fnv.New32a()
	hash.Write([]byte(path))
	return fmt.Sprintf("%s-%08x", base, hash.Sum32())
}

// slugify lowercases and strips characters that do not belong in a name.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
