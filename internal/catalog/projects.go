package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const projectColumns = `id, organization_id, name, title, description, path, type, lifecycle,
	languages, frameworks, tags, repository_url, default_branch, license_spdx,
	health_score, quality_score, loc_total, file_count, avg_complexity, test_coverage,
	production_readiness, quality_assessment, quality_indicators,
	last_synced_at, last_commit_at, last_commit_sha, last_quality_check_at,
	extra_metadata, created_at, updated_at`

// InsertProject inserts a new project row. Languages, frameworks and tags are
// normalized on write. Returns ErrConflict on a name or path collision.
func (s *Session) InsertProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = TypeOther
	}
	if p.Lifecycle == "" {
		p.Lifecycle = LifecycleActive
	}
	if p.Readiness == "" {
		p.Readiness = ReadinessUnknown
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Languages = NormalizeTechList(p.Languages)
	p.Frameworks = NormalizeTechList(p.Frameworks)

	_, err := s.exec(`INSERT INTO catalog_projects (`+projectColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, nullable(p.Title), nullable(p.Description), p.Path,
		string(p.Type), string(p.Lifecycle),
		jsonColumn(p.Languages), jsonColumn(p.Frameworks), jsonColumn(p.Tags),
		nullable(p.RepositoryURL), nullable(p.DefaultBranch), nullable(p.LicenseSPDX),
		p.HealthScore, p.QualityScore, p.LOCTotal, p.FileCount, p.AvgComplexity, p.TestCoverage,
		string(p.Readiness), jsonColumn(p.QualityReport), jsonColumn(p.Indicators),
		p.LastSyncedAt, p.LastCommitAt, nullable(p.LastCommitSHA), p.LastQualityAt,
		jsonColumn(p.ExtraMetadata), p.CreatedAt, p.UpdatedAt)
	if isConstraint(err) {
		return fmt.Errorf("%w: project %q at %q", ErrConflict, p.Name, p.Path)
	}
	return err
}

// UpdateProject writes back every mutable field of p. Tech lists are
// normalized on write.
func (s *Session) UpdateProject(p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	p.Languages = NormalizeTechList(p.Languages)
	p.Frameworks = NormalizeTechList(p.Frameworks)

	res, err := s.exec(`UPDATE catalog_projects SET
		name=?, title=?, description=?, path=?, type=?, lifecycle=?,
		languages=?, frameworks=?, tags=?, repository_url=?, default_branch=?, license_spdx=?,
		health_score=?, quality_score=?, loc_total=?, file_count=?, avg_complexity=?, test_coverage=?,
		production_readiness=?, quality_assessment=?, quality_indicators=?,
		last_synced_at=?, last_commit_at=?, last_commit_sha=?, last_quality_check_at=?,
		extra_metadata=?, updated_at=?
		WHERE id=? AND organization_id=?`,
		p.Name, nullable(p.Title), nullable(p.Description), p.Path, string(p.Type), string(p.Lifecycle),
		jsonColumn(p.Languages), jsonColumn(p.Frameworks), jsonColumn(p.Tags),
		nullable(p.RepositoryURL), nullable(p.DefaultBranch), nullable(p.LicenseSPDX),
		p.HealthScore, p.QualityScore, p.LOCTotal, p.FileCount, p.AvgComplexity, p.TestCoverage,
		string(p.Readiness), jsonColumn(p.QualityReport), jsonColumn(p.Indicators),
		p.LastSyncedAt, p.LastCommitAt, nullable(p.LastCommitSHA), p.LastQualityAt,
		jsonColumn(p.ExtraMetadata), p.UpdatedAt,
		p.ID, p.OrgID)
	if isConstraint(err) {
		return fmt.Errorf("%w: project %q at %q", ErrConflict, p.Name, p.Path)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: project %s", ErrNotFound, p.ID)
	}
	return nil
}

// GetProject fetches one project by id within an org.
func (s *Session) GetProject(orgID, id string) (*Project, error) {
	row, err := s.queryRow(`SELECT `+projectColumns+` FROM catalog_projects WHERE organization_id=? AND id=?`, orgID, id)
	if err != nil {
		return nil, err
	}
	return scanProject(row)
}

// GetProjectByPath fetches one project by its absolute path within an org.
func (s *Session) GetProjectByPath(orgID, path string) (*Project, error) {
	row, err := s.queryRow(`SELECT `+projectColumns+` FROM catalog_projects WHERE organization_id=? AND path=?`, orgID, path)
	if err != nil {
		return nil, err
	}
	return scanProject(row)
}

// ListProjects returns all projects for an org, ordered by name.
func (s *Session) ListProjects(orgID string) ([]*Project, error) {
	rows, err := s.query(`SELECT `+projectColumns+` FROM catalog_projects WHERE organization_id=? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjectNames returns the set of project names in an org. The scan
// handler uses it for collision-free name synthesis.
func (s *Session) ListProjectNames(orgID string) (map[string]bool, error) {
	rows, err := s.query(`SELECT name FROM catalog_projects WHERE organization_id=?`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// DeleteProject removes a project by id within an org.
func (s *Session) DeleteProject(orgID, id string) error {
	res, err := s.exec(`DELETE FROM catalog_projects WHERE organization_id=? AND id=?`, orgID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	return nil
}

func nullable(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(r rowScanner) (*Project, error) {
	var p Project
	var title, description, repoURL, branch, license, sha sql.NullString
	var langs, fws, tags, report, indicators, extra sql.NullString
	var typ, lifecycle, readiness string
	var syncedAt, commitAt, qualityAt sql.NullTime

	err := r.Scan(&p.ID, &p.OrgID, &p.Name, &title, &description, &p.Path, &typ, &lifecycle,
		&langs, &fws, &tags, &repoURL, &branch, &license,
		&p.HealthScore, &p.QualityScore, &p.LOCTotal, &p.FileCount, &p.AvgComplexity, &p.TestCoverage,
		&readiness, &report, &indicators,
		&syncedAt, &commitAt, &sha, &qualityAt,
		&extra, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Title = title.String
	p.Description = description.String
	p.Type = ProjectType(typ)
	p.Lifecycle = Lifecycle(lifecycle)
	p.Readiness = Readiness(readiness)
	p.Languages = scanStringList(langs)
	p.Frameworks = scanStringList(fws)
	p.Tags = scanStringList(tags)
	p.RepositoryURL = repoURL.String
	p.DefaultBranch = branch.String
	p.LicenseSPDX = license.String
	p.LastCommitSHA = sha.String
	p.QualityReport = scanMap(report)
	p.Indicators = scanMap(indicators)
	p.ExtraMetadata = scanMap(extra)
	if syncedAt.Valid {
		t := syncedAt.Time
		p.LastSyncedAt = &t
	}
	if commitAt.Valid {
		t := commitAt.Time
		p.LastCommitAt = &t
	}
	if qualityAt.Valid {
		t := qualityAt.Time
		p.LastQualityAt = &t
	}
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*Project, error) {
	return scanProject(rows)
}
