package catalog

import (
	"strings"
)

// KeywordHit is one row from the keyword index, ranked best-first.
type KeywordHit struct {
	ProjectID string
	// Rank is the relevance score, higher is better. BM25 from FTS5 is
	// lower-is-better, so the sign is inverted here.
	Rank float64
}

// KeywordSearch runs the org-scoped keyword query. With FTS5 available it
// ranks by BM25; otherwise it degrades to case-insensitive substring match
// over name, title, description and path.
func (s *Session) KeywordSearch(orgID, query string, limit int) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.store.ftsEnabled {
		hits, err := s.ftsSearch(orgID, query, limit)
		if err == nil {
			return hits, nil
		}
		// Malformed match expressions should not fail the search.
	}
	return s.substringSearch(orgID, query, limit)
}

func (s *Session) ftsSearch(orgID, query string, limit int) ([]KeywordHit, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.query(`SELECT p.id, bm25(catalog_projects_fts) AS rank
		FROM catalog_projects_fts f
		JOIN catalog_projects p ON p.rowid = f.rowid
		WHERE catalog_projects_fts MATCH ? AND p.organization_id = ?
		ORDER BY rank ASC LIMIT ?`, match, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var hit KeywordHit
		var bm25 float64
		if err := rows.Scan(&hit.ProjectID, &bm25); err != nil {
			return nil, err
		}
		hit.Rank = -bm25
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *Session) substringSearch(orgID, query string, limit int) ([]KeywordHit, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.query(`SELECT id FROM catalog_projects
		WHERE organization_id = ? AND (
			lower(name) LIKE ? OR lower(ifnull(title,'')) LIKE ?
			OR lower(ifnull(description,'')) LIKE ? OR lower(path) LIKE ?
		) ORDER BY name LIMIT ?`, orgID, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeywordHit
	rank := 0.0
	for rows.Next() {
		var hit KeywordHit
		if err := rows.Scan(&hit.ProjectID); err != nil {
			return nil, err
		}
		hit.Rank = -rank // preserve listing order
		rank++
		out = append(out, hit)
	}
	return out, rows.Err()
}

// ftsMatchExpr builds a safe FTS5 match expression: each token quoted,
// joined with OR so any keyword can contribute.
func ftsMatchExpr(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '"', '\'', '(', ')', '*', ':', '^', '-':
			return true
		}
		return false
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
