package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It searches canonical version rows only: merged, mainline, not retired.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across canonical document and category
// versions using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "dv.fts @@ " + tsQuery +
			" AND dv.status = 'merged' AND dv.branch_id IS NULL AND dv.superseded_at IS NULL AND NOT dv.deleted"
		if q.WorkspaceID != "" {
			docWhere += fmt.Sprintf(" AND dv.workspace_id = $%d", argN)
			args = append(args, q.WorkspaceID)
			argN++
		}
		if q.FilterCategoryID != "" {
			docWhere += fmt.Sprintf(" AND dv.category_entity_id = $%d", argN)
			args = append(args, q.FilterCategoryID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, dv.entity_id, dv.title,
				ts_headline('english', coalesce(dv.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				dv.slug, coalesce(dv.category_entity_id, '') AS category_id, dv.workspace_id,
				ts_rank(dv.fts, %s) AS rank
			FROM document_versions dv
			WHERE %s`, tsQuery, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultCategory {
		catWhere := "to_tsvector('english', cv.title || ' ' || coalesce(cv.description, '')) @@ " + tsQuery +
			" AND cv.status = 'merged' AND cv.branch_id IS NULL AND cv.superseded_at IS NULL AND NOT cv.deleted"
		if q.WorkspaceID != "" {
			catWhere += fmt.Sprintf(" AND cv.workspace_id = $%d", argN)
			args = append(args, q.WorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'category'::text AS type, cv.entity_id, cv.title,
				ts_headline('english', coalesce(cv.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cv.slug, ''::text AS category_id, cv.workspace_id,
				ts_rank(to_tsvector('english', cv.title || ' ' || coalesce(cv.description, '')), %s) AS rank
			FROM category_versions cv
			WHERE %s`, tsQuery, tsQuery, catWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, entity_id, title, snippet, slug, category_id, workspace_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.EntityID, &r.Title, &r.Snippet, &r.Slug, &r.CategoryID, &r.WorkspaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all canonical records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CategoryRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT entity_id, title, slug, description, coalesce(category_entity_id, ''), workspace_id
		FROM document_versions
		WHERE status = 'merged' AND branch_id IS NULL AND superseded_at IS NULL AND NOT deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.EntityID, &d.Title, &d.Slug, &d.Description, &d.CategoryID, &d.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	catRows, err := p.db.QueryContext(ctx, `
		SELECT entity_id, title, slug, description, workspace_id
		FROM category_versions
		WHERE status = 'merged' AND branch_id IS NULL AND superseded_at IS NULL AND NOT deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load categories: %w", err)
	}
	defer catRows.Close()

	categories := make([]CategoryRecord, 0)
	for catRows.Next() {
		var c CategoryRecord
		if err := catRows.Scan(&c.EntityID, &c.Title, &c.Slug, &c.Description, &c.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := catRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate categories: %w", err)
	}

	return documents, categories, nil
}
