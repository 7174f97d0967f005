package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"folio/api/internal/util"
)

// Resolution tiers, lowest wins. The resolver in the app layer picks the
// best candidate; the store only fetches them.
const (
	TierEditSession = 0
	TierBranch      = 1
	TierCanonical   = 2
)

type DocumentCandidate struct {
	Tier    int
	Version DocumentVersion
}

type CategoryCandidate struct {
	Tier    int
	Version CategoryVersion
}

const documentVersionCols = `id, entity_id, workspace_id, branch_id, category_entity_id, title, slug, description, status, deleted, position, edit_session_id, superseded_at, created_by, created_at`

const categoryVersionCols = `id, entity_id, workspace_id, branch_id, parent_entity_id, title, slug, description, status, deleted, edit_session_id, superseded_at, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocumentVersion(row rowScanner, v *DocumentVersion) error {
	return row.Scan(
		&v.ID, &v.EntityID, &v.WorkspaceID, &v.BranchID, &v.CategoryEntityID,
		&v.Title, &v.Slug, &v.Description, &v.Status, &v.Deleted, &v.Position,
		&v.EditSessionID, &v.SupersededAt, &v.CreatedBy, &v.CreatedAt,
	)
}

func scanCategoryVersion(row rowScanner, v *CategoryVersion) error {
	return row.Scan(
		&v.ID, &v.EntityID, &v.WorkspaceID, &v.BranchID, &v.ParentEntityID,
		&v.Title, &v.Slug, &v.Description, &v.Status, &v.Deleted,
		&v.EditSessionID, &v.SupersededAt, &v.CreatedBy, &v.CreatedAt,
	)
}

func (s *PostgresStore) GetDocumentEntity(ctx context.Context, entityID string) (DocumentEntity, error) {
	var e DocumentEntity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, deleted, created_at FROM document_entities WHERE id=$1
	`, entityID).Scan(&e.ID, &e.WorkspaceID, &e.Deleted, &e.CreatedAt)
	if err != nil {
		return DocumentEntity{}, err
	}
	return e, nil
}

func (s *PostgresStore) GetCategoryEntity(ctx context.Context, entityID string) (CategoryEntity, error) {
	var e CategoryEntity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, deleted, created_at FROM category_entities WHERE id=$1
	`, entityID).Scan(&e.ID, &e.WorkspaceID, &e.Deleted, &e.CreatedAt)
	if err != nil {
		return CategoryEntity{}, err
	}
	return e, nil
}

func (s *PostgresStore) GetDocumentVersion(ctx context.Context, versionID string) (DocumentVersion, error) {
	var v DocumentVersion
	row := s.db.QueryRowContext(ctx, `SELECT `+documentVersionCols+` FROM document_versions WHERE id=$1`, versionID)
	if err := scanDocumentVersion(row, &v); err != nil {
		return DocumentVersion{}, err
	}
	return v, nil
}

func (s *PostgresStore) GetCategoryVersion(ctx context.Context, versionID string) (CategoryVersion, error) {
	var v CategoryVersion
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryVersionCols+` FROM category_versions WHERE id=$1`, versionID)
	if err := scanCategoryVersion(row, &v); err != nil {
		return CategoryVersion{}, err
	}
	return v, nil
}

// GetCanonicalDocumentVersion returns the entity's current mainline version,
// or (nil, nil) when the entity has never been merged.
func (s *PostgresStore) GetCanonicalDocumentVersion(ctx context.Context, entityID string) (*DocumentVersion, error) {
	var v DocumentVersion
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentVersionCols+` FROM document_versions
		WHERE entity_id=$1 AND status='merged' AND branch_id IS NULL AND superseded_at IS NULL
	`, entityID)
	err := scanDocumentVersion(row, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical document version: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) GetCanonicalCategoryVersion(ctx context.Context, entityID string) (*CategoryVersion, error) {
	var v CategoryVersion
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryVersionCols+` FROM category_versions
		WHERE entity_id=$1 AND status='merged' AND branch_id IS NULL AND superseded_at IS NULL
	`, entityID)
	err := scanCategoryVersion(row, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical category version: %w", err)
	}
	return &v, nil
}

// ListCanonicalWorkspace returns every live canonical version in the
// workspace, deleted entities excluded. The git mirror snapshot and the
// search reindex read this.
func (s *PostgresStore) ListCanonicalWorkspace(ctx context.Context, workspaceID string) ([]DocumentVersion, []CategoryVersion, error) {
	docRows, err := s.db.QueryContext(ctx, `
		SELECT `+documentVersionCols+` FROM document_versions
		WHERE workspace_id=$1 AND status='merged' AND branch_id IS NULL AND superseded_at IS NULL AND NOT deleted
		ORDER BY category_entity_id NULLS FIRST, position ASC
	`, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list canonical documents: %w", err)
	}
	defer docRows.Close()

	docs := make([]DocumentVersion, 0)
	for docRows.Next() {
		var v DocumentVersion
		if err := scanDocumentVersion(docRows, &v); err != nil {
			return nil, nil, fmt.Errorf("scan canonical document: %w", err)
		}
		docs = append(docs, v)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate canonical documents: %w", err)
	}

	catRows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryVersionCols+` FROM category_versions
		WHERE workspace_id=$1 AND status='merged' AND branch_id IS NULL AND superseded_at IS NULL AND NOT deleted
		ORDER BY title ASC
	`, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list canonical categories: %w", err)
	}
	defer catRows.Close()

	cats := make([]CategoryVersion, 0)
	for catRows.Next() {
		var v CategoryVersion
		if err := scanCategoryVersion(catRows, &v); err != nil {
			return nil, nil, fmt.Errorf("scan canonical category: %w", err)
		}
		cats = append(cats, v)
	}
	if err := catRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate canonical categories: %w", err)
	}
	return docs, cats, nil
}

// ListDocumentVersionCandidates fetches up to one candidate per resolution
// tier for a single entity. branchID and sessionID may be empty.
func (s *PostgresStore) ListDocumentVersionCandidates(ctx context.Context, entityID, branchID, sessionID string) ([]DocumentCandidate, error) {
	candidates := make([]DocumentCandidate, 0, 3)

	if sessionID != "" {
		var v DocumentVersion
		row := s.db.QueryRowContext(ctx, `
			SELECT `+documentVersionCols+` FROM document_versions
			WHERE entity_id=$1 AND edit_session_id=$2
			ORDER BY created_at DESC
			LIMIT 1
		`, entityID, sessionID)
		switch err := scanDocumentVersion(row, &v); {
		case err == nil:
			candidates = append(candidates, DocumentCandidate{Tier: TierEditSession, Version: v})
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("session candidate: %w", err)
		}
	}

	if branchID != "" {
		var v DocumentVersion
		row := s.db.QueryRowContext(ctx, `
			SELECT `+prefixCols("v", documentVersionCols)+`
			FROM edit_index_entries e
			JOIN document_versions v ON v.id = e.current_version_id
			WHERE e.branch_id=$1 AND e.target_kind='document' AND e.entity_id=$2
			  AND v.status IN ('draft', 'pushed')
			ORDER BY e.created_at DESC
			LIMIT 1
		`, branchID, entityID)
		switch err := scanDocumentVersion(row, &v); {
		case err == nil:
			candidates = append(candidates, DocumentCandidate{Tier: TierBranch, Version: v})
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("branch candidate: %w", err)
		}
	}

	canonical, err := s.GetCanonicalDocumentVersion(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if canonical != nil {
		candidates = append(candidates, DocumentCandidate{Tier: TierCanonical, Version: *canonical})
	}
	return candidates, nil
}

func (s *PostgresStore) ListCategoryVersionCandidates(ctx context.Context, entityID, branchID, sessionID string) ([]CategoryCandidate, error) {
	candidates := make([]CategoryCandidate, 0, 3)

	if sessionID != "" {
		var v CategoryVersion
		row := s.db.QueryRowContext(ctx, `
			SELECT `+categoryVersionCols+` FROM category_versions
			WHERE entity_id=$1 AND edit_session_id=$2
			ORDER BY created_at DESC
			LIMIT 1
		`, entityID, sessionID)
		switch err := scanCategoryVersion(row, &v); {
		case err == nil:
			candidates = append(candidates, CategoryCandidate{Tier: TierEditSession, Version: v})
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("session candidate: %w", err)
		}
	}

	if branchID != "" {
		var v CategoryVersion
		row := s.db.QueryRowContext(ctx, `
			SELECT `+prefixCols("v", categoryVersionCols)+`
			FROM edit_index_entries e
			JOIN category_versions v ON v.id = e.current_version_id
			WHERE e.branch_id=$1 AND e.target_kind='category' AND e.entity_id=$2
			  AND v.status IN ('draft', 'pushed')
			ORDER BY e.created_at DESC
			LIMIT 1
		`, branchID, entityID)
		switch err := scanCategoryVersion(row, &v); {
		case err == nil:
			candidates = append(candidates, CategoryCandidate{Tier: TierBranch, Version: v})
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("branch candidate: %w", err)
		}
	}

	canonical, err := s.GetCanonicalCategoryVersion(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if canonical != nil {
		candidates = append(candidates, CategoryCandidate{Tier: TierCanonical, Version: *canonical})
	}
	return candidates, nil
}

// ListDocumentCandidatesByCategory fetches tiered candidates for every
// entity that has any version filed under the category. Rows are ordered
// tier-first then newest-first so the caller keeps the first row per
// (entity, tier).
func (s *PostgresStore) ListDocumentCandidatesByCategory(ctx context.Context, workspaceID, categoryEntityID, branchID, sessionID string) ([]DocumentCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, `+documentVersionCols+` FROM (
			SELECT 0 AS tier, v.*
			FROM document_versions v
			WHERE v.workspace_id=$1 AND NULLIF($4, '') IS NOT NULL AND v.edit_session_id=$4
			UNION ALL
			SELECT 1 AS tier, v.*
			FROM edit_index_entries e
			JOIN document_versions v ON v.id = e.current_version_id
			WHERE NULLIF($3, '') IS NOT NULL AND e.branch_id=$3 AND e.target_kind='document'
			  AND v.status IN ('draft', 'pushed')
			UNION ALL
			SELECT 2 AS tier, v.*
			FROM document_versions v
			WHERE v.workspace_id=$1 AND v.status='merged' AND v.branch_id IS NULL AND v.superseded_at IS NULL
		) c
		WHERE c.entity_id IN (
			SELECT entity_id FROM document_versions WHERE category_entity_id=$2
		)
		ORDER BY tier ASC, created_at DESC
	`, workspaceID, categoryEntityID, branchID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list document candidates: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentCandidate, 0)
	for rows.Next() {
		var c DocumentCandidate
		if err := rows.Scan(
			&c.Tier,
			&c.Version.ID, &c.Version.EntityID, &c.Version.WorkspaceID, &c.Version.BranchID, &c.Version.CategoryEntityID,
			&c.Version.Title, &c.Version.Slug, &c.Version.Description, &c.Version.Status, &c.Version.Deleted, &c.Version.Position,
			&c.Version.EditSessionID, &c.Version.SupersededAt, &c.Version.CreatedBy, &c.Version.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document candidate: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document candidates: %w", err)
	}
	return items, nil
}

// ListCategoryCandidatesByParent works like the document variant, keyed by
// parent category. parentEntityID may be empty for root categories.
func (s *PostgresStore) ListCategoryCandidatesByParent(ctx context.Context, workspaceID, parentEntityID, branchID, sessionID string) ([]CategoryCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, `+categoryVersionCols+` FROM (
			SELECT 0 AS tier, v.*
			FROM category_versions v
			WHERE v.workspace_id=$1 AND NULLIF($4, '') IS NOT NULL AND v.edit_session_id=$4
			UNION ALL
			SELECT 1 AS tier, v.*
			FROM edit_index_entries e
			JOIN category_versions v ON v.id = e.current_version_id
			WHERE NULLIF($3, '') IS NOT NULL AND e.branch_id=$3 AND e.target_kind='category'
			  AND v.status IN ('draft', 'pushed')
			UNION ALL
			SELECT 2 AS tier, v.*
			FROM category_versions v
			WHERE v.workspace_id=$1 AND v.status='merged' AND v.branch_id IS NULL AND v.superseded_at IS NULL
		) c
		WHERE c.entity_id IN (
			SELECT entity_id FROM category_versions
			WHERE parent_entity_id IS NOT DISTINCT FROM NULLIF($2, '')
		)
		ORDER BY tier ASC, created_at DESC
	`, workspaceID, parentEntityID, branchID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list category candidates: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryCandidate, 0)
	for rows.Next() {
		var c CategoryCandidate
		if err := rows.Scan(
			&c.Tier,
			&c.Version.ID, &c.Version.EntityID, &c.Version.WorkspaceID, &c.Version.BranchID, &c.Version.ParentEntityID,
			&c.Version.Title, &c.Version.Slug, &c.Version.Description, &c.Version.Status, &c.Version.Deleted,
			&c.Version.EditSessionID, &c.Version.SupersededAt, &c.Version.CreatedBy, &c.Version.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan category candidate: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category candidates: %w", err)
	}
	return items, nil
}

// StageDocument carries the fields of a copy-on-write document edit.
type StageDocument struct {
	WorkspaceID       string
	BranchID          string
	EntityID          string
	BaselineVersionID *string
	CategoryEntityID  *string
	Title             string
	Slug              string
	Description       string
	Position          int
	Deleted           bool
	EditSessionID     *string
	CreatedBy         string
}

// StageCategory carries the fields of a copy-on-write category edit.
type StageCategory struct {
	WorkspaceID       string
	BranchID          string
	EntityID          string
	BaselineVersionID *string
	ParentEntityID    *string
	Title             string
	Slug              string
	Description       string
	Deleted           bool
	EditSessionID     *string
	CreatedBy         string
}

// CreateDocumentWithVersion creates the entity, its first draft version,
// and the edit-index entry in one transaction.
func (s *PostgresStore) CreateDocumentWithVersion(ctx context.Context, entityID string, stage StageDocument) (DocumentVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("begin create document tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_entities (id, workspace_id) VALUES ($1, $2)
	`, entityID, stage.WorkspaceID); err != nil {
		return DocumentVersion{}, fmt.Errorf("insert document entity: %w", err)
	}
	stage.EntityID = entityID
	version, err := s.stageDocumentTx(ctx, tx, stage)
	if err != nil {
		return DocumentVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentVersion{}, fmt.Errorf("commit create document tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) CreateCategoryWithVersion(ctx context.Context, entityID string, stage StageCategory) (CategoryVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CategoryVersion{}, fmt.Errorf("begin create category tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO category_entities (id, workspace_id) VALUES ($1, $2)
	`, entityID, stage.WorkspaceID); err != nil {
		return CategoryVersion{}, fmt.Errorf("insert category entity: %w", err)
	}
	stage.EntityID = entityID
	version, err := s.stageCategoryTx(ctx, tx, stage)
	if err != nil {
		return CategoryVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return CategoryVersion{}, fmt.Errorf("commit create category tx: %w", err)
	}
	return version, nil
}

// StageDocumentEdit performs the copy-on-write upsert of §edit-index: a new
// version row always; the uncommitted entry's current pointer moves to it,
// or a fresh entry opens when none is live.
func (s *PostgresStore) StageDocumentEdit(ctx context.Context, stage StageDocument) (DocumentVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("begin stage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := s.stageDocumentTx(ctx, tx, stage)
	if err != nil {
		return DocumentVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentVersion{}, fmt.Errorf("commit stage tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) StageCategoryEdit(ctx context.Context, stage StageCategory) (CategoryVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CategoryVersion{}, fmt.Errorf("begin stage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := s.stageCategoryTx(ctx, tx, stage)
	if err != nil {
		return CategoryVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return CategoryVersion{}, fmt.Errorf("commit stage tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) stageDocumentTx(ctx context.Context, tx *sql.Tx, stage StageDocument) (DocumentVersion, error) {
	var entryID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM edit_index_entries
		WHERE branch_id=$1 AND target_kind='document' AND entity_id=$2 AND commit_id IS NULL
		FOR UPDATE
	`, stage.BranchID, stage.EntityID).Scan(&entryID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return DocumentVersion{}, fmt.Errorf("lookup edit index entry: %w", err)
	}

	versionID := util.NewID("dv")
	var version DocumentVersion
	row := tx.QueryRowContext(ctx, `
		INSERT INTO document_versions
			(id, entity_id, workspace_id, branch_id, category_entity_id, title, slug, description, status, deleted, position, edit_session_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'draft', $9, $10, $11, $12)
		RETURNING `+documentVersionCols+`
	`, versionID, stage.EntityID, stage.WorkspaceID, stage.BranchID, stage.CategoryEntityID,
		stage.Title, stage.Slug, stage.Description, stage.Deleted, stage.Position, stage.EditSessionID, stage.CreatedBy)
	if err := scanDocumentVersion(row, &version); err != nil {
		return DocumentVersion{}, fmt.Errorf("insert document version: %w", err)
	}

	if entryID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE edit_index_entries SET current_version_id=$2, updated_at=NOW() WHERE id=$1
		`, entryID, versionID); err != nil {
			return DocumentVersion{}, fmt.Errorf("update edit index entry: %w", err)
		}
		return version, nil
	}

	prior, hasPrior, err := s.latestEntryBaselineTx(ctx, tx, stage.BranchID, "document", stage.EntityID)
	if err != nil {
		return DocumentVersion{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO edit_index_entries (id, branch_id, target_kind, entity_id, original_version_id, current_version_id)
		VALUES ($1, $2, 'document', $3, $4, $5)
	`, util.NewID("eix"), stage.BranchID, stage.EntityID, freshEntryBaseline(stage.BaselineVersionID, prior, hasPrior), versionID); err != nil {
		return DocumentVersion{}, fmt.Errorf("insert edit index entry: %w", mapConflict(err))
	}
	return version, nil
}

func (s *PostgresStore) stageCategoryTx(ctx context.Context, tx *sql.Tx, stage StageCategory) (CategoryVersion, error) {
	var entryID string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM edit_index_entries
		WHERE branch_id=$1 AND target_kind='category' AND entity_id=$2 AND commit_id IS NULL
		FOR UPDATE
	`, stage.BranchID, stage.EntityID).Scan(&entryID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CategoryVersion{}, fmt.Errorf("lookup edit index entry: %w", err)
	}

	versionID := util.NewID("cv")
	var version CategoryVersion
	row := tx.QueryRowContext(ctx, `
		INSERT INTO category_versions
			(id, entity_id, workspace_id, branch_id, parent_entity_id, title, slug, description, status, deleted, edit_session_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'draft', $9, $10, $11)
		RETURNING `+categoryVersionCols+`
	`, versionID, stage.EntityID, stage.WorkspaceID, stage.BranchID, stage.ParentEntityID,
		stage.Title, stage.Slug, stage.Description, stage.Deleted, stage.EditSessionID, stage.CreatedBy)
	if err := scanCategoryVersion(row, &version); err != nil {
		return CategoryVersion{}, fmt.Errorf("insert category version: %w", err)
	}

	if entryID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE edit_index_entries SET current_version_id=$2, updated_at=NOW() WHERE id=$1
		`, entryID, versionID); err != nil {
			return CategoryVersion{}, fmt.Errorf("update edit index entry: %w", err)
		}
		return version, nil
	}

	prior, hasPrior, err := s.latestEntryBaselineTx(ctx, tx, stage.BranchID, "category", stage.EntityID)
	if err != nil {
		return CategoryVersion{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO edit_index_entries (id, branch_id, target_kind, entity_id, original_version_id, current_version_id)
		VALUES ($1, $2, 'category', $3, $4, $5)
	`, util.NewID("eix"), stage.BranchID, stage.EntityID, freshEntryBaseline(stage.BaselineVersionID, prior, hasPrior), versionID); err != nil {
		return CategoryVersion{}, fmt.Errorf("insert edit index entry: %w", mapConflict(err))
	}
	return version, nil
}

// ShiftResult reports what a move changed. Moved is nil for a no-op.
type ShiftResult struct {
	Moved   *DocumentVersion
	Shifted []DocumentVersion
}

// ShiftDocumentPositions moves the target document to newPosition within
// its category, shifting displaced branch-visible siblings by one. The
// sibling read and every copy-on-write edit happen in one transaction, with
// the underlying version rows locked to serialize concurrent movers.
func (s *PostgresStore) ShiftDocumentPositions(ctx context.Context, workspaceID, branchID, categoryEntityID, targetEntityID string, newPosition int, actorID string) (ShiftResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ShiftResult{}, fmt.Errorf("begin shift tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	siblings, err := s.lockVisibleSiblingsTx(ctx, tx, workspaceID, branchID, categoryEntityID)
	if err != nil {
		return ShiftResult{}, err
	}

	plan, err := planPositionShifts(siblings, targetEntityID, newPosition)
	if err != nil {
		return ShiftResult{}, err
	}
	if plan == nil {
		// Already at the requested position: zero writes, zero versions.
		return ShiftResult{}, tx.Commit()
	}

	var result ShiftResult
	for _, change := range plan {
		base := change.baseline
		stage := StageDocument{
			WorkspaceID:       base.WorkspaceID,
			BranchID:          branchID,
			EntityID:          base.EntityID,
			BaselineVersionID: baselineIDFor(base),
			CategoryEntityID:  base.CategoryEntityID,
			Title:             base.Title,
			Slug:              base.Slug,
			Description:       base.Description,
			Position:          change.newPosition,
			Deleted:           base.Deleted,
			CreatedBy:         actorID,
		}
		version, err := s.stageDocumentTx(ctx, tx, stage)
		if err != nil {
			return ShiftResult{}, err
		}
		if base.EntityID == targetEntityID {
			moved := version
			result.Moved = &moved
		} else {
			result.Shifted = append(result.Shifted, version)
		}
	}

	if err := tx.Commit(); err != nil {
		return ShiftResult{}, fmt.Errorf("commit shift tx: %w", err)
	}
	return result, nil
}

// baselineIDFor picks the staged baseline for a sibling edit: canonical
// rows are their own baseline. Branch rows always hang off an entry on the
// acting branch, so freshEntryBaseline carries that entry's baseline
// forward and the value here never lands.
func baselineIDFor(v DocumentVersion) *string {
	if v.BranchID == nil && v.Status == StatusMerged {
		id := v.ID
		return &id
	}
	return nil
}

// lockVisibleSiblingsTx reads the siblings visible to the acting branch
// (own-branch current versions plus mainline canonical rows, own winning)
// ordered by position, locking their version rows. Postgres rejects FOR
// UPDATE across a UNION, so the two tiers lock separately in branch-first
// order.
func (s *PostgresStore) lockVisibleSiblingsTx(ctx context.Context, tx *sql.Tx, workspaceID, branchID, categoryEntityID string) ([]DocumentVersion, error) {
	best := make(map[string]DocumentVersion)
	order := make([]string, 0)

	collect := func(rows *sql.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var v DocumentVersion
			if err := scanDocumentVersion(rows, &v); err != nil {
				return fmt.Errorf("scan sibling: %w", err)
			}
			if _, seen := best[v.EntityID]; seen {
				continue
			}
			best[v.EntityID] = v
			order = append(order, v.EntityID)
		}
		return rows.Err()
	}

	branchRows, err := tx.QueryContext(ctx, `
		SELECT `+prefixCols("v", documentVersionCols)+`
		FROM edit_index_entries e
		JOIN document_versions v ON v.id = e.current_version_id
		WHERE e.branch_id=$1 AND e.target_kind='document' AND v.status IN ('draft', 'pushed')
		  AND v.entity_id IN (SELECT entity_id FROM document_versions WHERE category_entity_id=$2)
		ORDER BY e.created_at DESC
		FOR UPDATE OF v
	`, branchID, categoryEntityID)
	if err != nil {
		return nil, fmt.Errorf("lock branch siblings: %w", err)
	}
	if err := collect(branchRows); err != nil {
		return nil, fmt.Errorf("iterate branch siblings: %w", err)
	}

	canonicalRows, err := tx.QueryContext(ctx, `
		SELECT `+prefixCols("v", documentVersionCols)+`
		FROM document_versions v
		WHERE v.workspace_id=$1 AND v.status='merged' AND v.branch_id IS NULL AND v.superseded_at IS NULL
		  AND v.entity_id IN (SELECT entity_id FROM document_versions WHERE category_entity_id=$2)
		ORDER BY v.created_at DESC
		FOR UPDATE OF v
	`, workspaceID, categoryEntityID)
	if err != nil {
		return nil, fmt.Errorf("lock canonical siblings: %w", err)
	}
	if err := collect(canonicalRows); err != nil {
		return nil, fmt.Errorf("iterate canonical siblings: %w", err)
	}

	siblings := make([]DocumentVersion, 0, len(order))
	for _, entityID := range order {
		v := best[entityID]
		if v.Deleted {
			continue
		}
		if v.CategoryEntityID == nil || *v.CategoryEntityID != categoryEntityID {
			continue
		}
		siblings = append(siblings, v)
	}
	sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Position < siblings[j].Position })
	return siblings, nil
}

type positionChange struct {
	baseline    DocumentVersion
	newPosition int
}

// planPositionShifts computes the copy-on-write edits for moving the target
// to newPosition. A nil plan means the move is a no-op. Moving up shifts
// siblings in [new, old) down the list by +1; moving down shifts (old, new]
// by -1. Untouched siblings stay untouched.
func planPositionShifts(siblings []DocumentVersion, targetEntityID string, newPosition int) ([]positionChange, error) {
	var target *DocumentVersion
	for i := range siblings {
		if siblings[i].EntityID == targetEntityID {
			target = &siblings[i]
			break
		}
	}
	if target == nil {
		return nil, sql.ErrNoRows
	}
	if newPosition < 1 || newPosition > len(siblings) {
		return nil, fmt.Errorf("position %d outside 1..%d: %w", newPosition, len(siblings), ErrOutOfRange)
	}

	oldPosition := target.Position
	if newPosition == oldPosition {
		return nil, nil
	}

	plan := make([]positionChange, 0, len(siblings))
	for _, sibling := range siblings {
		switch {
		case sibling.EntityID == targetEntityID:
			plan = append(plan, positionChange{baseline: sibling, newPosition: newPosition})
		case newPosition < oldPosition && sibling.Position >= newPosition && sibling.Position < oldPosition:
			plan = append(plan, positionChange{baseline: sibling, newPosition: sibling.Position + 1})
		case newPosition > oldPosition && sibling.Position > oldPosition && sibling.Position <= newPosition:
			plan = append(plan, positionChange{baseline: sibling, newPosition: sibling.Position - 1})
		}
	}
	return plan, nil
}

// prefixCols qualifies a comma-separated column list with a table alias.
func prefixCols(alias, cols string) string {
	out := ""
	for i, col := range splitCols(cols) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitCols(cols string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(cols); i++ {
		if i == len(cols) || cols[i] == ',' {
			col := cols[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if col != "" {
				out = append(out, col)
			}
			start = i + 1
		}
	}
	return out
}
