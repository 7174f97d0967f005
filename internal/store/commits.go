package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateCommitParams gathers everything a commit writes in one transaction:
// the commit row, its diffs, the staging entries to stamp, and (for pushes
// off a user branch) the draft versions to promote.
type CreateCommitParams struct {
	Commit          Commit
	DocumentDiffs   []CommitDiff
	CategoryDiffs   []CommitDiff
	EntryIDs        []string
	PromoteVersions []MergePromotion
	Activity        *Activity
}

// GetLatestCommit returns the branch's newest commit, or (nil, nil) when the
// branch has none yet.
func (s *PostgresStore) GetLatestCommit(ctx context.Context, branchID string) (*Commit, error) {
	var c Commit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, parent_commit_id, author_id, message, created_at
		FROM commits WHERE branch_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, branchID).Scan(&c.ID, &c.BranchID, &c.ParentCommitID, &c.AuthorID, &c.Message, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest commit: %w", err)
	}
	return &c, nil
}

// CreateCommit writes the commit, one diff per stamped entry, marks the
// entries committed, optionally promotes draft versions to pushed, and
// records the activity event. All of it lands together or not at all.
func (s *PostgresStore) CreateCommit(ctx context.Context, params CreateCommitParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := params.Commit
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (id, branch_id, parent_commit_id, author_id, message)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.BranchID, c.ParentCommitID, c.AuthorID, c.Message); err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}

	insertDiff := func(table string, d CommitDiff) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+`
				(id, commit_id, entity_id, change_type, is_title_changed, is_description_changed, first_original_version_id, last_current_version_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, d.ID, c.ID, d.EntityID, d.ChangeType, d.IsTitleChanged, d.IsDescriptionChanged, d.FirstOriginalVersionID, d.LastCurrentVersionID)
		return err
	}
	for _, d := range params.DocumentDiffs {
		if err := insertDiff("commit_document_diffs", d); err != nil {
			return fmt.Errorf("insert document diff: %w", mapConflict(err))
		}
	}
	for _, d := range params.CategoryDiffs {
		if err := insertDiff("commit_category_diffs", d); err != nil {
			return fmt.Errorf("insert category diff: %w", mapConflict(err))
		}
	}

	for _, entryID := range params.EntryIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE edit_index_entries SET commit_id=$2, updated_at=NOW()
			WHERE id=$1 AND commit_id IS NULL
		`, entryID, c.ID)
		if err != nil {
			return fmt.Errorf("stamp entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("stamp entry: %w", err)
		}
		if n == 0 {
			// Someone committed this entry first; the whole push retries.
			return fmt.Errorf("stamp entry %s: %w", entryID, ErrConflict)
		}
	}

	for _, p := range params.PromoteVersions {
		table := "document_versions"
		if p.TargetKind == TargetCategory {
			table = "category_versions"
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE `+table+` SET status='pushed' WHERE id=$1 AND status='draft'
		`, p.VersionID); err != nil {
			return fmt.Errorf("promote version: %w", err)
		}
	}

	if params.Activity != nil {
		if err := insertActivityTx(ctx, tx, *params.Activity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCommit(ctx context.Context, commitID string) (Commit, error) {
	var c Commit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, parent_commit_id, author_id, message, created_at
		FROM commits WHERE id=$1
	`, commitID).Scan(&c.ID, &c.BranchID, &c.ParentCommitID, &c.AuthorID, &c.Message, &c.CreatedAt)
	if err != nil {
		return Commit{}, err
	}
	return c, nil
}

// ListCommits returns the branch's commits newest first.
func (s *PostgresStore) ListCommits(ctx context.Context, branchID string) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, parent_commit_id, author_id, message, created_at
		FROM commits WHERE branch_id=$1
		ORDER BY created_at DESC
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	commits := make([]Commit, 0)
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.ID, &c.BranchID, &c.ParentCommitID, &c.AuthorID, &c.Message, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// ListCommitDiffs returns both diff families for a commit.
func (s *PostgresStore) ListCommitDiffs(ctx context.Context, commitID string) (docs []CommitDiff, cats []CommitDiff, err error) {
	scanDiffs := func(table string) ([]CommitDiff, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, commit_id, entity_id, change_type, is_title_changed, is_description_changed, first_original_version_id, last_current_version_id
			FROM `+table+` WHERE commit_id=$1 ORDER BY id ASC
		`, commitID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		diffs := make([]CommitDiff, 0)
		for rows.Next() {
			var d CommitDiff
			if err := rows.Scan(&d.ID, &d.CommitID, &d.EntityID, &d.ChangeType, &d.IsTitleChanged, &d.IsDescriptionChanged, &d.FirstOriginalVersionID, &d.LastCurrentVersionID); err != nil {
				return nil, err
			}
			diffs = append(diffs, d)
		}
		return diffs, rows.Err()
	}

	docs, err = scanDiffs("commit_document_diffs")
	if err != nil {
		return nil, nil, fmt.Errorf("list document diffs: %w", err)
	}
	cats, err = scanDiffs("commit_category_diffs")
	if err != nil {
		return nil, nil, fmt.Errorf("list category diffs: %w", err)
	}
	return docs, cats, nil
}
