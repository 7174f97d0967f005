package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const editIndexCols = `id, branch_id, target_kind, entity_id, original_version_id, current_version_id, commit_id, created_at, updated_at`

func scanEditIndexEntry(row rowScanner, e *EditIndexEntry) error {
	return row.Scan(
		&e.ID, &e.BranchID, &e.TargetKind, &e.EntityID,
		&e.OriginalVersionID, &e.CurrentVersionID, &e.CommitID,
		&e.CreatedAt, &e.UpdatedAt,
	)
}

// ListUncommittedEntries returns the branch's live staging entries, oldest
// first so commit diffs come out in edit order.
func (s *PostgresStore) ListUncommittedEntries(ctx context.Context, branchID string) ([]EditIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+editIndexCols+` FROM edit_index_entries
		WHERE branch_id=$1 AND commit_id IS NULL
		ORDER BY created_at ASC
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("list uncommitted entries: %w", err)
	}
	defer rows.Close()

	entries := make([]EditIndexEntry, 0)
	for rows.Next() {
		var e EditIndexEntry
		if err := scanEditIndexEntry(rows, &e); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// ListBranchEntitySpans aggregates every entry the branch has ever opened
// for the kind into one span per entity. FirstOriginalID is the diff
// baseline from before the branch's first edit; LastOriginalID is the
// baseline the newest entry acknowledged, which conflict detection compares
// with the current canonical version.
func (s *PostgresStore) ListBranchEntitySpans(ctx context.Context, branchID, targetKind string) ([]EntitySpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (entity_id)
			entity_id,
			FIRST_VALUE(original_version_id) OVER w AS first_original,
			LAST_VALUE(original_version_id) OVER w AS last_original,
			LAST_VALUE(current_version_id) OVER w AS last_current,
			LAST_VALUE(id) OVER w AS latest_entry
		FROM edit_index_entries
		WHERE branch_id=$1 AND target_kind=$2
		WINDOW w AS (
			PARTITION BY entity_id ORDER BY created_at ASC
			ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING
		)
		ORDER BY entity_id
	`, branchID, targetKind)
	if err != nil {
		return nil, fmt.Errorf("list entity spans: %w", err)
	}
	defer rows.Close()

	spans := make([]EntitySpan, 0)
	for rows.Next() {
		var span EntitySpan
		if err := rows.Scan(&span.EntityID, &span.FirstOriginalID, &span.LastOriginalID, &span.LastCurrentID, &span.LatestEntryID); err != nil {
			return nil, fmt.Errorf("scan entity span: %w", err)
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity spans: %w", err)
	}
	return spans, nil
}

// GetUncommittedEntry returns the branch's live entry for an entity, if any.
func (s *PostgresStore) GetUncommittedEntry(ctx context.Context, branchID, targetKind, entityID string) (*EditIndexEntry, error) {
	var e EditIndexEntry
	row := s.db.QueryRowContext(ctx, `
		SELECT `+editIndexCols+` FROM edit_index_entries
		WHERE branch_id=$1 AND target_kind=$2 AND entity_id=$3 AND commit_id IS NULL
	`, branchID, targetKind, entityID)
	if err := scanEditIndexEntry(row, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// latestEntryBaselineTx reads the baseline of the branch's newest entry for
// an entity, committed or not. hasPrior is false when the branch never
// touched the entity.
func (s *PostgresStore) latestEntryBaselineTx(ctx context.Context, tx *sql.Tx, branchID, targetKind, entityID string) (*string, bool, error) {
	var baseline *string
	err := tx.QueryRowContext(ctx, `
		SELECT original_version_id FROM edit_index_entries
		WHERE branch_id=$1 AND target_kind=$2 AND entity_id=$3
		ORDER BY created_at DESC
		LIMIT 1
	`, branchID, targetKind, entityID).Scan(&baseline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read prior entry baseline: %w", err)
	}
	return baseline, true, nil
}

// freshEntryBaseline picks the original pointer a new entry records. A
// branch that edited the entity before carries the prior entry's
// acknowledged baseline forward, nil included; the version the edit was
// staged against belongs to the branch itself there, and recording it
// would fake a mainline advance. Only a first-touch entry records the
// staged baseline, the canonical at open time.
func freshEntryBaseline(staged, prior *string, hasPrior bool) *string {
	if hasPrior {
		return prior
	}
	return staged
}

// UpdateEntryBaseline rewrites an entry's recorded baseline. Conflict
// resolution uses this to advance a stale baseline to the current canonical
// version after the author reconciles both sides.
func (s *PostgresStore) UpdateEntryBaseline(ctx context.Context, entryID string, baselineVersionID *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE edit_index_entries SET original_version_id=$2, updated_at=NOW() WHERE id=$1
	`, entryID, baselineVersionID)
	if err != nil {
		return fmt.Errorf("update entry baseline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry baseline: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update entry baseline: entry %s not found", entryID)
	}
	return nil
}
