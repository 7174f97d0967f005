package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const pullRequestCols = `id, workspace_id, branch_id, title, status, created_by, created_at, updated_at, merged_at, closed_at`

func scanPullRequest(row rowScanner, pr *PullRequest) error {
	return row.Scan(
		&pr.ID, &pr.WorkspaceID, &pr.BranchID, &pr.Title, &pr.Status,
		&pr.CreatedBy, &pr.CreatedAt, &pr.UpdatedAt, &pr.MergedAt, &pr.ClosedAt,
	)
}

// CreatePullRequest inserts the pull request, its reviewers, and the opening
// activity record in one transaction. A live pull request already holding the
// branch surfaces as ErrConflict.
func (s *PostgresStore) CreatePullRequest(ctx context.Context, pr PullRequest, reviewers []Reviewer, activity Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pull request tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pull_requests (id, workspace_id, branch_id, title, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pr.ID, pr.WorkspaceID, pr.BranchID, pr.Title, pr.Status, pr.CreatedBy); err != nil {
		return fmt.Errorf("insert pull request: %w", mapConflict(err))
	}

	for _, r := range reviewers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pull_request_reviewers (id, pull_request_id, user_id, status)
			VALUES ($1, $2, $3, 'pending')
		`, r.ID, pr.ID, r.UserID); err != nil {
			return fmt.Errorf("insert reviewer: %w", mapConflict(err))
		}
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pull request tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPullRequest(ctx context.Context, pullRequestID string) (PullRequest, error) {
	var pr PullRequest
	row := s.db.QueryRowContext(ctx, `SELECT `+pullRequestCols+` FROM pull_requests WHERE id=$1`, pullRequestID)
	if err := scanPullRequest(row, &pr); err != nil {
		return PullRequest{}, err
	}
	return pr, nil
}

// GetPullRequestByBranch returns the branch's pull request, or (nil, nil)
// when none was ever opened.
func (s *PostgresStore) GetPullRequestByBranch(ctx context.Context, branchID string) (*PullRequest, error) {
	var pr PullRequest
	row := s.db.QueryRowContext(ctx, `SELECT `+pullRequestCols+` FROM pull_requests WHERE branch_id=$1`, branchID)
	err := scanPullRequest(row, &pr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request by branch: %w", err)
	}
	return &pr, nil
}

func (s *PostgresStore) ListWorkspacePullRequests(ctx context.Context, workspaceID string) ([]PullRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pullRequestCols+` FROM pull_requests
		WHERE workspace_id=$1
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer rows.Close()

	items := make([]PullRequest, 0)
	for rows.Next() {
		var pr PullRequest
		if err := scanPullRequest(rows, &pr); err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		items = append(items, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}
	return items, nil
}

// UpdatePullRequestStatus moves the pull request between states, guarding
// the transition with the expected current status. A zero-row update means
// the state machine moved underneath the caller.
func (s *PostgresStore) UpdatePullRequestStatus(ctx context.Context, pullRequestID, fromStatus, toStatus string, activity *Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pull_requests SET status=$3, updated_at=NOW(),
			closed_at = CASE WHEN $3 = 'closed' THEN NOW() ELSE closed_at END
		WHERE id=$1 AND status=$2
	`, pullRequestID, fromStatus, toStatus)
	if err != nil {
		return fmt.Errorf("update pull request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pull request status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update pull request status: %w", ErrConflict)
	}

	if activity != nil {
		if err := insertActivityTx(ctx, tx, *activity); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewers(ctx context.Context, pullRequestID string) ([]Reviewer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pull_request_id, user_id, status, created_at, updated_at
		FROM pull_request_reviewers WHERE pull_request_id=$1
		ORDER BY created_at ASC
	`, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	defer rows.Close()

	items := make([]Reviewer, 0)
	for rows.Next() {
		var r Reviewer
		if err := rows.Scan(&r.ID, &r.PullRequestID, &r.UserID, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviewers: %w", err)
	}
	return items, nil
}

// ApproveReviewer flips the user's review to approved. sql.ErrNoRows means
// the user is not a reviewer on this pull request.
func (s *PostgresStore) ApproveReviewer(ctx context.Context, pullRequestID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pull_request_reviewers SET status='approved', updated_at=NOW()
		WHERE pull_request_id=$1 AND user_id=$2
	`, pullRequestID, userID)
	if err != nil {
		return fmt.Errorf("approve reviewer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve reviewer: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activity tx: %w", err)
	}
	return nil
}

func insertActivityTx(ctx context.Context, tx *sql.Tx, activity Activity) error {
	payload, err := json.Marshal(activity.Payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	if activity.Payload == nil {
		payload = []byte("{}")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pull_request_activity (pull_request_id, type, actor_id, ref_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.PullRequestID, activity.Type, activity.ActorID, activity.RefID, payload); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the pull request's log oldest first.
func (s *PostgresStore) ListActivity(ctx context.Context, pullRequestID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pull_request_id, type, actor_id, ref_id, payload, created_at
		FROM pull_request_activity
		WHERE pull_request_id=$1
		ORDER BY created_at ASC, id ASC
	`, pullRequestID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		var payloadRaw []byte
		if err := rows.Scan(&a.ID, &a.PullRequestID, &a.Type, &a.ActorID, &a.RefID, &payloadRaw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &a.Payload)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// CreateFixRequest inserts the request, its targets, and the activity record
// in one transaction.
func (s *PostgresStore) CreateFixRequest(ctx context.Context, fr FixRequest, targets []FixRequestTarget, activity Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fix request tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fix_requests (id, pull_request_id, token, requested_by, comment, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`, fr.ID, fr.PullRequestID, fr.Token, fr.RequestedBy, fr.Comment); err != nil {
		return fmt.Errorf("insert fix request: %w", mapConflict(err))
	}
	for _, t := range targets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fix_request_targets (id, fix_request_id, target_kind, entity_id, base_version_id)
			VALUES ($1, $2, $3, $4, $5)
		`, t.ID, fr.ID, t.TargetKind, t.EntityID, t.BaseVersionID); err != nil {
			return fmt.Errorf("insert fix request target: %w", err)
		}
	}
	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fix request tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFixRequestByToken(ctx context.Context, token string) (FixRequest, error) {
	var fr FixRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pull_request_id, token, requested_by, comment, status, created_at, updated_at
		FROM fix_requests WHERE token=$1
	`, token).Scan(&fr.ID, &fr.PullRequestID, &fr.Token, &fr.RequestedBy, &fr.Comment, &fr.Status, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		return FixRequest{}, err
	}
	return fr, nil
}

func (s *PostgresStore) UpdateFixRequestStatus(ctx context.Context, fixRequestID, fromStatus, toStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fix_requests SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2
	`, fixRequestID, fromStatus, toStatus)
	if err != nil {
		return fmt.Errorf("update fix request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fix request status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update fix request status: %w", ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ListFixRequestTargets(ctx context.Context, fixRequestID string) ([]FixRequestTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fix_request_id, target_kind, entity_id, base_version_id
		FROM fix_request_targets WHERE fix_request_id=$1
		ORDER BY id ASC
	`, fixRequestID)
	if err != nil {
		return nil, fmt.Errorf("list fix request targets: %w", err)
	}
	defer rows.Close()

	items := make([]FixRequestTarget, 0)
	for rows.Next() {
		var t FixRequestTarget
		if err := rows.Scan(&t.ID, &t.FixRequestID, &t.TargetKind, &t.EntityID, &t.BaseVersionID); err != nil {
			return nil, fmt.Errorf("scan fix request target: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fix request targets: %w", err)
	}
	return items, nil
}

// MergePullRequest lands a branch on the mainline in one transaction. For
// every promoted version one UPDATE promotes the branch row to canonical and
// retires the entity's previous canonical row in the same statement, so the
// one-canonical-per-entity invariant holds at every statement boundary.
func (s *PostgresStore) MergePullRequest(ctx context.Context, pullRequestID, branchID string, promotions []MergePromotion, activity Activity, event *WorkspaceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE pull_requests SET status='merged', merged_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='opened'
	`, pullRequestID)
	if err != nil {
		return fmt.Errorf("mark pull request merged: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark pull request merged: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark pull request merged: %w", ErrConflict)
	}

	for _, p := range promotions {
		table := "document_versions"
		if p.TargetKind == TargetCategory {
			table = "category_versions"
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE `+table+` SET
				status       = CASE WHEN id = $1 THEN 'merged' ELSE status END,
				branch_id    = CASE WHEN id = $1 THEN NULL ELSE branch_id END,
				superseded_at = CASE WHEN id <> $1 THEN NOW() ELSE superseded_at END
			WHERE id = $1
			   OR (entity_id = $2 AND status = 'merged' AND branch_id IS NULL AND superseded_at IS NULL)
		`, p.VersionID, p.EntityID); err != nil {
			return fmt.Errorf("promote canonical version: %w", err)
		}
	}

	// Merging retires the branch: its session goes away so the author's
	// next action starts a fresh branch.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM branch_sessions WHERE branch_id=$1
	`, branchID); err != nil {
		return fmt.Errorf("delete branch session: %w", err)
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if event != nil {
		if err := insertWorkspaceEventTx(ctx, tx, *event); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}
