package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetWorkspaceBySlug(ctx context.Context, slug string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM workspaces
		WHERE slug=$1
	`, slug).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) InsertWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO NOTHING
	`, ws.ID, ws.Name, ws.Slug)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapConflict(err))
	}
	return nil
}

func (s *PostgresStore) GetMembershipRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_memberships
		WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, workspaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// GetActiveBranch returns the branch backing the user's current session in
// the workspace, or sql.ErrNoRows when no session exists.
func (s *PostgresStore) GetActiveBranch(ctx context.Context, workspaceID, userID string) (Branch, error) {
	var branch Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.workspace_id, b.user_id, b.baseline_at, b.created_at
		FROM branch_sessions bs
		JOIN branches b ON b.id = bs.branch_id
		WHERE bs.workspace_id=$1 AND bs.user_id=$2
	`, workspaceID, userID).Scan(&branch.ID, &branch.WorkspaceID, &branch.UserID, &branch.BaselineAt, &branch.CreatedAt)
	if err != nil {
		return Branch{}, err
	}
	return branch, nil
}

// CreateBranchWithSession creates a branch and its activating session row in
// one transaction. A concurrent call for the same user loses on the session
// uniqueness constraint and surfaces ErrConflict for the caller to retry.
func (s *PostgresStore) CreateBranchWithSession(ctx context.Context, branch Branch, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin branch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO branches (id, workspace_id, user_id)
		VALUES ($1, $2, $3)
	`, branch.ID, branch.WorkspaceID, branch.UserID); err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO branch_sessions (id, branch_id, workspace_id, user_id)
		VALUES ($1, $2, $3, $4)
	`, sessionID, branch.ID, branch.WorkspaceID, branch.UserID); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert branch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit branch tx: %w", err)
	}
	return nil
}

// DeleteBranchSession deactivates a branch by removing its session row.
// Deleting an already-inactive branch returns sql.ErrNoRows.
func (s *PostgresStore) DeleteBranchSession(ctx context.Context, branchID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM branch_sessions WHERE branch_id=$1`, branchID)
	if err != nil {
		return fmt.Errorf("delete branch session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete branch session rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindActiveUserBranch returns the branch only when it belongs to the given
// user and workspace and still has a session; otherwise (nil, nil).
func (s *PostgresStore) FindActiveUserBranch(ctx context.Context, branchID, workspaceID, userID string) (*Branch, error) {
	var branch Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.workspace_id, b.user_id, b.baseline_at, b.created_at
		FROM branches b
		JOIN branch_sessions bs ON bs.branch_id = b.id
		WHERE b.id=$1 AND b.workspace_id=$2 AND b.user_id=$3
	`, branchID, workspaceID, userID).Scan(&branch.ID, &branch.WorkspaceID, &branch.UserID, &branch.BaselineAt, &branch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active user branch: %w", err)
	}
	return &branch, nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	var branch Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, baseline_at, created_at
		FROM branches
		WHERE id=$1
	`, branchID).Scan(&branch.ID, &branch.WorkspaceID, &branch.UserID, &branch.BaselineAt, &branch.CreatedAt)
	if err != nil {
		return Branch{}, err
	}
	return branch, nil
}

func (s *PostgresStore) InsertWorkspaceEvent(ctx context.Context, event WorkspaceEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspace_events (workspace_id, type, actor_id, pull_request_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, event.WorkspaceID, event.Type, event.ActorID, event.PullRequestID, payload)
	if err != nil {
		return fmt.Errorf("insert workspace event: %w", err)
	}
	return nil
}

func insertWorkspaceEventTx(ctx context.Context, tx *sql.Tx, event WorkspaceEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_events (workspace_id, type, actor_id, pull_request_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, event.WorkspaceID, event.Type, event.ActorID, event.PullRequestID, payload)
	if err != nil {
		return fmt.Errorf("insert workspace event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWorkspaceEvents(ctx context.Context, workspaceID string, limit int) ([]WorkspaceEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, type, actor_id, pull_request_id, payload, created_at
		FROM workspace_events
		WHERE workspace_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list workspace events: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceEvent, 0)
	for rows.Next() {
		var item WorkspaceEvent
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Type, &item.ActorID, &item.PullRequestID, &payloadRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace event: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, att Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, workspace_id, document_entity_id, filename, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, att.ID, att.WorkspaceID, att.DocumentEntityID, att.Filename, att.ContentType, att.SizeBytes, att.ObjectKey, att.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var att Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, document_entity_id, filename, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&att.ID, &att.WorkspaceID, &att.DocumentEntityID, &att.Filename, &att.ContentType, &att.SizeBytes, &att.ObjectKey, &att.UploadedBy, &att.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return att, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentEntityID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, document_entity_id, filename, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments
		WHERE document_entity_id=$1
		ORDER BY created_at ASC
	`, documentEntityID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var att Attachment
		if err := rows.Scan(&att.ID, &att.WorkspaceID, &att.DocumentEntityID, &att.Filename, &att.ContentType, &att.SizeBytes, &att.ObjectKey, &att.UploadedBy, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}
