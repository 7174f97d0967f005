package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/config"
	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/search"
	"folio/api/internal/session"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

// Viewer is the resolved request context every engine operation consumes:
// the authenticated user and tenant, plus the optional active branch and
// optional pull request edit session.
type Viewer struct {
	WorkspaceID   string
	UserID        string
	BranchID      string
	EditSessionID string
	Role          rbac.Role
}

type Session struct {
	Token     string
	UserID    string
	UserName  string
	TokenID   string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetWorkspaceBySlug(context.Context, string) (store.Workspace, error)
	InsertWorkspace(context.Context, store.Workspace) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertUser(context.Context, store.User) error
	GetMembershipRole(context.Context, string, string) (string, error)
	UpsertMembership(context.Context, string, string, string) error

	GetActiveBranch(context.Context, string, string) (store.Branch, error)
	CreateBranchWithSession(context.Context, store.Branch, string) error
	DeleteBranchSession(context.Context, string) error
	FindActiveUserBranch(context.Context, string, string, string) (*store.Branch, error)
	GetBranch(context.Context, string) (store.Branch, error)

	GetDocumentEntity(context.Context, string) (store.DocumentEntity, error)
	GetCategoryEntity(context.Context, string) (store.CategoryEntity, error)
	GetDocumentVersion(context.Context, string) (store.DocumentVersion, error)
	GetCategoryVersion(context.Context, string) (store.CategoryVersion, error)
	GetCanonicalDocumentVersion(context.Context, string) (*store.DocumentVersion, error)
	GetCanonicalCategoryVersion(context.Context, string) (*store.CategoryVersion, error)
	ListDocumentVersionCandidates(context.Context, string, string, string) ([]store.DocumentCandidate, error)
	ListCategoryVersionCandidates(context.Context, string, string, string) ([]store.CategoryCandidate, error)
	ListDocumentCandidatesByCategory(context.Context, string, string, string, string) ([]store.DocumentCandidate, error)
	ListCategoryCandidatesByParent(context.Context, string, string, string, string) ([]store.CategoryCandidate, error)
	CreateDocumentWithVersion(context.Context, string, store.StageDocument) (store.DocumentVersion, error)
	CreateCategoryWithVersion(context.Context, string, store.StageCategory) (store.CategoryVersion, error)
	StageDocumentEdit(context.Context, store.StageDocument) (store.DocumentVersion, error)
	StageCategoryEdit(context.Context, store.StageCategory) (store.CategoryVersion, error)
	ShiftDocumentPositions(context.Context, string, string, string, string, int, string) (store.ShiftResult, error)
	ListCanonicalWorkspace(context.Context, string) ([]store.DocumentVersion, []store.CategoryVersion, error)

	ListUncommittedEntries(context.Context, string) ([]store.EditIndexEntry, error)
	ListBranchEntitySpans(context.Context, string, string) ([]store.EntitySpan, error)
	GetUncommittedEntry(context.Context, string, string, string) (*store.EditIndexEntry, error)
	UpdateEntryBaseline(context.Context, string, *string) error

	GetLatestCommit(context.Context, string) (*store.Commit, error)
	CreateCommit(context.Context, store.CreateCommitParams) error
	GetCommit(context.Context, string) (store.Commit, error)
	ListCommits(context.Context, string) ([]store.Commit, error)
	ListCommitDiffs(context.Context, string) ([]store.CommitDiff, []store.CommitDiff, error)

	CreatePullRequest(context.Context, store.PullRequest, []store.Reviewer, store.Activity) error
	GetPullRequest(context.Context, string) (store.PullRequest, error)
	GetPullRequestByBranch(context.Context, string) (*store.PullRequest, error)
	ListWorkspacePullRequests(context.Context, string) ([]store.PullRequest, error)
	UpdatePullRequestStatus(context.Context, string, string, string, *store.Activity) error
	ListReviewers(context.Context, string) ([]store.Reviewer, error)
	ApproveReviewer(context.Context, string, string) error
	InsertActivity(context.Context, store.Activity) error
	ListActivity(context.Context, string) ([]store.Activity, error)
	CreateFixRequest(context.Context, store.FixRequest, []store.FixRequestTarget, store.Activity) error
	GetFixRequestByToken(context.Context, string) (store.FixRequest, error)
	UpdateFixRequestStatus(context.Context, string, string, string) error
	ListFixRequestTargets(context.Context, string) ([]store.FixRequestTarget, error)
	MergePullRequest(context.Context, string, string, []store.MergePromotion, store.Activity, *store.WorkspaceEvent) error

	InsertWorkspaceEvent(context.Context, store.WorkspaceEvent) error
	ListWorkspaceEvents(context.Context, string, int) ([]store.WorkspaceEvent, error)
	InsertAttachment(context.Context, store.Attachment) error
	GetAttachment(context.Context, string) (store.Attachment, error)
	ListAttachments(context.Context, string) ([]store.Attachment, error)
}

type editSessionStore interface {
	SaveEditSession(ctx context.Context, token string, sess session.EditSession) error
	LookupEditSession(ctx context.Context, token string) (session.EditSession, error)
	RevokeEditSession(ctx context.Context, token string) error
}

type gitService interface {
	EnsureWorkspaceRepo(workspaceID, author string) error
	CommitMergeSnapshot(workspaceID string, snapshot gitrepo.Snapshot, author, message string) (gitrepo.CommitInfo, error)
	History(workspaceID string, limit int) ([]gitrepo.CommitInfo, error)
	GetSnapshotByHash(workspaceID, hash string) (gitrepo.Snapshot, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexCategory(cat search.CategoryRecord)
	DeleteDocument(entityID string)
	DeleteCategory(entityID string)
}

type attachmentService interface {
	Put(ctx context.Context, workspaceID, attachmentID, filename, contentType string, body io.Reader, size int64) (string, error)
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
	PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type Service struct {
	store       dataStore
	sessions    editSessionStore
	git         gitService
	search      searchService
	attachments attachmentService
	cfg         config.Config
}

func NewService(st dataStore, sessions editSessionStore, git gitService, searchSvc searchService, attachments attachmentService, cfg config.Config) *Service {
	return &Service{
		store:       st,
		sessions:    sessions,
		git:         git,
		search:      searchSvc,
		attachments: attachments,
		cfg:         cfg,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap ensures a default workspace, a default admin user, and the
// workspace's git mirror exist. Safe to run on every startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	ws, err := s.store.GetWorkspaceBySlug(ctx, "default")
	if errors.Is(err, sql.ErrNoRows) {
		ws = store.Workspace{
			ID:   util.NewID("ws"),
			Name: "Default Workspace",
			Slug: "default",
		}
		if err := s.store.InsertWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("bootstrap workspace: %w", err)
		}
		// ON CONFLICT DO NOTHING on slug; re-read so concurrent boots agree.
		ws, err = s.store.GetWorkspaceBySlug(ctx, "default")
		if err != nil {
			return fmt.Errorf("bootstrap workspace reread: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("bootstrap workspace lookup: %w", err)
	}

	if _, err := s.store.GetUserByEmail(ctx, "admin@folio.local"); errors.Is(err, sql.ErrNoRows) {
		hash, err := auth.HashPassword("folio-admin")
		if err != nil {
			return fmt.Errorf("bootstrap admin hash: %w", err)
		}
		admin := store.User{
			ID:           util.NewID("u"),
			DisplayName:  "Admin",
			Email:        "admin@folio.local",
			PasswordHash: hash,
		}
		if err := s.store.InsertUser(ctx, admin); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if err := s.store.UpsertMembership(ctx, ws.ID, admin.ID, string(rbac.RoleAdmin)); err != nil {
			return fmt.Errorf("bootstrap admin membership: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("bootstrap admin lookup: %w", err)
	}

	if s.git != nil {
		if err := s.git.EnsureWorkspaceRepo(ws.ID, "Folio"); err != nil {
			log.Printf("bootstrap: workspace mirror: %v", err)
		}
	}
	return nil
}

// Login verifies credentials and issues an HMAC access token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, errForbidden("Invalid credentials")
	}
	if err != nil {
		return Session{}, errInternal("login lookup failed")
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, errForbidden("Invalid credentials")
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	tokenID := util.NewID("tk")
	token, err := auth.Sign([]byte(s.cfg.JWTSecret), auth.AccessToken{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		TokenID:     tokenID,
		ExpiresAt:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, errInternal("issue token failed")
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken verifies an access token back into a session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	tok, err := auth.Verify([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, errForbidden("Invalid or expired token")
	}
	return Session{
		Token:     token,
		UserID:    tok.UserID,
		UserName:  tok.DisplayName,
		TokenID:   tok.TokenID,
		ExpiresAt: time.Unix(tok.ExpiresAt, 0),
	}, nil
}

// ViewerFor resolves the acting context for a workspace request: membership
// role, the user's active branch if any, and the edit session behind an
// optional token.
func (s *Service) ViewerFor(ctx context.Context, workspaceID, userID, editSessionToken string) (Viewer, error) {
	role, err := s.store.GetMembershipRole(ctx, workspaceID, userID)
	if err != nil {
		return Viewer{}, errInternal("membership lookup failed")
	}
	if role == "" {
		return Viewer{}, errForbidden("Not a member of this workspace")
	}

	viewer := Viewer{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        rbac.Normalize(role),
	}

	branch, err := s.store.GetActiveBranch(ctx, workspaceID, userID)
	if err == nil {
		viewer.BranchID = branch.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Viewer{}, errInternal("active branch lookup failed")
	}

	if editSessionToken != "" && s.sessions != nil {
		sess, err := s.sessions.LookupEditSession(ctx, editSessionToken)
		if err == nil {
			viewer.EditSessionID = sess.ID
			// The session re-enters the PR's branch even when the branch
			// is no longer the caller's active one.
			viewer.BranchID = sess.BranchID
		} else if !errors.Is(err, session.ErrNotFound) {
			return Viewer{}, errInternal("edit session lookup failed")
		}
	}

	return viewer, nil
}

// FetchOrCreateActiveBranch returns the user's active branch, creating and
// activating one when none exists. Retries once when a concurrent call won
// the activation race.
func (s *Service) FetchOrCreateActiveBranch(ctx context.Context, workspaceID, userID string) (store.Branch, error) {
	for attempt := 0; attempt < 2; attempt++ {
		branch, err := s.store.GetActiveBranch(ctx, workspaceID, userID)
		if err == nil {
			return branch, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Branch{}, errInternal("active branch lookup failed")
		}

		branch = store.Branch{
			ID:          util.NewID("br"),
			WorkspaceID: workspaceID,
			UserID:      userID,
			BaselineAt:  time.Now(),
		}
		err = s.store.CreateBranchWithSession(ctx, branch, util.NewID("bs"))
		if err == nil {
			return branch, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.Branch{}, errInternal("branch creation failed")
		}
		// Lost the race; the winner's branch is there on re-read.
	}
	return store.Branch{}, errConflict("Could not activate a branch", nil)
}

// DeactivateUserBranch removes the branch's session. Double-deactivation is
// an error, not a no-op.
func (s *Service) DeactivateUserBranch(ctx context.Context, viewer Viewer, branchID string) error {
	branch, err := s.store.FindActiveUserBranch(ctx, branchID, viewer.WorkspaceID, viewer.UserID)
	if err != nil {
		return errInternal("branch lookup failed")
	}
	if branch == nil {
		return errNotFound("No active branch session")
	}
	if err := s.store.DeleteBranchSession(ctx, branchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("No active branch session")
		}
		return errInternal("branch deactivation failed")
	}
	return nil
}

// FindActiveUserBranch fails soft: nil when the branch is not the caller's
// active branch, with no error.
func (s *Service) FindActiveUserBranch(ctx context.Context, viewer Viewer, branchID string) (*store.Branch, error) {
	branch, err := s.store.FindActiveUserBranch(ctx, branchID, viewer.WorkspaceID, viewer.UserID)
	if err != nil {
		return nil, errInternal("branch lookup failed")
	}
	return branch, nil
}

// ensureBranch returns the viewer's branch id, activating one if needed.
// Write paths call this before staging edits.
func (s *Service) ensureBranch(ctx context.Context, viewer *Viewer) (string, error) {
	if viewer.BranchID != "" {
		return viewer.BranchID, nil
	}
	branch, err := s.FetchOrCreateActiveBranch(ctx, viewer.WorkspaceID, viewer.UserID)
	if err != nil {
		return "", err
	}
	viewer.BranchID = branch.ID
	return branch.ID, nil
}

func (s *Service) requireWrite(viewer Viewer) error {
	if !rbac.Can(viewer.Role, rbac.ActionWrite) {
		return errForbidden("Write access required")
	}
	return nil
}

// ListWorkspaceEvents surfaces the org timeline.
func (s *Service) ListWorkspaceEvents(ctx context.Context, viewer Viewer, limit int) ([]store.WorkspaceEvent, error) {
	events, err := s.store.ListWorkspaceEvents(ctx, viewer.WorkspaceID, limit)
	if err != nil {
		return nil, errInternal("timeline lookup failed")
	}
	return events, nil
}
