package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/config"
	"folio/api/internal/session"
	"folio/api/internal/store"
)

type fakeStore struct {
	getWorkspaceBySlugFn     func(context.Context, string) (store.Workspace, error)
	getUserByEmailFn         func(context.Context, string) (store.User, error)
	getMembershipRoleFn      func(context.Context, string, string) (string, error)
	getActiveBranchFn        func(context.Context, string, string) (store.Branch, error)
	createBranchFn           func(context.Context, store.Branch, string) error
	deleteBranchSessionFn    func(context.Context, string) error
	findActiveUserBranchFn   func(context.Context, string, string, string) (*store.Branch, error)
	getBranchFn              func(context.Context, string) (store.Branch, error)
	listDocCandidatesFn      func(context.Context, string, string, string) ([]store.DocumentCandidate, error)
	listCatCandidatesFn      func(context.Context, string, string, string) ([]store.CategoryCandidate, error)
	listDocsByCategoryFn     func(context.Context, string, string, string, string) ([]store.DocumentCandidate, error)
	listCatsByParentFn       func(context.Context, string, string, string, string) ([]store.CategoryCandidate, error)
	createDocumentFn         func(context.Context, string, store.StageDocument) (store.DocumentVersion, error)
	stageDocumentEditFn      func(context.Context, store.StageDocument) (store.DocumentVersion, error)
	stageCategoryEditFn      func(context.Context, store.StageCategory) (store.CategoryVersion, error)
	getDocumentVersionFn     func(context.Context, string) (store.DocumentVersion, error)
	getCategoryVersionFn     func(context.Context, string) (store.CategoryVersion, error)
	getCanonicalDocFn        func(context.Context, string) (*store.DocumentVersion, error)
	getCanonicalCatFn        func(context.Context, string) (*store.CategoryVersion, error)
	listUncommittedFn        func(context.Context, string) ([]store.EditIndexEntry, error)
	listEntitySpansFn        func(context.Context, string, string) ([]store.EntitySpan, error)
	getUncommittedEntryFn    func(context.Context, string, string, string) (*store.EditIndexEntry, error)
	updateEntryBaselineFn    func(context.Context, string, *string) error
	getLatestCommitFn        func(context.Context, string) (*store.Commit, error)
	createCommitFn           func(context.Context, store.CreateCommitParams) error
	createPullRequestFn      func(context.Context, store.PullRequest, []store.Reviewer, store.Activity) error
	getPullRequestFn         func(context.Context, string) (store.PullRequest, error)
	getPullRequestByBranchFn func(context.Context, string) (*store.PullRequest, error)
	updatePRStatusFn         func(context.Context, string, string, string, *store.Activity) error
	approveReviewerFn        func(context.Context, string, string) error
	insertActivityFn         func(context.Context, store.Activity) error
	mergePullRequestFn       func(context.Context, string, string, []store.MergePromotion, store.Activity, *store.WorkspaceEvent) error
	listCanonicalFn          func(context.Context, string) ([]store.DocumentVersion, []store.CategoryVersion, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetWorkspaceBySlug(ctx context.Context, slug string) (store.Workspace, error) {
	if f.getWorkspaceBySlugFn != nil {
		return f.getWorkspaceBySlugFn(ctx, slug)
	}
	return store.Workspace{}, sql.ErrNoRows
}
func (f *fakeStore) InsertWorkspace(context.Context, store.Workspace) error { return nil }
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) InsertUser(context.Context, store.User) error                   { return nil }
func (f *fakeStore) UpsertMembership(context.Context, string, string, string) error { return nil }
func (f *fakeStore) GetMembershipRole(ctx context.Context, workspaceID, userID string) (string, error) {
	if f.getMembershipRoleFn != nil {
		return f.getMembershipRoleFn(ctx, workspaceID, userID)
	}
	return "editor", nil
}

func (f *fakeStore) GetActiveBranch(ctx context.Context, workspaceID, userID string) (store.Branch, error) {
	if f.getActiveBranchFn != nil {
		return f.getActiveBranchFn(ctx, workspaceID, userID)
	}
	return store.Branch{}, sql.ErrNoRows
}
func (f *fakeStore) CreateBranchWithSession(ctx context.Context, branch store.Branch, sessionID string) error {
	if f.createBranchFn != nil {
		return f.createBranchFn(ctx, branch, sessionID)
	}
	return nil
}
func (f *fakeStore) DeleteBranchSession(ctx context.Context, branchID string) error {
	if f.deleteBranchSessionFn != nil {
		return f.deleteBranchSessionFn(ctx, branchID)
	}
	return nil
}
func (f *fakeStore) FindActiveUserBranch(ctx context.Context, branchID, workspaceID, userID string) (*store.Branch, error) {
	if f.findActiveUserBranchFn != nil {
		return f.findActiveUserBranchFn(ctx, branchID, workspaceID, userID)
	}
	return nil, nil
}
func (f *fakeStore) GetBranch(ctx context.Context, branchID string) (store.Branch, error) {
	if f.getBranchFn != nil {
		return f.getBranchFn(ctx, branchID)
	}
	return store.Branch{}, sql.ErrNoRows
}

func (f *fakeStore) GetDocumentEntity(context.Context, string) (store.DocumentEntity, error) {
	return store.DocumentEntity{}, sql.ErrNoRows
}
func (f *fakeStore) GetCategoryEntity(context.Context, string) (store.CategoryEntity, error) {
	return store.CategoryEntity{}, sql.ErrNoRows
}
func (f *fakeStore) GetDocumentVersion(ctx context.Context, versionID string) (store.DocumentVersion, error) {
	if f.getDocumentVersionFn != nil {
		return f.getDocumentVersionFn(ctx, versionID)
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}
func (f *fakeStore) GetCategoryVersion(ctx context.Context, versionID string) (store.CategoryVersion, error) {
	if f.getCategoryVersionFn != nil {
		return f.getCategoryVersionFn(ctx, versionID)
	}
	return store.CategoryVersion{}, sql.ErrNoRows
}
func (f *fakeStore) GetCanonicalDocumentVersion(ctx context.Context, entityID string) (*store.DocumentVersion, error) {
	if f.getCanonicalDocFn != nil {
		return f.getCanonicalDocFn(ctx, entityID)
	}
	return nil, nil
}
func (f *fakeStore) GetCanonicalCategoryVersion(ctx context.Context, entityID string) (*store.CategoryVersion, error) {
	if f.getCanonicalCatFn != nil {
		return f.getCanonicalCatFn(ctx, entityID)
	}
	return nil, nil
}
func (f *fakeStore) ListDocumentVersionCandidates(ctx context.Context, entityID, branchID, sessionID string) ([]store.DocumentCandidate, error) {
	if f.listDocCandidatesFn != nil {
		return f.listDocCandidatesFn(ctx, entityID, branchID, sessionID)
	}
	return nil, nil
}
func (f *fakeStore) ListCategoryVersionCandidates(ctx context.Context, entityID, branchID, sessionID string) ([]store.CategoryCandidate, error) {
	if f.listCatCandidatesFn != nil {
		return f.listCatCandidatesFn(ctx, entityID, branchID, sessionID)
	}
	return nil, nil
}
func (f *fakeStore) ListDocumentCandidatesByCategory(ctx context.Context, workspaceID, categoryEntityID, branchID, sessionID string) ([]store.DocumentCandidate, error) {
	if f.listDocsByCategoryFn != nil {
		return f.listDocsByCategoryFn(ctx, workspaceID, categoryEntityID, branchID, sessionID)
	}
	return nil, nil
}
func (f *fakeStore) ListCategoryCandidatesByParent(ctx context.Context, workspaceID, parentEntityID, branchID, sessionID string) ([]store.CategoryCandidate, error) {
	if f.listCatsByParentFn != nil {
		return f.listCatsByParentFn(ctx, workspaceID, parentEntityID, branchID, sessionID)
	}
	return nil, nil
}
func (f *fakeStore) CreateDocumentWithVersion(ctx context.Context, entityID string, stage store.StageDocument) (store.DocumentVersion, error) {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, entityID, stage)
	}
	return store.DocumentVersion{ID: "dv_test", EntityID: entityID}, nil
}
func (f *fakeStore) CreateCategoryWithVersion(ctx context.Context, entityID string, stage store.StageCategory) (store.CategoryVersion, error) {
	return store.CategoryVersion{ID: "cv_test", EntityID: entityID}, nil
}
func (f *fakeStore) StageDocumentEdit(ctx context.Context, stage store.StageDocument) (store.DocumentVersion, error) {
	if f.stageDocumentEditFn != nil {
		return f.stageDocumentEditFn(ctx, stage)
	}
	return store.DocumentVersion{ID: "dv_test", EntityID: stage.EntityID}, nil
}
func (f *fakeStore) StageCategoryEdit(ctx context.Context, stage store.StageCategory) (store.CategoryVersion, error) {
	if f.stageCategoryEditFn != nil {
		return f.stageCategoryEditFn(ctx, stage)
	}
	return store.CategoryVersion{ID: "cv_test", EntityID: stage.EntityID}, nil
}
func (f *fakeStore) ShiftDocumentPositions(context.Context, string, string, string, string, int, string) (store.ShiftResult, error) {
	return store.ShiftResult{}, nil
}
func (f *fakeStore) ListCanonicalWorkspace(ctx context.Context, workspaceID string) ([]store.DocumentVersion, []store.CategoryVersion, error) {
	if f.listCanonicalFn != nil {
		return f.listCanonicalFn(ctx, workspaceID)
	}
	return nil, nil, nil
}

func (f *fakeStore) ListUncommittedEntries(ctx context.Context, branchID string) ([]store.EditIndexEntry, error) {
	if f.listUncommittedFn != nil {
		return f.listUncommittedFn(ctx, branchID)
	}
	return nil, nil
}
func (f *fakeStore) ListBranchEntitySpans(ctx context.Context, branchID, targetKind string) ([]store.EntitySpan, error) {
	if f.listEntitySpansFn != nil {
		return f.listEntitySpansFn(ctx, branchID, targetKind)
	}
	return nil, nil
}
func (f *fakeStore) GetUncommittedEntry(ctx context.Context, branchID, targetKind, entityID string) (*store.EditIndexEntry, error) {
	if f.getUncommittedEntryFn != nil {
		return f.getUncommittedEntryFn(ctx, branchID, targetKind, entityID)
	}
	return nil, sql.ErrNoRows
}
func (f *fakeStore) UpdateEntryBaseline(ctx context.Context, entryID string, baselineVersionID *string) error {
	if f.updateEntryBaselineFn != nil {
		return f.updateEntryBaselineFn(ctx, entryID, baselineVersionID)
	}
	return nil
}

func (f *fakeStore) GetLatestCommit(ctx context.Context, branchID string) (*store.Commit, error) {
	if f.getLatestCommitFn != nil {
		return f.getLatestCommitFn(ctx, branchID)
	}
	return nil, nil
}
func (f *fakeStore) CreateCommit(ctx context.Context, params store.CreateCommitParams) error {
	if f.createCommitFn != nil {
		return f.createCommitFn(ctx, params)
	}
	return nil
}
func (f *fakeStore) GetCommit(context.Context, string) (store.Commit, error) {
	return store.Commit{}, sql.ErrNoRows
}
func (f *fakeStore) ListCommits(context.Context, string) ([]store.Commit, error) { return nil, nil }
func (f *fakeStore) ListCommitDiffs(context.Context, string) ([]store.CommitDiff, []store.CommitDiff, error) {
	return nil, nil, nil
}

func (f *fakeStore) CreatePullRequest(ctx context.Context, pr store.PullRequest, reviewers []store.Reviewer, activity store.Activity) error {
	if f.createPullRequestFn != nil {
		return f.createPullRequestFn(ctx, pr, reviewers, activity)
	}
	return nil
}
func (f *fakeStore) GetPullRequest(ctx context.Context, pullRequestID string) (store.PullRequest, error) {
	if f.getPullRequestFn != nil {
		return f.getPullRequestFn(ctx, pullRequestID)
	}
	return store.PullRequest{}, sql.ErrNoRows
}
func (f *fakeStore) GetPullRequestByBranch(ctx context.Context, branchID string) (*store.PullRequest, error) {
	if f.getPullRequestByBranchFn != nil {
		return f.getPullRequestByBranchFn(ctx, branchID)
	}
	return nil, nil
}
func (f *fakeStore) ListWorkspacePullRequests(context.Context, string) ([]store.PullRequest, error) {
	return nil, nil
}
func (f *fakeStore) UpdatePullRequestStatus(ctx context.Context, pullRequestID, fromStatus, toStatus string, activity *store.Activity) error {
	if f.updatePRStatusFn != nil {
		return f.updatePRStatusFn(ctx, pullRequestID, fromStatus, toStatus, activity)
	}
	return nil
}
func (f *fakeStore) ListReviewers(context.Context, string) ([]store.Reviewer, error) {
	return nil, nil
}
func (f *fakeStore) ApproveReviewer(ctx context.Context, pullRequestID, userID string) error {
	if f.approveReviewerFn != nil {
		return f.approveReviewerFn(ctx, pullRequestID, userID)
	}
	return nil
}
func (f *fakeStore) InsertActivity(ctx context.Context, activity store.Activity) error {
	if f.insertActivityFn != nil {
		return f.insertActivityFn(ctx, activity)
	}
	return nil
}
func (f *fakeStore) ListActivity(context.Context, string) ([]store.Activity, error) {
	return nil, nil
}
func (f *fakeStore) CreateFixRequest(context.Context, store.FixRequest, []store.FixRequestTarget, store.Activity) error {
	return nil
}
func (f *fakeStore) GetFixRequestByToken(context.Context, string) (store.FixRequest, error) {
	return store.FixRequest{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateFixRequestStatus(context.Context, string, string, string) error {
	return nil
}
func (f *fakeStore) ListFixRequestTargets(context.Context, string) ([]store.FixRequestTarget, error) {
	return nil, nil
}
func (f *fakeStore) MergePullRequest(ctx context.Context, pullRequestID, branchID string, promotions []store.MergePromotion, activity store.Activity, event *store.WorkspaceEvent) error {
	if f.mergePullRequestFn != nil {
		return f.mergePullRequestFn(ctx, pullRequestID, branchID, promotions, activity, event)
	}
	return nil
}

func (f *fakeStore) InsertWorkspaceEvent(context.Context, store.WorkspaceEvent) error { return nil }
func (f *fakeStore) ListWorkspaceEvents(context.Context, string, int) ([]store.WorkspaceEvent, error) {
	return nil, nil
}
func (f *fakeStore) InsertAttachment(context.Context, store.Attachment) error { return nil }
func (f *fakeStore) GetAttachment(context.Context, string) (store.Attachment, error) {
	return store.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) ListAttachments(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}

type fakeSessions struct {
	lookupFn func(context.Context, string) (session.EditSession, error)
	savedKey string
	saved    session.EditSession
}

func (f *fakeSessions) SaveEditSession(ctx context.Context, token string, sess session.EditSession) error {
	f.savedKey = token
	f.saved = sess
	return nil
}
func (f *fakeSessions) LookupEditSession(ctx context.Context, token string) (session.EditSession, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, token)
	}
	return session.EditSession{}, session.ErrNotFound
}
func (f *fakeSessions) RevokeEditSession(context.Context, string) error { return nil }

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}
}

func newTestService(st *fakeStore) *Service {
	return NewService(st, &fakeSessions{}, nil, nil, nil, testConfig())
}

func TestLoginRejectsBadPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := newTestService(&fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "u_1", Email: email, PasswordHash: hash}, nil
		},
	})

	if _, err := svc.Login(context.Background(), "a@b.c", "wrong"); err == nil {
		t.Fatal("expected login to fail")
	}
	sess, err := svc.Login(context.Background(), "a@b.c", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Token == "" || sess.UserID != "u_1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestFetchOrCreateActiveBranchRetriesOnRace(t *testing.T) {
	winner := store.Branch{ID: "br_winner", WorkspaceID: "ws_1", UserID: "u_1"}
	calls := 0
	svc := newTestService(&fakeStore{
		getActiveBranchFn: func(context.Context, string, string) (store.Branch, error) {
			calls++
			if calls == 1 {
				return store.Branch{}, sql.ErrNoRows
			}
			return winner, nil
		},
		createBranchFn: func(context.Context, store.Branch, string) error {
			return store.ErrConflict
		},
	})

	branch, err := svc.FetchOrCreateActiveBranch(context.Background(), "ws_1", "u_1")
	if err != nil {
		t.Fatalf("fetch or create: %v", err)
	}
	if branch.ID != "br_winner" {
		t.Fatalf("expected the winner's branch, got %s", branch.ID)
	}
}

func TestDeactivateUserBranchTwiceIsNotFound(t *testing.T) {
	active := true
	svc := newTestService(&fakeStore{
		findActiveUserBranchFn: func(context.Context, string, string, string) (*store.Branch, error) {
			if active {
				return &store.Branch{ID: "br_1"}, nil
			}
			return nil, nil
		},
		deleteBranchSessionFn: func(context.Context, string) error {
			active = false
			return nil
		},
	})
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "editor"}

	if err := svc.DeactivateUserBranch(context.Background(), viewer, "br_1"); err != nil {
		t.Fatalf("first deactivation: %v", err)
	}
	err := svc.DeactivateUserBranch(context.Background(), viewer, "br_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestViewerForEditSessionOverridesBranch(t *testing.T) {
	st := &fakeStore{
		getActiveBranchFn: func(context.Context, string, string) (store.Branch, error) {
			return store.Branch{ID: "br_own"}, nil
		},
	}
	sessions := &fakeSessions{
		lookupFn: func(context.Context, string) (session.EditSession, error) {
			return session.EditSession{ID: "es_1", BranchID: "br_pr"}, nil
		},
	}
	svc := NewService(st, sessions, nil, nil, nil, testConfig())

	viewer, err := svc.ViewerFor(context.Background(), "ws_1", "u_1", "some-token")
	if err != nil {
		t.Fatalf("viewer: %v", err)
	}
	if viewer.BranchID != "br_pr" {
		t.Fatalf("expected the edit session branch, got %s", viewer.BranchID)
	}
	if viewer.EditSessionID != "es_1" {
		t.Fatalf("expected the edit session id, got %s", viewer.EditSessionID)
	}
}

func TestViewerForNonMemberForbidden(t *testing.T) {
	svc := newTestService(&fakeStore{
		getMembershipRoleFn: func(context.Context, string, string) (string, error) {
			return "", nil
		},
	})
	_, err := svc.ViewerFor(context.Background(), "ws_1", "u_1", "")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	de, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}

func TestSessionRoundTripFromLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := newTestService(&fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "u_1", DisplayName: "Avery", Email: email, PasswordHash: hash}, nil
		},
	})

	sess, err := svc.Login(context.Background(), "a@b.c", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	parsed, err := svc.SessionFromToken(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserID != "u_1" || parsed.UserName != "Avery" || parsed.TokenID != sess.TokenID {
		t.Fatalf("unexpected session: %+v", parsed)
	}
}
