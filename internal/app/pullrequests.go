package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/search"
	"folio/api/internal/session"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

// Conflict describes one entity whose branch work no longer sits on the
// current canonical version.
type Conflict struct {
	TargetKind         store.TargetKind `json:"targetKind"`
	EntityID           string           `json:"entityId"`
	BaselineVersionID  *string          `json:"baselineVersionId"`
	CanonicalVersionID string           `json:"canonicalVersionId"`
	CurrentVersionID   string           `json:"currentVersionId"`
}

type ResolveConflictInput struct {
	TargetKind  store.TargetKind `json:"targetKind"`
	EntityID    string           `json:"entityId"`
	Title       string           `json:"title"`
	Slug        string           `json:"slug"`
	Description string           `json:"description"`
	Deleted     bool             `json:"deleted"`
}

var conflictMarkers = []string{"<<<<<<<", "=======", ">>>>>>>"}

func containsConflictMarkers(text string) bool {
	for _, marker := range conflictMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// OpenPullRequest opens review on the caller's active branch. The branch
// needs at least one commit; a branch holds at most one pull request.
func (s *Service) OpenPullRequest(ctx context.Context, viewer Viewer, title string, reviewerIDs []string) (store.PullRequest, []Conflict, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.PullRequest{}, nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return store.PullRequest{}, nil, errInvalid("Title is required", nil)
	}

	branch, err := s.FindActiveUserBranch(ctx, viewer, viewer.BranchID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	if branch == nil {
		return store.PullRequest{}, nil, errNotFound("No active branch")
	}

	latest, err := s.store.GetLatestCommit(ctx, branch.ID)
	if err != nil {
		return store.PullRequest{}, nil, errInternal("commit lookup failed")
	}
	if latest == nil {
		return store.PullRequest{}, nil, errInvalid("Branch has no commits to review", nil)
	}

	pr := store.PullRequest{
		ID:          util.NewID("pr"),
		WorkspaceID: viewer.WorkspaceID,
		BranchID:    branch.ID,
		Title:       title,
		Status:      store.PROpened,
		CreatedBy:   viewer.UserID,
	}
	reviewers := make([]store.Reviewer, 0, len(reviewerIDs))
	for _, userID := range reviewerIDs {
		reviewers = append(reviewers, store.Reviewer{
			ID:            util.NewID("rv"),
			PullRequestID: pr.ID,
			UserID:        userID,
		})
	}
	activity := store.Activity{
		PullRequestID: pr.ID,
		Type:          "pr_opened",
		ActorID:       viewer.UserID,
		RefID:         branch.ID,
		Payload:       map[string]any{"title": title},
	}
	if err := s.store.CreatePullRequest(ctx, pr, reviewers, activity); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.PullRequest{}, nil, errConflict("Branch already has a pull request", nil)
		}
		return store.PullRequest{}, nil, errInternal("pull request creation failed")
	}

	conflicts, err := s.refreshConflictState(ctx, &pr, viewer.UserID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	return pr, conflicts, nil
}

// GetPullRequest scopes the lookup to the viewer's workspace.
func (s *Service) GetPullRequest(ctx context.Context, viewer Viewer, pullRequestID string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, pullRequestID)
	if err != nil || pr.WorkspaceID != viewer.WorkspaceID {
		return store.PullRequest{}, errNotFound("Pull request not found")
	}
	return pr, nil
}

func (s *Service) ListPullRequests(ctx context.Context, viewer Viewer) ([]store.PullRequest, error) {
	items, err := s.store.ListWorkspacePullRequests(ctx, viewer.WorkspaceID)
	if err != nil {
		return nil, errInternal("pull request listing failed")
	}
	return items, nil
}

// detectConflicts compares each edited entity's acknowledged baseline with
// the current canonical version. A canonical row the branch has not seen is
// a conflict.
func (s *Service) detectConflicts(ctx context.Context, branchID string) ([]Conflict, error) {
	conflicts := make([]Conflict, 0)

	docSpans, err := s.store.ListBranchEntitySpans(ctx, branchID, string(store.TargetDocument))
	if err != nil {
		return nil, errInternal("staging lookup failed")
	}
	for _, span := range docSpans {
		canonical, err := s.store.GetCanonicalDocumentVersion(ctx, span.EntityID)
		if err != nil {
			return nil, errInternal("canonical lookup failed")
		}
		if canonical == nil {
			continue
		}
		if span.LastOriginalID == nil || *span.LastOriginalID != canonical.ID {
			conflicts = append(conflicts, Conflict{
				TargetKind:         store.TargetDocument,
				EntityID:           span.EntityID,
				BaselineVersionID:  span.LastOriginalID,
				CanonicalVersionID: canonical.ID,
				CurrentVersionID:   span.LastCurrentID,
			})
		}
	}

	catSpans, err := s.store.ListBranchEntitySpans(ctx, branchID, string(store.TargetCategory))
	if err != nil {
		return nil, errInternal("staging lookup failed")
	}
	for _, span := range catSpans {
		canonical, err := s.store.GetCanonicalCategoryVersion(ctx, span.EntityID)
		if err != nil {
			return nil, errInternal("canonical lookup failed")
		}
		if canonical == nil {
			continue
		}
		if span.LastOriginalID == nil || *span.LastOriginalID != canonical.ID {
			conflicts = append(conflicts, Conflict{
				TargetKind:         store.TargetCategory,
				EntityID:           span.EntityID,
				BaselineVersionID:  span.LastOriginalID,
				CanonicalVersionID: canonical.ID,
				CurrentVersionID:   span.LastCurrentID,
			})
		}
	}

	return conflicts, nil
}

// refreshConflictState re-detects and flips the pull request between opened
// and conflict to match. pr is updated in place.
func (s *Service) refreshConflictState(ctx context.Context, pr *store.PullRequest, actorID string) ([]Conflict, error) {
	conflicts, err := s.detectConflicts(ctx, pr.BranchID)
	if err != nil {
		return nil, err
	}

	if len(conflicts) > 0 && pr.Status == store.PROpened {
		err := s.store.UpdatePullRequestStatus(ctx, pr.ID, store.PROpened, store.PRConflict, &store.Activity{
			PullRequestID: pr.ID,
			Type:          "conflict_detected",
			ActorID:       actorID,
			RefID:         pr.BranchID,
			Payload:       map[string]any{"count": len(conflicts)},
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return nil, errInternal("status update failed")
		}
		pr.Status = store.PRConflict
	}
	if len(conflicts) == 0 && pr.Status == store.PRConflict {
		err := s.store.UpdatePullRequestStatus(ctx, pr.ID, store.PRConflict, store.PROpened, &store.Activity{
			PullRequestID: pr.ID,
			Type:          "conflict_cleared",
			ActorID:       actorID,
			RefID:         pr.BranchID,
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return nil, errInternal("status update failed")
		}
		pr.Status = store.PROpened
	}
	return conflicts, nil
}

// DetectConflicts re-runs detection and syncs the pull request state.
func (s *Service) DetectConflicts(ctx context.Context, viewer Viewer, pullRequestID string) (store.PullRequest, []Conflict, error) {
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	if pr.Status != store.PROpened && pr.Status != store.PRConflict {
		return pr, nil, nil
	}
	conflicts, err := s.refreshConflictState(ctx, &pr, viewer.UserID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	return pr, conflicts, nil
}

// ResolveConflict stages the author's reconciled content on the pull
// request's branch and advances the entity's baseline to the current
// canonical version, then re-detects.
func (s *Service) ResolveConflict(ctx context.Context, viewer Viewer, pullRequestID string, input ResolveConflictInput) (store.PullRequest, []Conflict, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.PullRequest{}, nil, err
	}
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	if pr.Status != store.PRConflict {
		return store.PullRequest{}, nil, errConflict("Pull request has no conflicts to resolve", nil)
	}
	if containsConflictMarkers(input.Title) || containsConflictMarkers(input.Description) {
		return store.PullRequest{}, nil, errInvalid("Submitted content still contains conflict markers", nil)
	}
	if err := validateSlug(input.Slug); err != nil {
		return store.PullRequest{}, nil, err
	}

	switch input.TargetKind {
	case store.TargetDocument:
		err = s.resolveDocumentConflict(ctx, viewer, pr, input)
	case store.TargetCategory:
		err = s.resolveCategoryConflict(ctx, viewer, pr, input)
	default:
		return store.PullRequest{}, nil, errInvalid("Unknown target kind", map[string]any{"targetKind": input.TargetKind})
	}
	if err != nil {
		return store.PullRequest{}, nil, err
	}

	if err := s.store.InsertActivity(ctx, store.Activity{
		PullRequestID: pr.ID,
		Type:          "conflict_resolved",
		ActorID:       viewer.UserID,
		RefID:         input.EntityID,
		Payload:       map[string]any{"targetKind": string(input.TargetKind)},
	}); err != nil {
		return store.PullRequest{}, nil, errInternal("activity write failed")
	}

	conflicts, err := s.refreshConflictState(ctx, &pr, viewer.UserID)
	if err != nil {
		return store.PullRequest{}, nil, err
	}
	return pr, conflicts, nil
}

func (s *Service) resolveDocumentConflict(ctx context.Context, viewer Viewer, pr store.PullRequest, input ResolveConflictInput) error {
	canonical, err := s.store.GetCanonicalDocumentVersion(ctx, input.EntityID)
	if err != nil {
		return errInternal("canonical lookup failed")
	}
	if canonical == nil {
		return errConflict("Entity is not in conflict", nil)
	}

	candidates, err := s.store.ListDocumentVersionCandidates(ctx, input.EntityID, pr.BranchID, viewer.EditSessionID)
	if err != nil {
		return errInternal("document lookup failed")
	}
	current := resolveDocument(candidates)
	if current == nil {
		return errNotFound("Document not found")
	}

	baseline := current.ID
	if _, err := s.store.StageDocumentEdit(ctx, store.StageDocument{
		WorkspaceID:       pr.WorkspaceID,
		BranchID:          pr.BranchID,
		EntityID:          input.EntityID,
		BaselineVersionID: &baseline,
		CategoryEntityID:  current.CategoryEntityID,
		Title:             input.Title,
		Slug:              input.Slug,
		Description:       input.Description,
		Position:          current.Position,
		Deleted:           input.Deleted,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	}); err != nil {
		return errInternal("resolution staging failed")
	}

	entry, err := s.store.GetUncommittedEntry(ctx, pr.BranchID, string(store.TargetDocument), input.EntityID)
	if err != nil {
		return errInternal("entry lookup failed")
	}
	if err := s.store.UpdateEntryBaseline(ctx, entry.ID, &canonical.ID); err != nil {
		return errInternal("baseline update failed")
	}
	return nil
}

func (s *Service) resolveCategoryConflict(ctx context.Context, viewer Viewer, pr store.PullRequest, input ResolveConflictInput) error {
	canonical, err := s.store.GetCanonicalCategoryVersion(ctx, input.EntityID)
	if err != nil {
		return errInternal("canonical lookup failed")
	}
	if canonical == nil {
		return errConflict("Entity is not in conflict", nil)
	}

	candidates, err := s.store.ListCategoryVersionCandidates(ctx, input.EntityID, pr.BranchID, viewer.EditSessionID)
	if err != nil {
		return errInternal("category lookup failed")
	}
	current := resolveCategory(candidates)
	if current == nil {
		return errNotFound("Category not found")
	}

	baseline := current.ID
	if _, err := s.store.StageCategoryEdit(ctx, store.StageCategory{
		WorkspaceID:       pr.WorkspaceID,
		BranchID:          pr.BranchID,
		EntityID:          input.EntityID,
		BaselineVersionID: &baseline,
		ParentEntityID:    current.ParentEntityID,
		Title:             input.Title,
		Slug:              input.Slug,
		Description:       input.Description,
		Deleted:           input.Deleted,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	}); err != nil {
		return errInternal("resolution staging failed")
	}

	entry, err := s.store.GetUncommittedEntry(ctx, pr.BranchID, string(store.TargetCategory), input.EntityID)
	if err != nil {
		return errInternal("entry lookup failed")
	}
	if err := s.store.UpdateEntryBaseline(ctx, entry.ID, &canonical.ID); err != nil {
		return errInternal("baseline update failed")
	}
	return nil
}

// ApprovePullRequest records the viewer's reviewer approval.
func (s *Service) ApprovePullRequest(ctx context.Context, viewer Viewer, pullRequestID string) error {
	if !rbac.Can(viewer.Role, rbac.ActionApprove) {
		return errForbidden("Approval access required")
	}
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return err
	}
	if pr.Status != store.PROpened && pr.Status != store.PRConflict {
		return errConflict("Pull request is no longer under review", nil)
	}
	if err := s.store.ApproveReviewer(ctx, pr.ID, viewer.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Not a reviewer on this pull request")
		}
		return errInternal("approval failed")
	}
	if err := s.store.InsertActivity(ctx, store.Activity{
		PullRequestID: pr.ID,
		Type:          "pr_approved",
		ActorID:       viewer.UserID,
		RefID:         pr.ID,
	}); err != nil {
		return errInternal("activity write failed")
	}
	return nil
}

// ClosePullRequest abandons review without merging. The branch keeps its
// work.
func (s *Service) ClosePullRequest(ctx context.Context, viewer Viewer, pullRequestID string) (store.PullRequest, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.PullRequest{}, err
	}
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return store.PullRequest{}, err
	}
	if pr.Status != store.PROpened && pr.Status != store.PRConflict {
		return store.PullRequest{}, errConflict("Pull request is already settled", nil)
	}
	err = s.store.UpdatePullRequestStatus(ctx, pr.ID, pr.Status, store.PRClosed, &store.Activity{
		PullRequestID: pr.ID,
		Type:          "pr_closed",
		ActorID:       viewer.UserID,
		RefID:         pr.ID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.PullRequest{}, errConflict("Pull request state changed, retry", nil)
		}
		return store.PullRequest{}, errInternal("status update failed")
	}
	pr.Status = store.PRClosed
	return pr, nil
}

// MergePullRequest promotes the branch's work to canonical. Lack of merge
// rights is a distinct failure from a missing pull request.
func (s *Service) MergePullRequest(ctx context.Context, viewer Viewer, pullRequestID string) (store.PullRequest, error) {
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return store.PullRequest{}, err
	}
	if !rbac.Can(viewer.Role, rbac.ActionMerge) {
		return store.PullRequest{}, errForbidden("Merge access required")
	}
	if pr.Status != store.PROpened {
		return store.PullRequest{}, errConflict("Only an open pull request can merge", map[string]any{"status": pr.Status})
	}

	conflicts, err := s.refreshConflictState(ctx, &pr, viewer.UserID)
	if err != nil {
		return store.PullRequest{}, err
	}
	if len(conflicts) > 0 {
		return store.PullRequest{}, errConflict("Pull request has unresolved conflicts", map[string]any{"count": len(conflicts)})
	}

	docSpans, err := s.store.ListBranchEntitySpans(ctx, pr.BranchID, string(store.TargetDocument))
	if err != nil {
		return store.PullRequest{}, errInternal("staging lookup failed")
	}
	catSpans, err := s.store.ListBranchEntitySpans(ctx, pr.BranchID, string(store.TargetCategory))
	if err != nil {
		return store.PullRequest{}, errInternal("staging lookup failed")
	}

	promotions := make([]store.MergePromotion, 0, len(docSpans)+len(catSpans))
	for _, span := range docSpans {
		promotions = append(promotions, store.MergePromotion{
			TargetKind: store.TargetDocument,
			EntityID:   span.EntityID,
			VersionID:  span.LastCurrentID,
		})
	}
	for _, span := range catSpans {
		promotions = append(promotions, store.MergePromotion{
			TargetKind: store.TargetCategory,
			EntityID:   span.EntityID,
			VersionID:  span.LastCurrentID,
		})
	}

	activity := store.Activity{
		PullRequestID: pr.ID,
		Type:          "pr_merged",
		ActorID:       viewer.UserID,
		RefID:         pr.BranchID,
		Payload:       map[string]any{"entities": len(promotions)},
	}
	event := store.WorkspaceEvent{
		WorkspaceID:   pr.WorkspaceID,
		Type:          "pull_request_merged",
		ActorID:       viewer.UserID,
		PullRequestID: pr.ID,
		Payload:       map[string]any{"title": pr.Title, "entities": len(promotions)},
	}
	if err := s.store.MergePullRequest(ctx, pr.ID, pr.BranchID, promotions, activity, &event); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.PullRequest{}, errConflict("Pull request state changed, retry", nil)
		}
		return store.PullRequest{}, errInternal("merge failed")
	}
	pr.Status = store.PRMerged
	now := time.Now()
	pr.MergedAt = &now

	s.afterMerge(ctx, pr, docSpans, catSpans)
	return pr, nil
}

// afterMerge mirrors the new mainline to git and search. Both are
// best-effort: the merge already committed.
func (s *Service) afterMerge(ctx context.Context, pr store.PullRequest, docSpans, catSpans []store.EntitySpan) {
	docs, cats, err := s.store.ListCanonicalWorkspace(ctx, pr.WorkspaceID)
	if err != nil {
		log.Printf("merge %s: canonical snapshot: %v", pr.ID, err)
		return
	}

	if s.git != nil {
		snapshot := gitrepo.Snapshot{
			Categories: make([]gitrepo.SnapshotCategory, 0, len(cats)),
			Documents:  make([]gitrepo.SnapshotDocument, 0, len(docs)),
		}
		for _, c := range cats {
			parent := ""
			if c.ParentEntityID != nil {
				parent = *c.ParentEntityID
			}
			snapshot.Categories = append(snapshot.Categories, gitrepo.SnapshotCategory{
				EntityID: c.EntityID,
				ParentID: parent,
				Title:    c.Title,
				Slug:     c.Slug,
			})
		}
		for _, d := range docs {
			category := ""
			if d.CategoryEntityID != nil {
				category = *d.CategoryEntityID
			}
			snapshot.Documents = append(snapshot.Documents, gitrepo.SnapshotDocument{
				EntityID:    d.EntityID,
				CategoryID:  category,
				Title:       d.Title,
				Slug:        d.Slug,
				Description: d.Description,
				Position:    d.Position,
			})
		}
		message := fmt.Sprintf("Merge: %s", pr.Title)
		if _, err := s.git.CommitMergeSnapshot(pr.WorkspaceID, snapshot, pr.CreatedBy, message); err != nil {
			log.Printf("merge %s: git mirror: %v", pr.ID, err)
		}
	}

	if s.search != nil {
		live := make(map[string]store.DocumentVersion, len(docs))
		for _, d := range docs {
			live[d.EntityID] = d
		}
		liveCats := make(map[string]store.CategoryVersion, len(cats))
		for _, c := range cats {
			liveCats[c.EntityID] = c
		}
		for _, span := range docSpans {
			d, ok := live[span.EntityID]
			if !ok {
				s.search.DeleteDocument(span.EntityID)
				continue
			}
			category := ""
			if d.CategoryEntityID != nil {
				category = *d.CategoryEntityID
			}
			s.search.IndexDocument(search.DocumentRecord{
				EntityID:    d.EntityID,
				Title:       d.Title,
				Slug:        d.Slug,
				Description: d.Description,
				CategoryID:  category,
				WorkspaceID: d.WorkspaceID,
			})
		}
		for _, span := range catSpans {
			c, ok := liveCats[span.EntityID]
			if !ok {
				s.search.DeleteCategory(span.EntityID)
				continue
			}
			s.search.IndexCategory(search.CategoryRecord{
				EntityID:    c.EntityID,
				Title:       c.Title,
				Slug:        c.Slug,
				Description: c.Description,
				WorkspaceID: c.WorkspaceID,
			})
		}
	}
}

// ListPullRequestActivity returns the log oldest first.
func (s *Service) ListPullRequestActivity(ctx context.Context, viewer Viewer, pullRequestID string) ([]store.Activity, error) {
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListActivity(ctx, pr.ID)
	if err != nil {
		return nil, errInternal("activity listing failed")
	}
	return items, nil
}

func (s *Service) ListPullRequestReviewers(ctx context.Context, viewer Viewer, pullRequestID string) ([]store.Reviewer, error) {
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListReviewers(ctx, pr.ID)
	if err != nil {
		return nil, errInternal("reviewer listing failed")
	}
	return items, nil
}

// CreateFixRequest asks the author for changes on named entities and issues
// a token an edit session can later be opened with.
func (s *Service) CreateFixRequest(ctx context.Context, viewer Viewer, pullRequestID, comment string, targets []FixTargetInput) (store.FixRequest, error) {
	if !rbac.Can(viewer.Role, rbac.ActionApprove) {
		return store.FixRequest{}, errForbidden("Review access required")
	}
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return store.FixRequest{}, err
	}
	if pr.Status != store.PROpened && pr.Status != store.PRConflict {
		return store.FixRequest{}, errConflict("Pull request is no longer under review", nil)
	}
	if len(targets) == 0 {
		return store.FixRequest{}, errInvalid("At least one target is required", nil)
	}

	fr := store.FixRequest{
		ID:            util.NewID("fx"),
		PullRequestID: pr.ID,
		Token:         util.NewToken(),
		RequestedBy:   viewer.UserID,
		Comment:       comment,
		Status:        store.FixPending,
	}
	rows := make([]store.FixRequestTarget, 0, len(targets))
	for _, t := range targets {
		row := store.FixRequestTarget{
			ID:           util.NewID("fxt"),
			FixRequestID: fr.ID,
			TargetKind:   t.TargetKind,
			EntityID:     t.EntityID,
		}
		switch t.TargetKind {
		case store.TargetDocument:
			candidates, err := s.store.ListDocumentVersionCandidates(ctx, t.EntityID, pr.BranchID, "")
			if err != nil {
				return store.FixRequest{}, errInternal("document lookup failed")
			}
			if v := resolveDocument(candidates); v != nil {
				id := v.ID
				row.BaseVersionID = &id
			}
		case store.TargetCategory:
			candidates, err := s.store.ListCategoryVersionCandidates(ctx, t.EntityID, pr.BranchID, "")
			if err != nil {
				return store.FixRequest{}, errInternal("category lookup failed")
			}
			if v := resolveCategory(candidates); v != nil {
				id := v.ID
				row.BaseVersionID = &id
			}
		default:
			return store.FixRequest{}, errInvalid("Unknown target kind", map[string]any{"targetKind": t.TargetKind})
		}
		rows = append(rows, row)
	}

	activity := store.Activity{
		PullRequestID: pr.ID,
		Type:          "fix_requested",
		ActorID:       viewer.UserID,
		RefID:         fr.ID,
		Payload:       map[string]any{"targets": len(rows)},
	}
	if err := s.store.CreateFixRequest(ctx, fr, rows, activity); err != nil {
		return store.FixRequest{}, errInternal("fix request creation failed")
	}
	return fr, nil
}

type FixTargetInput struct {
	TargetKind store.TargetKind `json:"targetKind"`
	EntityID   string           `json:"entityId"`
}

// GetFixRequest resolves a fix request token to the request and its targets.
func (s *Service) GetFixRequest(ctx context.Context, viewer Viewer, token string) (store.FixRequest, []store.FixRequestTarget, error) {
	fr, err := s.store.GetFixRequestByToken(ctx, token)
	if err != nil {
		return store.FixRequest{}, nil, errNotFound("Fix request not found")
	}
	if _, err := s.GetPullRequest(ctx, viewer, fr.PullRequestID); err != nil {
		return store.FixRequest{}, nil, err
	}
	targets, err := s.store.ListFixRequestTargets(ctx, fr.ID)
	if err != nil {
		return store.FixRequest{}, nil, errInternal("target listing failed")
	}
	return fr, targets, nil
}

// MarkFixRequestApplied closes the loop once the author addressed it.
func (s *Service) MarkFixRequestApplied(ctx context.Context, viewer Viewer, token string) (store.FixRequest, error) {
	fr, _, err := s.GetFixRequest(ctx, viewer, token)
	if err != nil {
		return store.FixRequest{}, err
	}
	if err := s.store.UpdateFixRequestStatus(ctx, fr.ID, store.FixPending, store.FixApplied); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.FixRequest{}, errConflict("Fix request state changed, retry", nil)
		}
		return store.FixRequest{}, errInternal("status update failed")
	}
	fr.Status = store.FixApplied
	if err := s.store.InsertActivity(ctx, store.Activity{
		PullRequestID: fr.PullRequestID,
		Type:          "fix_applied",
		ActorID:       viewer.UserID,
		RefID:         fr.ID,
	}); err != nil {
		return store.FixRequest{}, errInternal("activity write failed")
	}
	return fr, nil
}

// ArchiveFixRequest retires a pending fix request without applying it.
func (s *Service) ArchiveFixRequest(ctx context.Context, viewer Viewer, token string) (store.FixRequest, error) {
	if !rbac.Can(viewer.Role, rbac.ActionApprove) {
		return store.FixRequest{}, errForbidden("Review access required")
	}
	fr, _, err := s.GetFixRequest(ctx, viewer, token)
	if err != nil {
		return store.FixRequest{}, err
	}
	if err := s.store.UpdateFixRequestStatus(ctx, fr.ID, store.FixPending, store.FixArchived); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.FixRequest{}, errConflict("Fix request state changed, retry", nil)
		}
		return store.FixRequest{}, errInternal("status update failed")
	}
	fr.Status = store.FixArchived
	return fr, nil
}

// CreateEditSession opens a scoped editing session on an open pull
// request's branch, typically off a fix request token.
func (s *Service) CreateEditSession(ctx context.Context, viewer Viewer, pullRequestID, fixRequestToken string) (string, session.EditSession, error) {
	if err := s.requireWrite(viewer); err != nil {
		return "", session.EditSession{}, err
	}
	pr, err := s.GetPullRequest(ctx, viewer, pullRequestID)
	if err != nil {
		return "", session.EditSession{}, err
	}
	if pr.Status != store.PROpened && pr.Status != store.PRConflict {
		return "", session.EditSession{}, errConflict("Pull request is no longer editable", nil)
	}

	fixRequestID := ""
	if fixRequestToken != "" {
		fr, err := s.store.GetFixRequestByToken(ctx, fixRequestToken)
		if err != nil || fr.PullRequestID != pr.ID {
			return "", session.EditSession{}, errNotFound("Fix request not found")
		}
		if fr.Status != store.FixPending {
			return "", session.EditSession{}, errConflict("Fix request is no longer pending", nil)
		}
		fixRequestID = fr.ID
	}

	sess := session.EditSession{
		ID:           util.NewID("es"),
		WorkspaceID:  pr.WorkspaceID,
		BranchID:     pr.BranchID,
		UserID:       viewer.UserID,
		FixRequestID: fixRequestID,
		CreatedAt:    time.Now(),
	}
	token := util.NewToken()
	if err := s.sessions.SaveEditSession(ctx, token, sess); err != nil {
		return "", session.EditSession{}, errInternal("edit session save failed")
	}

	if err := s.store.InsertActivity(ctx, store.Activity{
		PullRequestID: pr.ID,
		Type:          "edit_session_opened",
		ActorID:       viewer.UserID,
		RefID:         sess.ID,
	}); err != nil {
		return "", session.EditSession{}, errInternal("activity write failed")
	}
	return token, sess, nil
}

// RevokeEditSession ends an edit session early.
func (s *Service) RevokeEditSession(ctx context.Context, viewer Viewer, token string) error {
	if err := s.sessions.RevokeEditSession(ctx, token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return errNotFound("Edit session not found")
		}
		return errInternal("edit session revoke failed")
	}
	return nil
}
