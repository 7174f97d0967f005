package app

import (
	"context"
	"errors"

	"folio/api/internal/store"
	"folio/api/internal/util"
)

// changeFields is the slice of a version the diff classifier reads.
type changeFields struct {
	Title       string
	Description string
	Deleted     bool
}

// classifyChange derives the diff row for one entity span. A span whose
// latest version carries the deleted marker is a deletion and the field
// flags stay false; a span with no baseline is a creation; everything else
// is an update with field flags.
func classifyChange(original *changeFields, current changeFields) (changeType string, titleChanged, descriptionChanged bool) {
	if current.Deleted {
		return store.ChangeDeleted, false, false
	}
	if original == nil {
		return store.ChangeCreated, false, false
	}
	return store.ChangeUpdated, original.Title != current.Title, original.Description != current.Description
}

func (s *Service) documentDiff(ctx context.Context, commitID string, span store.EntitySpan) (store.CommitDiff, error) {
	current, err := s.store.GetDocumentVersion(ctx, span.LastCurrentID)
	if err != nil {
		return store.CommitDiff{}, err
	}
	var original *changeFields
	if span.FirstOriginalID != nil {
		v, err := s.store.GetDocumentVersion(ctx, *span.FirstOriginalID)
		if err != nil {
			return store.CommitDiff{}, err
		}
		original = &changeFields{Title: v.Title, Description: v.Description, Deleted: v.Deleted}
	}
	changeType, titleChanged, descriptionChanged := classifyChange(original, changeFields{
		Title:       current.Title,
		Description: current.Description,
		Deleted:     current.Deleted,
	})
	return store.CommitDiff{
		ID:                     util.NewID("cdd"),
		CommitID:               commitID,
		EntityID:               span.EntityID,
		ChangeType:             changeType,
		IsTitleChanged:         titleChanged,
		IsDescriptionChanged:   descriptionChanged,
		FirstOriginalVersionID: span.FirstOriginalID,
		LastCurrentVersionID:   span.LastCurrentID,
	}, nil
}

func (s *Service) categoryDiff(ctx context.Context, commitID string, span store.EntitySpan) (store.CommitDiff, error) {
	current, err := s.store.GetCategoryVersion(ctx, span.LastCurrentID)
	if err != nil {
		return store.CommitDiff{}, err
	}
	var original *changeFields
	if span.FirstOriginalID != nil {
		v, err := s.store.GetCategoryVersion(ctx, *span.FirstOriginalID)
		if err != nil {
			return store.CommitDiff{}, err
		}
		original = &changeFields{Title: v.Title, Description: v.Description, Deleted: v.Deleted}
	}
	changeType, titleChanged, descriptionChanged := classifyChange(original, changeFields{
		Title:       current.Title,
		Description: current.Description,
		Deleted:     current.Deleted,
	})
	return store.CommitDiff{
		ID:                     util.NewID("ccd"),
		CommitID:               commitID,
		EntityID:               span.EntityID,
		ChangeType:             changeType,
		IsTitleChanged:         titleChanged,
		IsDescriptionChanged:   descriptionChanged,
		FirstOriginalVersionID: span.FirstOriginalID,
		LastCurrentVersionID:   span.LastCurrentID,
	}, nil
}

// buildCommit assembles the commit row, its diffs, and the entries to stamp
// for a branch's uncommitted staging. Returns nil when nothing is staged.
func (s *Service) buildCommit(ctx context.Context, viewer Viewer, branchID, message string) (*store.CreateCommitParams, error) {
	entries, err := s.store.ListUncommittedEntries(ctx, branchID)
	if err != nil {
		return nil, errInternal("staging lookup failed")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	parent, err := s.store.GetLatestCommit(ctx, branchID)
	if err != nil {
		return nil, errInternal("commit lookup failed")
	}

	commit := store.Commit{
		ID:       util.NewID("cm"),
		BranchID: branchID,
		AuthorID: viewer.UserID,
		Message:  message,
	}
	if parent != nil {
		id := parent.ID
		commit.ParentCommitID = &id
	}

	docSpans, err := s.store.ListBranchEntitySpans(ctx, branchID, string(store.TargetDocument))
	if err != nil {
		return nil, errInternal("staging lookup failed")
	}
	catSpans, err := s.store.ListBranchEntitySpans(ctx, branchID, string(store.TargetCategory))
	if err != nil {
		return nil, errInternal("staging lookup failed")
	}

	// Spans cover every entity the branch ever touched; this commit only
	// diffs the entities with a live entry. One entry, one diff row.
	staged := make(map[store.TargetKind]map[string]bool)
	for _, entry := range entries {
		if staged[entry.TargetKind] == nil {
			staged[entry.TargetKind] = make(map[string]bool)
		}
		staged[entry.TargetKind][entry.EntityID] = true
	}

	params := &store.CreateCommitParams{Commit: commit}
	for _, span := range docSpans {
		if !staged[store.TargetDocument][span.EntityID] {
			continue
		}
		diff, err := s.documentDiff(ctx, commit.ID, span)
		if err != nil {
			return nil, errInternal("diff build failed")
		}
		params.DocumentDiffs = append(params.DocumentDiffs, diff)
	}
	for _, span := range catSpans {
		if !staged[store.TargetCategory][span.EntityID] {
			continue
		}
		diff, err := s.categoryDiff(ctx, commit.ID, span)
		if err != nil {
			return nil, errInternal("diff build failed")
		}
		params.CategoryDiffs = append(params.CategoryDiffs, diff)
	}
	for _, entry := range entries {
		params.EntryIDs = append(params.EntryIDs, entry.ID)
	}

	if pr, err := s.store.GetPullRequestByBranch(ctx, branchID); err == nil && pr != nil {
		params.Activity = &store.Activity{
			PullRequestID: pr.ID,
			Type:          "commit_created",
			ActorID:       viewer.UserID,
			RefID:         commit.ID,
			Payload:       map[string]any{"message": message},
		}
	} else if err != nil {
		return nil, errInternal("pull request lookup failed")
	}

	return params, nil
}

// CreateCommit snapshots the branch's staged edits. Returns (nil, nil) when
// nothing is staged. Versions keep their status; only a push off a user
// branch promotes drafts.
func (s *Service) CreateCommit(ctx context.Context, viewer Viewer, message string) (*store.Commit, error) {
	if err := s.requireWrite(viewer); err != nil {
		return nil, err
	}
	if viewer.BranchID == "" {
		return nil, nil
	}

	params, err := s.buildCommit(ctx, viewer, viewer.BranchID, message)
	if err != nil || params == nil {
		return nil, err
	}
	if err := s.store.CreateCommit(ctx, *params); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errConflict("Staging changed while committing, retry", nil)
		}
		return nil, errInternal("commit failed")
	}
	return &params.Commit, nil
}

// CreateCommitFromUserBranch is the push: it commits the staging and
// promotes the committed draft versions to pushed in the same transaction.
func (s *Service) CreateCommitFromUserBranch(ctx context.Context, viewer Viewer, message string) (*store.Commit, error) {
	if err := s.requireWrite(viewer); err != nil {
		return nil, err
	}
	branch, err := s.FindActiveUserBranch(ctx, viewer, viewer.BranchID)
	if err != nil {
		return nil, err
	}
	if branch == nil {
		return nil, errNotFound("No active branch")
	}

	params, err := s.buildCommit(ctx, viewer, branch.ID, message)
	if err != nil || params == nil {
		return nil, err
	}

	for _, diff := range params.DocumentDiffs {
		v, err := s.store.GetDocumentVersion(ctx, diff.LastCurrentVersionID)
		if err != nil {
			return nil, errInternal("version lookup failed")
		}
		if v.Status == store.StatusDraft {
			params.PromoteVersions = append(params.PromoteVersions, store.MergePromotion{
				TargetKind: store.TargetDocument,
				EntityID:   diff.EntityID,
				VersionID:  diff.LastCurrentVersionID,
			})
		}
	}
	for _, diff := range params.CategoryDiffs {
		v, err := s.store.GetCategoryVersion(ctx, diff.LastCurrentVersionID)
		if err != nil {
			return nil, errInternal("version lookup failed")
		}
		if v.Status == store.StatusDraft {
			params.PromoteVersions = append(params.PromoteVersions, store.MergePromotion{
				TargetKind: store.TargetCategory,
				EntityID:   diff.EntityID,
				VersionID:  diff.LastCurrentVersionID,
			})
		}
	}

	if err := s.store.CreateCommit(ctx, *params); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errConflict("Staging changed while committing, retry", nil)
		}
		return nil, errInternal("commit failed")
	}
	return &params.Commit, nil
}

// ListBranchCommits returns the branch's commit log, newest first.
func (s *Service) ListBranchCommits(ctx context.Context, viewer Viewer, branchID string) ([]store.Commit, error) {
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, errNotFound("Branch not found")
	}
	if branch.WorkspaceID != viewer.WorkspaceID {
		return nil, errNotFound("Branch not found")
	}
	commits, err := s.store.ListCommits(ctx, branchID)
	if err != nil {
		return nil, errInternal("commit listing failed")
	}
	return commits, nil
}

// GetCommitDiffs returns both diff families for one commit.
func (s *Service) GetCommitDiffs(ctx context.Context, viewer Viewer, commitID string) ([]store.CommitDiff, []store.CommitDiff, error) {
	commit, err := s.store.GetCommit(ctx, commitID)
	if err != nil {
		return nil, nil, errNotFound("Commit not found")
	}
	branch, err := s.store.GetBranch(ctx, commit.BranchID)
	if err != nil || branch.WorkspaceID != viewer.WorkspaceID {
		return nil, nil, errNotFound("Commit not found")
	}
	docs, cats, err := s.store.ListCommitDiffs(ctx, commitID)
	if err != nil {
		return nil, nil, errInternal("diff listing failed")
	}
	return docs, cats, nil
}
