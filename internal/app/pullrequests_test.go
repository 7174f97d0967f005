package app

import (
	"context"
	"testing"

	"folio/api/internal/store"
)

func openPR() store.PullRequest {
	return store.PullRequest{
		ID:          "pr_1",
		WorkspaceID: "ws_1",
		BranchID:    "br_1",
		Title:       "Review me",
		Status:      store.PROpened,
		CreatedBy:   "u_author",
	}
}

func TestDetectConflictsFlagsStaleBaseline(t *testing.T) {
	stale := "dv_old_canon"
	st := &fakeStore{
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", FirstOriginalID: &stale, LastOriginalID: &stale, LastCurrentID: "dv_branch", LatestEntryID: "eix_1"},
			}, nil
		},
		getCanonicalDocFn: func(context.Context, string) (*store.DocumentVersion, error) {
			return &store.DocumentVersion{ID: "dv_new_canon", EntityID: "de_1"}, nil
		},
	}
	svc := newTestService(st)

	conflicts, err := svc.detectConflicts(context.Background(), "br_1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.EntityID != "de_1" || c.CanonicalVersionID != "dv_new_canon" {
		t.Fatalf("unexpected conflict: %+v", c)
	}
}

func TestDetectConflictsAcknowledgedBaselineIsClean(t *testing.T) {
	current := "dv_canon"
	st := &fakeStore{
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", LastOriginalID: &current, LastCurrentID: "dv_branch", LatestEntryID: "eix_1"},
			}, nil
		},
		getCanonicalDocFn: func(context.Context, string) (*store.DocumentVersion, error) {
			return &store.DocumentVersion{ID: "dv_canon", EntityID: "de_1"}, nil
		},
	}
	svc := newTestService(st)

	conflicts, err := svc.detectConflicts(context.Background(), "br_1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}

func TestDetectConflictsEntityNeverMergedIsClean(t *testing.T) {
	st := &fakeStore{
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_fresh", LastCurrentID: "dv_branch", LatestEntryID: "eix_1"},
			}, nil
		},
	}
	svc := newTestService(st)

	conflicts, err := svc.detectConflicts(context.Background(), "br_1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts for a branch-created entity, got %+v", conflicts)
	}
}

func TestResolveConflictRejectsMarkers(t *testing.T) {
	pr := openPR()
	pr.Status = store.PRConflict
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return pr, nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_author", BranchID: "br_1", Role: "editor"}

	for _, bad := range []string{
		"<<<<<<< ours\ntitle\n=======",
		"clean title but\n>>>>>>> theirs",
	} {
		_, _, err := svc.ResolveConflict(context.Background(), viewer, "pr_1", ResolveConflictInput{
			TargetKind:  store.TargetDocument,
			EntityID:    "de_1",
			Title:       bad,
			Slug:        "doc",
			Description: "resolved",
		})
		var domainErr *DomainError
		if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_INPUT" {
			t.Fatalf("expected INVALID_INPUT for %q, got %v", bad, err)
		}
	}
}

func TestResolveConflictAdvancesBaseline(t *testing.T) {
	pr := openPR()
	pr.Status = store.PRConflict
	acknowledged := ""
	canonicalID := "dv_new_canon"
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return pr, nil
		},
		getCanonicalDocFn: func(context.Context, string) (*store.DocumentVersion, error) {
			return &store.DocumentVersion{ID: canonicalID, EntityID: "de_1"}, nil
		},
		listDocCandidatesFn: func(context.Context, string, string, string) ([]store.DocumentCandidate, error) {
			return []store.DocumentCandidate{
				{Tier: store.TierBranch, Version: store.DocumentVersion{ID: "dv_branch", EntityID: "de_1", WorkspaceID: "ws_1"}},
			}, nil
		},
		getUncommittedEntryFn: func(context.Context, string, string, string) (*store.EditIndexEntry, error) {
			return &store.EditIndexEntry{ID: "eix_live", EntityID: "de_1"}, nil
		},
		updateEntryBaselineFn: func(_ context.Context, entryID string, baseline *string) error {
			if baseline != nil {
				acknowledged = *baseline
			}
			return nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", LastOriginalID: &canonicalID, LastCurrentID: "dv_resolved", LatestEntryID: "eix_live"},
			}, nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_author", BranchID: "br_1", Role: "editor"}

	updated, conflicts, err := svc.ResolveConflict(context.Background(), viewer, "pr_1", ResolveConflictInput{
		TargetKind:  store.TargetDocument,
		EntityID:    "de_1",
		Title:       "Reconciled",
		Slug:        "doc",
		Description: "both sides merged",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if acknowledged != canonicalID {
		t.Fatalf("expected baseline advanced to %s, got %q", canonicalID, acknowledged)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected conflicts cleared, got %+v", conflicts)
	}
	if updated.Status != store.PROpened {
		t.Fatalf("expected the pull request back to opened, got %s", updated.Status)
	}
}

func TestMergeMissingPullRequestIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "admin"}

	_, err := svc.MergePullRequest(context.Background(), viewer, "pr_missing")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestMergeWithoutMergeRightsIsForbidden(t *testing.T) {
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return openPR(), nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "viewer"}

	_, err := svc.MergePullRequest(context.Background(), viewer, "pr_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestMergeBlockedByConflicts(t *testing.T) {
	stale := "dv_old"
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return openPR(), nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", LastOriginalID: &stale, LastCurrentID: "dv_branch", LatestEntryID: "eix_1"},
			}, nil
		},
		getCanonicalDocFn: func(context.Context, string) (*store.DocumentVersion, error) {
			return &store.DocumentVersion{ID: "dv_current", EntityID: "de_1"}, nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "admin"}

	_, err := svc.MergePullRequest(context.Background(), viewer, "pr_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestMergePromotesSpanHeads(t *testing.T) {
	var captured []store.MergePromotion
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return openPR(), nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind == string(store.TargetDocument) {
				return []store.EntitySpan{
					{EntityID: "de_1", LastCurrentID: "dv_head", LatestEntryID: "eix_1"},
				}, nil
			}
			return []store.EntitySpan{
				{EntityID: "ce_1", LastCurrentID: "cv_head", LatestEntryID: "eix_2"},
			}, nil
		},
		mergePullRequestFn: func(_ context.Context, _, _ string, promotions []store.MergePromotion, _ store.Activity, _ *store.WorkspaceEvent) error {
			captured = promotions
			return nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "admin"}

	pr, err := svc.MergePullRequest(context.Background(), viewer, "pr_1")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if pr.Status != store.PRMerged {
		t.Fatalf("expected merged, got %s", pr.Status)
	}
	if len(captured) != 2 {
		t.Fatalf("expected 2 promotions, got %d", len(captured))
	}
	if captured[0].VersionID != "dv_head" || captured[1].VersionID != "cv_head" {
		t.Fatalf("unexpected promotions: %+v", captured)
	}
}

func TestClosePullRequestTwiceConflicts(t *testing.T) {
	pr := openPR()
	st := &fakeStore{
		getPullRequestFn: func(context.Context, string) (store.PullRequest, error) {
			return pr, nil
		},
		updatePRStatusFn: func(context.Context, string, string, string, *store.Activity) error {
			pr.Status = store.PRClosed
			return nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", Role: "editor"}

	if _, err := svc.ClosePullRequest(context.Background(), viewer, "pr_1"); err != nil {
		t.Fatalf("first close: %v", err)
	}
	_, err := svc.ClosePullRequest(context.Background(), viewer, "pr_1")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT on double close, got %v", err)
	}
}

func TestOpenPullRequestNeedsACommit(t *testing.T) {
	st := &fakeStore{
		findActiveUserBranchFn: func(context.Context, string, string, string) (*store.Branch, error) {
			return &store.Branch{ID: "br_1", WorkspaceID: "ws_1"}, nil
		},
		getLatestCommitFn: func(context.Context, string) (*store.Commit, error) {
			return nil, nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	_, _, err := svc.OpenPullRequest(context.Background(), viewer, "Empty branch", nil)
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
