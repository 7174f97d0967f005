package app

import (
	"context"
	"testing"
	"time"

	"folio/api/internal/store"
)

func TestClassifyChange(t *testing.T) {
	cases := []struct {
		name         string
		original     *changeFields
		current      changeFields
		wantType     string
		wantTitle    bool
		wantDescribe bool
	}{
		{
			name:     "no baseline is a creation",
			original: nil,
			current:  changeFields{Title: "New", Description: "Body"},
			wantType: store.ChangeCreated,
		},
		{
			name:      "edited title",
			original:  &changeFields{Title: "Old", Description: "Body"},
			current:   changeFields{Title: "New", Description: "Body"},
			wantType:  store.ChangeUpdated,
			wantTitle: true,
		},
		{
			name:         "edited description",
			original:     &changeFields{Title: "Same", Description: "Old"},
			current:      changeFields{Title: "Same", Description: "New"},
			wantType:     store.ChangeUpdated,
			wantDescribe: true,
		},
		{
			name:     "untouched fields stay unchanged",
			original: &changeFields{Title: "Same", Description: "Same"},
			current:  changeFields{Title: "Same", Description: "Same"},
			wantType: store.ChangeUpdated,
		},
		{
			name:     "deleted marker wins over edits",
			original: &changeFields{Title: "Old", Description: "Old"},
			current:  changeFields{Title: "New", Description: "New", Deleted: true},
			wantType: store.ChangeDeleted,
		},
		{
			name:     "created then deleted in the same branch",
			original: nil,
			current:  changeFields{Title: "Gone", Deleted: true},
			wantType: store.ChangeDeleted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changeType, titleChanged, descriptionChanged := classifyChange(tc.original, tc.current)
			if changeType != tc.wantType {
				t.Fatalf("change type: want %s, got %s", tc.wantType, changeType)
			}
			if titleChanged != tc.wantTitle {
				t.Fatalf("title changed: want %v, got %v", tc.wantTitle, titleChanged)
			}
			if descriptionChanged != tc.wantDescribe {
				t.Fatalf("description changed: want %v, got %v", tc.wantDescribe, descriptionChanged)
			}
		})
	}
}

func TestCreateCommitEmptyStagingReturnsNil(t *testing.T) {
	svc := newTestService(&fakeStore{
		listUncommittedFn: func(context.Context, string) ([]store.EditIndexEntry, error) {
			return nil, nil
		},
	})
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	commit, err := svc.CreateCommit(context.Background(), viewer, "nothing staged")
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if commit != nil {
		t.Fatalf("expected nil commit, got %+v", commit)
	}
}

func TestCreateCommitBuildsDiffsAndStampsEntries(t *testing.T) {
	baseline := "dv_base"
	var captured store.CreateCommitParams
	st := &fakeStore{
		listUncommittedFn: func(context.Context, string) ([]store.EditIndexEntry, error) {
			return []store.EditIndexEntry{
				{ID: "eix_1", EntityID: "de_1", TargetKind: store.TargetDocument, CurrentVersionID: "dv_new"},
			}, nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", FirstOriginalID: &baseline, LastOriginalID: &baseline, LastCurrentID: "dv_new", LatestEntryID: "eix_1"},
			}, nil
		},
		getDocumentVersionFn: func(_ context.Context, id string) (store.DocumentVersion, error) {
			if id == "dv_base" {
				return store.DocumentVersion{ID: id, Title: "Old", Description: "Body"}, nil
			}
			return store.DocumentVersion{ID: id, Title: "New", Description: "Body", Status: store.StatusDraft}, nil
		},
		getLatestCommitFn: func(context.Context, string) (*store.Commit, error) {
			return &store.Commit{ID: "cm_parent", CreatedAt: time.Now()}, nil
		},
		createCommitFn: func(_ context.Context, params store.CreateCommitParams) error {
			captured = params
			return nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	commit, err := svc.CreateCommit(context.Background(), viewer, "first pass")
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if commit == nil {
		t.Fatal("expected a commit")
	}
	if captured.Commit.ParentCommitID == nil || *captured.Commit.ParentCommitID != "cm_parent" {
		t.Fatalf("expected parent cm_parent, got %v", captured.Commit.ParentCommitID)
	}
	if len(captured.DocumentDiffs) != 1 {
		t.Fatalf("expected 1 document diff, got %d", len(captured.DocumentDiffs))
	}
	diff := captured.DocumentDiffs[0]
	if diff.ChangeType != store.ChangeUpdated || !diff.IsTitleChanged || diff.IsDescriptionChanged {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if len(captured.EntryIDs) != 1 || captured.EntryIDs[0] != "eix_1" {
		t.Fatalf("expected entry eix_1 stamped, got %v", captured.EntryIDs)
	}
	if len(captured.PromoteVersions) != 0 {
		t.Fatalf("plain commit must not promote drafts, got %v", captured.PromoteVersions)
	}
}

func TestCreateCommitFromUserBranchPromotesDrafts(t *testing.T) {
	var captured store.CreateCommitParams
	st := &fakeStore{
		findActiveUserBranchFn: func(context.Context, string, string, string) (*store.Branch, error) {
			return &store.Branch{ID: "br_1", WorkspaceID: "ws_1"}, nil
		},
		listUncommittedFn: func(context.Context, string) ([]store.EditIndexEntry, error) {
			return []store.EditIndexEntry{
				{ID: "eix_1", EntityID: "de_1", TargetKind: store.TargetDocument, CurrentVersionID: "dv_new"},
			}, nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			return []store.EntitySpan{
				{EntityID: "de_1", LastCurrentID: "dv_new", LatestEntryID: "eix_1"},
			}, nil
		},
		getDocumentVersionFn: func(_ context.Context, id string) (store.DocumentVersion, error) {
			return store.DocumentVersion{ID: id, Title: "New", Status: store.StatusDraft}, nil
		},
		createCommitFn: func(_ context.Context, params store.CreateCommitParams) error {
			captured = params
			return nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	commit, err := svc.CreateCommitFromUserBranch(context.Background(), viewer, "push")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if commit == nil {
		t.Fatal("expected a commit")
	}
	if len(captured.PromoteVersions) != 1 || captured.PromoteVersions[0].VersionID != "dv_new" {
		t.Fatalf("expected dv_new promoted, got %v", captured.PromoteVersions)
	}
	if captured.DocumentDiffs[0].ChangeType != store.ChangeCreated {
		t.Fatalf("no baseline means created, got %s", captured.DocumentDiffs[0].ChangeType)
	}
}

func TestCreateCommitConflictSurfaces(t *testing.T) {
	st := &fakeStore{
		listUncommittedFn: func(context.Context, string) ([]store.EditIndexEntry, error) {
			return []store.EditIndexEntry{
				{ID: "eix_1", EntityID: "de_1", TargetKind: store.TargetDocument, CurrentVersionID: "dv_new"},
			}, nil
		},
		listEntitySpansFn: func(context.Context, string, string) ([]store.EntitySpan, error) {
			return nil, nil
		},
		createCommitFn: func(context.Context, store.CreateCommitParams) error {
			return store.ErrConflict
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	_, err := svc.CreateCommit(context.Background(), viewer, "racing")
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestCreateCommitOnlyDiffsStagedEntities(t *testing.T) {
	committedBase := "dv_a_base"
	var captured store.CreateCommitParams
	st := &fakeStore{
		listUncommittedFn: func(context.Context, string) ([]store.EditIndexEntry, error) {
			return []store.EditIndexEntry{
				{ID: "eix_b", EntityID: "de_b", TargetKind: store.TargetDocument, CurrentVersionID: "dv_b"},
			}, nil
		},
		listEntitySpansFn: func(_ context.Context, _ string, kind string) ([]store.EntitySpan, error) {
			if kind != string(store.TargetDocument) {
				return nil, nil
			}
			// de_a was stamped by an earlier commit, only de_b is live.
			return []store.EntitySpan{
				{EntityID: "de_a", FirstOriginalID: &committedBase, LastOriginalID: &committedBase, LastCurrentID: "dv_a", LatestEntryID: "eix_a"},
				{EntityID: "de_b", LastCurrentID: "dv_b", LatestEntryID: "eix_b"},
			}, nil
		},
		getDocumentVersionFn: func(_ context.Context, id string) (store.DocumentVersion, error) {
			return store.DocumentVersion{ID: id, Title: "T " + id, Status: store.StatusDraft}, nil
		},
		createCommitFn: func(_ context.Context, params store.CreateCommitParams) error {
			captured = params
			return nil
		},
	}
	svc := newTestService(st)
	viewer := Viewer{WorkspaceID: "ws_1", UserID: "u_1", BranchID: "br_1", Role: "editor"}

	commit, err := svc.CreateCommit(context.Background(), viewer, "second pass")
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if commit == nil {
		t.Fatal("expected a commit")
	}
	if len(captured.DocumentDiffs) != 1 {
		t.Fatalf("expected 1 diff for the 1 live entry, got %d", len(captured.DocumentDiffs))
	}
	if captured.DocumentDiffs[0].EntityID != "de_b" {
		t.Fatalf("expected diff for de_b, got %s", captured.DocumentDiffs[0].EntityID)
	}
	if len(captured.EntryIDs) != 1 || captured.EntryIDs[0] != "eix_b" {
		t.Fatalf("expected only eix_b stamped, got %v", captured.EntryIDs)
	}
}
