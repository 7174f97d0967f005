package app

import (
	"testing"

	"folio/api/internal/store"
)

func strptr(s string) *string { return &s }

func docCandidate(tier int, id, entityID, slug string, position int, deleted bool, branchID, sessionID *string) store.DocumentCandidate {
	return store.DocumentCandidate{
		Tier: tier,
		Version: store.DocumentVersion{
			ID:               id,
			EntityID:         entityID,
			CategoryEntityID: strptr("ce_root"),
			Slug:             slug,
			Position:         position,
			Deleted:          deleted,
			BranchID:         branchID,
			EditSessionID:    sessionID,
		},
	}
}

func TestResolveDocumentPrefersLowestTier(t *testing.T) {
	candidates := []store.DocumentCandidate{
		docCandidate(store.TierEditSession, "dv_session", "de_1", "doc", 1, false, strptr("br_1"), strptr("es_1")),
		docCandidate(store.TierBranch, "dv_branch", "de_1", "doc", 1, false, strptr("br_1"), nil),
		docCandidate(store.TierCanonical, "dv_canon", "de_1", "doc", 1, false, nil, nil),
	}
	resolved := resolveDocument(candidates)
	if resolved == nil || resolved.ID != "dv_session" {
		t.Fatalf("expected the edit session version, got %+v", resolved)
	}

	resolved = resolveDocument(candidates[1:])
	if resolved == nil || resolved.ID != "dv_branch" {
		t.Fatalf("expected the branch version, got %+v", resolved)
	}

	resolved = resolveDocument(candidates[2:])
	if resolved == nil || resolved.ID != "dv_canon" {
		t.Fatalf("expected the canonical version, got %+v", resolved)
	}

	if resolved := resolveDocument(nil); resolved != nil {
		t.Fatalf("expected nil for no candidates, got %+v", resolved)
	}
}

func TestResolveDocumentSetOneVersionPerEntity(t *testing.T) {
	candidates := []store.DocumentCandidate{
		docCandidate(store.TierBranch, "dv_a_branch", "de_a", "a", 1, false, strptr("br_1"), nil),
		docCandidate(store.TierCanonical, "dv_a_canon", "de_a", "a", 1, false, nil, nil),
		docCandidate(store.TierCanonical, "dv_b_canon", "de_b", "b", 2, false, nil, nil),
	}
	resolved := resolveDocumentSet(candidates)
	if len(resolved) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(resolved))
	}
	if resolved[0].ID != "dv_a_branch" || resolved[1].ID != "dv_b_canon" {
		t.Fatalf("unexpected resolution: %s, %s", resolved[0].ID, resolved[1].ID)
	}
}

func TestListDocumentsExcludesDeleted(t *testing.T) {
	candidates := []store.DocumentCandidate{
		docCandidate(store.TierBranch, "dv_gone", "de_gone", "gone", 1, true, strptr("br_1"), nil),
		docCandidate(store.TierCanonical, "dv_gone_canon", "de_gone", "gone", 1, false, nil, nil),
		docCandidate(store.TierCanonical, "dv_live", "de_live", "live", 2, false, nil, nil),
	}
	items := listDocuments(candidates, "ce_root")
	if len(items) != 1 || items[0].ID != "dv_live" {
		t.Fatalf("expected only the live document, got %+v", items)
	}
}

func TestListDocumentsExcludesMovedOut(t *testing.T) {
	moved := docCandidate(store.TierBranch, "dv_moved", "de_m", "moved", 1, false, strptr("br_1"), nil)
	moved.Version.CategoryEntityID = strptr("ce_other")
	candidates := []store.DocumentCandidate{
		moved,
		docCandidate(store.TierCanonical, "dv_m_canon", "de_m", "moved", 1, false, nil, nil),
	}
	// The branch moved the document elsewhere, so the old category must not
	// show the stale canonical row.
	items := listDocuments(candidates, "ce_root")
	if len(items) != 0 {
		t.Fatalf("expected no documents, got %+v", items)
	}
}

func TestDedupeBySlugOwnVersionWins(t *testing.T) {
	candidates := []store.DocumentCandidate{
		docCandidate(store.TierCanonical, "dv_theirs", "de_theirs", "shared", 1, false, nil, nil),
		docCandidate(store.TierBranch, "dv_mine", "de_mine", "shared", 2, false, strptr("br_1"), nil),
	}
	items := listDocuments(candidates, "ce_root")
	if len(items) != 1 {
		t.Fatalf("expected one winner, got %d", len(items))
	}
	if items[0].ID != "dv_mine" {
		t.Fatalf("expected the viewer's own version to win, got %s", items[0].ID)
	}
}

func TestListDocumentsOrdersByPosition(t *testing.T) {
	candidates := []store.DocumentCandidate{
		docCandidate(store.TierCanonical, "dv_3", "de_3", "three", 3, false, nil, nil),
		docCandidate(store.TierCanonical, "dv_1", "de_1", "one", 1, false, nil, nil),
		docCandidate(store.TierCanonical, "dv_2", "de_2", "two", 2, false, nil, nil),
	}
	items := listDocuments(candidates, "ce_root")
	if len(items) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(items))
	}
	for i, want := range []string{"dv_1", "dv_2", "dv_3"} {
		if items[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, items[i].ID)
		}
	}
}

func TestListCategoriesFiltersByParent(t *testing.T) {
	root := store.CategoryCandidate{Tier: store.TierCanonical, Version: store.CategoryVersion{
		ID: "cv_root", EntityID: "ce_root", Title: "Root", Slug: "root",
	}}
	child := store.CategoryCandidate{Tier: store.TierCanonical, Version: store.CategoryVersion{
		ID: "cv_child", EntityID: "ce_child", ParentEntityID: strptr("ce_root"), Title: "Child", Slug: "child",
	}}

	items := listCategories([]store.CategoryCandidate{root, child}, "")
	if len(items) != 1 || items[0].ID != "cv_root" {
		t.Fatalf("expected only the root category, got %+v", items)
	}
	items = listCategories([]store.CategoryCandidate{root, child}, "ce_root")
	if len(items) != 1 || items[0].ID != "cv_child" {
		t.Fatalf("expected only the child category, got %+v", items)
	}
}
