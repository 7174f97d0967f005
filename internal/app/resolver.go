package app

import (
	"sort"

	"folio/api/internal/store"
)

// Version resolution. Candidates arrive from the store ordered tier-first
// (edit session, then own branch, then canonical) and newest-first within a
// tier, so the first row seen for an entity is its authoritative version.

// resolveDocument picks the visible version for one entity, or nil when the
// entity has no visible version at all.
func resolveDocument(candidates []store.DocumentCandidate) *store.DocumentVersion {
	if len(candidates) == 0 {
		return nil
	}
	v := candidates[0].Version
	return &v
}

func resolveCategory(candidates []store.CategoryCandidate) *store.CategoryVersion {
	if len(candidates) == 0 {
		return nil
	}
	v := candidates[0].Version
	return &v
}

// resolveDocumentSet collapses a multi-entity candidate list to one version
// per entity, preserving the tier precedence.
func resolveDocumentSet(candidates []store.DocumentCandidate) []store.DocumentVersion {
	seen := make(map[string]bool, len(candidates))
	resolved := make([]store.DocumentVersion, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Version.EntityID] {
			continue
		}
		seen[c.Version.EntityID] = true
		resolved = append(resolved, c.Version)
	}
	return resolved
}

func resolveCategorySet(candidates []store.CategoryCandidate) []store.CategoryVersion {
	seen := make(map[string]bool, len(candidates))
	resolved := make([]store.CategoryVersion, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Version.EntityID] {
			continue
		}
		seen[c.Version.EntityID] = true
		resolved = append(resolved, c.Version)
	}
	return resolved
}

// ownVersion reports whether a resolved version belongs to the viewer's own
// in-progress work rather than the mainline.
func ownVersion(branchID, sessionID *string) bool {
	return branchID != nil || sessionID != nil
}

// dedupeDocumentsBySlug suppresses slug collisions in a listing: when the
// viewer's own in-progress version and another row would share a slug, the
// viewer's own version wins and the other row disappears from the result.
func dedupeDocumentsBySlug(versions []store.DocumentVersion) []store.DocumentVersion {
	winners := make(map[string]int, len(versions))
	out := make([]store.DocumentVersion, 0, len(versions))
	for _, v := range versions {
		idx, ok := winners[v.Slug]
		if !ok {
			winners[v.Slug] = len(out)
			out = append(out, v)
			continue
		}
		if ownVersion(v.BranchID, v.EditSessionID) && !ownVersion(out[idx].BranchID, out[idx].EditSessionID) {
			out[idx] = v
		}
	}
	return out
}

func dedupeCategoriesBySlug(versions []store.CategoryVersion) []store.CategoryVersion {
	winners := make(map[string]int, len(versions))
	out := make([]store.CategoryVersion, 0, len(versions))
	for _, v := range versions {
		idx, ok := winners[v.Slug]
		if !ok {
			winners[v.Slug] = len(out)
			out = append(out, v)
			continue
		}
		if ownVersion(v.BranchID, v.EditSessionID) && !ownVersion(out[idx].BranchID, out[idx].EditSessionID) {
			out[idx] = v
		}
	}
	return out
}

// listDocuments produces a category listing: resolve per entity, drop
// versions filed elsewhere or deleted, dedupe by slug, order by position.
// Deleted-only entities stay out of listings but remain fetchable.
func listDocuments(candidates []store.DocumentCandidate, categoryEntityID string) []store.DocumentVersion {
	resolved := resolveDocumentSet(candidates)
	filtered := make([]store.DocumentVersion, 0, len(resolved))
	for _, v := range resolved {
		if v.Deleted {
			continue
		}
		if v.CategoryEntityID == nil || *v.CategoryEntityID != categoryEntityID {
			continue
		}
		filtered = append(filtered, v)
	}
	filtered = dedupeDocumentsBySlug(filtered)
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Position < filtered[j].Position })
	return filtered
}

// listCategories produces a child-category listing for a parent (empty for
// root), ordered by title.
func listCategories(candidates []store.CategoryCandidate, parentEntityID string) []store.CategoryVersion {
	resolved := resolveCategorySet(candidates)
	filtered := make([]store.CategoryVersion, 0, len(resolved))
	for _, v := range resolved {
		if v.Deleted {
			continue
		}
		parent := ""
		if v.ParentEntityID != nil {
			parent = *v.ParentEntityID
		}
		if parent != parentEntityID {
			continue
		}
		filtered = append(filtered, v)
	}
	filtered = dedupeCategoriesBySlug(filtered)
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Title < filtered[j].Title })
	return filtered
}
