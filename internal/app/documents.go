package app

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"folio/api/internal/store"
	"folio/api/internal/util"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type CreateDocumentInput struct {
	CategoryEntityID string `json:"categoryEntityId"`
	Title            string `json:"title"`
	Slug             string `json:"slug"`
	Description      string `json:"description"`
	Position         int    `json:"position"`
}

type UpdateDocumentInput struct {
	Title            *string `json:"title"`
	Slug             *string `json:"slug"`
	Description      *string `json:"description"`
	CategoryEntityID *string `json:"categoryEntityId"`
}

type CreateCategoryInput struct {
	ParentEntityID string `json:"parentEntityId"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
}

type UpdateCategoryInput struct {
	Title          *string `json:"title"`
	Slug           *string `json:"slug"`
	Description    *string `json:"description"`
	ParentEntityID *string `json:"parentEntityId"`
}

func validateSlug(slug string) error {
	if !slugRe.MatchString(slug) {
		return errInvalid("Slug must be lowercase words separated by single hyphens", map[string]any{"slug": slug})
	}
	return nil
}

func (s *Service) sessionTag(viewer Viewer) *string {
	if viewer.EditSessionID == "" {
		return nil
	}
	id := viewer.EditSessionID
	return &id
}

// CreateDocument authors a new document entity with its first draft version
// inside the viewer's active branch.
func (s *Service) CreateDocument(ctx context.Context, viewer Viewer, input CreateDocumentInput) (store.DocumentVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.DocumentVersion{}, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return store.DocumentVersion{}, errInvalid("Title is required", nil)
	}
	if err := validateSlug(input.Slug); err != nil {
		return store.DocumentVersion{}, err
	}

	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.DocumentVersion{}, err
	}

	category, err := s.GetCategory(ctx, viewer, input.CategoryEntityID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	if category.Deleted {
		return store.DocumentVersion{}, errNotFound("Category not found")
	}

	siblings, err := s.ListCategoryDocuments(ctx, viewer, input.CategoryEntityID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	for _, sibling := range siblings {
		if sibling.Slug == input.Slug {
			return store.DocumentVersion{}, errConflict("Slug already in use in this category", map[string]any{"slug": input.Slug})
		}
	}

	position := input.Position
	if position <= 0 || position > len(siblings)+1 {
		position = len(siblings) + 1
	}

	categoryID := input.CategoryEntityID
	version, err := s.store.CreateDocumentWithVersion(ctx, util.NewID("de"), store.StageDocument{
		WorkspaceID:      viewer.WorkspaceID,
		BranchID:         branchID,
		CategoryEntityID: &categoryID,
		Title:            input.Title,
		Slug:             input.Slug,
		Description:      input.Description,
		Position:         position,
		EditSessionID:    s.sessionTag(viewer),
		CreatedBy:        viewer.UserID,
	})
	if err != nil {
		return store.DocumentVersion{}, errInternal("document creation failed")
	}
	return version, nil
}

// GetDocument returns the version visible to the viewer. Deleted entities
// stay fetchable for diff and audit views.
func (s *Service) GetDocument(ctx context.Context, viewer Viewer, entityID string) (store.DocumentVersion, error) {
	candidates, err := s.store.ListDocumentVersionCandidates(ctx, entityID, viewer.BranchID, viewer.EditSessionID)
	if err != nil {
		return store.DocumentVersion{}, errInternal("document lookup failed")
	}
	resolved := resolveDocument(candidates)
	if resolved == nil || resolved.WorkspaceID != viewer.WorkspaceID {
		return store.DocumentVersion{}, errNotFound("Document not found")
	}
	return *resolved, nil
}

// UpdateDocument stages a copy-on-write edit of the visible version.
func (s *Service) UpdateDocument(ctx context.Context, viewer Viewer, entityID string, input UpdateDocumentInput) (store.DocumentVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.DocumentVersion{}, err
	}
	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.DocumentVersion{}, err
	}

	current, err := s.GetDocument(ctx, viewer, entityID)
	if err != nil {
		return store.DocumentVersion{}, err
	}

	next := current
	if input.Title != nil {
		next.Title = strings.TrimSpace(*input.Title)
		if next.Title == "" {
			return store.DocumentVersion{}, errInvalid("Title is required", nil)
		}
	}
	if input.Slug != nil {
		if err := validateSlug(*input.Slug); err != nil {
			return store.DocumentVersion{}, err
		}
		next.Slug = *input.Slug
	}
	if input.Description != nil {
		next.Description = *input.Description
	}
	if input.CategoryEntityID != nil {
		category, err := s.GetCategory(ctx, viewer, *input.CategoryEntityID)
		if err != nil {
			return store.DocumentVersion{}, err
		}
		if category.Deleted {
			return store.DocumentVersion{}, errNotFound("Category not found")
		}
		id := *input.CategoryEntityID
		next.CategoryEntityID = &id
	}

	if next.CategoryEntityID != nil && (input.Slug != nil || input.CategoryEntityID != nil) {
		siblings, err := s.ListCategoryDocuments(ctx, viewer, *next.CategoryEntityID)
		if err != nil {
			return store.DocumentVersion{}, err
		}
		for _, sibling := range siblings {
			if sibling.EntityID != entityID && sibling.Slug == next.Slug {
				return store.DocumentVersion{}, errConflict("Slug already in use in this category", map[string]any{"slug": next.Slug})
			}
		}
	}

	baseline := current.ID
	version, err := s.store.StageDocumentEdit(ctx, store.StageDocument{
		WorkspaceID:       viewer.WorkspaceID,
		BranchID:          branchID,
		EntityID:          entityID,
		BaselineVersionID: &baseline,
		CategoryEntityID:  next.CategoryEntityID,
		Title:             next.Title,
		Slug:              next.Slug,
		Description:       next.Description,
		Position:          next.Position,
		Deleted:           next.Deleted,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	})
	if err != nil {
		return store.DocumentVersion{}, errInternal("document update failed")
	}
	return version, nil
}

// DeleteDocument stages an edit carrying the deleted marker. History and
// diffs stay intact; the entity just stops resolving in listings.
func (s *Service) DeleteDocument(ctx context.Context, viewer Viewer, entityID string) (store.DocumentVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.DocumentVersion{}, err
	}
	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.DocumentVersion{}, err
	}

	current, err := s.GetDocument(ctx, viewer, entityID)
	if err != nil {
		return store.DocumentVersion{}, err
	}
	if current.Deleted {
		return store.DocumentVersion{}, errConflict("Document already deleted", nil)
	}

	baseline := current.ID
	version, err := s.store.StageDocumentEdit(ctx, store.StageDocument{
		WorkspaceID:       viewer.WorkspaceID,
		BranchID:          branchID,
		EntityID:          entityID,
		BaselineVersionID: &baseline,
		CategoryEntityID:  current.CategoryEntityID,
		Title:             current.Title,
		Slug:              current.Slug,
		Description:       current.Description,
		Position:          current.Position,
		Deleted:           true,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	})
	if err != nil {
		return store.DocumentVersion{}, errInternal("document deletion failed")
	}
	return version, nil
}

// ListCategoryDocuments lists the documents visible to the viewer under a
// category, in position order.
func (s *Service) ListCategoryDocuments(ctx context.Context, viewer Viewer, categoryEntityID string) ([]store.DocumentVersion, error) {
	candidates, err := s.store.ListDocumentCandidatesByCategory(ctx, viewer.WorkspaceID, categoryEntityID, viewer.BranchID, viewer.EditSessionID)
	if err != nil {
		return nil, errInternal("document listing failed")
	}
	return listDocuments(candidates, categoryEntityID), nil
}

// MoveDocument shifts a document to newPosition within its category.
func (s *Service) MoveDocument(ctx context.Context, viewer Viewer, entityID string, newPosition int) (store.ShiftResult, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.ShiftResult{}, err
	}
	if newPosition < 1 {
		return store.ShiftResult{}, errInvalid("Position must be a positive integer", map[string]any{"position": newPosition})
	}
	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.ShiftResult{}, err
	}

	current, err := s.GetDocument(ctx, viewer, entityID)
	if err != nil {
		return store.ShiftResult{}, err
	}
	if current.Deleted || current.CategoryEntityID == nil {
		return store.ShiftResult{}, errNotFound("Document not found")
	}

	result, err := s.store.ShiftDocumentPositions(ctx, viewer.WorkspaceID, branchID, *current.CategoryEntityID, entityID, newPosition, viewer.UserID)
	if err != nil {
		if errors.Is(err, store.ErrOutOfRange) {
			return store.ShiftResult{}, errInvalid("Position outside the sibling range", map[string]any{"position": newPosition})
		}
		if errors.Is(err, sql.ErrNoRows) {
			return store.ShiftResult{}, errNotFound("Document not found")
		}
		return store.ShiftResult{}, errInternal("move failed")
	}
	return result, nil
}

// CreateCategory authors a new category entity under an optional parent.
func (s *Service) CreateCategory(ctx context.Context, viewer Viewer, input CreateCategoryInput) (store.CategoryVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.CategoryVersion{}, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return store.CategoryVersion{}, errInvalid("Title is required", nil)
	}
	if err := validateSlug(input.Slug); err != nil {
		return store.CategoryVersion{}, err
	}

	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.CategoryVersion{}, err
	}

	var parentID *string
	if input.ParentEntityID != "" {
		parent, err := s.GetCategory(ctx, viewer, input.ParentEntityID)
		if err != nil {
			return store.CategoryVersion{}, err
		}
		if parent.Deleted {
			return store.CategoryVersion{}, errNotFound("Parent category not found")
		}
		id := input.ParentEntityID
		parentID = &id
	}

	siblings, err := s.ListCategories(ctx, viewer, input.ParentEntityID)
	if err != nil {
		return store.CategoryVersion{}, err
	}
	for _, sibling := range siblings {
		if sibling.Slug == input.Slug {
			return store.CategoryVersion{}, errConflict("Slug already in use under this parent", map[string]any{"slug": input.Slug})
		}
	}

	version, err := s.store.CreateCategoryWithVersion(ctx, util.NewID("ce"), store.StageCategory{
		WorkspaceID:    viewer.WorkspaceID,
		BranchID:       branchID,
		ParentEntityID: parentID,
		Title:          input.Title,
		Slug:           input.Slug,
		Description:    input.Description,
		EditSessionID:  s.sessionTag(viewer),
		CreatedBy:      viewer.UserID,
	})
	if err != nil {
		return store.CategoryVersion{}, errInternal("category creation failed")
	}
	return version, nil
}

// GetCategory returns the category version visible to the viewer.
func (s *Service) GetCategory(ctx context.Context, viewer Viewer, entityID string) (store.CategoryVersion, error) {
	candidates, err := s.store.ListCategoryVersionCandidates(ctx, entityID, viewer.BranchID, viewer.EditSessionID)
	if err != nil {
		return store.CategoryVersion{}, errInternal("category lookup failed")
	}
	resolved := resolveCategory(candidates)
	if resolved == nil || resolved.WorkspaceID != viewer.WorkspaceID {
		return store.CategoryVersion{}, errNotFound("Category not found")
	}
	return *resolved, nil
}

// UpdateCategory stages a copy-on-write category edit. Moving a category is
// itself a new version carrying the new parent.
func (s *Service) UpdateCategory(ctx context.Context, viewer Viewer, entityID string, input UpdateCategoryInput) (store.CategoryVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.CategoryVersion{}, err
	}
	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.CategoryVersion{}, err
	}

	current, err := s.GetCategory(ctx, viewer, entityID)
	if err != nil {
		return store.CategoryVersion{}, err
	}

	next := current
	if input.Title != nil {
		next.Title = strings.TrimSpace(*input.Title)
		if next.Title == "" {
			return store.CategoryVersion{}, errInvalid("Title is required", nil)
		}
	}
	if input.Slug != nil {
		if err := validateSlug(*input.Slug); err != nil {
			return store.CategoryVersion{}, err
		}
		next.Slug = *input.Slug
	}
	if input.Description != nil {
		next.Description = *input.Description
	}
	if input.ParentEntityID != nil {
		if *input.ParentEntityID == entityID {
			return store.CategoryVersion{}, errInvalid("Category cannot be its own parent", nil)
		}
		if *input.ParentEntityID == "" {
			next.ParentEntityID = nil
		} else {
			parent, err := s.GetCategory(ctx, viewer, *input.ParentEntityID)
			if err != nil {
				return store.CategoryVersion{}, err
			}
			if parent.Deleted {
				return store.CategoryVersion{}, errNotFound("Parent category not found")
			}
			id := *input.ParentEntityID
			next.ParentEntityID = &id
		}
	}

	if input.Slug != nil || input.ParentEntityID != nil {
		parentID := ""
		if next.ParentEntityID != nil {
			parentID = *next.ParentEntityID
		}
		siblings, err := s.ListCategories(ctx, viewer, parentID)
		if err != nil {
			return store.CategoryVersion{}, err
		}
		for _, sibling := range siblings {
			if sibling.EntityID != entityID && sibling.Slug == next.Slug {
				return store.CategoryVersion{}, errConflict("Slug already in use under this parent", map[string]any{"slug": next.Slug})
			}
		}
	}

	baseline := current.ID
	version, err := s.store.StageCategoryEdit(ctx, store.StageCategory{
		WorkspaceID:       viewer.WorkspaceID,
		BranchID:          branchID,
		EntityID:          entityID,
		BaselineVersionID: &baseline,
		ParentEntityID:    next.ParentEntityID,
		Title:             next.Title,
		Slug:              next.Slug,
		Description:       next.Description,
		Deleted:           next.Deleted,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	})
	if err != nil {
		return store.CategoryVersion{}, errInternal("category update failed")
	}
	return version, nil
}

// DeleteCategory stages an edit carrying the deleted marker.
func (s *Service) DeleteCategory(ctx context.Context, viewer Viewer, entityID string) (store.CategoryVersion, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.CategoryVersion{}, err
	}
	branchID, err := s.ensureBranch(ctx, &viewer)
	if err != nil {
		return store.CategoryVersion{}, err
	}

	current, err := s.GetCategory(ctx, viewer, entityID)
	if err != nil {
		return store.CategoryVersion{}, err
	}
	if current.Deleted {
		return store.CategoryVersion{}, errConflict("Category already deleted", nil)
	}

	baseline := current.ID
	version, err := s.store.StageCategoryEdit(ctx, store.StageCategory{
		WorkspaceID:       viewer.WorkspaceID,
		BranchID:          branchID,
		EntityID:          entityID,
		BaselineVersionID: &baseline,
		ParentEntityID:    current.ParentEntityID,
		Title:             current.Title,
		Slug:              current.Slug,
		Description:       current.Description,
		Deleted:           true,
		EditSessionID:     s.sessionTag(viewer),
		CreatedBy:         viewer.UserID,
	})
	if err != nil {
		return store.CategoryVersion{}, errInternal("category deletion failed")
	}
	return version, nil
}

// ListCategories lists the child categories visible under a parent (empty
// for the workspace root).
func (s *Service) ListCategories(ctx context.Context, viewer Viewer, parentEntityID string) ([]store.CategoryVersion, error) {
	candidates, err := s.store.ListCategoryCandidatesByParent(ctx, viewer.WorkspaceID, parentEntityID, viewer.BranchID, viewer.EditSessionID)
	if err != nil {
		return nil, errInternal("category listing failed")
	}
	return listCategories(candidates, parentEntityID), nil
}
