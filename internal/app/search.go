package app

import (
	"context"
	"strings"

	"folio/api/internal/search"
)

type SearchInput struct {
	Text       string
	Type       string
	CategoryID string
	Limit      int
	Offset     int
}

// Search runs a workspace-scoped full text query over the canonical
// mainline. Branch drafts never reach the index.
func (s *Service) Search(ctx context.Context, viewer Viewer, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return search.Response{}, errInvalid("Query text is required", nil)
	}
	if s.search == nil {
		return search.Response{}, errInternal("search is not configured")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	var filterType search.ResultType
	switch input.Type {
	case "":
	case string(search.ResultDocument):
		filterType = search.ResultDocument
	case string(search.ResultCategory):
		filterType = search.ResultCategory
	default:
		return search.Response{}, errInvalid("Unknown result type", map[string]any{"type": input.Type})
	}

	return s.search.Search(search.Query{
		Text:             text,
		WorkspaceID:      viewer.WorkspaceID,
		FilterType:       filterType,
		FilterCategoryID: input.CategoryID,
		Limit:            limit,
		Offset:           offset,
	}), nil
}
