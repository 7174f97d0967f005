package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultCategory ResultType = "category"
)

// Result is a single search hit returned to the caller. Only canonical
// mainline content is searchable; branch drafts never reach the index.
type Result struct {
	Type        ResultType `json:"type"`
	EntityID    string     `json:"entityId"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	Slug        string     `json:"slug"`
	CategoryID  string     `json:"categoryId,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request.
type Query struct {
	Text             string
	WorkspaceID      string
	FilterType       ResultType // empty = all types
	FilterCategoryID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a canonical document.
type DocumentRecord struct {
	EntityID    string `json:"entityId"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	CategoryID  string `json:"categoryId"`
	WorkspaceID string `json:"workspaceId"`
}

// CategoryRecord is the data we index for a canonical category.
type CategoryRecord struct {
	EntityID    string `json:"entityId"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	WorkspaceID string `json:"workspaceId"`
}
