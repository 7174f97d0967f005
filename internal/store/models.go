package store

import "time"

// TargetKind distinguishes the two content kinds the engine manages.
type TargetKind string

const (
	TargetDocument TargetKind = "document"
	TargetCategory TargetKind = "category"
)

// Version statuses. Only draft→pushed→merged transitions happen in place;
// every other change produces a new version row.
const (
	StatusDraft        = "draft"
	StatusPushed       = "pushed"
	StatusMerged       = "merged"
	StatusFixRequested = "fix_requested"
)

// Change types recorded on commit diffs.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Pull request statuses.
const (
	PROpened   = "opened"
	PRConflict = "conflict"
	PRClosed   = "closed"
	PRMerged   = "merged"
)

// Fix request statuses.
const (
	FixPending  = "pending"
	FixApplied  = "applied"
	FixArchived = "archived"
)

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Branch struct {
	ID          string
	WorkspaceID string
	UserID      string
	BaselineAt  time.Time
	CreatedAt   time.Time
}

type BranchSession struct {
	ID          string
	BranchID    string
	WorkspaceID string
	UserID      string
	CreatedAt   time.Time
}

type DocumentEntity struct {
	ID          string
	WorkspaceID string
	Deleted     bool
	CreatedAt   time.Time
}

type CategoryEntity struct {
	ID          string
	WorkspaceID string
	Deleted     bool
	CreatedAt   time.Time
}

// DocumentVersion is an immutable snapshot of a document. BranchID is nil
// once canonical; SupersededAt marks retired canonical rows kept for history.
type DocumentVersion struct {
	ID               string
	EntityID         string
	WorkspaceID      string
	BranchID         *string
	CategoryEntityID *string
	Title            string
	Slug             string
	Description      string
	Status           string
	Deleted          bool
	Position         int
	EditSessionID    *string
	SupersededAt     *time.Time
	CreatedBy        string
	CreatedAt        time.Time
}

type CategoryVersion struct {
	ID             string
	EntityID       string
	WorkspaceID    string
	BranchID       *string
	ParentEntityID *string
	Title          string
	Slug           string
	Description    string
	Status         string
	Deleted        bool
	EditSessionID  *string
	SupersededAt   *time.Time
	CreatedBy      string
	CreatedAt      time.Time
}

// EditIndexEntry maps an entity's edit baseline to its current in-progress
// version within one branch. CommitID is set once a commit claims the entry.
type EditIndexEntry struct {
	ID                string
	BranchID          string
	TargetKind        TargetKind
	EntityID          string
	OriginalVersionID *string
	CurrentVersionID  string
	CommitID          *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EntitySpan aggregates a branch's edit history for one entity: the baseline
// before the branch's first edit and the latest staged version.
type EntitySpan struct {
	EntityID        string
	FirstOriginalID *string
	LastOriginalID  *string
	LastCurrentID   string
	LatestEntryID   string
}

type Commit struct {
	ID             string
	BranchID       string
	ParentCommitID *string
	AuthorID       string
	Message        string
	CreatedAt      time.Time
}

type CommitDiff struct {
	ID                     string
	CommitID               string
	EntityID               string
	ChangeType             string
	IsTitleChanged         bool
	IsDescriptionChanged   bool
	FirstOriginalVersionID *string
	LastCurrentVersionID   string
}

type PullRequest struct {
	ID          string
	WorkspaceID string
	BranchID    string
	Title       string
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MergedAt    *time.Time
	ClosedAt    *time.Time
}

type Reviewer struct {
	ID            string
	PullRequestID string
	UserID        string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Activity is one append-only pull request log record.
type Activity struct {
	ID            int64
	PullRequestID string
	Type          string
	ActorID       string
	RefID         string
	Payload       map[string]any
	CreatedAt     time.Time
}

type FixRequest struct {
	ID            string
	PullRequestID string
	Token         string
	RequestedBy   string
	Comment       string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type FixRequestTarget struct {
	ID            string
	FixRequestID  string
	TargetKind    TargetKind
	EntityID      string
	BaseVersionID *string
}

type WorkspaceEvent struct {
	ID            int64
	WorkspaceID   string
	Type          string
	ActorID       string
	PullRequestID string
	Payload       map[string]any
	CreatedAt     time.Time
}

type Attachment struct {
	ID               string
	WorkspaceID      string
	DocumentEntityID string
	Filename         string
	ContentType      string
	SizeBytes        int64
	ObjectKey        string
	UploadedBy       string
	CreatedAt        time.Time
}

// MergePromotion names one version to promote to canonical during merge.
type MergePromotion struct {
	TargetKind TargetKind
	EntityID   string
	VersionID  string
}
