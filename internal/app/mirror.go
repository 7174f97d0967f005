package app

import (
	"context"

	"folio/api/internal/gitrepo"
)

// MirrorHistory lists the workspace's mainline snapshot commits, newest
// first.
func (s *Service) MirrorHistory(ctx context.Context, viewer Viewer, limit int) ([]gitrepo.CommitInfo, error) {
	if s.git == nil {
		return nil, errInternal("mirror is not configured")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.git.History(viewer.WorkspaceID, limit)
	if err != nil {
		return nil, errInternal("mirror history failed")
	}
	return items, nil
}

// MirrorSnapshot reads the mainline as of one snapshot commit.
func (s *Service) MirrorSnapshot(ctx context.Context, viewer Viewer, hash string) (gitrepo.Snapshot, error) {
	if s.git == nil {
		return gitrepo.Snapshot{}, errInternal("mirror is not configured")
	}
	snapshot, err := s.git.GetSnapshotByHash(viewer.WorkspaceID, hash)
	if err != nil {
		return gitrepo.Snapshot{}, errNotFound("Snapshot not found")
	}
	return snapshot, nil
}
