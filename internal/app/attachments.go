package app

import (
	"context"
	"io"
	"time"

	"folio/api/internal/store"
	"folio/api/internal/util"
)

// UploadAttachment stores the file in object storage and records its
// metadata against the document entity.
func (s *Service) UploadAttachment(ctx context.Context, viewer Viewer, documentEntityID, filename, contentType string, body io.Reader, size int64) (store.Attachment, error) {
	if err := s.requireWrite(viewer); err != nil {
		return store.Attachment{}, err
	}
	if s.attachments == nil {
		return store.Attachment{}, errInternal("attachments are not configured")
	}
	if filename == "" {
		return store.Attachment{}, errInvalid("Filename is required", nil)
	}

	if _, err := s.GetDocument(ctx, viewer, documentEntityID); err != nil {
		return store.Attachment{}, err
	}

	att := store.Attachment{
		ID:               util.NewID("att"),
		WorkspaceID:      viewer.WorkspaceID,
		DocumentEntityID: documentEntityID,
		Filename:         filename,
		ContentType:      contentType,
		SizeBytes:        size,
		UploadedBy:       viewer.UserID,
	}
	objectKey, err := s.attachments.Put(ctx, viewer.WorkspaceID, att.ID, filename, contentType, body, size)
	if err != nil {
		return store.Attachment{}, errInternal("attachment upload failed")
	}
	att.ObjectKey = objectKey

	if err := s.store.InsertAttachment(ctx, att); err != nil {
		// Orphaned object; best effort cleanup.
		_ = s.attachments.Delete(ctx, objectKey)
		return store.Attachment{}, errInternal("attachment record failed")
	}
	return att, nil
}

// AttachmentURL issues a short-lived download link.
func (s *Service) AttachmentURL(ctx context.Context, viewer Viewer, attachmentID string) (string, error) {
	if s.attachments == nil {
		return "", errInternal("attachments are not configured")
	}
	att, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil || att.WorkspaceID != viewer.WorkspaceID {
		return "", errNotFound("Attachment not found")
	}
	url, err := s.attachments.PresignedURL(ctx, att.ObjectKey, 15*time.Minute)
	if err != nil {
		return "", errInternal("attachment link failed")
	}
	return url, nil
}

// ListDocumentAttachments lists the files recorded against a document.
func (s *Service) ListDocumentAttachments(ctx context.Context, viewer Viewer, documentEntityID string) ([]store.Attachment, error) {
	if _, err := s.GetDocument(ctx, viewer, documentEntityID); err != nil {
		return nil, err
	}
	items, err := s.store.ListAttachments(ctx, documentEntityID)
	if err != nil {
		return nil, errInternal("attachment listing failed")
	}
	return items, nil
}
