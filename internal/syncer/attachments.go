package syncer

import (
	"context"
	"io"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/rbac"
	"go.uber.org/zap"
)

// AttachFile uploads r to blob storage and records the stored name on the
// document. The upload is checked against the policy and the caller's update
// rights before any bytes are sent.
func (s *Synchronizer) AttachFile(ctx context.Context, docID int64, name, mediaType string, size int64, r io.Reader) (domain.Document, error) {
	if s.blobs == nil {
		return domain.Document{}, domain.RemoteUnavailable("attachment storage is not configured", nil)
	}
	if err := s.policy.Check(name, mediaType, size); err != nil {
		return domain.Document{}, err
	}
	snap, bound, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer cancel()

	existing, err := s.lookup(bound, snap, docID)
	if err != nil {
		return domain.Document{}, err
	}
	if d := rbac.Authorize(snap.Principal, rbac.ActionUpdate, rbac.OnDocument(existing)); !d.Allowed {
		return domain.Document{}, forbidden(d)
	}

	stored, err := s.blobs.Upload(bound, name, mediaType, size, r)
	if err != nil {
		return domain.Document{}, s.failed("upload attachment", err)
	}
	s.log.Info("attachment uploaded", zap.Int64("document", docID), zap.String("object", stored), zap.Int64("size", size))

	patch := domain.DocumentPatch{FileName: &stored, FileType: &mediaType}
	doc, err := s.UpdateDocument(ctx, docID, patch)
	if err != nil {
		s.discardUpload(ctx, docID, stored, err)
		return domain.Document{}, err
	}
	return doc, nil
}

// discardUpload cleans up after an upload whose document update failed.
// The object is removed only when the server certainly did not record it;
// otherwise its name is logged for manual cleanup.
func (s *Synchronizer) discardUpload(ctx context.Context, docID int64, object string, cause error) {
	switch domain.KindOf(cause) {
	case domain.KindNotFound, domain.KindForbidden, domain.KindValidationFailed, domain.KindUnauthenticated:
		err := s.blobs.Remove(context.WithoutCancel(ctx), object)
		if err == nil {
			s.log.Info("attachment removed", zap.Int64("document", docID), zap.String("object", object))
			return
		}
		s.log.Warn("attachment removal failed", zap.String("object", object), zap.Error(err))
	}
	s.log.Warn("attachment orphaned", zap.Int64("document", docID), zap.String("object", object), zap.Error(cause))
}

// DownloadAttachment opens the file attached to a document the caller may
// view. The caller closes the reader.
func (s *Synchronizer) DownloadAttachment(ctx context.Context, docID int64) (io.ReadCloser, domain.Attachment, error) {
	if s.blobs == nil {
		return nil, domain.Attachment{}, domain.RemoteUnavailable("attachment storage is not configured", nil)
	}
	doc, ok, err := s.GetDocument(ctx, docID)
	if err != nil {
		return nil, domain.Attachment{}, err
	}
	if !ok {
		return nil, domain.Attachment{}, domain.NotFound(documents, docID)
	}
	file := doc.File()
	if file == nil {
		return nil, domain.Attachment{}, domain.NotFound("attachments", docID)
	}
	rc, err := s.blobs.Download(ctx, file.Name)
	if err != nil {
		return nil, domain.Attachment{}, s.failed("download attachment", err)
	}
	return rc, *file, nil
}
