package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/metrics"
)

// FilesPathPrefix prefixes cover image URLs served by this service.
const FilesPathPrefix = "/api/files/"

// ErrNoStorage is returned by UploadCover when no file store is configured.
var ErrNoStorage = errors.New("file storage not configured")

// FileStore is the object storage used for uploaded cover images.
type FileStore interface {
	UploadFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	RemoveFile(ctx context.Context, key string) error
}

// CoverUpload is an image to store as a document cover.
type CoverUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Filename    string
}

// HostedKey returns the object key of a cover URL served by this service.
func HostedKey(coverURL string) (string, bool) {
	if !strings.HasPrefix(coverURL, FilesPathPrefix) {
		return "", false
	}
	key := strings.TrimPrefix(coverURL, FilesPathPrefix)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func coverPrefix(owner string) string { return "covers/" + owner + "/" }

func coverKey(owner, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 6 {
		ext = ""
	}
	return coverPrefix(owner) + uuid.NewString() + ext
}

// ownedCoverKey returns the object key of coverURL when it is a hosted cover
// uploaded by owner.
func ownedCoverKey(owner, coverURL string) (string, bool) {
	key, ok := HostedKey(coverURL)
	if !ok || owner == "" || !strings.HasPrefix(key, coverPrefix(owner)) {
		return "", false
	}
	return key, true
}

// UploadCover stores an image and points the document cover at it. A
// previously hosted cover is deleted.
func (s *TreeService) UploadCover(ctx context.Context, caller, id string, up CoverUpload) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("upload_cover", err) }()
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, ErrNoStorage
	}
	if !strings.HasPrefix(up.ContentType, "image/") {
		return nil, fmt.Errorf("%w: cover must be an image, got %q", document.ErrValidation, up.ContentType)
	}
	key := coverKey(caller, up.Filename)
	if err := s.files.UploadFile(ctx, key, up.Reader, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("upload cover: %w", err)
	}
	d, err = s.repo.Update(ctx, id, document.Patch{CoverImage: document.String(FilesPathPrefix + key)})
	if err != nil {
		if rerr := s.files.RemoveFile(context.WithoutCancel(ctx), key); rerr != nil {
			logger.Warnw("remove orphaned cover", "key", key, "error", rerr)
		}
		return nil, fmt.Errorf("set cover %s: %w", id, err)
	}
	s.dropHostedCover(ctx, existing)
	s.publish(ctx, events.Updated, d, "")
	return d, nil
}

// dropHostedCover deletes d's cover object when it lives in our file store
// under d's owner. Failures are logged; the document change has already
// happened.
func (s *TreeService) dropHostedCover(ctx context.Context, d *document.Document) {
	if s.files == nil || d == nil {
		return
	}
	key, ok := ownedCoverKey(d.OwnerID, d.CoverImage)
	if !ok {
		return
	}
	if err := s.files.RemoveFile(context.WithoutCancel(ctx), key); err != nil {
		logger.Warnw("remove cover object", "document", d.ID, "key", key, "error", err)
	}
}
