package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/document/repository"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/metrics"
)

// Service defines the document tree operations used by the handler layer.
// caller is the verified subject of the request; "" means unauthenticated.
type Service interface {
	Create(ctx context.Context, caller string, in CreateInput) (*document.Document, error)
	Archive(ctx context.Context, caller, id string) (*document.Document, *CascadeJob, error)
	Restore(ctx context.Context, caller, id string) (*document.Document, *CascadeJob, error)
	Remove(ctx context.Context, caller, id string, policy RemovePolicy) (*document.Document, error)
	Update(ctx context.Context, caller, id string, in UpdateInput) (*document.Document, error)
	RemoveIcon(ctx context.Context, caller, id string) (*document.Document, error)
	RemoveCoverImage(ctx context.Context, caller, id string) (*document.Document, error)
	UploadCover(ctx context.Context, caller, id string, up CoverUpload) (*document.Document, error)

	GetSidebar(ctx context.Context, caller string, parentID *string) ([]*document.Document, error)
	GetTrash(ctx context.Context, caller, query string) ([]*document.Document, error)
	GetSearch(ctx context.Context, caller string) ([]*document.Document, error)
	GetDocument(ctx context.Context, caller, id string) (*document.Document, error)
	GetCascade(ctx context.Context, caller, jobID string) (*CascadeJob, error)
}

// Options configures a TreeService. Zero values select in-memory job storage,
// no event publishing, no file storage and synchronous cascades.
type Options struct {
	Jobs     JobStore
	Events   events.Publisher
	Files    FileStore
	Mode     string
	Workers  int
	MaxDepth int
}

// TreeService implements Service on top of a Repository.
type TreeService struct {
	repo     repository.Repository
	cascader *Cascader
	pub      events.Publisher
	files    FileStore
}

var _ Service = (*TreeService)(nil)

func New(repo repository.Repository, opts Options) *TreeService {
	if opts.Jobs == nil {
		opts.Jobs = NewMemoryJobStore()
	}
	if opts.Mode == "" {
		opts.Mode = config.CascadeSync
	}
	s := &TreeService{repo: repo, pub: opts.Events, files: opts.Files}
	s.cascader = NewCascader(repo, opts.Jobs, opts.Events, CascaderConfig{
		Async:    opts.Mode == config.CascadeAsync,
		Workers:  opts.Workers,
		MaxDepth: opts.MaxDepth,
	})
	s.cascader.onRemove = s.dropHostedCover
	return s
}

// NewMemoryService returns a Service backed by the in-memory repository with
// synchronous cascades.
func NewMemoryService() *TreeService {
	return New(repository.NewMemoryRepo(), Options{})
}

// Cascader exposes the cascade runner, mainly so callers can wait for
// background walks.
func (s *TreeService) Cascader() *Cascader { return s.cascader }

// Close waits for in-flight cascades until ctx expires.
func (s *TreeService) Close(ctx context.Context) error { return s.cascader.Close(ctx) }

func (s *TreeService) GetSidebar(ctx context.Context, caller string, parentID *string) (out []*document.Document, err error) {
	defer func() { metrics.ObserveOp("get_sidebar", err) }()
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	return s.repo.List(ctx, repository.Filter{
		OwnerID:  caller,
		ByParent: true,
		ParentID: parentID,
		Archived: document.Bool(false),
	})
}

// GetTrash lists the caller's archived documents. A non-empty query keeps only
// titles containing it, case-insensitively.
func (s *TreeService) GetTrash(ctx context.Context, caller, query string) (out []*document.Document, err error) {
	defer func() { metrics.ObserveOp("get_trash", err) }()
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	docs, err := s.repo.List(ctx, repository.Filter{OwnerID: caller, Archived: document.Bool(true)})
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return docs, nil
	}
	out = docs[:0]
	for _, d := range docs {
		if strings.Contains(strings.ToLower(d.Title), q) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *TreeService) GetSearch(ctx context.Context, caller string) (out []*document.Document, err error) {
	defer func() { metrics.ObserveOp("get_search", err) }()
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	return s.repo.List(ctx, repository.Filter{OwnerID: caller, Archived: document.Bool(false)})
}

// GetDocument returns a published, non-archived document to anyone; every
// other document only to its owner.
func (s *TreeService) GetDocument(ctx context.Context, caller, id string) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("get_document", err) }()
	d, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if d.PubliclyVisible() {
		return d, nil
	}
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	if d.OwnerID != caller {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrForbidden)
	}
	return d, nil
}

func (s *TreeService) GetCascade(ctx context.Context, caller, jobID string) (*CascadeJob, error) {
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	job, err := s.cascader.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != caller {
		return nil, fmt.Errorf("cascade %s: %w", jobID, document.ErrForbidden)
	}
	return job, nil
}

// owned loads id and checks that caller owns it.
func (s *TreeService) owned(ctx context.Context, caller, id string) (*document.Document, error) {
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if d.OwnerID != caller {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrForbidden)
	}
	return d, nil
}

func (s *TreeService) publish(ctx context.Context, typ string, d *document.Document, jobID string) {
	if s.pub == nil || d == nil {
		return
	}
	e := events.Event{Type: typ, OwnerID: d.OwnerID, DocumentID: d.ID, ParentID: d.ParentID, JobID: jobID}
	if err := s.pub.Publish(context.WithoutCancel(ctx), e); err != nil {
		logger.Warnw("publish document event", "type", typ, "document", d.ID, "error", err)
	}
}
