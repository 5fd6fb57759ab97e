package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/document/repository"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/pkg/metrics"
)

// RemovePolicy decides what happens to the children of a removed document.
type RemovePolicy string

const (
	// RemoveOrphan deletes only the target; children keep a dangling parentId.
	RemoveOrphan RemovePolicy = "orphan"
	// RemoveSubtree deletes every descendant before the target.
	RemoveSubtree RemovePolicy = "subtree"
	// RemoveReject refuses to delete a document that still has children.
	RemoveReject RemovePolicy = "reject"
)

// ParseRemovePolicy maps the query value to a policy; "" selects RemoveOrphan.
func ParseRemovePolicy(s string) (RemovePolicy, error) {
	switch p := RemovePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RemoveOrphan, nil
	case RemoveOrphan, RemoveSubtree, RemoveReject:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown children policy %q", document.ErrValidation, s)
}

// Create inserts a new active, unpublished document owned by caller. A given
// parent must exist, belong to caller and not be archived.
func (s *TreeService) Create(ctx context.Context, caller string, in CreateInput) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("create", err) }()
	if caller == "" {
		return nil, document.ErrUnauthenticated
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrValidation, err)
	}
	if in.ParentID != nil {
		parent, err := s.owned(ctx, caller, *in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
		if parent.IsArchived {
			return nil, fmt.Errorf("%w: parent %s is archived", document.ErrConflict, parent.ID)
		}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = document.DefaultTitle
	}
	d = &document.Document{
		Title:    title,
		ParentID: in.ParentID,
		OwnerID:  caller,
	}
	if err := s.repo.Insert(ctx, d); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Created, d, "")
	return d, nil
}

// Archive marks id archived and starts a cascade over its subtree. In async
// mode the returned job may still be pending.
func (s *TreeService) Archive(ctx context.Context, caller, id string) (d *document.Document, job *CascadeJob, err error) {
	defer func() { metrics.ObserveOp("archive", err) }()
	if _, err := s.owned(ctx, caller, id); err != nil {
		return nil, nil, err
	}
	d, err = s.repo.Update(ctx, id, document.Patch{IsArchived: document.Bool(true)})
	if err != nil {
		return nil, nil, fmt.Errorf("archive %s: %w", id, err)
	}
	job, err = s.cascader.Start(ctx, KindArchive, caller, id)
	s.publish(ctx, events.Archived, d, jobID(job))
	return d, job, err
}

// Restore un-archives id and its subtree. If the parent is archived or gone
// the document is moved to the root; descendants keep their parentId.
func (s *TreeService) Restore(ctx context.Context, caller, id string) (d *document.Document, job *CascadeJob, err error) {
	defer func() { metrics.ObserveOp("restore", err) }()
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	patch := document.Patch{IsArchived: document.Bool(false)}
	if existing.ParentID != nil {
		parent, perr := s.repo.Get(ctx, *existing.ParentID)
		switch {
		case errors.Is(perr, repository.ErrNotFound):
			patch.ClearParent = true
		case perr != nil:
			return nil, nil, fmt.Errorf("restore %s: load parent: %w", id, perr)
		case parent.IsArchived:
			patch.ClearParent = true
		}
	}
	d, err = s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, nil, fmt.Errorf("restore %s: %w", id, err)
	}
	job, err = s.cascader.Start(ctx, KindRestore, caller, id)
	s.publish(ctx, events.Restored, d, jobID(job))
	return d, job, err
}

// Remove permanently deletes id according to policy.
func (s *TreeService) Remove(ctx context.Context, caller, id string, policy RemovePolicy) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("remove", err) }()
	if _, err := s.owned(ctx, caller, id); err != nil {
		return nil, err
	}
	switch policy {
	case RemoveOrphan, "":
	case RemoveReject:
		children, err := s.repo.List(ctx, repository.Filter{OwnerID: caller, ByParent: true, ParentID: &id})
		if err != nil {
			return nil, fmt.Errorf("remove %s: list children: %w", id, err)
		}
		if len(children) > 0 {
			return nil, fmt.Errorf("%w: document %s has %d children", document.ErrConflict, id, len(children))
		}
	case RemoveSubtree:
		if _, err := s.cascader.Run(ctx, KindDelete, caller, id); err != nil {
			return nil, fmt.Errorf("remove %s: %w", id, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown children policy %q", document.ErrValidation, policy)
	}
	d, err = s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", id, err)
	}
	s.dropHostedCover(ctx, d)
	s.publish(ctx, events.Removed, d, "")
	return d, nil
}

// Update applies a partial patch. An empty input returns the document unchanged.
func (s *TreeService) Update(ctx context.Context, caller, id string, in UpdateInput) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("update", err) }()
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrValidation, err)
	}
	if in.CoverImage != nil {
		if _, hosted := HostedKey(*in.CoverImage); hosted {
			if _, ok := ownedCoverKey(caller, *in.CoverImage); !ok {
				return nil, fmt.Errorf("%w: coverImage: hosted file belongs to another user", document.ErrValidation)
			}
		}
	}
	patch := in.patch()
	if patch.Empty() {
		return existing, nil
	}
	d, err = s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if patch.CoverImage != nil && existing.CoverImage != d.CoverImage {
		s.dropHostedCover(ctx, existing)
	}
	s.publish(ctx, events.Updated, d, "")
	return d, nil
}

func (s *TreeService) RemoveIcon(ctx context.Context, caller, id string) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("remove_icon", err) }()
	if _, err := s.owned(ctx, caller, id); err != nil {
		return nil, err
	}
	d, err = s.repo.Update(ctx, id, document.Patch{ClearIcon: true})
	if err != nil {
		return nil, fmt.Errorf("remove icon %s: %w", id, err)
	}
	s.publish(ctx, events.Updated, d, "")
	return d, nil
}

// RemoveCoverImage clears the cover and deletes it from file storage when it
// was uploaded through this service.
func (s *TreeService) RemoveCoverImage(ctx context.Context, caller, id string) (d *document.Document, err error) {
	defer func() { metrics.ObserveOp("remove_cover", err) }()
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	d, err = s.repo.Update(ctx, id, document.Patch{ClearCoverImage: true})
	if err != nil {
		return nil, fmt.Errorf("remove cover %s: %w", id, err)
	}
	s.dropHostedCover(ctx, existing)
	s.publish(ctx, events.Updated, d, "")
	return d, nil
}

func jobID(j *CascadeJob) string {
	if j == nil {
		return ""
	}
	return j.ID
}
