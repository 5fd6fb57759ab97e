package repository

import (
	"context"

	"github.com/jotion/jotion/backend/go-services/internal/document"
)

// ErrNotFound is returned when an id does not resolve to a stored document.
var ErrNotFound = document.ErrNotFound

// Filter selects documents of one owner. When ByParent is set only documents
// whose parent equals ParentID match (nil ParentID selects root documents).
// A nil Archived matches both states.
type Filter struct {
	OwnerID  string
	ByParent bool
	ParentID *string
	Archived *bool
}

// Repository is the document storage abstraction used by the tree service.
// List results are ordered newest first.
type Repository interface {
	Insert(ctx context.Context, d *document.Document) error
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context, f Filter) ([]*document.Document, error)
	Update(ctx context.Context, id string, p document.Patch) (*document.Document, error)
	Delete(ctx context.Context, id string) (*document.Document, error)
}

func (f Filter) matches(d *document.Document) bool {
	if d.OwnerID != f.OwnerID {
		return false
	}
	if f.Archived != nil && d.IsArchived != *f.Archived {
		return false
	}
	if f.ByParent {
		switch {
		case f.ParentID == nil && d.ParentID != nil:
			return false
		case f.ParentID != nil && (d.ParentID == nil || *d.ParentID != *f.ParentID):
			return false
		}
	}
	return true
}
