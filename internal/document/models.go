package document

import "time"

// DefaultTitle is used when a document is created without a title.
const DefaultTitle = "Untitled"

// Document is a node in an owner's document tree. ParentID nil means the
// document sits at the root of the sidebar.
type Document struct {
	ID          string    `json:"id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Content     string    `json:"content,omitempty" bson:"content,omitempty"`
	CoverImage  string    `json:"coverImage,omitempty" bson:"coverImage,omitempty"`
	Icon        string    `json:"icon,omitempty" bson:"icon,omitempty"`
	ParentID    *string   `json:"parentId,omitempty" bson:"parentId,omitempty"`
	OwnerID     string    `json:"ownerId" bson:"ownerId"`
	IsArchived  bool      `json:"isArchived" bson:"isArchived"`
	IsPublished bool      `json:"isPublished" bson:"isPublished"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Clone returns a deep copy so callers never share the ParentID pointer with a store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.ParentID != nil {
		p := *d.ParentID
		c.ParentID = &p
	}
	return &c
}

// IsRoot reports whether the document has no parent.
func (d *Document) IsRoot() bool { return d.ParentID == nil }

// PubliclyVisible reports whether unauthenticated callers may read the document.
func (d *Document) PubliclyVisible() bool { return d.IsPublished && !d.IsArchived }

// Patch is a partial update. Nil fields are left unchanged; the Clear* flags
// and ClearParent remove the corresponding optional field.
type Patch struct {
	Title       *string
	Content     *string
	CoverImage  *string
	Icon        *string
	IsPublished *bool
	IsArchived  *bool

	ClearIcon       bool
	ClearCoverImage bool
	ClearParent     bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.CoverImage == nil && p.Icon == nil &&
		p.IsPublished == nil && p.IsArchived == nil && !p.ClearIcon && !p.ClearCoverImage && !p.ClearParent
}

// Apply mutates d according to the patch. It does not touch UpdatedAt.
func (p Patch) Apply(d *Document) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	if p.CoverImage != nil {
		d.CoverImage = *p.CoverImage
	}
	if p.Icon != nil {
		d.Icon = *p.Icon
	}
	if p.IsPublished != nil {
		d.IsPublished = *p.IsPublished
	}
	if p.IsArchived != nil {
		d.IsArchived = *p.IsArchived
	}
	if p.ClearIcon {
		d.Icon = ""
	}
	if p.ClearCoverImage {
		d.CoverImage = ""
	}
	if p.ClearParent {
		d.ParentID = nil
	}
}

// Bool and String return pointers to literals, for building patches.
func Bool(b bool) *bool       { return &b }
func String(s string) *string { return &s }
