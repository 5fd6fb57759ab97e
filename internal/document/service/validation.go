package service

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jotion/jotion/backend/go-services/internal/document"
)

const (
	MaxTitleLength   = 200
	MaxIconLength    = 64
	MaxContentLength = 1 << 20
)

// CreateInput is the payload of Create.
type CreateInput struct {
	Title    string  `json:"title"`
	ParentID *string `json:"parentId,omitempty"`
}

func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.RuneLength(0, MaxTitleLength)),
		validation.Field(&in.ParentID, validation.NilOrNotEmpty),
	)
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string `json:"title,omitempty"`
	Content     *string `json:"content,omitempty"`
	CoverImage  *string `json:"coverImage,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	IsPublished *bool   `json:"isPublished,omitempty"`
}

func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.RuneLength(0, MaxTitleLength)),
		validation.Field(&in.Content, validation.Length(0, MaxContentLength)),
		validation.Field(&in.Icon, validation.RuneLength(0, MaxIconLength)),
		validation.Field(&in.CoverImage, validation.By(coverImageRule)),
	)
}

func (in UpdateInput) patch() document.Patch {
	return document.Patch{
		Title:       in.Title,
		Content:     in.Content,
		CoverImage:  in.CoverImage,
		Icon:        in.Icon,
		IsPublished: in.IsPublished,
	}
}

// coverImageRule accepts an absolute http(s) URL or a path served by the
// files endpoint.
func coverImageRule(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case *string:
		if v != nil {
			s = *v
		}
	}
	if s == "" {
		return nil
	}
	if _, ok := HostedKey(s); ok {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (!strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https")) {
		return errors.New("must be an http(s) URL or a hosted file path")
	}
	return nil
}
