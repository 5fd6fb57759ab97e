package users

import (
	"context"
	"errors"

	"github.com/jotion/jotion/backend/go-services/internal/models"
)

// ErrMissingSubject is returned when claims carry no "sub".
var ErrMissingSubject = errors.New("claims have no subject")

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// UpsertFromClaims records the caller seen in verified token claims.
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	u := models.UserFromClaims(claims)
	if u == nil {
		return nil, ErrMissingSubject
	}
	return s.repo.UpsertBySub(ctx, u)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}
