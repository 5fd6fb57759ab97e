package oidc

import (
	"context"
	"errors"

	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
)

// Chain accepts a token when any of its verifiers does, trying them in order.
type Chain []middleware.Verifier

func (c Chain) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	if len(c) == 0 {
		return nil, errors.New("no token verifier configured")
	}
	var errs []error
	for _, v := range c {
		tok, err := v.Verify(ctx, raw)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
