package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
)

// Verifier checks ID tokens signed by the Keycloak realm.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies tokens for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &Verifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewVerifierWithRetry retries discovery with doubling backoff; Keycloak is
// often still booting when the service starts.
func NewVerifierWithRetry(ctx context.Context, issuer, clientID string, attempts int) (*Verifier, error) {
	backoff := time.Second
	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := NewVerifier(ctx, issuer, clientID)
		if err == nil {
			return v, nil
		}
		lastErr = err
		logger.Warnw("oidc discovery failed", "attempt", i, "issuer", issuer, "error", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
