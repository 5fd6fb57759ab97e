package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
)

// TokenResponse is the subset of the token endpoint reply we use.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// KeycloakClient talks to the realm token endpoint.
type KeycloakClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client
}

func NewKeycloakClient(cfg config.KeycloakConfig) *KeycloakClient {
	return &KeycloakClient{
		tokenURL:     strings.TrimRight(cfg.Issuer(), "/") + "/protocol/openid-connect/token",
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// PasswordGrant logs in with username and password (dev and test realms).
func (k *KeycloakClient) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	return k.exchange(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid"},
	})
}

// ExchangeCode redeems an authorization code. Keycloak sometimes reports a
// fresh code as invalid right after issuing it, so that answer is retried once.
func (k *KeycloakClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	tr, err := k.exchange(ctx, form)
	if err != nil && strings.Contains(err.Error(), "Code not valid") {
		logger.Warnw("auth code rejected, retrying", "redirect_uri", redirectURI, "code_len", len(code))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		tr, err = k.exchange(ctx, form)
	}
	return tr, err
}

// exchange posts form with client_secret_post auth and falls back to HTTP
// Basic when the client is configured for client_secret_basic.
func (k *KeycloakClient) exchange(ctx context.Context, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", k.clientID)
	if k.clientSecret != "" {
		form.Set("client_secret", k.clientSecret)
	}
	status, body, err := k.post(ctx, form, false)
	if err == nil && status == http.StatusUnauthorized && k.clientSecret != "" {
		logger.Warnw("token endpoint rejected client_secret_post, retrying with basic auth", "url", k.tokenURL)
		form.Del("client_secret")
		status, body, err = k.post(ctx, form, true)
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.IDToken == "" {
		return nil, fmt.Errorf("token response has no id_token")
	}
	return &tr, nil
}

func (k *KeycloakClient) post(ctx context.Context, form url.Values, basic bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic {
		req.SetBasicAuth(k.clientID, k.clientSecret)
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, err
}
