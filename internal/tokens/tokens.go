package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/internal/models"
	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
)

// Issuer is the "iss" claim of access tokens minted by this service.
const Issuer = "jotion"

// Manager mints and verifies the HS256 access tokens handed out at login.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(cfg config.JWTConfig) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT secret is empty")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Manager{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of newly issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue returns a signed access token for u.
func (m *Manager) Issue(u *models.User) (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"iss":   Issuer,
		"sub":   u.Sub,
		"name":  u.Name,
		"email": u.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(m.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

type mapToken jwt.MapClaims

// Claims copies the token claims into v, which is usually a map or struct pointer.
func (t mapToken) Claims(v interface{}) error {
	b, err := json.Marshal(map[string]interface{}(t))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Verify checks signature, algorithm, issuer and expiry.
func (m *Manager) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if exp, _ := claims.GetExpirationTime(); exp == nil {
		return nil, errors.New("token has no expiry")
	}
	return mapToken(claims), nil
}

// ExpiresAt reads the exp claim without verifying the signature. Logout uses
// it to size the blacklist entry of a token that is already authenticated.
func ExpiresAt(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("exp claim not present")
	}
	return exp.Time, nil
}
