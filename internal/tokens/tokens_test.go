package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jotion/jotion/backend/go-services/internal/config"
	"github.com/jotion/jotion/backend/go-services/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func newManager(t *testing.T, secret string, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(config.JWTConfig{Secret: secret, AccessTokenTTL: ttl})
	require.NoError(t, err)
	return m
}

func claimsOf(t *testing.T, m *Manager, raw string) map[string]interface{} {
	t.Helper()
	tok, err := m.Verify(context.Background(), raw)
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	return claims
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t, "test-secret-32-bytes-should-be-long-enough", 2*time.Minute)
	u := &models.User{Sub: "user-123", Name: "Test User", Email: "test@example.com"}

	raw, err := m.Issue(u)
	require.NoError(t, err)
	claims := claimsOf(t, m, raw)
	assert.Equal(t, "user-123", claims["sub"])
	assert.Equal(t, Issuer, claims["iss"])

	exp, err := ExpiresAt(raw)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), exp, 5*time.Second)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager(config.JWTConfig{})
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	m := newManager(t, "another-secret-32-bytes-longgggg", time.Minute)
	raw, err := m.Issue(&models.User{Sub: "u2"})
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Verify(context.Background(), raw)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	raw, err := newManager(t, "secret-one-32-bytes-xxxxxxxxxxxxxxxx", time.Minute).Issue(&models.User{Sub: "u3"})
	require.NoError(t, err)
	_, err = newManager(t, "different-secret-xxxxxxxxxxxxxxxx", time.Minute).Verify(context.Background(), raw)
	require.Error(t, err)
}

func TestVerify_Malformed(t *testing.T) {
	m := newManager(t, "x", time.Minute)
	_, err := m.Verify(context.Background(), "not.a.jwt")
	require.Error(t, err)
	_, err = ExpiresAt("garbage")
	require.Error(t, err)
}

func TestVerify_AlgNoneRejected(t *testing.T) {
	m := newManager(t, "x", time.Minute)
	tok := seg(`{"alg":"none"}`) + "." + seg(`{"sub":"u-none","iss":"jotion","exp":9999999999}`) + "."
	_, err := m.Verify(context.Background(), tok)
	require.Error(t, err)
}

func TestVerify_ForeignIssuerRejected(t *testing.T) {
	secret := "shared-secret-xxxxxxxxxxxxxxxxxxx"
	m := newManager(t, secret, time.Minute)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u", "iss": "someone-else", "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), raw)
	require.Error(t, err)
}

func TestVerify_TamperedPayload(t *testing.T) {
	m := newManager(t, "tamper-test-secret-32-bytes-xxxxxxx", 5*time.Minute)
	raw, err := m.Issue(&models.User{Sub: "user-t"})
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	parts[1] = seg(strings.Replace(string(payload), "user-t", "attacker", 1))
	_, err = m.Verify(context.Background(), strings.Join(parts, "."))
	require.Error(t, err)
}

func TestVerify_MissingExpiryRejected(t *testing.T) {
	secret := "shared-secret-xxxxxxxxxxxxxxxxxxx"
	m := newManager(t, secret, time.Minute)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "iss": Issuer}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), raw)
	require.Error(t, err)
}
