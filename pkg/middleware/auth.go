package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jotion/jotion/backend/go-services/internal/sessions"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
)

// ClaimsKey is the gin context key holding the verified claims map.
const ClaimsKey = "claims"

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

var errNoHeader = errors.New("missing Authorization header")

func bearer(c *gin.Context) (string, error) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return "", errNoHeader
	}
	var token string
	if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
		return "", errors.New("invalid Authorization header")
	}
	return token, nil
}

// authenticate verifies raw and stores its claims on the context. On failure
// it aborts the request with 401 and returns false.
func authenticate(c *gin.Context, ver Verifier, raw string) bool {
	revoked, err := sessions.IsAccessTokenBlacklisted(c.Request.Context(), raw)
	if err != nil {
		logger.Warnw("blacklist lookup failed", "error", err)
	}
	if revoked {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
		return false
	}
	idToken, err := ver.Verify(c.Request.Context(), raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
		return false
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
		return false
	}
	c.Set(ClaimsKey, claims)
	return true
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearer(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if authenticate(c, ver, raw) {
			c.Next()
		}
	}
}

// OptionalAuth lets requests without an Authorization header through as
// anonymous. A header that is present must still carry a valid token.
func OptionalAuth(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearer(c)
		if errors.Is(err, errNoHeader) {
			c.Next()
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if authenticate(c, ver, raw) {
			c.Next()
		}
	}
}

// Subject returns the "sub" claim of the verified caller, or "" for anonymous requests.
func Subject(c *gin.Context) string {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return ""
	}
	claims, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
