package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jotion/jotion/backend/go-services/internal/models"
	"github.com/jotion/jotion/backend/go-services/internal/oidc"
	"github.com/jotion/jotion/backend/go-services/internal/sessions"
	"github.com/jotion/jotion/backend/go-services/internal/tokens"
	"github.com/jotion/jotion/backend/go-services/internal/users"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/middleware"
)

// IdentityProvider obtains ID tokens from the upstream OIDC provider.
type IdentityProvider interface {
	PasswordGrant(ctx context.Context, username, password string) (*oidc.TokenResponse, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oidc.TokenResponse, error)
}

// LoginRequest selects "password" (dev realms) or "auth_code".
type LoginRequest struct {
	Mode        string `json:"mode" binding:"required,oneof=password auth_code"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// AuthHandler exchanges provider logins for service-issued sessions.
type AuthHandler struct {
	idp        IdentityProvider
	idVerifier middleware.Verifier
	users      *users.Service
	sessions   *sessions.Service
	tokens     *tokens.Manager
	refreshTTL time.Duration
}

func NewAuthHandler(idp IdentityProvider, idVerifier middleware.Verifier, u *users.Service, s *sessions.Service, t *tokens.Manager, refreshTTL time.Duration) *AuthHandler {
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &AuthHandler{idp: idp, idVerifier: idVerifier, users: u, sessions: s, tokens: t, refreshTTL: refreshTTL}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg gin.IRouter) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var tr *oidc.TokenResponse
	var err error
	switch req.Mode {
	case "password":
		tr, err = h.idp.PasswordGrant(ctx, req.Username, req.Password)
	default:
		if req.Code == "" || req.RedirectURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and redirect_uri required for auth_code mode"})
			return
		}
		tr, err = h.idp.ExchangeCode(ctx, req.Code, req.RedirectURI)
	}
	if err != nil {
		logger.Warnw("login failed", "mode", req.Mode, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	idt, err := h.idVerifier.Verify(ctx, tr.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token", "details": err.Error()})
		return
	}
	var claims map[string]interface{}
	if err := idt.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
		return
	}
	u, err := h.users.UpsertFromClaims(ctx, claims)
	if err != nil {
		logger.Errorw("user upsert failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user upsert failed"})
		return
	}
	refresh, err := h.sessions.CreateSession(ctx, u.Sub, h.refreshTTL)
	if err != nil {
		logger.Errorw("create session failed", "sub", u.Sub, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	h.respondWithTokens(c, u, refresh)
}

// Refresh rotates the refresh token and returns a new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	next, sess, err := h.sessions.Rotate(ctx, req.RefreshToken, h.refreshTTL)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		logger.Errorw("refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	u, err := h.users.GetBySub(ctx, sess.Sub)
	if err != nil {
		logger.Errorw("user lookup failed", "sub", sess.Sub, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	h.respondWithTokens(c, u, next)
}

func (h *AuthHandler) respondWithTokens(c *gin.Context, u *models.User, refresh string) {
	access, err := h.tokens.Issue(u)
	if err != nil {
		logger.Errorw("issue access token failed", "sub", u.Sub, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  access,
		"refreshToken": refresh,
		"expiresIn":    int(h.tokens.TTL().Seconds()),
		"user":         u,
	})
}

// Logout drops the refresh session and blacklists the bearer access token,
// if one was sent, until it expires.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if at, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && at != "" {
		if exp, err := tokens.ExpiresAt(at); err == nil {
			if err := sessions.BlacklistAccessToken(ctx, at, time.Until(exp)); err != nil {
				logger.Errorw("blacklist access token failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to blacklist access token"})
				return
			}
		}
	}
	if err := h.sessions.DeleteRefresh(ctx, req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the caller's profile, recording it on first sight. It must run
// behind middleware.AuthMiddleware.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, _ := c.Get(middleware.ClaimsKey)
	cm, _ := claims.(map[string]interface{})
	u, err := h.users.UpsertFromClaims(c.Request.Context(), cm)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "displayName": u.DisplayName()})
}
