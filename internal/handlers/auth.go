package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/notifications"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TokenIssuer interface {
	GenerateToken(userID uuid.UUID) (string, time.Time, error)
}

type UserFinder interface {
	FindOrCreateByEmail(ctx context.Context, email, name, locale string) (models.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role models.UserRole) error
}

type AuthHandler struct {
	tokens TokenIssuer
	users  UserFinder
	admins map[string]bool
}

type DevTokenRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Name   string `json:"name" binding:"max=100"`
	Locale string `json:"locale" binding:"omitempty,oneof=fr en"`
}

type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        models.User `json:"user"`
}

// NewAuthHandler issues development tokens. Users whose email is listed in
// adminEmails are promoted to admin when they ask for one.
func NewAuthHandler(tokens TokenIssuer, users UserFinder, adminEmails ...string) *AuthHandler {
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = true
	}
	return &AuthHandler{tokens: tokens, users: users, admins: admins}
}

// DevToken issues a bearer token for the user with the given email, creating
// the user on first use. Only routed in development.
func (h *AuthHandler) DevToken(c *gin.Context) {
	var req DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	locale := req.Locale
	if locale == "" {
		locale = preferredLocale(c.GetHeader("Accept-Language"))
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.FindOrCreateByEmail(c.Request.Context(), email, strings.TrimSpace(req.Name), locale)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load user", nil)
		return
	}
	if h.admins[email] && user.Role != models.RoleAdmin {
		if err := h.users.SetRole(c.Request.Context(), user.ID, models.RoleAdmin); err != nil {
			respondError(c, http.StatusInternalServerError, "internal_error", "Failed to grant admin role", nil)
			return
		}
		user.Role = models.RoleAdmin
	}

	token, expiresAt, err := h.tokens.GenerateToken(user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "token_generation_failed", "Failed to generate token", nil)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		User:        user,
	})
}

// preferredLocale takes the first Accept-Language entry. An empty header
// leaves the choice to the store default.
func preferredLocale(header string) string {
	first := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	first = strings.TrimSpace(strings.SplitN(first, ";", 2)[0])
	if first == "" {
		return ""
	}
	return notifications.MatchLocale(first)
}
