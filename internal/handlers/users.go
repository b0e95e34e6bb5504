package handlers

import (
	"context"
	"errors"
	"net/http"

	"fructosahel/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, name, locale *string) (models.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role models.UserRole) error
}

// LocaleCache is told when a user's locale changes.
type LocaleCache interface {
	Forget(ctx context.Context, userID uuid.UUID) error
}

type UserHandler struct {
	users   UserStore
	locales LocaleCache
}

type UpdateProfileRequest struct {
	Name   *string `json:"name" binding:"omitempty,max=100"`
	Locale *string `json:"locale" binding:"omitempty,oneof=fr en"`
}

func NewUserHandler(users UserStore, locales LocaleCache) *UserHandler {
	return &UserHandler{users: users, locales: locales}
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile changes the caller's display name or notification locale.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), userID, req.Name, req.Locale)
	if err != nil {
		handleUserError(c, err)
		return
	}
	if req.Locale != nil && h.locales != nil {
		_ = h.locales.Forget(c.Request.Context(), userID)
	}
	c.JSON(http.StatusOK, user)
}

type SetRoleRequest struct {
	Role models.UserRole `json:"role" binding:"required,oneof=member admin"`
}

// SetRole grants or revokes the admin role. Routed behind AdminOnly.
func (h *UserHandler) SetRole(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if id == actor.ID && req.Role != models.RoleAdmin {
		forbidden(c, "Admins cannot demote themselves")
		return
	}

	if err := h.users.SetRole(c.Request.Context(), id, req.Role); err != nil {
		handleUserError(c, err)
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func handleUserError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, http.StatusNotFound, "user_not_found", "User not found", nil)
		return
	}
	respondError(c, http.StatusInternalServerError, "internal_error", "Failed to process user request", nil)
}
