package middleware

import (
	"context"
	"net/http"

	"fructosahel/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const userRoleKey = "user_role"

type RoleLookup interface {
	Role(ctx context.Context, userID uuid.UUID) (models.UserRole, error)
}

// LoadRole reads the caller's role from the store after RequireAuth. The
// role is looked up on every request so a demotion takes effect without
// reissuing tokens.
func LoadRole(roles RoleLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		role, err := roles.Role(c.Request.Context(), userID)
		if err != nil {
			abort(c, http.StatusInternalServerError, "internal_error", "Failed to load user role")
			return
		}
		c.Set(userRoleKey, role)
		c.Next()
	}
}

// Role returns the role stored by LoadRole, defaulting to member.
func Role(c *gin.Context) models.UserRole {
	if v, ok := c.Get(userRoleKey); ok {
		if role, ok := v.(models.UserRole); ok && role.Valid() {
			return role
		}
	}
	return models.RoleMember
}

func IsAdmin(c *gin.Context) bool {
	return Role(c) == models.RoleAdmin
}

// AdminOnly rejects callers without the admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			abort(c, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		c.Next()
	}
}
