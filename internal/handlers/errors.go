package handlers

import (
	"net/http"

	"fructosahel/backend/internal/middleware"
	"fructosahel/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{"error": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, body)
}

func invalidRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format", err.Error())
}

// currentUser reads the caller set by RequireAuth and answers 401 itself when
// it is missing.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", nil)
		return uuid.Nil, false
	}
	return userID, true
}

// currentActor pairs the caller with the role loaded by LoadRole.
func currentActor(c *gin.Context) (services.Actor, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{ID: userID, Role: middleware.Role(c)}, true
}

func forbidden(c *gin.Context, message string) {
	respondError(c, http.StatusForbidden, "forbidden", message, nil)
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}
