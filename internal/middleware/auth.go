package middleware

import (
	"errors"
	"net/http"
	"strings"

	"fructosahel/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const userIDKey = "user_id"

type TokenParser interface {
	ParseToken(token string) (uuid.UUID, error)
}

// RequireAuth accepts a Bearer JWT and stores the caller's id in the context.
func RequireAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "missing_token", "Authorization header is required")
			return
		}

		tokenStr, ok := bearerToken(authHeader)
		if !ok {
			abort(c, http.StatusUnauthorized, "invalid_token_format", "Authorization header must use Bearer token")
			return
		}

		userID, err := tokens.ParseToken(tokenStr)
		if err != nil {
			if errors.Is(err, services.ErrExpiredToken) {
				abort(c, http.StatusUnauthorized, "expired_token", "Token has expired")
				return
			}
			abort(c, http.StatusUnauthorized, "invalid_token", "Token validation failed")
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
