package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PlatformCronHeader is set by the hosting platform's scheduler.
const PlatformCronHeader = "X-Vercel-Cron"

type CronAuthConfig struct {
	Secret              string
	AllowPlatformHeader bool
	// Development leaves the endpoint open when no secret is configured.
	Development bool
}

// CronAuth guards the job trigger endpoint with the shared cron secret.
func CronAuth(config CronAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cronAuthorized(c.Request, config) {
			c.Next()
			return
		}
		abort(c, http.StatusUnauthorized, "unauthorized", "Invalid cron credentials")
	}
}

func cronAuthorized(r *http.Request, config CronAuthConfig) bool {
	if config.Secret == "" {
		return config.Development
	}

	if token, ok := bearerToken(r.Header.Get("Authorization")); ok &&
		subtle.ConstantTimeCompare([]byte(token), []byte(config.Secret)) == 1 {
		return true
	}

	return config.AllowPlatformHeader && r.Header.Get(PlatformCronHeader) == "1"
}
