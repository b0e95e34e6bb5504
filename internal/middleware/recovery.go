package middleware

import (
	"net/http"
	"runtime/debug"

	"fructosahel/backend/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RecoveryWithLog turns a panic into a 500 and logs it with the stack.
// A nil log falls back to the shared logger.
func RecoveryWithLog(log logrus.FieldLogger) gin.HandlerFunc {
	if log == nil {
		log = logger.Log
	}
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic":  r,
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"stack":  string(debug.Stack()),
				}).Error("recovered from panic")

				abort(c, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		c.Next()
	}
}
