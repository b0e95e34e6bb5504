package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func newLimitedRouter(rl *RateLimiter, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(userIDKey, userID)
		}
		c.Next()
	})
	router.Use(rl.Middleware())
	router.POST("/send", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return router
}

func send(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/send", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 6, Burst: 2})
	defer rl.Stop()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	router := newLimitedRouter(rl, uuid.Must(uuid.NewV4()))

	assert.Equal(t, http.StatusAccepted, send(router, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusAccepted, send(router, "10.0.0.1:1234").Code)

	w := send(router, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")

	// one token refills every 10s at 6 per minute
	now = now.Add(10 * time.Second)
	assert.Equal(t, http.StatusAccepted, send(router, "10.0.0.1:1234").Code)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	defer rl.Stop()

	anonymous := newLimitedRouter(rl, uuid.Nil)
	assert.Equal(t, http.StatusAccepted, send(anonymous, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(anonymous, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusAccepted, send(anonymous, "10.0.0.2:1").Code)

	alice := newLimitedRouter(rl, uuid.Must(uuid.NewV4()))
	bob := newLimitedRouter(rl, uuid.Must(uuid.NewV4()))
	assert.Equal(t, http.StatusAccepted, send(alice, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusAccepted, send(bob, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(alice, "10.0.0.1:1").Code)
}

func TestRateLimiter_CleanupForgetsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.reserve("a")
	now = now.Add(30 * time.Second)
	rl.reserve("b")
	now = now.Add(45 * time.Second)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "a")
	assert.Contains(t, rl.visitors, "b")
}
