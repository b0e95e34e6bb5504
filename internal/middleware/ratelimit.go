package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// CleanupInterval is how often idle callers are forgotten.
	CleanupInterval time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller, keyed by user id when the
// request is authenticated and by client IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute < 1 {
		config.RequestsPerMinute = 30
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}

	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(config.RequestsPerMinute) / 60),
		burst:    config.Burst,
		idle:     config.CleanupInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop(config.CleanupInterval)
	return rl
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, ok := UserID(c); ok {
			key = "user:" + id.String()
		}

		reservation := rl.reserve(key)
		if delay := reservation.DelayFrom(rl.now()); delay > 0 {
			reservation.CancelAt(rl.now())
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abort(c, http.StatusTooManyRequests, "rate_limited", "Too many requests, please retry later")
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reserve(key string) *rate.Reservation {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.ReserveN(now, 1)
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}
