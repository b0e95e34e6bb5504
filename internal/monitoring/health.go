package monitoring

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthCheck struct {
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	LastRun time.Time `json:"last_run"`
}

type HealthCheckFunc func(ctx context.Context) error

// HealthChecker runs registered dependency checks on demand.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheckFunc
	timeout   time.Duration
	startTime time.Time
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{
		checks:    make(map[string]HealthCheckFunc),
		timeout:   timeout,
		startTime: time.Now(),
	}
}

func (h *HealthChecker) Register(name string, check HealthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes every check concurrently, each bounded by the checker timeout.
func (h *HealthChecker) Run(ctx context.Context) map[string]HealthCheck {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	funcs := make([]HealthCheckFunc, len(names))
	for i, name := range names {
		funcs[i] = h.checks[name]
	}
	h.mu.RUnlock()

	results := make([]HealthCheck, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			result := HealthCheck{Name: names[i], Status: "healthy", LastRun: time.Now()}
			if err := funcs[i](checkCtx); err != nil {
				result.Status = "unhealthy"
				result.Message = err.Error()
			}
			results[i] = result
		}(i)
	}
	wg.Wait()

	out := make(map[string]HealthCheck, len(results))
	for _, r := range results {
		out[r.Name] = r
	}
	return out
}

func allHealthy(checks map[string]HealthCheck) bool {
	for _, check := range checks {
		if check.Status != "healthy" {
			return false
		}
	}
	return true
}

func (h *HealthChecker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := h.Run(c.Request.Context())

		overallStatus := "healthy"
		status := http.StatusOK
		if !allHealthy(checks) {
			overallStatus = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now(),
			"checks":    checks,
			"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}

func (h *HealthChecker) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if allHealthy(h.Run(c.Request.Context())) {
			c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "timestamp": time.Now()})
	}
}

func (h *HealthChecker) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
			"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		})
	}
}
