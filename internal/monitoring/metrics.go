package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Dispatch outcomes counted per notification type.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeRemoved    = "removed"
	OutcomeSuppressed = "suppressed"
	OutcomeNoDevices  = "no_subscriptions"
	OutcomeSkipped    = "skipped"
)

type Metrics struct {
	mu              sync.RWMutex
	RequestCount    int64                       `json:"request_count"`
	RequestDuration time.Duration               `json:"avg_request_duration_ms"`
	ActiveRequests  int64                       `json:"active_requests"`
	ErrorCount      int64                       `json:"error_count"`
	StatusCodes     map[string]int64            `json:"status_codes"`
	Endpoints       map[string]int64            `json:"endpoint_calls"`
	Dispatches      map[string]map[string]int64 `json:"dispatches"`
	JobRuns         map[string]JobRun           `json:"job_runs"`
	StartTime       time.Time                   `json:"start_time"`
	LastRequest     time.Time                   `json:"last_request"`
	totalDuration   time.Duration
	components      map[string]ComponentStats
}

// ComponentStats reports the live state of a component (queue depth,
// breaker state, cache hit counts) when /metrics is scraped.
type ComponentStats func(ctx context.Context) interface{}

// JobRun summarises the most recent run of a scheduled job.
type JobRun struct {
	Runs     int64         `json:"runs"`
	LastRun  time.Time     `json:"last_run"`
	Duration time.Duration `json:"last_duration"`
	Checked  int           `json:"checked"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		StatusCodes: make(map[string]int64),
		Endpoints:   make(map[string]int64),
		Dispatches:  make(map[string]map[string]int64),
		JobRuns:     make(map[string]JobRun),
		StartTime:   time.Now(),
		components:  make(map[string]ComponentStats),
	}
}

func (m *Metrics) RegisterComponent(name string, stats ComponentStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = stats
}

// Components collects every registered component's stats. Collectors run
// outside the lock.
func (m *Metrics) Components(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	collectors := make(map[string]ComponentStats, len(m.components))
	for name, fn := range m.components {
		collectors[name] = fn
	}
	m.mu.RUnlock()

	out := make(map[string]interface{}, len(collectors))
	for name, fn := range collectors {
		out[name] = fn(ctx)
	}
	return out
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		m.mu.Lock()
		m.ActiveRequests++
		m.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		endpoint := c.Request.Method + " " + c.FullPath()

		m.mu.Lock()
		defer m.mu.Unlock()

		m.RequestCount++
		m.ActiveRequests--
		m.totalDuration += duration
		m.RequestDuration = m.totalDuration / time.Duration(m.RequestCount)
		m.LastRequest = time.Now()

		if statusCode >= 400 {
			m.ErrorCount++
		}
		m.StatusCodes[http.StatusText(statusCode)]++
		m.Endpoints[endpoint]++
	}
}

func (m *Metrics) RecordDispatch(notificationType, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byOutcome, ok := m.Dispatches[notificationType]
	if !ok {
		byOutcome = make(map[string]int64)
		m.Dispatches[notificationType] = byOutcome
	}
	byOutcome[outcome] += int64(n)
}

func (m *Metrics) RecordJob(name string, duration time.Duration, checked, sent, failed, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.JobRuns[name]
	run.Runs++
	run.LastRun = time.Now()
	run.Duration = duration
	run.Checked, run.Sent, run.Failed, run.Skipped = checked, sent, failed, skipped
	m.JobRuns[name] = run
}

// Snapshot returns a copy that is safe to serialise.
func (m *Metrics) Snapshot() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := &Metrics{
		RequestCount:    m.RequestCount,
		RequestDuration: m.RequestDuration,
		ActiveRequests:  m.ActiveRequests,
		ErrorCount:      m.ErrorCount,
		StatusCodes:     make(map[string]int64, len(m.StatusCodes)),
		Endpoints:       make(map[string]int64, len(m.Endpoints)),
		Dispatches:      make(map[string]map[string]int64, len(m.Dispatches)),
		JobRuns:         make(map[string]JobRun, len(m.JobRuns)),
		StartTime:       m.StartTime,
		LastRequest:     m.LastRequest,
	}

	for k, v := range m.StatusCodes {
		snapshot.StatusCodes[k] = v
	}
	for k, v := range m.Endpoints {
		snapshot.Endpoints[k] = v
	}
	for k, outcomes := range m.Dispatches {
		copied := make(map[string]int64, len(outcomes))
		for outcome, v := range outcomes {
			copied[outcome] = v
		}
		snapshot.Dispatches[k] = copied
	}
	for k, v := range m.JobRuns {
		snapshot.JobRuns[k] = v
	}
	return snapshot
}

type SystemMetrics struct {
	Uptime         string      `json:"uptime"`
	MemoryUsage    MemoryStats `json:"memory"`
	GoroutineCount int         `json:"goroutine_count"`
	CPUCount       int         `json:"cpu_count"`
	GoVersion      string      `json:"go_version"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc_mb"`
	TotalAlloc uint64 `json:"total_alloc_mb"`
	Sys        uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
}

func (m *Metrics) System() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return SystemMetrics{
		Uptime: time.Since(m.StartTime).Round(time.Second).String(),
		MemoryUsage: MemoryStats{
			Alloc:      bToMb(mem.Alloc),
			TotalAlloc: bToMb(mem.TotalAlloc),
			Sys:        bToMb(mem.Sys),
			NumGC:      mem.NumGC,
		},
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"application": m.Snapshot(),
			"components":  m.Components(c.Request.Context()),
			"system":      m.System(),
			"timestamp":   time.Now(),
		})
	}
}
