package handlers

import (
	"fructosahel/backend/internal/middleware"
	"fructosahel/backend/internal/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	AllowedOrigins []string
	Development    bool
	Tokens         middleware.TokenParser
	// Roles resolves the caller's role after authentication. Without it
	// every caller is treated as a member.
	Roles middleware.RoleLookup
	Cron  middleware.CronAuthConfig
	// SendLimiter throttles manual sends; nil disables the limit.
	SendLimiter *middleware.RateLimiter
	Metrics     *monitoring.Metrics
	Health      *monitoring.HealthChecker
	Log         logrus.FieldLogger
}

type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Tasks         *TaskHandler
	Calendar      *CalendarHandler
	Notifications *NotificationHandler
	Advisor       *AdvisorHandler
	Currency      *CurrencyHandler
}

func NewRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RecoveryWithLog(cfg.Log))
	if cfg.Log != nil {
		r.Use(middleware.RequestLogger(cfg.Log))
	}
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
		r.GET("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Health != nil {
		r.GET("/health", cfg.Health.HealthHandler())
		r.GET("/health/live", cfg.Health.LivenessHandler())
		r.GET("/health/ready", cfg.Health.ReadinessHandler())
	}

	api := r.Group("/api")

	if cfg.Development && h.Auth != nil {
		api.POST("/auth/dev-token", h.Auth.DevToken)
	}

	// The cron trigger authenticates with the shared secret, not a user token.
	api.POST("/notifications/cron", middleware.CronAuth(cfg.Cron), h.Notifications.RunCron)
	api.GET("/notifications/cron", middleware.CronAuth(cfg.Cron), h.Notifications.RunCron)

	protected := api.Group("")
	protected.Use(middleware.RequireAuth(cfg.Tokens))
	if cfg.Roles != nil {
		protected.Use(middleware.LoadRole(cfg.Roles))
	}
	{
		protected.GET("/tasks", h.Tasks.GetTasks)
		protected.POST("/tasks", h.Tasks.CreateTask)
		protected.GET("/tasks/:id", h.Tasks.GetTask)
		protected.PATCH("/tasks/:id", h.Tasks.UpdateTask)
		protected.DELETE("/tasks/:id", h.Tasks.DeleteTask)

		if h.Users != nil {
			protected.GET("/users/me", h.Users.GetProfile)
			protected.PATCH("/users/me", h.Users.UpdateProfile)
			protected.PUT("/users/:id/role", middleware.AdminOnly(), h.Users.SetRole)
		}

		protected.GET("/calendar", h.Calendar.GetMonth)

		notif := protected.Group("/notifications")
		notif.GET("/preferences", h.Notifications.GetPreferences)
		notif.POST("/preferences", h.Notifications.UpdatePreferences)
		notif.PUT("/preferences", h.Notifications.UpdatePreferences)
		notif.GET("/subscribe", h.Notifications.ListSubscriptions)
		notif.POST("/subscribe", h.Notifications.Subscribe)
		notif.DELETE("/subscribe", h.Notifications.Unsubscribe)
		if cfg.SendLimiter != nil {
			notif.POST("/send", cfg.SendLimiter.Middleware(), h.Notifications.Send)
		} else {
			notif.POST("/send", h.Notifications.Send)
		}

		if h.Advisor != nil {
			protected.POST("/advisor/chat", h.Advisor.Chat)
		}
		if h.Currency != nil {
			protected.GET("/currency/convert", h.Currency.Convert)
		}
	}

	return r
}
