package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fructosahel/backend/internal/analytics"
	"fructosahel/backend/internal/cache"
	"fructosahel/backend/internal/config"
	"fructosahel/backend/internal/database"
	"fructosahel/backend/internal/handlers"
	"fructosahel/backend/internal/logger"
	"fructosahel/backend/internal/middleware"
	"fructosahel/backend/internal/monitoring"
	"fructosahel/backend/internal/notifications"
	"fructosahel/backend/internal/repositories"
	"fructosahel/backend/internal/scheduler"
	"fructosahel/backend/internal/services"
	"fructosahel/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

const shutdownTimeout = 15 * time.Second

// app holds everything main starts and later has to stop.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	db        *database.DatabasePool
	redis     *cache.RedisCache
	router    *gin.Engine
	jobs      *notifications.Jobs
	notifier  *worker.Notifier
	worker    *worker.Worker
	events    *analytics.Queue
	scheduler *scheduler.Scheduler
	limiter   *middleware.RateLimiter
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load configuration")
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	a, err := newApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	dbLogLevel := gormlogger.Warn
	if cfg.IsDevelopment() {
		dbLogLevel = gormlogger.Info
	}
	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.GetDatabaseDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        dbLogLevel,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(pool.DB); err != nil {
		pool.Close()
		return nil, err
	}

	redisCache := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	a := &app{cfg: cfg, log: log, db: pool, redis: redisCache}
	metrics := monitoring.NewMetrics()

	var events services.EventTracker
	if cfg.Analytics.Enabled {
		a.events = analytics.NewQueue(analytics.Config{
			BufferSize:    cfg.Analytics.BufferSize,
			BatchSize:     cfg.Analytics.BatchSize,
			FlushInterval: cfg.Analytics.FlushInterval,
			Policy:        analytics.Policy(cfg.Analytics.Policy),
		}, analyticsSink(cfg, redisCache, log), log)
		a.events.Start()
		events = a.events
		metrics.RegisterComponent("analytics", func(context.Context) interface{} {
			return a.events.Stats()
		})
	}

	userRepo := repositories.NewUserRepository(pool.DB)
	taskRepo := repositories.NewTaskRepository(pool.DB)
	prefRepo := repositories.NewPreferenceRepository(pool.DB)
	subRepo := repositories.NewSubscriptionRepository(pool.DB)

	prefService := services.NewPreferenceService(prefRepo)
	localeCache := cache.NewMultiLevelCache(redisCache, time.Minute)
	locales := services.NewCachedLocales(userRepo, localeCache, 10*time.Minute)
	metrics.RegisterComponent("locale_cache", func(context.Context) interface{} {
		return localeCache.Stats()
	})

	breaker := cache.NewCircuitBreaker(&cache.CircuitBreakerConfig{
		Name:             "webpush",
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 2,
		OnStateChange: func(name string, from, to cache.CircuitBreakerState) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	sender := notifications.NewWebPushSender(notifications.WebPushConfig{
		Subject:        cfg.Push.VAPIDSubject,
		PublicKey:      cfg.Push.VAPIDPublicKey,
		PrivateKey:     cfg.Push.VAPIDPrivateKey,
		TTL:            cfg.Push.TTL,
		RequestTimeout: cfg.Push.RequestTimeout,
	}, breaker)
	metrics.RegisterComponent("webpush_breaker", func(context.Context) interface{} {
		return breaker.GetStats()
	})
	if !cfg.PushConfigured() {
		log.Warn("VAPID keys not configured, push notifications are disabled")
	}

	dispatcher := notifications.NewDispatcher(notifications.DispatcherDeps{
		Preferences:   prefService,
		Subscriptions: subRepo,
		Locales:       locales,
		Sender:        sender,
		Metrics:       metrics,
		Events:        events,
		Log:           log,
	}, notifications.DispatcherConfig{
		EndpointConcurrency: cfg.Notify.DispatchConcurrency,
		UserConcurrency:     cfg.Notify.UserConcurrency,
	})

	jobsDeps := notifications.JobsDeps{
		Tasks:       taskRepo,
		Preferences: prefRepo,
		Resolver:    prefService,
		Sender:      dispatcher,
		Metrics:     metrics,
		Location:    cfg.Location(),
		Log:         log,
	}
	if cfg.Notify.DedupEnabled {
		jobsDeps.Ledger = cache.NewNotificationLedger(redisCache, cfg.Notify.DedupTTL)
	}
	a.jobs = notifications.NewJobs(jobsDeps, cfg.Notify.UserConcurrency)

	var queue *worker.JobQueue
	if cfg.Worker.Enabled {
		queue = worker.NewJobQueue(redisCache.Client(), cfg.Worker.Queue, cfg.Worker.MaxTries)
	}
	a.notifier = worker.NewNotifier(queue, dispatcher, log)
	if cfg.Worker.Enabled {
		a.worker = worker.NewWorker(worker.WorkerConfig{
			RedisClient: redisCache.Client(),
			Queue:       cfg.Worker.Queue,
			Log:         log,
		})
		a.worker.RegisterHandler(worker.JobTypeNotificationDispatch, a.notifier.Handle)
		metrics.RegisterComponent("notification_queue", queue.Stats)
	}

	if cfg.Cron.Enabled {
		a.scheduler, err = scheduler.New(a.jobs, scheduler.Config{
			RemindersSpec: cfg.Cron.RemindersSpec,
			OverdueSpec:   cfg.Cron.OverdueSpec,
			DigestHour:    cfg.Notify.DigestHour,
			Location:      cfg.Location(),
		}, log)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
	}

	if cfg.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.BurstSize,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		})
	}

	health := monitoring.NewHealthChecker(3 * time.Second)
	health.Register("database", func(ctx context.Context) error { return pool.Health() })
	health.Register("redis", redisCache.Health)

	taskService := services.NewTaskService(taskRepo, a.notifier, events)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)

	a.router = handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Development:    cfg.IsDevelopment(),
		Tokens:         authService,
		Roles:          userRepo,
		Cron: middleware.CronAuthConfig{
			Secret:              cfg.Cron.Secret,
			AllowPlatformHeader: cfg.Cron.AllowPlatformHeader,
			Development:         cfg.IsDevelopment(),
		},
		SendLimiter: a.limiter,
		Metrics:     metrics,
		Health:      health,
		Log:         log,
	}, handlers.Handlers{
		Auth:     handlers.NewAuthHandler(authService, userRepo, cfg.Auth.AdminEmails...),
		Users:    handlers.NewUserHandler(userRepo, locales),
		Tasks:    handlers.NewTaskHandler(taskService),
		Calendar: handlers.NewCalendarHandler(taskService, cfg.Location()),
		Notifications: handlers.NewNotificationHandler(handlers.NotificationHandlerDeps{
			Preferences:    prefService,
			Subscriptions:  subRepo,
			Dispatcher:     dispatcher,
			Jobs:           a.jobs,
			Events:         events,
			VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
			Log:            log,
		}),
		Advisor:  handlers.NewAdvisorHandler(services.NewOpenAIAdvisor(cfg.OpenAI.APIKey, cfg.OpenAI.Model), events, log),
		Currency: handlers.NewCurrencyHandler("fr"),
	})

	return a, nil
}

// run serves HTTP and the background loops until ctx is cancelled, then
// shuts everything down.
func (a *app) run(ctx context.Context) error {
	if a.worker != nil {
		a.worker.Start(a.cfg.Worker.Concurrency)
	}
	if a.scheduler != nil {
		a.scheduler.Start()
		for _, e := range a.scheduler.Entries() {
			a.log.WithFields(logrus.Fields{"job": e.Job, "spec": e.Spec, "next": e.Next}).Info("scheduled job")
		}
	}

	srv := &http.Server{
		Addr:         a.cfg.GetServerAddr(),
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"addr":        srv.Addr,
			"environment": a.cfg.Server.Environment,
		}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("server shutdown failed")
	}
	a.close(shutdownCtx)
	a.log.Info("server stopped")
	return serveErr
}

// close stops background components in reverse start order.
func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("scheduler did not stop in time")
		}
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.events != nil {
		if err := a.events.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("failed to flush analytics events")
		}
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close redis")
	}
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close database")
	}
}

func analyticsSink(cfg *config.Config, redisCache *cache.RedisCache, log logrus.FieldLogger) analytics.Sink {
	if cfg.Analytics.Sink == "log" {
		return analytics.LogSink{Log: log}
	}
	return analytics.NewRedisSink(redisCache.Client(), cfg.Analytics.RedisKey)
}
