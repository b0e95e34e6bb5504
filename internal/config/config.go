package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Worker    WorkerConfig    `json:"worker"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Push      PushConfig      `json:"push"`
	Notify    NotifyConfig    `json:"notify"`
	Cron      CronConfig      `json:"cron"`
	Analytics AnalyticsConfig `json:"analytics"`
	OpenAI    OpenAIConfig    `json:"openai"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Host           string        `json:"host"`
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	Environment    string        `json:"environment"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            string        `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"ssl_mode"`
	SQLitePath      string        `json:"sqlite_path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         string        `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WorkerConfig struct {
	Enabled     bool   `json:"enabled"`
	Concurrency int    `json:"concurrency"`
	Queue       string `json:"queue"`
	MaxTries    int    `json:"max_tries"`
}

type AuthConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	Issuer         string        `json:"issuer"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	// AdminEmails are promoted to the admin role when they sign in.
	AdminEmails []string `json:"admin_emails"`
}

type RateLimitConfig struct {
	Enabled         bool          `json:"enabled"`
	RequestsPerMin  int           `json:"requests_per_minute"`
	BurstSize       int           `json:"burst_size"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type PushConfig struct {
	VAPIDSubject    string        `json:"vapid_subject"`
	VAPIDPublicKey  string        `json:"vapid_public_key"`
	VAPIDPrivateKey string        `json:"-"`
	TTL             time.Duration `json:"ttl"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

type NotifyConfig struct {
	DispatchConcurrency int           `json:"dispatch_concurrency"`
	UserConcurrency     int           `json:"user_concurrency"`
	DedupEnabled        bool          `json:"dedup_enabled"`
	DedupTTL            time.Duration `json:"dedup_ttl"`
	DigestHour          int           `json:"digest_hour"`
	Timezone            string        `json:"timezone"`
}

type CronConfig struct {
	Secret              string `json:"-"`
	AllowPlatformHeader bool   `json:"allow_platform_header"`
	Enabled             bool   `json:"enabled"`
	RemindersSpec       string `json:"reminders_spec"`
	OverdueSpec         string `json:"overdue_spec"`
}

type AnalyticsConfig struct {
	Enabled       bool          `json:"enabled"`
	BufferSize    int           `json:"buffer_size"`
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	Policy        string        `json:"policy"`
	// Sink is "redis" (list at RedisKey) or "log".
	Sink     string `json:"sink"`
	RedisKey string `json:"redis_key"`
}

type OpenAIConfig struct {
	APIKey string `json:"-"`
	Model  string `json:"model"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig reads the environment, after loading a .env file when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("HOST", "localhost"),
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			Environment:    getEnv("ENVIRONMENT", "development"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "fructosahel"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "fructosahel.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:     getEnvAsBool("WORKER_ENABLED", true),
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
			Queue:       getEnv("WORKER_QUEUE", "notifications"),
			MaxTries:    getEnvAsInt("WORKER_MAX_TRIES", 3),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "your-secret-key"),
			Issuer:         getEnv("JWT_ISSUER", "fructosahel-backend"),
			AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", time.Hour),
			AdminEmails:    getEnvAsList("ADMIN_EMAILS", nil),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin:  getEnvAsInt("RATE_LIMIT_RPM", 30),
			BurstSize:       getEnvAsInt("RATE_LIMIT_BURST", 5),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP", 10*time.Minute),
		},
		Push: PushConfig{
			VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@fructosahel.com"),
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			TTL:             getEnvAsDuration("PUSH_TTL", 24*time.Hour),
			RequestTimeout:  getEnvAsDuration("PUSH_REQUEST_TIMEOUT", 10*time.Second),
		},
		Notify: NotifyConfig{
			DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
			UserConcurrency:     getEnvAsInt("DISPATCH_USER_CONCURRENCY", 16),
			DedupEnabled:        getEnvAsBool("NOTIFY_DEDUP_ENABLED", false),
			DedupTTL:            getEnvAsDuration("NOTIFY_DEDUP_TTL", 48*time.Hour),
			DigestHour:          getEnvAsInt("NOTIFY_DIGEST_HOUR", 6),
			Timezone:            getEnv("NOTIFY_TIMEZONE", "Africa/Bamako"),
		},
		Cron: CronConfig{
			Secret:              getEnv("CRON_SECRET", ""),
			AllowPlatformHeader: getEnvAsBool("CRON_ALLOW_PLATFORM_HEADER", true),
			Enabled:             getEnvAsBool("CRON_ENABLED", false),
			RemindersSpec:       getEnv("CRON_REMINDERS_SPEC", "@hourly"),
			OverdueSpec:         getEnv("CRON_OVERDUE_SPEC", "0 */6 * * *"),
		},
		Analytics: AnalyticsConfig{
			Enabled:       getEnvAsBool("ANALYTICS_ENABLED", true),
			BufferSize:    getEnvAsInt("ANALYTICS_BUFFER_SIZE", 500),
			BatchSize:     getEnvAsInt("ANALYTICS_BATCH_SIZE", 50),
			FlushInterval: getEnvAsDuration("ANALYTICS_FLUSH_INTERVAL", 10*time.Second),
			Policy:        getEnv("ANALYTICS_POLICY", "drop_oldest"),
			Sink:          getEnv("ANALYTICS_SINK", "redis"),
			RedisKey:      getEnv("ANALYTICS_REDIS_KEY", "analytics:events"),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Analytics.Policy != "drop_oldest" && c.Analytics.Policy != "block" {
		return fmt.Errorf("unsupported analytics policy %q", c.Analytics.Policy)
	}
	if c.Analytics.Sink != "redis" && c.Analytics.Sink != "log" {
		return fmt.Errorf("unsupported analytics sink %q", c.Analytics.Sink)
	}

	if c.Notify.DigestHour < 0 || c.Notify.DigestHour > 23 {
		return fmt.Errorf("digest hour must be between 0 and 23, got %d", c.Notify.DigestHour)
	}

	if c.Notify.DispatchConcurrency < 1 || c.Notify.UserConcurrency < 1 {
		return fmt.Errorf("dispatch concurrency must be positive")
	}

	if !c.IsProduction() {
		return nil
	}

	if c.Database.Password == "" && c.Database.Driver == "postgres" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Auth.JWTSecret == "your-secret-key" {
		return fmt.Errorf("JWT secret must be set in production")
	}

	if c.Cron.Secret == "" {
		return fmt.Errorf("cron secret must be set in production")
	}

	return nil
}

func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func (c *Config) PushConfigured() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// Location resolves the timezone used for "today" windows, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notify.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
