package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Notify    NotifyConfig    `json:"notify"`
	Email     EmailConfig     `json:"email"`
	Suggest   SuggestConfig   `json:"suggest"`
	Redis     RedisConfig     `json:"redis"`
	Tracing   TracingConfig   `json:"tracing"`
	Lock      LockConfig      `json:"lock"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port"`
	Host            string `json:"host"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // in seconds
}

// DatabaseConfig selects the datastore. Path is used by sqlite3, URL by postgres.
type DatabaseConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	URL    string `json:"url"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
	// TriggerToken, when set, must be sent as a Bearer token to trigger a run.
	TriggerToken string `json:"trigger_token"`
}

// RateLimitConfig holds rate limiting configuration for the suggestion endpoint.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// NotifyConfig controls the reminder and nudge pass.
type NotifyConfig struct {
	SchedulerEnabled bool   `json:"scheduler_enabled"`
	Schedule         string `json:"schedule"`
	Timezone         string `json:"timezone"`
	Concurrency      int    `json:"concurrency"`
	SendTimeout      int    `json:"send_timeout"` // in seconds
	RepoTimeout      int    `json:"repo_timeout"` // in seconds
	AppURL           string `json:"app_url"`
	RemindersEnabled bool   `json:"reminders_enabled"`
	NudgesEnabled    bool   `json:"nudges_enabled"`
	EventsEnabled    bool   `json:"events_enabled"`
}

// EmailConfig selects the email provider.
type EmailConfig struct {
	Provider     string `json:"provider"` // ses, resend or log
	From         string `json:"from"`
	Region       string `json:"region"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	ResendAPIKey string `json:"resend_api_key"`
	ResendURL    string `json:"resend_url"`
}

// SuggestConfig controls gift idea generation and caching.
type SuggestConfig struct {
	Provider      string `json:"provider"` // openai or bedrock
	Model         string `json:"model"`
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	BedrockRegion string `json:"bedrock_region"`
	Timeout       int    `json:"timeout"` // in seconds
	CacheEnabled  bool   `json:"cache_enabled"`
	CacheBackend  string `json:"cache_backend"` // memory or redis
	CacheTTL      int    `json:"cache_ttl"`     // in seconds
}

// RedisConfig is shared by the Redis cache and the Redis run lock.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	Environment string  `json:"environment"`
	SampleRatio float64 `json:"sample_ratio"`
}

// LockConfig selects the optional run lock.
type LockConfig struct {
	Backend string `json:"backend"` // none, redis or postgres
	Key     string `json:"key"`
	TTL     int    `json:"ttl"` // in seconds
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Mode      string `json:"mode"` // development or production
	Level     string `json:"level"`
	RedactPII bool   `json:"redact_pii"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// A .env file in the working directory is loaded first if present.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			Path:   "./giftwise.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    30,
			Window:  60,
		},
		Notify: NotifyConfig{
			SchedulerEnabled: true,
			Schedule:         "0 8 * * *",
			Timezone:         "UTC",
			Concurrency:      4,
			SendTimeout:      15,
			RepoTimeout:      10,
			AppURL:           "https://giftwisesg.com/",
			RemindersEnabled: true,
			NudgesEnabled:    true,
			EventsEnabled:    true,
		},
		Email: EmailConfig{
			Provider: "log",
			From:     "GiftWise SG <noreply@giftwisesg.com>",
			Region:   "us-east-1",
		},
		Suggest: SuggestConfig{
			Provider:     "openai",
			Timeout:      30,
			CacheEnabled: true,
			CacheBackend: "memory",
			CacheTTL:     3600,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			ServiceName: "giftwise-api",
			Environment: "development",
			SampleRatio: 1,
		},
		Lock: LockConfig{
			Backend: "none",
			Key:     "giftwise-notify-run",
			TTL:     900,
		},
		Log: LogConfig{
			Mode:      "production",
			Level:     "info",
			RedactPII: true,
		},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.Path, "DATABASE_PATH")
	setString(&cfg.Database.URL, "DATABASE_URL")

	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&cfg.Security.TriggerToken, "TRIGGER_TOKEN")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setBool(&cfg.Notify.SchedulerEnabled, "NOTIFY_SCHEDULER_ENABLED")
	setString(&cfg.Notify.Schedule, "NOTIFY_SCHEDULE")
	setString(&cfg.Notify.Timezone, "NOTIFY_TIMEZONE")
	setInt(&cfg.Notify.Concurrency, "NOTIFY_CONCURRENCY")
	setInt(&cfg.Notify.SendTimeout, "NOTIFY_SEND_TIMEOUT")
	setInt(&cfg.Notify.RepoTimeout, "NOTIFY_REPO_TIMEOUT")
	setString(&cfg.Notify.AppURL, "NOTIFY_APP_URL")
	setBool(&cfg.Notify.RemindersEnabled, "NOTIFY_REMINDERS_ENABLED")
	setBool(&cfg.Notify.NudgesEnabled, "NOTIFY_NUDGES_ENABLED")
	setBool(&cfg.Notify.EventsEnabled, "EVENTS_ENABLED")

	setString(&cfg.Email.Provider, "EMAIL_PROVIDER")
	setString(&cfg.Email.From, "EMAIL_FROM")
	setString(&cfg.Email.Region, "AWS_REGION")
	setString(&cfg.Email.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&cfg.Email.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.Email.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Email.ResendURL, "RESEND_API_URL")

	setString(&cfg.Suggest.Provider, "SUGGEST_PROVIDER")
	setString(&cfg.Suggest.Model, "SUGGEST_MODEL")
	setString(&cfg.Suggest.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.Suggest.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Suggest.BedrockRegion, "BEDROCK_REGION")
	setInt(&cfg.Suggest.Timeout, "SUGGEST_TIMEOUT")
	setBool(&cfg.Suggest.CacheEnabled, "SUGGEST_CACHE_ENABLED")
	setString(&cfg.Suggest.CacheBackend, "SUGGEST_CACHE_BACKEND")
	setInt(&cfg.Suggest.CacheTTL, "SUGGEST_CACHE_TTL")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
	setString(&cfg.Tracing.Environment, "ENVIRONMENT")
	if ratio := os.Getenv("TRACING_SAMPLE_RATIO"); ratio != "" {
		if f, err := strconv.ParseFloat(ratio, 64); err == nil {
			cfg.Tracing.SampleRatio = f
		}
	}

	setString(&cfg.Lock.Backend, "LOCK_BACKEND")
	setString(&cfg.Lock.Key, "LOCK_KEY")
	setInt(&cfg.Lock.TTL, "LOCK_TTL")

	setString(&cfg.Log.Mode, "LOG_MODE")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setBool(&cfg.Log.RedactPII, "LOG_REDACT_PII")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

// Location resolves the notification time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Notify.Timezone)
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if _, err := cron.ParseStandard(c.Notify.Schedule); err != nil {
		return fmt.Errorf("invalid notify schedule: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid notify timezone: %w", err)
	}
	if c.Notify.Concurrency <= 0 {
		return fmt.Errorf("notify concurrency must be positive")
	}
	if c.Notify.SendTimeout <= 0 || c.Notify.RepoTimeout <= 0 {
		return fmt.Errorf("notify timeouts must be positive")
	}

	switch c.Email.Provider {
	case "log", "":
	case "ses":
		if c.Email.Region == "" {
			return fmt.Errorf("aws region is required for ses")
		}
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("resend api key is required")
		}
	default:
		return fmt.Errorf("unsupported email provider %q", c.Email.Provider)
	}

	switch c.Suggest.Provider {
	case "openai", "bedrock":
	default:
		return fmt.Errorf("unsupported suggestion provider %q", c.Suggest.Provider)
	}
	if c.Suggest.Timeout <= 0 {
		return fmt.Errorf("suggestion timeout must be positive")
	}
	switch c.Suggest.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported suggestion cache backend %q", c.Suggest.CacheBackend)
	}
	if c.Suggest.CacheTTL <= 0 {
		return fmt.Errorf("suggestion cache ttl must be positive")
	}

	switch c.Lock.Backend {
	case "none", "", "redis":
	case "postgres":
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("postgres run lock requires the postgres database driver")
		}
	default:
		return fmt.Errorf("unsupported lock backend %q", c.Lock.Backend)
	}
	if c.Lock.Backend == "redis" && c.Lock.TTL <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}
