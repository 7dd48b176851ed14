// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetHTTPRatePerSecond() int
	GetHTTPRateBurst() int
}

// BrokerConfig provides settings for the task queue broker connection
// and worker process.
type BrokerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetWorkerConcurrency() int
}

// PipelineConfig provides the contact pipeline policy knobs.
type PipelineConfig interface {
	GetMaxAttempts() int
	GetRetryDelay() time.Duration
	GetDialRatePerMinute() int
	GetDialRateBurst() int
}

// HoursConfig provides the business-hours window settings.
type HoursConfig interface {
	GetBusinessTimezone() string
	GetBusinessHourStart() int
	GetBusinessHourEnd() int
	GetHolidayCalendarPath() string
}

// TelephonyConfig provides settings for the external telephony gateway.
type TelephonyConfig interface {
	GetTelephonyURL() string
	GetTelephonyAPIKey() string
	GetTelephonyCallbackURL() string
	GetTelephonyWebhookSecret() string
}

// ChatConfig provides settings for the external chat-messaging gateway.
type ChatConfig interface {
	GetChatGatewayURL() string
	GetChatGatewayKey() string
	GetChatDeviceID() string
}

// CRMConfig provides settings for the external CRM pull API.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIKey() string
	GetCRMPageSize() int
}

// AdminConfig provides settings for the admin control surface.
type AdminConfig interface {
	GetAdminAPIKey() string
}

// FlagConfig provides feature-flag cache settings.
type FlagConfig interface {
	GetFlagCacheTTL() time.Duration
}

// SweeperConfig provides retry sweeper policy settings.
type SweeperConfig interface {
	GetSweepStuckThreshold() time.Duration
	GetSweepRetryCap() int
	GetSweepBatchCap() int
}

// StorageConfig provides settings for recording archival storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetRecordingsBucket() string
	IsStorageEnabled() bool
}

// AlertConfig provides settings for operator alert mail.
type AlertConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
	IsAlertingEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	RedisURL          string
	RedisTLSInsecure  bool
	WorkerConcurrency int

	CORSAllowAll bool
	CORSOrigins  []string

	HTTPRatePerSecond int
	HTTPRateBurst     int

	MaxAttempts       int
	RetryDelay        time.Duration
	DialRatePerMinute int
	DialRateBurst     int

	BusinessTimezone    string
	BusinessHourStart   int
	BusinessHourEnd     int
	HolidayCalendarPath string

	TelephonyURL           string
	TelephonyAPIKey        string
	TelephonyCallbackURL   string
	TelephonyWebhookSecret string

	ChatGatewayURL string
	ChatGatewayKey string
	ChatDeviceID   string

	CRMBaseURL  string
	CRMAPIKey   string
	CRMPageSize int

	AdminAPIKey string

	FlagCacheTTL time.Duration

	SweepStuckThreshold time.Duration
	SweepRetryCap       int
	SweepBatchCap       int

	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	RecordingsBucket string

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	AlertFromAddress string
	AlertToAddress   string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string       { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool     { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string  { return c.CORSOrigins }
func (c *Config) GetHTTPRatePerSecond() int { return c.HTTPRatePerSecond }
func (c *Config) GetHTTPRateBurst() int     { return c.HTTPRateBurst }

// BrokerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetWorkerConcurrency() int { return c.WorkerConcurrency }

// PipelineConfig implementation
func (c *Config) GetMaxAttempts() int          { return c.MaxAttempts }
func (c *Config) GetRetryDelay() time.Duration { return c.RetryDelay }
func (c *Config) GetDialRatePerMinute() int    { return c.DialRatePerMinute }
func (c *Config) GetDialRateBurst() int        { return c.DialRateBurst }

// HoursConfig implementation
func (c *Config) GetBusinessTimezone() string    { return c.BusinessTimezone }
func (c *Config) GetBusinessHourStart() int      { return c.BusinessHourStart }
func (c *Config) GetBusinessHourEnd() int        { return c.BusinessHourEnd }
func (c *Config) GetHolidayCalendarPath() string { return c.HolidayCalendarPath }

// TelephonyConfig implementation
func (c *Config) GetTelephonyURL() string           { return c.TelephonyURL }
func (c *Config) GetTelephonyAPIKey() string        { return c.TelephonyAPIKey }
func (c *Config) GetTelephonyCallbackURL() string   { return c.TelephonyCallbackURL }
func (c *Config) GetTelephonyWebhookSecret() string { return c.TelephonyWebhookSecret }

// ChatConfig implementation
func (c *Config) GetChatGatewayURL() string { return c.ChatGatewayURL }
func (c *Config) GetChatGatewayKey() string { return c.ChatGatewayKey }
func (c *Config) GetChatDeviceID() string   { return c.ChatDeviceID }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string { return c.CRMBaseURL }
func (c *Config) GetCRMAPIKey() string  { return c.CRMAPIKey }
func (c *Config) GetCRMPageSize() int   { return c.CRMPageSize }

// AdminConfig implementation
func (c *Config) GetAdminAPIKey() string { return c.AdminAPIKey }

// FlagConfig implementation
func (c *Config) GetFlagCacheTTL() time.Duration { return c.FlagCacheTTL }

// SweeperConfig implementation
func (c *Config) GetSweepStuckThreshold() time.Duration { return c.SweepStuckThreshold }
func (c *Config) GetSweepRetryCap() int                 { return c.SweepRetryCap }
func (c *Config) GetSweepBatchCap() int                 { return c.SweepBatchCap }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string    { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string   { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string   { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool        { return c.MinIOUseSSL }
func (c *Config) GetRecordingsBucket() string { return c.RecordingsBucket }
func (c *Config) IsStorageEnabled() bool {
	return c.MinIOEndpoint != "" && c.MinIOAccessKey != "" && c.MinIOSecretKey != ""
}

// AlertConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string   { return c.AlertToAddress }
func (c *Config) IsAlertingEnabled() bool {
	return c.SMTPHost != "" && c.AlertToAddress != ""
}

// =============================================================================
// Loading
// =============================================================================

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:  getBool("REDIS_TLS_INSECURE", false),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 20),

		CORSAllowAll: getBool("CORS_ALLOW_ALL", false),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),

		HTTPRatePerSecond: getInt("HTTP_RATE_PER_SECOND", 25),
		HTTPRateBurst:     getInt("HTTP_RATE_BURST", 50),

		MaxAttempts:       getInt("MAX_CONTACT_ATTEMPTS", 3),
		RetryDelay:        getDuration("CONTACT_RETRY_DELAY", 24*time.Hour),
		DialRatePerMinute: getInt("DIAL_RATE_PER_MINUTE", 30),
		DialRateBurst:     getInt("DIAL_RATE_BURST", 5),

		BusinessTimezone:    getEnv("BUSINESS_TIMEZONE", "America/Sao_Paulo"),
		BusinessHourStart:   getInt("BUSINESS_HOUR_START", 8),
		BusinessHourEnd:     getInt("BUSINESS_HOUR_END", 20),
		HolidayCalendarPath: getEnv("HOLIDAY_CALENDAR_FILE", ""),

		TelephonyURL:           getEnv("TELEPHONY_URL", ""),
		TelephonyAPIKey:        getEnv("TELEPHONY_API_KEY", ""),
		TelephonyCallbackURL:   getEnv("TELEPHONY_CALLBACK_URL", ""),
		TelephonyWebhookSecret: getEnv("TELEPHONY_WEBHOOK_SECRET", ""),

		ChatGatewayURL: getEnv("CHAT_GATEWAY_URL", ""),
		ChatGatewayKey: getEnv("CHAT_GATEWAY_KEY", ""),
		ChatDeviceID:   getEnv("CHAT_DEVICE_ID", ""),

		CRMBaseURL:  getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:   getEnv("CRM_API_KEY", ""),
		CRMPageSize: getInt("CRM_PAGE_SIZE", 200),

		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		FlagCacheTTL: getDuration("FLAG_CACHE_TTL", time.Minute),

		SweepStuckThreshold: getDuration("SWEEP_STUCK_THRESHOLD", 30*time.Minute),
		SweepRetryCap:       getInt("SWEEP_RETRY_CAP", 3),
		SweepBatchCap:       getInt("SWEEP_BATCH_CAP", 100),

		MinIOEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:      getBool("MINIO_USE_SSL", false),
		RecordingsBucket: getEnv("MINIO_BUCKET_RECORDINGS", "call-recordings"),

		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getInt("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		AlertFromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
		AlertToAddress:   getEnv("ALERT_TO_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.AdminAPIKey == "" && !strings.EqualFold(cfg.Env, "development") {
		return nil, fmt.Errorf("ADMIN_API_KEY is required outside development")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_CONTACT_ATTEMPTS must be at least 1")
	}
	if cfg.BusinessHourStart < 0 || cfg.BusinessHourEnd > 24 || cfg.BusinessHourStart >= cfg.BusinessHourEnd {
		return nil, fmt.Errorf("invalid business-hours window %d-%d", cfg.BusinessHourStart, cfg.BusinessHourEnd)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	return strings.EqualFold(raw, "true") || raw == "1"
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
