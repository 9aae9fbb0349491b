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

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RedisConfig provides the Redis connection used by locks and the job queue.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq client, worker and scheduler.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetMaintenanceCron() string
}

// EmailConfig provides settings for SMTP delivery of pipeline notifications.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetAppBaseURL() string
}

// StorageConfig provides settings for MinIO S3-compatible storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketJobLogs() string
	IsMinIOEnabled() bool
}

// PipelineConfig provides tuning for the pipeline engine and maintenance pass.
type PipelineConfig interface {
	GetPipelineSettingsPath() string
	GetStoreTimeout() time.Duration
	GetSideEffectTimeout() time.Duration
	GetMaintenanceWorkers() int
	GetLeadBatchSize() int
	GetEvaluationCooldown() time.Duration
	GetNotificationBatchSize() int
	GetMaintenanceLockTTL() time.Duration
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	MaintenanceCron  string

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string
	AppBaseURL       string

	MinIOEndpoint     string
	MinIOAccessKey    string
	MinIOSecretKey    string
	MinIOUseSSL       bool
	MinioBucketJobLog string

	PipelineSettingsPath  string
	StoreTimeout          time.Duration
	SideEffectTimeout     time.Duration
	MaintenanceWorkers    int
	LeadBatchSize         int
	EvaluationCooldown    time.Duration
	NotificationBatchSize int
	MaintenanceLockTTL    time.Duration
	PhoneDefaultRegion    string
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }
func (c *Config) GetMaintenanceCron() string { return c.MaintenanceCron }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetAppBaseURL() string       { return c.AppBaseURL }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string      { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string     { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string     { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool          { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketJobLogs() string { return c.MinioBucketJobLog }
func (c *Config) IsMinIOEnabled() bool          { return c.MinIOEndpoint != "" }

// PipelineConfig implementation
func (c *Config) GetPipelineSettingsPath() string      { return c.PipelineSettingsPath }
func (c *Config) GetStoreTimeout() time.Duration       { return c.StoreTimeout }
func (c *Config) GetSideEffectTimeout() time.Duration  { return c.SideEffectTimeout }
func (c *Config) GetMaintenanceWorkers() int           { return c.MaintenanceWorkers }
func (c *Config) GetLeadBatchSize() int                { return c.LeadBatchSize }
func (c *Config) GetEvaluationCooldown() time.Duration { return c.EvaluationCooldown }
func (c *Config) GetNotificationBatchSize() int        { return c.NotificationBatchSize }
func (c *Config) GetMaintenanceLockTTL() time.Duration { return c.MaintenanceLockTTL }
func (c *Config) GetPhoneDefaultRegion() string        { return c.PhoneDefaultRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "pipeline"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MaintenanceCron:  getEnv("PIPELINE_MAINTENANCE_CRON", "@every 1h"),

		EmailEnabled:     emailEnabled && smtpHost != "",
		SMTPHost:         smtpHost,
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Deal Pipeline"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		AppBaseURL:       strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:4200"), "/"),

		MinIOEndpoint:     getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:    getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:       strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketJobLog: getEnv("MINIO_BUCKET_JOB_LOGS", "pipeline-job-logs"),

		PipelineSettingsPath:  getEnv("PIPELINE_SETTINGS_PATH", ""),
		StoreTimeout:          mustDuration(getEnv("PIPELINE_STORE_TIMEOUT", "10s")),
		SideEffectTimeout:     mustDuration(getEnv("PIPELINE_SIDE_EFFECT_TIMEOUT", "5s")),
		MaintenanceWorkers:    mustInt(getEnv("PIPELINE_MAINTENANCE_WORKERS", "8")),
		LeadBatchSize:         mustInt(getEnv("PIPELINE_LEAD_BATCH_SIZE", "50")),
		EvaluationCooldown:    mustDuration(getEnv("PIPELINE_EVALUATION_COOLDOWN", "168h")),
		NotificationBatchSize: mustInt(getEnv("PIPELINE_NOTIFICATION_BATCH_SIZE", "50")),
		MaintenanceLockTTL:    mustDuration(getEnv("PIPELINE_MAINTENANCE_LOCK_TTL", "30m")),
		PhoneDefaultRegion:    getEnv("PHONE_DEFAULT_REGION", "US"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.StoreTimeout <= 0 || cfg.SideEffectTimeout <= 0 {
		return nil, fmt.Errorf("PIPELINE_STORE_TIMEOUT and PIPELINE_SIDE_EFFECT_TIMEOUT must be positive durations")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
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

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
