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

// Store drivers supported by the automation engine.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// MongoConfig provides document store connection settings.
type MongoConfig interface {
	GetMongoURI() string
	GetMongoDatabase() string
}

// StoreConfig selects the persistence backend for automation data.
type StoreConfig interface {
	GetStoreDriver() string
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

// SchedulerConfig provides settings for the asynq-backed wake-up scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// AutomationConfig provides tuning knobs for the automation engine.
type AutomationConfig interface {
	GetAutomationMaxAttempts() int
	GetAutomationBackoffBase() time.Duration
	GetAutomationBackoffMax() time.Duration
	GetAutomationStaleClaimTimeout() time.Duration
	GetAutomationSweepInterval() time.Duration
	GetAutomationPollInterval() time.Duration
	GetAutomationWorkerConcurrency() int
	GetAutomationClaimBatch() int
	GetAutomationMessageDedupeTTL() time.Duration
	GetAutomationAlertEmail() string
	GetAppBaseURL() string
}

// SeedConfig controls creation of the default automation rules.
type SeedConfig interface {
	GetSeedOnStartup() bool
	GetSeedLocations() []string
	GetSeedParams() map[string]string
}

// CRMConfig provides settings for the GoHighLevel API client.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAPIToken() string
	GetCRMAPIVersion() string
	GetCRMRequestsPerSecond() float64
	IsCRMEnabled() bool
}

// RealtimeConfig provides settings for the realtime pub/sub provider.
type RealtimeConfig interface {
	GetAblyAPIKey() string
	IsAblyEnabled() bool
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// WhatsAppConfig provides settings for the WhatsApp gateway used as a messaging fallback.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppDeviceID() string
	GetWhatsAppUsername() string
	GetWhatsAppPassword() string
	IsWhatsAppEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketContracts() string
	IsMinIOEnabled() bool
}

// GotenbergConfig provides settings for the Gotenberg HTML-to-PDF service.
type GotenbergConfig interface {
	GetGotenbergURL() string
	GetGotenbergUsername() string
	GetGotenbergPassword() string
	IsGotenbergEnabled() bool
}

// WeatherConfig provides settings for the forecast provider.
type WeatherConfig interface {
	GetWeatherBaseURL() string
}

// PhoneConfig provides the default region for phone normalisation.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env             string
	HTTPAddr        string
	MetricsAddr     string
	DatabaseURL     string
	MongoURI        string
	MongoDatabase   string
	StoreDriver     string
	RunMigrations   bool
	SeedOnStartup   bool
	SeedLocations   []string
	SeedParams      map[string]string
	AppBaseURL      string
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string
	CORSAllowCreds  bool

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	AutomationMaxAttempts       int
	AutomationBackoffBase       time.Duration
	AutomationBackoffMax        time.Duration
	AutomationStaleClaimTimeout time.Duration
	AutomationSweepInterval     time.Duration
	AutomationPollInterval      time.Duration
	AutomationWorkerConcurrency int
	AutomationClaimBatch        int
	AutomationMessageDedupeTTL  time.Duration
	AutomationAlertEmail        string

	CRMBaseURL           string
	CRMAPIToken          string
	CRMAPIVersion        string
	CRMRequestsPerSecond float64

	AblyAPIKey string

	EmailEnabled     bool
	EmailProvider    string
	BrevoAPIKey      string
	EmailFromName    string
	EmailFromAddress string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	WhatsAppURL      string
	WhatsAppDeviceID string
	WhatsAppUsername string
	WhatsAppPassword string

	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOUseSSL          bool
	MinioBucketContracts string

	GotenbergURL      string
	GotenbergUsername string
	GotenbergPassword string

	WeatherBaseURL     string
	PhoneDefaultRegion string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// MongoConfig implementation
func (c *Config) GetMongoURI() string      { return c.MongoURI }
func (c *Config) GetMongoDatabase() string { return c.MongoDatabase }

// StoreConfig implementation
func (c *Config) GetStoreDriver() string { return c.StoreDriver }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// AutomationConfig implementation
func (c *Config) GetAutomationMaxAttempts() int                 { return c.AutomationMaxAttempts }
func (c *Config) GetAutomationBackoffBase() time.Duration       { return c.AutomationBackoffBase }
func (c *Config) GetAutomationBackoffMax() time.Duration        { return c.AutomationBackoffMax }
func (c *Config) GetAutomationStaleClaimTimeout() time.Duration { return c.AutomationStaleClaimTimeout }
func (c *Config) GetAutomationSweepInterval() time.Duration     { return c.AutomationSweepInterval }
func (c *Config) GetAutomationPollInterval() time.Duration      { return c.AutomationPollInterval }
func (c *Config) GetAutomationWorkerConcurrency() int           { return c.AutomationWorkerConcurrency }
func (c *Config) GetAutomationClaimBatch() int                  { return c.AutomationClaimBatch }
func (c *Config) GetAutomationMessageDedupeTTL() time.Duration  { return c.AutomationMessageDedupeTTL }
func (c *Config) GetAutomationAlertEmail() string               { return c.AutomationAlertEmail }
func (c *Config) GetAppBaseURL() string                         { return c.AppBaseURL }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string            { return c.CRMBaseURL }
func (c *Config) GetCRMAPIToken() string           { return c.CRMAPIToken }
func (c *Config) GetCRMAPIVersion() string         { return c.CRMAPIVersion }
func (c *Config) GetCRMRequestsPerSecond() float64 { return c.CRMRequestsPerSecond }
func (c *Config) IsCRMEnabled() bool               { return c.CRMAPIToken != "" }

// RealtimeConfig implementation
func (c *Config) GetAblyAPIKey() string { return c.AblyAPIKey }
func (c *Config) IsAblyEnabled() bool   { return c.AblyAPIKey != "" }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }
func (c *Config) GetWhatsAppUsername() string { return c.WhatsAppUsername }
func (c *Config) GetWhatsAppPassword() string { return c.WhatsAppPassword }
func (c *Config) IsWhatsAppEnabled() bool     { return c.WhatsAppURL != "" }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketContracts() string { return c.MinioBucketContracts }
func (c *Config) IsMinIOEnabled() bool            { return c.MinIOEndpoint != "" }

// GotenbergConfig implementation
func (c *Config) GetGotenbergURL() string      { return c.GotenbergURL }
func (c *Config) GetGotenbergUsername() string { return c.GotenbergUsername }
func (c *Config) GetGotenbergPassword() string { return c.GotenbergPassword }
func (c *Config) IsGotenbergEnabled() bool     { return c.GotenbergURL != "" }

// WeatherConfig implementation
func (c *Config) GetWeatherBaseURL() string { return c.WeatherBaseURL }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// SeedConfig implementation
func (c *Config) GetSeedOnStartup() bool           { return c.SeedOnStartup }
func (c *Config) GetSeedLocations() []string       { return c.SeedLocations }
func (c *Config) GetSeedParams() map[string]string { return c.SeedParams }
func (c *Config) GetRunMigrations() bool           { return c.RunMigrations }
func (c *Config) GetEnv() string                   { return c.Env }
func (c *Config) GetMetricsAddr() string           { return c.MetricsAddr }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailProvider := strings.ToLower(getEnv("EMAIL_PROVIDER", "brevo"))
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:     getEnv("WORKER_METRICS_ADDR", ":9091"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "fieldservice"),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		RunMigrations:   strings.EqualFold(getEnv("RUN_MIGRATIONS", "true"), "true"),
		SeedOnStartup:   strings.EqualFold(getEnv("AUTOMATION_SEED_ON_STARTUP", "false"), "true"),
		SeedLocations:   splitCSV(getEnv("AUTOMATION_SEED_LOCATIONS", "")),
		SeedParams:      splitPairs(getEnv("AUTOMATION_SEED_PARAMS", "")),
		AppBaseURL:      getEnv("APP_BASE_URL", "http://localhost:4200"),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:    corsAllowAll,
		CORSOrigins:     corsOrigins,
		CORSAllowCreds:  strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "automation"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),

		AutomationMaxAttempts:       mustInt(getEnv("AUTOMATION_MAX_ATTEMPTS", "5")),
		AutomationBackoffBase:       mustDuration(getEnv("AUTOMATION_BACKOFF_BASE", "30s")),
		AutomationBackoffMax:        mustDuration(getEnv("AUTOMATION_BACKOFF_MAX", "30m")),
		AutomationStaleClaimTimeout: mustDuration(getEnv("AUTOMATION_STALE_CLAIM_TIMEOUT", "5m")),
		AutomationSweepInterval:     mustDuration(getEnv("AUTOMATION_SWEEP_INTERVAL", "15s")),
		AutomationPollInterval:      mustDuration(getEnv("AUTOMATION_POLL_INTERVAL", "2s")),
		AutomationWorkerConcurrency: mustInt(getEnv("AUTOMATION_WORKER_CONCURRENCY", "4")),
		AutomationClaimBatch:        mustInt(getEnv("AUTOMATION_CLAIM_BATCH", "50")),
		AutomationMessageDedupeTTL:  mustDuration(getEnv("AUTOMATION_MESSAGE_DEDUPE_TTL", "72h")),
		AutomationAlertEmail:        getEnv("AUTOMATION_ALERT_EMAIL", ""),

		CRMBaseURL:           getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMAPIToken:          getEnv("GHL_API_TOKEN", ""),
		CRMAPIVersion:        getEnv("GHL_API_VERSION", "2021-07-28"),
		CRMRequestsPerSecond: mustFloat(getEnv("GHL_REQUESTS_PER_SECOND", "8")),

		AblyAPIKey: getEnv("ABLY_API_KEY", ""),

		EmailEnabled:     emailEnabled,
		EmailProvider:    emailProvider,
		BrevoAPIKey:      getEnv("BREVO_API_KEY", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Field Service"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),

		WhatsAppURL:      getEnv("WHATSAPP_URL", ""),
		WhatsAppDeviceID: getEnv("WHATSAPP_DEVICE_ID", ""),
		WhatsAppUsername: getEnv("WHATSAPP_USERNAME", ""),
		WhatsAppPassword: getEnv("WHATSAPP_PASSWORD", ""),

		MinIOEndpoint:        getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:          strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketContracts: getEnv("MINIO_BUCKET_CONTRACTS", "contracts"),

		GotenbergURL:      getEnv("GOTENBERG_URL", ""),
		GotenbergUsername: getEnv("GOTENBERG_USERNAME", ""),
		GotenbergPassword: getEnv("GOTENBERG_PASSWORD", ""),

		WeatherBaseURL:     getEnv("WEATHER_BASE_URL", "https://api.open-meteo.com"),
		PhoneDefaultRegion: strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "US")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER is mongo")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if c.AutomationMaxAttempts < 1 {
		return fmt.Errorf("AUTOMATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.AutomationBackoffBase <= 0 || c.AutomationBackoffMax < c.AutomationBackoffBase {
		return fmt.Errorf("AUTOMATION_BACKOFF_BASE must be positive and not exceed AUTOMATION_BACKOFF_MAX")
	}
	if c.AutomationStaleClaimTimeout <= 0 || c.AutomationSweepInterval <= 0 || c.AutomationPollInterval <= 0 {
		return fmt.Errorf("automation intervals must be positive durations")
	}
	if c.AutomationWorkerConcurrency < 1 {
		return fmt.Errorf("AUTOMATION_WORKER_CONCURRENCY must be at least 1")
	}
	if c.EmailEnabled {
		switch c.EmailProvider {
		case "brevo":
			if c.BrevoAPIKey == "" {
				c.EmailEnabled = false
			}
		case "smtp":
			if c.SMTPHost == "" {
				return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
			}
		default:
			return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.EmailProvider)
		}
	}
	if c.EmailEnabled && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	return nil
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

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
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

// splitPairs parses "a=1,b=2" into a map. Entries without '=' are ignored.
func splitPairs(value string) map[string]string {
	out := map[string]string{}
	for _, entry := range splitCSV(value) {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
