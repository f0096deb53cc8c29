package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Worker   WorkerConfig
	Limiter  LimiterConfig
	Provider ProviderConfig
	Credits  CreditsConfig
	Webhook  WebhookConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// WorkerConfig controls the background job runner.
type WorkerConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// LimiterConfig bounds calls to the extraction provider.
type LimiterConfig struct {
	MaxConcurrency    int
	RequestsPerMinute int
}

// ProviderConfig holds extraction-provider configuration
type ProviderConfig struct {
	APIKey           string
	Model            string
	TemplateGenModel string
	BaseURL          string
	Temperature      float32
	Timeout          time.Duration
}

// CreditsConfig sets per-unit job pricing. A zero PageCost disables
// charging for plain extraction jobs.
type CreditsConfig struct {
	PageCost        int
	TemplateGenCost int
}

// WebhookConfig bounds best-effort callback delivery.
type WebhookConfig struct {
	Timeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Worker: WorkerConfig{
			Workers:    getEnvAsInt("WORKERS", 4),
			QueueSize:  getEnvAsInt("QUEUE_SIZE", 256),
			JobTimeout: getEnvAsDuration("JOB_TIMEOUT", 3*time.Minute),
		},
		Limiter: LimiterConfig{
			MaxConcurrency:    getEnvAsInt("PROVIDER_MAX_CONCURRENCY", 8),
			RequestsPerMinute: getEnvAsInt("PROVIDER_REQUESTS_PER_MINUTE", 4000),
		},
		Provider: ProviderConfig{
			APIKey:           getEnv("GEMINI_API_KEY", ""),
			Model:            getEnv("GEMINI_MODEL", "gemini-2.5-pro"),
			TemplateGenModel: getEnv("GEMINI_TEMPLATE_MODEL", "gemini-1.5-flash-latest"),
			BaseURL:          getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Temperature:      getEnvAsFloat32("GEMINI_TEMPERATURE", 0.0),
			Timeout:          getEnvAsDuration("GEMINI_TIMEOUT", 120*time.Second),
		},
		Credits: CreditsConfig{
			PageCost:        getEnvAsInt("PAGE_COST", 1),
			TemplateGenCost: getEnvAsInt("TEMPLATE_GEN_COST", 1),
		},
		Webhook: WebhookConfig{
			Timeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Provider.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Limiter.MaxConcurrency <= 0 || c.Limiter.RequestsPerMinute <= 0 {
		return NewAppError("CONFIG_ERROR", "provider limiter bounds must be positive", ErrInvalidInput)
	}
	return nil
}
