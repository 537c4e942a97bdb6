package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
	Endpoint   string
}

// Enabled reports whether media uploads can be served.
func (r R2) Enabled() bool {
	return r.AccessKey != "" && r.SecretKey != "" && r.BucketName != "" && (r.AccountID != "" || r.Endpoint != "")
}

type LinkedIn struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Empty URLs fall back to the public LinkedIn endpoints.
	APIBaseURL    string
	AuthURL       string
	TokenURL      string
	RatePerSecond float64
	Timeout       time.Duration
}

type Scheduler struct {
	Interval        time.Duration
	Concurrency     int
	PublishTimeout  time.Duration
	RefreshSchedule string
	RefreshLeeway   time.Duration
}

type Generator struct {
	OpenRouterAPIKey   string
	OpenRouterModel    string
	OpenRouterBaseURL  string
	TogetherAPIKey     string
	TogetherModel      string
	TogetherBaseURL    string
	HuggingFaceAPIKey  string
	HuggingFaceModel   string
	HuggingFaceBaseURL string
	Timeout            time.Duration
}

type Config struct {
	ServerAddr      string
	StorageDriver   string
	PostgresURI     string
	RedisURI        string
	FrontendURL     string
	SecretKey       string
	CookieName      string
	DefaultTimezone string
	LogLevel        string
	LinkedIn        LinkedIn
	Scheduler       Scheduler
	Generator       Generator
	R2              R2
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

func LoadConfig() *Config {
	return &Config{
		ServerAddr:      getEnv("SERVER_ADDR", ":3000"),
		StorageDriver:   getEnv("STORAGE_DRIVER", StorageDriverPostgres),
		PostgresURI:     getEnv("POSTGRES_URI", ""),
		RedisURI:        getEnv("REDIS_URI", ""),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:       getEnv("SECRET_KEY", ""),
		CookieName:      getEnv("COOKIE_NAME", "session"),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "Asia/Kolkata"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LinkedIn: LinkedIn{
			ClientID:      getEnv("LINKEDIN_CLIENT_ID", ""),
			ClientSecret:  getEnv("LINKEDIN_CLIENT_SECRET", ""),
			RedirectURI:   getEnv("LINKEDIN_REDIRECT_URI", "http://localhost:3000/auth/linkedin/callback"),
			APIBaseURL:    getEnv("LINKEDIN_API_BASE_URL", "https://api.linkedin.com/v2"),
			AuthURL:       getEnv("LINKEDIN_AUTH_URL", ""),
			TokenURL:      getEnv("LINKEDIN_TOKEN_URL", ""),
			RatePerSecond: getEnvFloat("LINKEDIN_RATE_PER_SEC", 5),
			Timeout:       getEnvDuration("LINKEDIN_TIMEOUT", 30*time.Second),
		},
		Scheduler: Scheduler{
			Interval:        getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
			Concurrency:     getEnvInt("SCHEDULER_CONCURRENCY", 4),
			PublishTimeout:  getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second),
			RefreshSchedule: getEnv("TOKEN_REFRESH_SCHEDULE", "@every 10m"),
			RefreshLeeway:   getEnvDuration("TOKEN_REFRESH_LEEWAY", 30*time.Minute),
		},
		Generator: Generator{
			OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterModel:    getEnv("OPENROUTER_MODEL", "deepseek/deepseek-chat"),
			OpenRouterBaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			TogetherAPIKey:     getEnv("TOGETHER_API_KEY", ""),
			TogetherModel:      getEnv("TOGETHER_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo"),
			TogetherBaseURL:    getEnv("TOGETHER_BASE_URL", "https://api.together.xyz/v1"),
			HuggingFaceAPIKey:  getEnv("HUGGING_FACE_API_KEY", ""),
			HuggingFaceModel:   getEnv("HUGGING_FACE_MODEL", "mistralai/Mistral-7B-v0.1"),
			HuggingFaceBaseURL: getEnv("HUGGING_FACE_BASE_URL", "https://api-inference.huggingface.co"),
			Timeout:            getEnvDuration("GENERATOR_TIMEOUT", 30*time.Second),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
			Endpoint:   getEnv("R2_ENDPOINT", ""),
		},
	}
}

// Validate reports the first setting the server cannot start without.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.PostgresURI == "" {
			return errors.New("POSTGRES_URI is required for the postgres storage driver")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch len(c.SecretKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("SECRET_KEY must be 16, 24 or 32 bytes, got %d", len(c.SecretKey))
	}

	if c.Scheduler.Interval <= 0 {
		return errors.New("SCHEDULER_INTERVAL must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.New("SCHEDULER_CONCURRENCY must be at least 1")
	}
	if c.Scheduler.PublishTimeout <= 0 {
		return errors.New("PUBLISH_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
