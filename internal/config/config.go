package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis (비어 있으면 인메모리 인덱스/로컬 릴레이로 동작)
	RedisURL string

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// OAuth
	FrontendURL          string
	OAuthCallbackBaseURL string
	GitHubClientID       string
	GitHubClientSecret   string
	LinkedInClientID     string
	LinkedInClientSecret string

	// Matching
	Matching MatchingConfig
}

// MatchingConfig 매칭 디스패처/스위퍼 튜닝 값
type MatchingConfig struct {
	Workers       int           `yaml:"workers"`
	QueueBuffer   int           `yaml:"queue_buffer"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBase     time.Duration `yaml:"retry_base"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StuckTimeout  time.Duration `yaml:"stuck_timeout"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:        parseDuration(getEnv("JWT_EXPIRATION", "168h"), 7*24*time.Hour),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		OAuthCallbackBaseURL: getEnv("OAUTH_CALLBACK_BASE_URL", "http://localhost:8080"),
		GitHubClientID:       getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret:   getEnv("GITHUB_CLIENT_SECRET", ""),
		LinkedInClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
		Matching: MatchingConfig{
			Workers:       getEnvInt("MATCHING_WORKERS", 4),
			QueueBuffer:   getEnvInt("MATCHING_QUEUE_BUFFER", 256),
			MaxRetries:    getEnvInt("MATCHING_MAX_RETRIES", 3),
			RetryBase:     parseDuration(getEnv("MATCHING_RETRY_BASE", "250ms"), 250*time.Millisecond),
			SweepInterval: parseDuration(getEnv("MATCHING_SWEEP_INTERVAL", "15s"), 15*time.Second),
			StuckTimeout:  parseDuration(getEnv("MATCHING_STUCK_TIMEOUT", "2m"), 2*time.Minute),
			SweepBatch:    getEnvInt("MATCHING_SWEEP_BATCH", 100),
		},
	}

	if path := os.Getenv("MATCHING_CONFIG"); path != "" {
		if err := loadMatchingOverlay(path, &cfg.Matching); err != nil {
			return nil, err
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// matchingFile YAML 파일 구조 (duration은 "15s" 같은 문자열)
type matchingFile struct {
	Matching struct {
		Workers       *int    `yaml:"workers"`
		QueueBuffer   *int    `yaml:"queue_buffer"`
		MaxRetries    *int    `yaml:"max_retries"`
		RetryBase     *string `yaml:"retry_base"`
		SweepInterval *string `yaml:"sweep_interval"`
		StuckTimeout  *string `yaml:"stuck_timeout"`
		SweepBatch    *int    `yaml:"sweep_batch"`
	} `yaml:"matching"`
}

// loadMatchingOverlay YAML 파일에 명시된 값만 덮어쓰기
func loadMatchingOverlay(path string, m *MatchingConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read matching config: %w", err)
	}

	var f matchingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse matching config: %w", err)
	}

	if v := f.Matching.Workers; v != nil && *v > 0 {
		m.Workers = *v
	}
	if v := f.Matching.QueueBuffer; v != nil && *v > 0 {
		m.QueueBuffer = *v
	}
	if v := f.Matching.MaxRetries; v != nil && *v >= 0 {
		m.MaxRetries = *v
	}
	if v := f.Matching.SweepBatch; v != nil && *v > 0 {
		m.SweepBatch = *v
	}
	if v := f.Matching.RetryBase; v != nil {
		m.RetryBase = parseDuration(*v, m.RetryBase)
	}
	if v := f.Matching.SweepInterval; v != nil {
		m.SweepInterval = parseDuration(*v, m.SweepInterval)
	}
	if v := f.Matching.StuckTimeout; v != nil {
		m.StuckTimeout = parseDuration(*v, m.StuckTimeout)
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
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
