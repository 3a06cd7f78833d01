package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 認証プロバイダーの種類
const (
	AuthProviderGoTrue = "gotrue"
	AuthProviderMemory = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth provider
	AuthProvider          string
	AuthURL               string
	AuthAnonKey           string
	AuthJWTSecret         string
	AuthRefreshMargin     time.Duration
	AuthEmailConfirmation bool

	// Session
	SessionIdleTTL     time.Duration
	SessionMaxAge      int
	ProfileLoadTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	RollupInterval       time.Duration
	SessionRetentionDays int
	WorkerMetricsPort    string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.AuthProvider = getEnvString("AUTH_PROVIDER", AuthProviderGoTrue)
	switch cfg.AuthProvider {
	case AuthProviderGoTrue:
		cfg.AuthURL = os.Getenv("AUTH_URL")
		if cfg.AuthURL == "" {
			missing = append(missing, "AUTH_URL")
		}
		cfg.AuthAnonKey = os.Getenv("AUTH_ANON_KEY")
		if cfg.AuthAnonKey == "" {
			missing = append(missing, "AUTH_ANON_KEY")
		}
	case AuthProviderMemory:
	default:
		return nil, fmt.Errorf("unsupported AUTH_PROVIDER: %q (want %s or %s)",
			cfg.AuthProvider, AuthProviderGoTrue, AuthProviderMemory)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthJWTSecret = getEnvString("AUTH_JWT_SECRET", "")
	cfg.AuthRefreshMargin = getEnvDuration("AUTH_REFRESH_MARGIN", 60*time.Second)
	cfg.AuthEmailConfirmation = getEnvBool("AUTH_EMAIL_CONFIRMATION", false)
	cfg.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", 12*time.Hour)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.ProfileLoadTimeout = getEnvDuration("PROFILE_LOAD_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RollupInterval = getEnvDuration("ROLLUP_INTERVAL", 15*time.Minute)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
