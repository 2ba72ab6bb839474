package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity Provider
	IdentityProviderURL string
	IdentityServiceKey  string
	IdentityTimeout     time.Duration
	// 管理API（ユーザー一覧等）の呼び出しレート（req/sec）
	IdentityAdminRate float64

	// Verification Token
	TokenSecret          string
	TokenDefaultExpiry   time.Duration
	VerificationCooldown time.Duration

	// Circuit Breaker
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// Rate Limit
	RateLimitAuth         int // authルールの窓あたり最大回数
	RateLimitAuthPerIP    int
	RateLimitGeneral      int
	RateLimitVerification int

	// Redis（設定時はレート制限エントリをRedisに外部化する）
	RedisURL string

	// Diagnostics
	DiagnosticsKey string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdentityProviderURL = os.Getenv("IDENTITY_PROVIDER_URL")
	if cfg.IdentityProviderURL == "" {
		missing = append(missing, "IDENTITY_PROVIDER_URL")
	}

	cfg.IdentityServiceKey = os.Getenv("IDENTITY_SERVICE_KEY")
	if cfg.IdentityServiceKey == "" {
		missing = append(missing, "IDENTITY_SERVICE_KEY")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second)
	cfg.IdentityAdminRate = getEnvFloat("IDENTITY_ADMIN_RATE", 2.0)
	cfg.TokenDefaultExpiry = getEnvDuration("TOKEN_DEFAULT_EXPIRY", 1*time.Hour)
	cfg.VerificationCooldown = time.Duration(getEnvInt("VERIFICATION_COOLDOWN_SECONDS", 86400)) * time.Second
	cfg.BreakerFailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerResetTimeout = getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitAuthPerIP = getEnvInt("RATE_LIMIT_AUTH_PER_IP", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVerification = getEnvInt("RATE_LIMIT_VERIFICATION", 3)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.DiagnosticsKey = getEnvString("DIAGNOSTICS_KEY", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
