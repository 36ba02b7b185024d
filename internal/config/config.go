package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr           = ":8080"
	defaultDatabaseURL        = "marketplace.db"
	defaultJWTIssuer          = "marketplace-api"
	defaultJWTAudience        = "marketplace-clients"
	defaultJWTAccessTTL       = "1h"
	defaultRefreshTTL         = "168h"
	defaultOtpTTL             = "10m"
	defaultOtpResendCooldown  = "60s"
	defaultOtpHourlyCap       = "5"
	defaultLockoutThreshold   = "5"
	defaultLockoutWindow      = "15m"
	defaultCleanupInterval    = "24h"
	defaultRateLimitRPS       = "5"
	defaultRateLimitBurst     = "10"
	defaultBcryptCost         = "12"
	defaultJWTSecret          = "change-me-jwt-secret"
	defaultRefreshTokenPepper = "change-me-refresh-pepper"

	minLockoutWindow = 5 * time.Minute
	maxLockoutWindow = 15 * time.Minute
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	JWTAccessTTL time.Duration

	RefreshTTL         time.Duration
	RefreshTokenPepper string

	OtpTTL            time.Duration
	OtpResendCooldown time.Duration
	OtpHourlyCap      int

	LockoutThreshold int
	LockoutWindow    time.Duration

	BcryptCost      int
	CleanupInterval time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int

	// CORSAllowedOrigins is added to the local development origins.
	CORSAllowedOrigins string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{}
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}
	cfg.AppEnv = strings.ToLower(appEnv)

	cfg.LogLevel = strings.TrimSpace(getEnv("LOG_LEVEL", "info"))
	cfg.HTTPAddr = strings.TrimSpace(getEnv("HTTP_ADDR", defaultHTTPAddr))
	cfg.DatabaseURL = strings.TrimSpace(getEnv("DATABASE_URL", defaultDatabaseURL))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.CORSAllowedOrigins = os.Getenv("CORS_ALLOWED_ORIGINS")

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", defaultJWTSecret))
	cfg.JWTIssuer = strings.TrimSpace(getEnv("JWT_ISSUER", defaultJWTIssuer))
	cfg.JWTAudience = strings.TrimSpace(getEnv("JWT_AUDIENCE", defaultJWTAudience))
	cfg.RefreshTokenPepper = strings.TrimSpace(getEnv("REFRESH_TOKEN_PEPPER", defaultRefreshTokenPepper))

	var err error
	if cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", defaultJWTAccessTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = parseDurationEnv("REFRESH_TTL", defaultRefreshTTL); err != nil {
		return nil, err
	}
	if cfg.OtpTTL, err = parseDurationEnv("OTP_TTL", defaultOtpTTL); err != nil {
		return nil, err
	}
	if cfg.OtpResendCooldown, err = parseDurationEnv("OTP_RESEND_COOLDOWN", defaultOtpResendCooldown); err != nil {
		return nil, err
	}
	if cfg.OtpHourlyCap, err = parseIntEnv("OTP_HOURLY_CAP", defaultOtpHourlyCap); err != nil {
		return nil, err
	}
	if cfg.LockoutThreshold, err = parseIntEnv("LOCKOUT_THRESHOLD", defaultLockoutThreshold); err != nil {
		return nil, err
	}
	if cfg.LockoutWindow, err = parseDurationEnv("LOCKOUT_WINDOW", defaultLockoutWindow); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = parseIntEnv("BCRYPT_COST", defaultBcryptCost); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = parseDurationEnv("CLEANUP_INTERVAL", defaultCleanupInterval); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = parseIntEnv("RATE_LIMIT_BURST", defaultRateLimitBurst); err != nil {
		return nil, err
	}
	rps := strings.TrimSpace(getEnv("RATE_LIMIT_RPS", defaultRateLimitRPS))
	if cfg.RateLimitRPS, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS value %q: %w", rps, err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	slog.Debug("config loaded",
		"app_env", cfg.AppEnv,
		"http_addr", cfg.HTTPAddr,
		"redis", cfg.RedisURL != "",
		"access_ttl", cfg.JWTAccessTTL,
		"refresh_ttl", cfg.RefreshTTL,
	)

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return isProdLike(c.AppEnv)
}

func validateConfig(cfg *Config) error {
	if cfg.JWTAccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be > 0")
	}
	if cfg.RefreshTTL <= 0 {
		return fmt.Errorf("REFRESH_TTL must be > 0")
	}
	if cfg.OtpTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be > 0")
	}
	if cfg.OtpResendCooldown <= 0 {
		return fmt.Errorf("OTP_RESEND_COOLDOWN must be > 0")
	}
	if cfg.OtpHourlyCap <= 0 {
		return fmt.Errorf("OTP_HOURLY_CAP must be > 0")
	}
	if cfg.LockoutThreshold <= 0 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be > 0")
	}
	if cfg.LockoutWindow < minLockoutWindow || cfg.LockoutWindow > maxLockoutWindow {
		return fmt.Errorf("LOCKOUT_WINDOW must be between %s and %s", minLockoutWindow, maxLockoutWindow)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if cfg.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return fmt.Errorf("JWT_ISSUER and JWT_AUDIENCE must not be empty")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if len(cfg.JWTSecret) < 32 {
			return fmt.Errorf("in prod/release JWT_SECRET must be at least 32 bytes")
		}
		if isEmptyOrDefault(cfg.RefreshTokenPepper, defaultRefreshTokenPepper) {
			return fmt.Errorf("in prod/release REFRESH_TOKEN_PEPPER must be set and not default")
		}
	}

	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseIntEnv(name, fallback string) (int, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
