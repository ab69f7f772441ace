package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

// DevSecret is used when JWT_SECRET is unset. Never ship it.
const DevSecret = "dev-insecure-secret-change"

type Config struct {
	DatabaseDSN     string
	AutoMigrate     bool
	JWTSecret       []byte
	UsingDevSecret  bool
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Port            string
	LogLevel        string
	LogFormat       string
	LoginRateLimit  rate.Limit
	LoginRateBurst  int
	AdminEmail      string
	AdminPassword   string
	SecureCookies   bool
}

// Load reads ./.env (without overriding variables that are already set) and then
// builds the configuration from the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() Config {
	secret := getEnv("JWT_SECRET", "")
	usingDev := secret == ""
	if usingDev {
		secret = DevSecret
	}
	return Config{
		DatabaseDSN:     getEnv("DB_DSN", ""),
		AutoMigrate:     getBoolEnv("DB_AUTO_MIGRATE", true),
		JWTSecret:       []byte(secret),
		UsingDevSecret:  usingDev,
		AccessTokenTTL:  getDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDaysEnv("REFRESH_TOKEN_TTL", 7),
		Port:            getEnv("PORT", "8081"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		LoginRateLimit:  rate.Limit(getFloatEnv("LOGIN_RATE_LIMIT", 5)),
		LoginRateBurst:  getIntEnv("LOGIN_RATE_BURST", 10),
		AdminEmail:      getEnv("ADMIN_EMAIL", ""),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		SecureCookies:   getBoolEnv("SECURE_COOKIES", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "false", "0", "no":
		return false
	case "true", "1", "yes":
		return true
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if parsed, err := strconv.Atoi(getEnv(key, "")); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("15m") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getDaysEnv(key string, defaultDays int) time.Duration {
	return time.Duration(getIntEnv(key, defaultDays)) * 24 * time.Hour
}
