package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"DB_DSN", "JWT_SECRET", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL", "PORT", "DB_AUTO_MIGRATE", "LOGIN_RATE_LIMIT", "LOGIN_RATE_BURST"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	assert.True(t, cfg.UsingDevSecret)
	assert.Equal(t, []byte(DevSecret), cfg.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, "8081", cfg.Port)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, rate.Limit(5), cfg.LoginRateLimit)
	assert.Equal(t, 10, cfg.LoginRateBurst)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ACCESS_TOKEN_TTL", "90")
	t.Setenv("REFRESH_TOKEN_TTL", "3")
	t.Setenv("DB_AUTO_MIGRATE", "no")
	t.Setenv("PORT", "9000")

	cfg := FromEnv()

	assert.False(t, cfg.UsingDevSecret)
	assert.Equal(t, []byte("s3cret"), cfg.JWTSecret)
	assert.Equal(t, 90*time.Second, cfg.AccessTokenTTL)
	assert.Equal(t, 3*24*time.Hour, cfg.RefreshTokenTTL)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, "9000", cfg.Port)
}

func TestDurationEnvAcceptsGoSyntax(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	assert.Equal(t, 5*time.Minute, FromEnv().AccessTokenTTL)

	t.Setenv("ACCESS_TOKEN_TTL", "garbage")
	assert.Equal(t, 15*time.Minute, FromEnv().AccessTokenTTL)
}
