package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, 3, cfg.Auth.MaxAttempts)
	assert.Equal(t, 6, cfg.Auth.OTPDigits)
	assert.Equal(t, time.Second, cfg.Auth.RegisterDelay)
	assert.Equal(t, int64(5<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, int64(4096*4096), cfg.Storage.MaxPhotoPixels)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("JWT_REFRESH_TTL", "72h")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("REGISTER_DELAY", "0s")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 72*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.True(t, cfg.Database.UseSSL)
	assert.Zero(t, cfg.Auth.RegisterDelay)
}

func TestValidate(t *testing.T) {
	base := LoadConfig()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"refresh not longer than access", func(c *Config) { c.Auth.RefreshTokenTTL = c.Auth.AccessTokenTTL }},
		{"missing private key", func(c *Config) { c.Auth.PrivateKey = " " }},
		{"otp digits too small", func(c *Config) { c.Auth.OTPDigits = 3 }},
		{"no attempts", func(c *Config) { c.Auth.MaxAttempts = 0 }},
		{"negative delay", func(c *Config) { c.Auth.RegisterDelay = -time.Second }},
		{"zero upload limit", func(c *Config) { c.Storage.MaxUploadBytes = 0 }},
		{"zero pixel limit", func(c *Config) { c.Storage.MaxPhotoPixels = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
