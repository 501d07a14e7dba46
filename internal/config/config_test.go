package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"WEB_ADDR", "TLS_ADDR", "GIN_MODE", "SESSION_TTL_SECONDS", "COOKIE_NAME", "COOKIE_SECURE", "TLS_HOSTS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.WebAddr)
	assert.Equal(t, ":8001", cfg.TLSAddr)
	assert.Equal(t, "hapi-university", cfg.CookieName)
	assert.Equal(t, 60*time.Second, cfg.SessionTTL())
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.TLSHosts)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.SessionTTL())
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
}

func TestValidateReleaseMode(t *testing.T) {
	cfg := &Config{
		GinMode:           "release",
		SessionTTLSeconds: 60,
		CookieName:        "hapi-university",
		CookieSecure:      true,
	}
	require.Error(t, cfg.Validate())

	cfg.SessionSecret = "short"
	require.Error(t, cfg.Validate())

	cfg.SessionSecret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())

	cfg.CookieSecure = false
	require.Error(t, cfg.Validate())
}

func TestValidateTLSPair(t *testing.T) {
	cfg := &Config{SessionTTLSeconds: 60, CookieName: "c", TLSCertFile: "cert.pem"}
	require.Error(t, cfg.Validate())

	cfg.TLSKeyFile = "key.pem"
	require.NoError(t, cfg.Validate())
}
