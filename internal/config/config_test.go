package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WATER_SYSTEM_ADMIN_PASSWORD", "correct horse")
	t.Setenv("WATER_SYSTEM_API_TOKEN", "device-token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTimeout)
	assert.Equal(t, 8, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, time.Hour, cfg.Auth.LockoutDuration)
	assert.Equal(t, "water_session", cfg.Auth.CookieName)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Proxy.TrustedProxies)
	assert.Equal(t, "water_events", cfg.Query.Table)
	assert.Equal(t, 10*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 1000, cfg.Query.MaxRows)
	assert.Equal(t, 5000, cfg.Server.HTTPPort)
	assert.Equal(t, 5001, cfg.Server.AdminPort)
	assert.Equal(t, []string{"DOLEWKA"}, cfg.Devices.IDs)
	assert.True(t, cfg.GeneratedSecretKey)
	assert.Len(t, cfg.Auth.SecretKey, 64)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WATER_SYSTEM_SESSION_TIMEOUT", "15")
	t.Setenv("WATER_SYSTEM_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("WATER_SYSTEM_LOCKOUT_DURATION", "2")
	t.Setenv("WATER_SYSTEM_NGINX_MODE", "false")
	t.Setenv("WATER_SYSTEM_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")
	t.Setenv("WATER_SYSTEM_DEVICE_IDS", "DOLEWKA, TEMP_1")
	t.Setenv("WATER_SYSTEM_SECRET_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.SessionTimeout)
	assert.Equal(t, 3, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 2*time.Hour, cfg.Auth.LockoutDuration)
	assert.False(t, cfg.Proxy.Enabled)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Proxy.TrustedProxies)
	assert.Equal(t, []string{"DOLEWKA", "TEMP_1"}, cfg.Devices.IDs)
	assert.False(t, cfg.GeneratedSecretKey)
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Run("admin password", func(t *testing.T) {
		t.Setenv("WATER_SYSTEM_ADMIN_PASSWORD", "")
		t.Setenv("WATER_SYSTEM_ADMIN_PASSWORD_HASH", "")
		t.Setenv("WATER_SYSTEM_API_TOKEN", "device-token")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingAdminPassword)
	})

	t.Run("api token", func(t *testing.T) {
		t.Setenv("WATER_SYSTEM_ADMIN_PASSWORD", "pw")
		t.Setenv("WATER_SYSTEM_API_TOKEN", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "APIToken")
	})
}

func TestValidate_RejectsUnsafeTableName(t *testing.T) {
	setRequired(t)
	t.Setenv("WATER_SYSTEM_QUERY_TABLE", "water_events; DROP TABLE x")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Table")
}

func TestValidate_SamePorts(t *testing.T) {
	setRequired(t)
	t.Setenv("WATER_SYSTEM_HTTP_PORT", "5000")
	t.Setenv("WATER_SYSTEM_ADMIN_PORT", "5000")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "home", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/home?sslmode=disable", d.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=home sslmode=disable", d.DSN())
}
