package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "STORE_DRIVER", "LOG_LEVEL", "ENVIRONMENT", "CRON_SPEC_RECONCILE",
		"SCHEDULER_WORKERS", "DEFAULT_TIMEZONE", "TENANT_REGISTRY_TABLE",
		"COLLECTION_FEED_CHANNEL", "TELEGRAM_TOKEN", "ADMIN_TELEGRAM_ID", "MEMORY_TENANTS",
	} {
		t.Setenv(k, "")
	}
	// HTTP_ADDR distinguishes unset from empty; t.Setenv restores it afterwards.
	t.Setenv("HTTP_ADDR", "")
	unsetenv(t, "HTTP_ADDR")
}

func unsetenv(t *testing.T, key string) {
	t.Helper()
	require.NoError(t, os.Unsetenv(key))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pulse")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "@every 1m", cfg.CronSpecReconcile)
	assert.Equal(t, 4, cfg.SchedulerWorkers)
	assert.Equal(t, time.UTC, cfg.DefaultTimezone)
	assert.Equal(t, "public.tenant_registry", cfg.TenantRegistryTable)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.BotEnabled())
	assert.Empty(t, cfg.MemoryTenants)
}

func TestLoad_PostgresNeedsDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("STORE_DRIVER", "memory")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":   {"STORE_DRIVER": "mysql"},
		"workers":  {"SCHEDULER_WORKERS": "0"},
		"timezone": {"DEFAULT_TIMEZONE": "Mars/Olympus"},
		"admin":    {"TELEGRAM_TOKEN": "tok"},
		"admin id": {"TELEGRAM_TOKEN": "tok", "ADMIN_TELEGRAM_ID": "abc"},
		"tenant":   {"MEMORY_TENANTS": "a:Nowhere/City"},
		"cron":     {"CRON_SPEC_RECONCILE": "every minute"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "postgres://localhost/pulse")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MemoryTenantsAndBot(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DEFAULT_TIMEZONE", "Asia/Kolkata")
	t.Setenv("MEMORY_TENANTS", "dairy_a, dairy_b:UTC ,")
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("ADMIN_TELEGRAM_ID", "42")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.MemoryTenants, 2)
	assert.Equal(t, "dairy_a", cfg.MemoryTenants[0].Schema)
	assert.Equal(t, "Asia/Kolkata", cfg.MemoryTenants[0].Timezone.String())
	assert.Equal(t, "dairy_b", cfg.MemoryTenants[1].Schema)
	assert.Equal(t, time.UTC, cfg.MemoryTenants[1].Timezone)
	assert.True(t, cfg.BotEnabled())
	assert.Equal(t, int64(42), cfg.AdminTelegramID)
	assert.Empty(t, cfg.HTTPAddr)
}
