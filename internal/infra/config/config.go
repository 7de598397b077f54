package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL           string
	StoreDriver           string
	LogLevel              string
	Environment           string
	CronSpecReconcile     string
	SchedulerWorkers      int
	DefaultTimezone       *time.Location
	TenantRegistryTable   string
	HTTPAddr              string
	CollectionFeedChannel string // empty disables the LISTEN feed
	TelegramToken         string // empty disables the admin bot
	AdminTelegramID       int64
	MemoryTenants         []MemoryTenant
}

// MemoryTenant seeds the in-memory directory when StoreDriver is "memory".
type MemoryTenant struct {
	Schema   string
	Timezone *time.Location
}

// BotEnabled reports whether the admin bot should be started.
func (c *AppConfig) BotEnabled() bool {
	return c.TelegramToken != ""
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want %q or %q", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StoreDriver == StoreDriverPostgres {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecReconcile = os.Getenv("CRON_SPEC_RECONCILE")
	if cfg.CronSpecReconcile == "" {
		cfg.CronSpecReconcile = "@every 1m"
	}
	if _, err := cron.ParseStandard(cfg.CronSpecReconcile); err != nil {
		return nil, fmt.Errorf("invalid CRON_SPEC_RECONCILE %q: %w", cfg.CronSpecReconcile, err)
	}

	cfg.SchedulerWorkers = 4
	if v := os.Getenv("SCHEDULER_WORKERS"); v != "" {
		cfg.SchedulerWorkers, err = strconv.Atoi(v)
		if err != nil || cfg.SchedulerWorkers < 1 {
			return nil, fmt.Errorf("invalid SCHEDULER_WORKERS %q: must be a positive integer", v)
		}
	}

	tz := os.Getenv("DEFAULT_TIMEZONE")
	if tz == "" {
		tz = "UTC"
	}
	cfg.DefaultTimezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	cfg.TenantRegistryTable = os.Getenv("TENANT_REGISTRY_TABLE")
	if cfg.TenantRegistryTable == "" {
		cfg.TenantRegistryTable = "public.tenant_registry"
	}

	// HTTP_ADDR set to an empty value disables the API.
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	} else {
		cfg.HTTPAddr = ":8080"
	}

	cfg.CollectionFeedChannel = os.Getenv("COLLECTION_FEED_CHANNEL")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.MemoryTenants, err = parseMemoryTenants(os.Getenv("MEMORY_TENANTS"), cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseMemoryTenants reads a comma separated "schema[:timezone]" list.
func parseMemoryTenants(raw string, def *time.Location) ([]MemoryTenant, error) {
	var out []MemoryTenant
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		schema, tz, hasTZ := strings.Cut(item, ":")
		mt := MemoryTenant{Schema: schema, Timezone: def}
		if hasTZ {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("invalid timezone for memory tenant %q: %w", schema, err)
			}
			mt.Timezone = loc
		}
		out = append(out, mt)
	}
	return out, nil
}
