package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mahiavincent123-commits/skill-in/internal/store"
)

// Config holds all configuration for the relay.
type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level

	Store store.Options

	CORSOrigins   string
	SendBuffer    int // outbound frames queued per connection
	LastSeenLimit int // 0 keeps every last-seen stamp
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		Env:         getEnv("ENV", "development"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		Store: store.Options{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", store.DriverMemory)),
			SQLitePath:  getEnv("SQLITE_PATH", "./data/chat.db"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
			RedisURL:    os.Getenv("REDIS_URL"),
		},
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.SendBuffer, err = getInt("SEND_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.SendBuffer < 1 {
		return nil, fmt.Errorf("SEND_BUFFER must be at least 1, got %d", cfg.SendBuffer)
	}
	if cfg.LastSeenLimit, err = getInt("LAST_SEEN_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.LastSeenLimit < 0 {
		return nil, fmt.Errorf("LAST_SEEN_LIMIT must not be negative, got %d", cfg.LastSeenLimit)
	}

	switch cfg.Store.Driver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverPostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case store.DriverRedis:
		if cfg.Store.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}

	// In production, history must survive restarts
	if !cfg.IsDevelopment() && cfg.Store.Driver == store.DriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER=memory is not allowed when ENV=%s", cfg.Env)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
