// Package config loads process configuration from the environment, in the
// teacher's env-file-plus-typed-helpers style (internal/config/config.go),
// generalised from that file's Supabase/MarbleRun vocabulary to this
// runtime's own settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the application needs at boot, per spec §4.11.
type Config struct {
	Env Environment

	DatabaseURL string
	Host        string
	Port        int

	DefaultTenant       string
	RequireTenantHeader bool

	ScheduledEventsPath string
	SnapshotSchedule    string

	MigrationsDir        string
	CumulativeSchemaPath string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	LogLevel  string
	LogFormat string

	JWTSigningKey string
	JWTAudience   string

	CORSOrigins []string
}

// Environment names a deployment environment, controlling which
// config/<env>.env file Load reads.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Addr returns the host:port pair the HTTP service should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads APPRT_ENV (default "development"), loads config/<env>.env via
// godotenv if present, then populates a Config from the environment. A
// missing env file is not an error; any other read error is logged and
// ignored, matching the teacher's "config file is optional" comment.
func Load() (*Config, error) {
	env := Environment(getEnv("APPRT_ENV", string(Development)))

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	port := getIntEnv("PORT", 5000)
	host := getEnv("HOST", "0.0.0.0")

	cfg := &Config{
		Env: env,

		DatabaseURL: getEnv("DATABASE_URL", ""),
		Host:        host,
		Port:        port,

		DefaultTenant:       getEnv("DEFAULT_TENANT", "public"),
		RequireTenantHeader: getBoolEnv("REQUIRE_TENANT_HEADER", false),

		ScheduledEventsPath: getEnv("SCHEDULED_EVENTS_PATH", "scheduled_events.json"),
		SnapshotSchedule:    getEnv("SNAPSHOT_SCHEDULE", "*/5 * * * *"),

		MigrationsDir:        getEnv("MIGRATIONS_DIR", "migrations"),
		CumulativeSchemaPath: getEnv("CUMULATIVE_SCHEMA_PATH", "schema.sql"),

		DBMaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 0),
		DBMaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 0),
		DBConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		JWTSigningKey: getEnv("JWT_SIGNING_KEY", ""),
		JWTAudience:   getEnv("JWT_AUDIENCE", ""),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
	}

	return cfg, nil
}

// IsDevelopment reports whether the configured environment is development.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting reports whether the configured environment is testing.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate checks that DATABASE_URL is set in every environment and, in
// production only, that JWT_SIGNING_KEY is set, mirroring the teacher's own
// production-gated Validate.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IsProduction() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
