// Package config loads leadpilot configuration from the environment.
// A .env file in the working directory is honored when present, which
// keeps local development and container deployments symmetrical.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults that are part of the orchestrator's contract.
const (
	DefaultPort              = 3020
	DefaultTimezone          = "UTC"
	DefaultRecoveryThreshold = 40 * time.Minute // 2x the longest step wall bound
)

// Config holds everything the orchestrator process needs at startup.
type Config struct {
	// HTTP surface.
	Port int `validate:"min=1,max=65535"`

	// Persistence. An empty path puts the process in API-only mode:
	// the management API serves but nothing is scheduled or stored.
	DatabasePath string

	// SMTP settings for the notifier. Unset host disables sending.
	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	NotifyFrom string `validate:"omitempty,email"`

	// Logging.
	LogLevel string `validate:"oneof=error warn info debug"`
	LogFile  string

	// Scheduling.
	DefaultTimezone string
	EnableCron      bool

	// Bootstrap seed file with campaign definitions (optional YAML).
	SeedFile  string
	WatchSeed bool

	// Runs left in status running longer than this at startup are
	// swept to failed with a synthetic error.
	RecoveryThreshold time.Duration
}

// Load reads the environment (after an optional .env) and validates
// the resulting configuration.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              envInt("PORT", DefaultPort),
		DatabasePath:      os.Getenv("DATABASE_PATH"),
		SMTPHost:          os.Getenv("SMTP_HOST"),
		SMTPPort:          envInt("SMTP_PORT", 587),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPass:          os.Getenv("SMTP_PASS"),
		NotifyFrom:        os.Getenv("NOTIFY_FROM"),
		LogLevel:          envDefault("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
		DefaultTimezone:   envDefault("DEFAULT_TIMEZONE", DefaultTimezone),
		EnableCron:        envBool("ENABLE_CRON_ON_STARTUP", true),
		SeedFile:          os.Getenv("SEED_FILE"),
		WatchSeed:         envBool("WATCH_SEED", false),
		RecoveryThreshold: envDuration("RUN_RECOVERY_THRESHOLD", DefaultRecoveryThreshold),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that the default timezone is a
// known IANA name.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return fmt.Errorf("config field %s fails %q", fe.Field(), fe.Tag())
		}
		return err
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	return nil
}

// Location resolves the configured default timezone. Validate has
// already guaranteed it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIOnly reports whether the process runs without persistence and
// scheduling.
func (c *Config) APIOnly() bool {
	return c.DatabasePath == ""
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
