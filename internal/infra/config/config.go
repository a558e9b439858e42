package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseDriver string
	DatabaseURL    string
	LogLevel       string
	Environment    string

	CronSpecTick string
	TickTimeout  time.Duration
	Timezone     *time.Location

	HTTPAddr           string
	TrackingBaseURL    string
	CORSAllowedOrigins []string

	NotifierTimeout time.Duration
	TelegramToken   string // optional; the Telegram channel is disabled without it
	TelegramAdminID int64  // optional; operator commands are disabled without it

	CatalogPath string // optional; the embedded catalog is used without it

	KafkaBrokers           []string // optional; the interaction consumer is disabled without it
	KafkaInteractionsTopic string
	KafkaGroupID           string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseDriver = strings.ToLower(getenv("DATABASE_DRIVER", DriverPostgres))
	if cfg.DatabaseDriver != DriverPostgres && cfg.DatabaseDriver != DriverSQLite {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q (want %s or %s)", cfg.DatabaseDriver, DriverPostgres, DriverSQLite)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(getenv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getenv("ENVIRONMENT", "development"))

	cfg.CronSpecTick = getenv("CRON_SPEC_TICK", "0 */6 * * *") // every 6 hours
	if cfg.TickTimeout, err = durationEnv("TICK_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}

	tz := getenv("DEFAULT_TIMEZONE", "UTC")
	if cfg.Timezone, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")
	cfg.TrackingBaseURL = strings.TrimRight(os.Getenv("TRACKING_BASE_URL"), "/")
	cfg.CORSAllowedOrigins = listEnv("CORS_ALLOWED_ORIGINS")

	if cfg.NotifierTimeout, err = durationEnv("NOTIFIER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminID := os.Getenv("TELEGRAM_ADMIN_ID"); adminID != "" {
		if cfg.TelegramAdminID, err = strconv.ParseInt(adminID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ADMIN_ID: %w", err)
		}
	}
	cfg.CatalogPath = os.Getenv("CATALOG_PATH")

	cfg.KafkaBrokers = listEnv("KAFKA_BROKERS")
	cfg.KafkaInteractionsTopic = getenv("KAFKA_INTERACTIONS_TOPIC", "reminder.interactions")
	cfg.KafkaGroupID = getenv("KAFKA_GROUP_ID", "renewal-reminder")

	return cfg, nil
}

// KafkaEnabled reports whether the interaction consumer should run.
func (c *AppConfig) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// TelegramEnabled reports whether the Telegram channel should be wired.
func (c *AppConfig) TelegramEnabled() bool { return c.TelegramToken != "" }

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// listEnv splits a comma separated variable, dropping blanks.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
