package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/reminders?sslmode=disable")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("CRON_SPEC_TICK", "")
	t.Setenv("NOTIFIER_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, "0 */6 * * *", cfg.CronSpecTick)
	assert.Equal(t, 10*time.Second, cfg.NotifierTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TickTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.TelegramEnabled())
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "file::memory:?cache=shared")
	t.Setenv("DATABASE_DRIVER", "SQLITE3")
	t.Setenv("NOTIFIER_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("TRACKING_BASE_URL", "https://reminders.example/")
	t.Setenv("DEFAULT_TIMEZONE", "Europe/London")
	t.Setenv("TELEGRAM_ADMIN_ID", "987654321")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example,https://admin.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, 3*time.Second, cfg.NotifierTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "https://reminders.example", cfg.TrackingBaseURL)
	assert.Equal(t, "Europe/London", cfg.Timezone.String())
	assert.Equal(t, int64(987654321), cfg.TelegramAdminID)
	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_DRIVER")

	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("NOTIFIER_TIMEOUT", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "NOTIFIER_TIMEOUT")

	t.Setenv("NOTIFIER_TIMEOUT", "")
	t.Setenv("TELEGRAM_ADMIN_ID", "admin")
	_, err = Load()
	assert.ErrorContains(t, err, "TELEGRAM_ADMIN_ID")
}
