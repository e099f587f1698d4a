package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_PAGES", "")
	t.Setenv("INTER_PAGE_DELAY_MIN", "")
	t.Setenv("INTER_PAGE_DELAY_MAX", "")

	cfg := Load()

	assert.Equal(t, 5, cfg.MaxPages)
	assert.Equal(t, Range{Min: 5 * time.Second, Max: 8 * time.Second}, cfg.InterPageDelay)
	assert.Equal(t, Range{Min: 15 * time.Second, Max: 25 * time.Second}, cfg.EvasionWait)
	assert.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_PAGES", "3")
	t.Setenv("HEADLESS", "false")
	t.Setenv("EVASION_WAIT_MIN", "2s")
	t.Setenv("EVASION_WAIT_MAX", "4")
	t.Setenv("RETENTION_DAYS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 3, cfg.MaxPages)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 2*time.Second, cfg.EvasionWait.Min)
	assert.Equal(t, 4*time.Second, cfg.EvasionWait.Max)
	assert.Equal(t, 30, cfg.RetentionDays)
}

func TestValidateRejectsInvertedRange(t *testing.T) {
	cfg := Load()
	cfg.InterPageDelay = Range{Min: 8 * time.Second, Max: 5 * time.Second}
	cfg.MaxPages = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTER_PAGE_DELAY")
	assert.Contains(t, err.Error(), "MAX_PAGES")
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "listings",
		PostgresSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=listings sslmode=disable", cfg.DSN())
}
