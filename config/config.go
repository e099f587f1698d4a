package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Range is a closed interval of wait durations from which a random value is drawn.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	StartURL string
	BaseURL  string
	MaxPages int

	PreNavDelay       Range
	InterPageDelay    Range
	EvasionWait       Range
	NavigationTimeout time.Duration

	Headless   bool
	ChromeBin  string
	MaxRetries int

	RetentionDays int
	StatsTopN     int

	MemcacheAddr  string
	BlockCooldown time.Duration

	RedisAddr         string
	RedisDB           int
	RedisStream       string
	RedisStreamMaxLen int

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "listings_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StartURL: getEnv("SCRAPE_URL", ""),
		BaseURL:  getEnv("BASE_URL", "https://www.yad2.co.il"),
		MaxPages: getEnvInt("MAX_PAGES", 5),

		PreNavDelay: Range{
			Min: getEnvDuration("PRE_NAV_DELAY_MIN", 5*time.Second),
			Max: getEnvDuration("PRE_NAV_DELAY_MAX", 10*time.Second),
		},
		InterPageDelay: Range{
			Min: getEnvDuration("INTER_PAGE_DELAY_MIN", 5*time.Second),
			Max: getEnvDuration("INTER_PAGE_DELAY_MAX", 8*time.Second),
		},
		EvasionWait: Range{
			Min: getEnvDuration("EVASION_WAIT_MIN", 15*time.Second),
			Max: getEnvDuration("EVASION_WAIT_MAX", 25*time.Second),
		},
		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 45*time.Second),

		Headless:   getEnvBool("HEADLESS", true),
		ChromeBin:  getEnv("CHROME_BIN", ""),
		MaxRetries: getEnvInt("MAX_RETRIES", 5),

		RetentionDays: getEnvInt("RETENTION_DAYS", 30),
		StatsTopN:     getEnvInt("STATS_TOP_N", 5),

		MemcacheAddr:  getEnv("MEMCACHE_ADDR", ""),
		BlockCooldown: getEnvDuration("BLOCK_COOLDOWN", 30*time.Minute),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisStream:       getEnv("REDIS_STREAM", "listings:new"),
		RedisStreamMaxLen: getEnvInt("REDIS_STREAM_MAXLEN", 10000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks value ranges that would otherwise surface as odd runtime behaviour.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxPages < 1 {
		problems = append(problems, "MAX_PAGES must be at least 1")
	}
	if c.RetentionDays < 1 {
		problems = append(problems, "RETENTION_DAYS must be at least 1")
	}
	if c.StatsTopN < 1 {
		problems = append(problems, "STATS_TOP_N must be at least 1")
	}
	if c.NavigationTimeout <= 0 {
		problems = append(problems, "NAVIGATION_TIMEOUT must be positive")
	}
	for name, r := range map[string]Range{
		"PRE_NAV_DELAY":    c.PreNavDelay,
		"INTER_PAGE_DELAY": c.InterPageDelay,
		"EVASION_WAIT":     c.EvasionWait,
	} {
		if r.Min < 0 || r.Max < r.Min {
			problems = append(problems, fmt.Sprintf("%s_MIN/%s_MAX out of order (%v > %v)", name, name, r.Min, r.Max))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("7s", "1m30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
