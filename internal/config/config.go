package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string
	HTTPPort    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBRunMigrations   bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Scheduler SchedulerConfig
	Payments  PaymentConfig
}

// SchedulerConfig controls the billing cycle trigger loop.
type SchedulerConfig struct {
	Enabled       bool
	RunInterval   time.Duration
	CatchUpDays   int
	PhaseTimeout  time.Duration
	LockTTL       time.Duration
	SnowflakeNode int64
}

// PaymentConfig carries provider webhook credentials.
type PaymentConfig struct {
	AsaasWebhookToken   string
	StripeWebhookSecret string
	WebhookRatePerSec   float64
	WebhookBurst        int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "partnerbilling"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Mode:        normalizeMode(getenv("APP_MODE", ModeAll)),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPPort:    getenv("HTTP_PORT", "8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "partnerbilling.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBRunMigrations:   getenvBool("DATABASE_RUN_MIGRATIONS", true),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:   getenvDuration("SCHEDULER_RUN_INTERVAL", time.Hour),
			CatchUpDays:   getenvInt("SCHEDULER_CATCH_UP_DAYS", 3),
			PhaseTimeout:  getenvDuration("SCHEDULER_PHASE_TIMEOUT", 2*time.Minute),
			LockTTL:       getenvDuration("SCHEDULER_LOCK_TTL", 15*time.Minute),
			SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		},
		Payments: PaymentConfig{
			AsaasWebhookToken:   strings.TrimSpace(getenv("PAYMENT_ASAAS_WEBHOOK_TOKEN", "")),
			StripeWebhookSecret: strings.TrimSpace(getenv("PAYMENT_STRIPE_WEBHOOK_SECRET", "")),
			WebhookRatePerSec:   getenvFloat("PAYMENT_WEBHOOK_RATE", 50),
			WebhookBurst:        getenvInt("PAYMENT_WEBHOOK_BURST", 100),
		},
	}

	return cfg
}

const (
	ModeAll       = "all"
	ModeAPI       = "api"
	ModeScheduler = "scheduler"
)

// RunsScheduler reports whether this process owns the billing cycle loop.
func (c Config) RunsScheduler() bool {
	return c.Scheduler.Enabled && (c.Mode == ModeAll || c.Mode == ModeScheduler)
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeAPI:
		return ModeAPI
	case ModeScheduler:
		return ModeScheduler
	default:
		return ModeAll
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
