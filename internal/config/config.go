// Package config loads briefd settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
)

// DefaultEnvFile is read when present and no file is named explicitly.
const DefaultEnvFile = ".env"

// Config holds all configuration for briefd. Fields tagged secret are
// masked by MaskedJSON.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL" secret:"true"`
	RedisAddr   string `env:"REDIS_ADDR"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	// TickSchedule overrides TickInterval with a cron expression.
	TickInterval   time.Duration `env:"TICK_INTERVAL" envDefault:"1m"`
	TickSchedule   string        `env:"TICK_SCHEDULE"`
	DeliveryWindow time.Duration `env:"DELIVERY_WINDOW" envDefault:"15m"`
	WorkerCount    int           `env:"WORKER_COUNT" envDefault:"8"`
	ClaimTTL       time.Duration `env:"CLAIM_TTL" envDefault:"2m"`

	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"20s"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`

	DBOpTimeout       time.Duration `env:"DB_OP_TIMEOUT" envDefault:"5s"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`

	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// MetricsPort serves metrics on a separate listener; empty mounts them
	// on the API router.
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"false"`
	MetricsPath    string `env:"METRICS_PATH" envDefault:"/metrics"`
	MetricsPort    string `env:"METRICS_PORT"`

	AuditEnabled  bool          `env:"AUDIT_ENABLED" envDefault:"true"`
	AuditInterval time.Duration `env:"AUDIT_INTERVAL" envDefault:"5m"`
	AuditLookback time.Duration `env:"AUDIT_LOOKBACK" envDefault:"24h"`

	// LeaderLockKey must match across instances sharing a database.
	LeaderElection          bool          `env:"LEADER_ELECTION" envDefault:"false"`
	LeaderLockKey           int64         `env:"LEADER_LOCK_KEY" envDefault:"1651664230"`
	LeaderRetryInterval     time.Duration `env:"LEADER_RETRY_INTERVAL" envDefault:"5s"`
	LeaderHeartbeatInterval time.Duration `env:"LEADER_HEARTBEAT_INTERVAL" envDefault:"2s"`

	LLMBaseURL string `env:"LLM_BASE_URL"`
	LLMAPIKey  string `env:"LLM_API_KEY" secret:"true"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	SlackBotToken    string `env:"SLACK_BOT_TOKEN" secret:"true"`
	SlackAPIURL      string `env:"SLACK_API_URL"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" secret:"true"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN" secret:"true"`
	TwilioFrom       string `env:"TWILIO_FROM"`
	TwilioBaseURL    string `env:"TWILIO_BASE_URL"`

	// TaskProviders is "name=baseURL,...".
	TaskProviders string `env:"TASK_PROVIDERS"`
	IMAPMailbox   string `env:"IMAP_MAILBOX" envDefault:"INBOX"`

	EventCapSlack    int `env:"EVENT_CAP_SLACK" envDefault:"5"`
	EventCapTelegram int `env:"EVENT_CAP_TELEGRAM" envDefault:"5"`
	EventCapSMS      int `env:"EVENT_CAP_SMS" envDefault:"4"`
	EventCapInApp    int `env:"EVENT_CAP_INAPP" envDefault:"5"`

	AnalyticsRetention time.Duration `env:"ANALYTICS_RETENTION" envDefault:"720h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile   string `env:"LOG_FILE"`

	// BreakerThreshold of 0 disables circuit breaking.
	BreakerThreshold uint32        `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BREAKER_COOLDOWN" envDefault:"2m"`
}

// Load reads envFile into the process environment without overriding
// variables already set, then parses the environment. An empty envFile
// reads DefaultEnvFile if it exists.
func Load(envFile string) (Config, error) {
	switch {
	case envFile != "":
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	default:
		if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", DefaultEnvFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// MaskedJSON returns the effective configuration keyed by environment
// variable, with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	out := make(map[string]any)
	v := reflect.ValueOf(c)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("env")
		if key == "" {
			continue
		}
		val := v.Field(i).Interface()
		switch x := val.(type) {
		case time.Duration:
			val = x.String()
		case string:
			if f.Tag.Get("secret") == "true" {
				val = maskSecret(x)
			}
		}
		out[key] = val
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(out, "", "  ")
}

// Keys lists every recognised environment variable, sorted.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if k := t.Field(i).Tag.Get("env"); k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// maskSecret hides a secret, preserving only a database URI scheme.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "redis://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
