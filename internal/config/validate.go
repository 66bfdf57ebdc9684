package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/djlord-it/morning-brief/internal/cron"
	"github.com/djlord-it/morning-brief/internal/providers/httptasks"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Schedule returns the tick schedule: TICK_SCHEDULE when set, otherwise
// every TICK_INTERVAL.
func (c Config) Schedule() (cron.Schedule, error) {
	if c.TickSchedule != "" {
		return cron.NewParser().Parse(c.TickSchedule, "UTC")
	}
	if c.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	return cron.Every(c.TickInterval), nil
}

// Validate checks the configuration. requireDB is set by commands that
// cannot run without Postgres. Returns nil or ValidationErrors.
func Validate(cfg Config, requireDB bool) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if requireDB && cfg.DatabaseURL == "" {
		add("DATABASE_URL", "required")
	}

	sched, err := cfg.Schedule()
	switch {
	case err != nil && cfg.TickSchedule != "":
		add("TICK_SCHEDULE", "invalid: %v", err)
	case err != nil:
		add("TICK_INTERVAL", "must be positive")
	default:
		// A user whose window fits between two ticks would be skipped.
		if gap := cron.Interval(sched, time.Now()); gap > 0 && cfg.DeliveryWindow < gap {
			add("DELIVERY_WINDOW", "must be at least the tick interval (%s), got %s", gap, cfg.DeliveryWindow)
		}
	}

	if cfg.DeliveryWindow <= 0 {
		add("DELIVERY_WINDOW", "must be positive")
	}
	if cfg.WorkerCount <= 0 {
		add("WORKER_COUNT", "must be positive, got %d", cfg.WorkerCount)
	}

	for field, d := range map[string]time.Duration{
		"PROVIDER_TIMEOUT":   cfg.ProviderTimeout,
		"GENERATION_TIMEOUT": cfg.GenerationTimeout,
		"SEND_TIMEOUT":       cfg.SendTimeout,
		"DB_OP_TIMEOUT":      cfg.DBOpTimeout,
		"CLAIM_TTL":          cfg.ClaimTTL,
	} {
		if d <= 0 {
			add(field, "must be positive")
		}
	}

	if cfg.AuditEnabled && cfg.AuditInterval <= 0 {
		add("AUDIT_INTERVAL", "must be positive when auditing is enabled")
	}

	if cfg.LeaderElection {
		if cfg.LeaderHeartbeatInterval <= 0 {
			add("LEADER_HEARTBEAT_INTERVAL", "must be positive")
		}
		if cfg.LeaderRetryInterval <= 0 {
			add("LEADER_RETRY_INTERVAL", "must be positive")
		}
		if cfg.DatabaseURL == "" {
			add("LEADER_ELECTION", "requires DATABASE_URL")
		}
	}

	if cfg.MetricsEnabled && !strings.HasPrefix(cfg.MetricsPath, "/") {
		add("METRICS_PATH", "must start with /")
	}

	if _, err := httptasks.ParseProviders(cfg.TaskProviders); err != nil {
		add("TASK_PROVIDERS", "%v", err)
	}

	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") || (cfg.TwilioAccountSID != "" && cfg.TwilioFrom == "") {
		add("TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM must be set together")
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "%v", err)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		// Map iteration above is unordered.
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}
