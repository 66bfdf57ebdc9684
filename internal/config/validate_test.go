package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() Config {
	return Config{
		DatabaseURL:       "postgres://localhost/briefs",
		TickInterval:      time.Minute,
		DeliveryWindow:    15 * time.Minute,
		WorkerCount:       8,
		ClaimTTL:          2 * time.Minute,
		ProviderTimeout:   5 * time.Second,
		GenerationTimeout: 20 * time.Second,
		SendTimeout:       10 * time.Second,
		DBOpTimeout:       5 * time.Second,
		MetricsPath:       "/metrics",
		AuditEnabled:      true,
		AuditInterval:     5 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func fields(t *testing.T, err error) []string {
	t.Helper()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "want ValidationErrors, got %v", err)
	out := make([]string, len(verrs))
	for i, e := range verrs {
		out[i] = e.Field
	}
	return out
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, Validate(valid(), true))
}

func TestValidate_DatabaseOnlyWhenRequired(t *testing.T) {
	cfg := valid()
	cfg.DatabaseURL = ""

	assert.NoError(t, Validate(cfg, false))
	assert.Equal(t, []string{"DATABASE_URL"}, fields(t, Validate(cfg, true)))
}

func TestValidate_WindowShorterThanTick(t *testing.T) {
	cfg := valid()
	cfg.TickInterval = 10 * time.Minute
	cfg.DeliveryWindow = 5 * time.Minute

	err := Validate(cfg, false)
	assert.Equal(t, []string{"DELIVERY_WINDOW"}, fields(t, err))
	assert.Contains(t, err.Error(), "10m0s")
}

func TestValidate_WindowAgainstCronSchedule(t *testing.T) {
	cfg := valid()
	// Every minute between 06:00 and 10:59 leaves a 19h gap overnight.
	cfg.TickSchedule = "* 6-10 * * *"
	assert.Equal(t, []string{"DELIVERY_WINDOW"}, fields(t, Validate(cfg, false)))

	cfg.TickSchedule = "*/5 * * * *"
	assert.NoError(t, Validate(cfg, false))
}

func TestValidate_BadSchedule(t *testing.T) {
	cfg := valid()
	cfg.TickSchedule = "every now and then"
	assert.Equal(t, []string{"TICK_SCHEDULE"}, fields(t, Validate(cfg, false)))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := valid()
	cfg.WorkerCount = 0
	cfg.SendTimeout = 0
	cfg.LogFormat = "xml"
	cfg.LogLevel = "loud"
	cfg.TaskProviders = "internal=https://x.example"

	err := Validate(cfg, false)
	assert.Equal(t, []string{"LOG_FORMAT", "LOG_LEVEL", "SEND_TIMEOUT", "TASK_PROVIDERS", "WORKER_COUNT"}, fields(t, err))
	assert.Contains(t, err.Error(), "5 validation errors")
}

func TestValidate_LeaderElectionNeedsDatabase(t *testing.T) {
	cfg := valid()
	cfg.DatabaseURL = ""
	cfg.LeaderElection = true
	cfg.LeaderRetryInterval = time.Second
	cfg.LeaderHeartbeatInterval = time.Second

	assert.Equal(t, []string{"LEADER_ELECTION"}, fields(t, Validate(cfg, false)))
}

func TestValidate_TwilioTogether(t *testing.T) {
	cfg := valid()
	cfg.TwilioAccountSID = "AC123"
	assert.Equal(t, []string{"TWILIO_ACCOUNT_SID"}, fields(t, Validate(cfg, false)))

	cfg.TwilioAuthToken = "secret"
	cfg.TwilioFrom = "+15550000000"
	assert.NoError(t, Validate(cfg, false))
}

func TestSchedule(t *testing.T) {
	cfg := valid()
	s, err := cfg.Schedule()
	require.NoError(t, err)

	from := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(time.Minute), s.Next(from))
}
