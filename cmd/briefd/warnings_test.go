package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/djlord-it/morning-brief/internal/config"
)

func captureWarnings(cfg config.Config) *observer.ObservedLogs {
	core, logs := observer.New(zap.DebugLevel)
	logConfigWarnings(cfg, zap.New(core))
	return logs
}

func fullConfig() config.Config {
	return config.Config{
		RedisAddr:        "localhost:6379",
		LLMBaseURL:       "https://llm.example.com/v1",
		AuditEnabled:     true,
		MetricsEnabled:   true,
		SlackBotToken:    "xoxb-test",
		BreakerThreshold: 5,
	}
}

func TestLogConfigWarnings_FullConfigIsQuiet(t *testing.T) {
	logs := captureWarnings(fullConfig())
	assert.Zero(t, logs.Len(), "unexpected: %v", logs.All())
}

func TestLogConfigWarnings_NoLLM(t *testing.T) {
	cfg := fullConfig()
	cfg.LLMBaseURL = ""
	logs := captureWarnings(cfg)

	assert.Equal(t, 1, logs.FilterMessageSnippet("deterministic narrative").Len())
}

func TestLogConfigWarnings_NoRedisNoLeader(t *testing.T) {
	cfg := fullConfig()
	cfg.RedisAddr = ""
	logs := captureWarnings(cfg)

	assert.Equal(t, 1, logs.FilterMessageSnippet("analytics disabled").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("may race").Len())
}

func TestLogConfigWarnings_NoRedisWithLeader(t *testing.T) {
	cfg := fullConfig()
	cfg.RedisAddr = ""
	cfg.LeaderElection = true
	logs := captureWarnings(cfg)

	assert.Equal(t, 1, logs.FilterMessageSnippet("analytics disabled").Len())
	assert.Zero(t, logs.FilterMessageSnippet("may race").Len())
}

func TestLogConfigWarnings_AuditAndMetricsDisabled(t *testing.T) {
	cfg := fullConfig()
	cfg.AuditEnabled = false
	cfg.MetricsEnabled = false
	logs := captureWarnings(cfg)

	assert.Equal(t, 1, logs.FilterMessageSnippet("AUDIT_ENABLED=false").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("metrics disabled").Len())
}

func TestLogConfigWarnings_InAppOnly(t *testing.T) {
	cfg := fullConfig()
	cfg.SlackBotToken = ""
	logs := captureWarnings(cfg)

	warn := logs.FilterLevelExact(zap.WarnLevel)
	assert.Equal(t, 1, warn.FilterMessageSnippet("only in-app").Len())
}
