package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/config"
)

// logConfigWarnings flags valid but risky combinations at startup.
func logConfigWarnings(cfg config.Config, logger *zap.Logger) {
	if cfg.LLMBaseURL == "" {
		logger.Warn("briefd: LLM_BASE_URL not set; every briefing uses the deterministic narrative")
	}

	if cfg.RedisAddr == "" {
		logger.Info("briefd: REDIS_ADDR not set; analytics disabled and in-flight claims are process-local")
		if !cfg.LeaderElection {
			logger.Warn("briefd: REDIS_ADDR and LEADER_ELECTION both unset; run a single instance or concurrent ticks may race on the same user")
		}
	}

	if !cfg.AuditEnabled {
		logger.Warn("briefd: AUDIT_ENABLED=false; failed briefings that are never delivered will go unreported")
	}

	if !cfg.MetricsEnabled {
		logger.Info("briefd: METRICS_ENABLED not set; metrics disabled")
	}

	if cfg.SlackBotToken == "" && cfg.TelegramBotToken == "" && cfg.TwilioAccountSID == "" {
		logger.Warn("briefd: no external channel configured; only in-app delivery succeeds")
	}

	if cfg.BreakerThreshold == 0 {
		logger.Info("briefd: BREAKER_THRESHOLD=0; circuit breaking disabled")
	}
}
