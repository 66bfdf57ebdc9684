package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/aggregator"
	"github.com/djlord-it/morning-brief/internal/analytics"
	"github.com/djlord-it/morning-brief/internal/auditor"
	"github.com/djlord-it/morning-brief/internal/briefing"
	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/config"
	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/dispatcher/inapp"
	"github.com/djlord-it/morning-brief/internal/dispatcher/slack"
	"github.com/djlord-it/morning-brief/internal/dispatcher/sms"
	"github.com/djlord-it/morning-brief/internal/dispatcher/telegram"
	"github.com/djlord-it/morning-brief/internal/inflight"
	"github.com/djlord-it/morning-brief/internal/metrics"
	"github.com/djlord-it/morning-brief/internal/narrative"
	"github.com/djlord-it/morning-brief/internal/providers/httptasks"
	"github.com/djlord-it/morning-brief/internal/providers/icalfeed"
	"github.com/djlord-it/morning-brief/internal/providers/imapmail"
	"github.com/djlord-it/morning-brief/internal/scheduler"
	"github.com/djlord-it/morning-brief/internal/store/postgres"

	_ "github.com/lib/pq"
)

// app is the wired process. Every command builds one and closes it.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db      *sql.DB
	store   *postgres.Store
	redis   redis.UniversalClient
	metrics metrics.Sink

	runner     *briefing.Runner
	controller *scheduler.Controller
	auditor    *auditor.Auditor
}

// openDB opens and pings Postgres with the configured pool.
func openDB(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Info("briefd: db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime))
	return db, nil
}

// newApp wires the pipeline. reg may be nil to leave metrics disabled.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   postgres.New(db),
		metrics: metrics.NewNoopSink(),
	}
	if reg != nil {
		a.metrics = metrics.NewPrometheusSink(reg, logger)
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	breakers := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown, logger)
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout + time.Second}

	agg, err := a.buildAggregator(httpClient, breakers)
	if err != nil {
		a.Close()
		return nil, err
	}

	gen := narrative.NewGenerator(buildBackend(cfg), cfg.GenerationTimeout, logger).
		WithMetrics(a.metrics).
		WithBreakers(breakers)

	registry, err := buildRegistry(cfg, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("briefd: channels configured", zap.Any("channels", registry.Channels()))

	disp := dispatcher.New(registry, cfg.SendTimeout, logger).
		WithMetrics(a.metrics).
		WithBreakers(breakers)

	a.runner = briefing.New(a.store, agg, gen, disp, a.store, logger).WithMetrics(a.metrics)
	if a.redis != nil {
		a.runner.WithClaimer(inflight.NewRedis(a.redis), cfg.ClaimTTL).
			WithRecorder(analytics.NewRedisSink(a.redis, cfg.AnalyticsRetention))
		logger.Info("briefd: redis claims and analytics enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		a.runner.WithClaimer(inflight.NewMemory(), cfg.ClaimTTL)
	}

	sched, err := cfg.Schedule()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tick schedule: %w", err)
	}
	a.controller = scheduler.New(scheduler.Config{
		Window:   cfg.DeliveryWindow,
		Workers:  cfg.WorkerCount,
		Schedule: sched,
	}, a.store, a.runner, logger).WithMetrics(a.metrics)

	a.auditor = auditor.New(auditor.Config{
		Interval: cfg.AuditInterval,
		Lookback: cfg.AuditLookback,
	}, a.store, logger).WithMetrics(a.metrics)

	return a, nil
}

func (a *app) buildAggregator(client *http.Client, breakers *circuitbreaker.Registry) (*aggregator.Aggregator, error) {
	providers, err := httptasks.ParseProviders(a.cfg.TaskProviders)
	if err != nil {
		return nil, err
	}
	tasks := []aggregator.TaskSource{a.store.InternalTasks()}
	for _, p := range httptasks.NewAll(providers, a.store, client) {
		tasks = append(tasks, p)
	}

	calendar := icalfeed.New(a.store, client)
	email := imapmail.New(a.store).WithMailbox(a.cfg.IMAPMailbox)

	return aggregator.New(calendar, tasks, email, aggregator.Config{Timeout: a.cfg.ProviderTimeout}, a.logger).
		WithMetrics(a.metrics).
		WithBreakers(breakers), nil
}

// buildBackend returns nil when no generative service is configured, so
// every briefing uses the deterministic narrative.
func buildBackend(cfg config.Config) narrative.Backend {
	if cfg.LLMBaseURL == "" {
		return nil
	}
	return narrative.NewOpenAIBackend(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, &http.Client{})
}

// buildRegistry registers in-app always and every channel whose credentials
// are set.
func buildRegistry(cfg config.Config, notifications inapp.Store) (*dispatcher.Registry, error) {
	reg := dispatcher.NewRegistry(inapp.New(notifications, cfg.EventCapInApp))

	if cfg.SlackBotToken != "" {
		reg.Register(slack.New(slack.NewClient(cfg.SlackBotToken, cfg.SlackAPIURL), cfg.EventCapSlack))
	}
	if cfg.TelegramBotToken != "" {
		b, err := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramAPIURL)
		if err != nil {
			return nil, err
		}
		reg.Register(telegram.New(b, cfg.EventCapTelegram))
	}
	if cfg.TwilioAccountSID != "" {
		reg.Register(sms.New(sms.Config{
			BaseURL:    cfg.TwilioBaseURL,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			EventCap:   cfg.EventCapSMS,
		}, &http.Client{}))
	}
	return reg, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("briefd: redis close error", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("briefd: db close error", zap.Error(err))
		}
	}
}
