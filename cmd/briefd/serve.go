package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/api"
	"github.com/djlord-it/morning-brief/internal/leaderelection"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the auditor and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

// duties runs the tick loop and the auditor. With leader election only the
// elected instance runs them; Start and Stop may then be called repeatedly.
type duties struct {
	a      *app
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *duties) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	// Separate contexts so the scheduler stops before the auditor.
	schedCtx, cancelSched := context.WithCancel(ctx)
	auditCtx, cancelAudit := context.WithCancel(ctx)
	var schedWg sync.WaitGroup

	schedWg.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer schedWg.Done()
		_ = d.a.controller.Run(schedCtx)
	}()

	if d.a.cfg.AuditEnabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.a.auditor.Run(auditCtx)
		}()
	}

	d.cancel = func() {
		d.a.logger.Info("briefd: stopping scheduler...")
		cancelSched()
		schedWg.Wait()
		d.a.logger.Info("briefd: scheduler stopped")
		cancelAudit()
	}
}

// Stop blocks until both loops have returned. In-flight briefings finish
// before the scheduler returns.
func (d *duties) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.cancel = nil
}

func runServe(opts *rootOptions) error {
	cfg, err := opts.loadConfig(true)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return invalidConfig(err)
	}
	defer flush()

	logConfigWarnings(cfg, logger)

	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		reg = prometheus.DefaultRegisterer
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.runner, a.store, a.controller, logger).WithHealthChecker(a.store)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if cfg.MetricsPort == "" {
			handler = handler.WithMetrics(cfg.MetricsPath, promhttp.Handler())
			logger.Info("briefd: metrics enabled", zap.String("path", cfg.MetricsPath))
		} else {
			mux := http.NewServeMux()
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
			go func() {
				logger.Info("briefd: metrics server listening",
					zap.String("port", cfg.MetricsPort),
					zap.String("path", cfg.MetricsPath))
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("briefd: metrics server error", zap.Error(err))
				}
			}()
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Routes(),
	}
	go func() {
		logger.Info("briefd: http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("briefd: http server error", zap.Error(err))
		}
	}()

	d := &duties{a: a}
	electorCtx, cancelElector := context.WithCancel(ctx)
	var electorWg sync.WaitGroup

	if cfg.LeaderElection {
		elector := leaderelection.New(a.db, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
			d.Start, d.Stop, logger).
			WithMetrics(a.metrics)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
	} else {
		d.Start(ctx)
	}

	logger.Info("briefd: started",
		zap.String("version", version),
		zap.String("http", cfg.HTTPAddr),
		zap.Duration("window", cfg.DeliveryWindow),
		zap.Int("workers", cfg.WorkerCount),
		zap.Bool("leader_election", cfg.LeaderElection))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("briefd: received signal, shutting down", zap.String("signal", received.String()))

	// Phase 1: stop ticking and auditing. The elector demotes itself on
	// cancel, which stops the duties.
	cancelElector()
	electorWg.Wait()
	d.Stop()

	// Phase 2: stop the HTTP servers.
	logger.Info("briefd: stopping http server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("briefd: http server shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("briefd: metrics server shutdown error", zap.Error(err))
		}
	}

	logger.Info("briefd: stopped")
	return nil
}
