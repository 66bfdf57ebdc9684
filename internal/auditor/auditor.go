// Package auditor watches the delivery ledger for users who had a failed
// attempt and still no delivered briefing.
//
// Missed windows are not backfilled, so a failure that never turned into a
// delivery is a briefing the user did not get. The auditor publishes the
// count as a gauge and logs each pair for alerting; it never resends.
package auditor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/ledger"
)

// Store lists undelivered failures. ledger.Memory and the Postgres store
// both satisfy it.
type Store interface {
	UndeliveredFailures(ctx context.Context, since time.Time) ([]ledger.UserDay, error)
}

type MetricsSink interface {
	UndeliveredFailuresUpdate(count int)
}

type Config struct {
	// Interval is how often the audit runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Lookback is how far back failed records are considered.
	// Default: 24 hours.
	Lookback time.Duration

	// MaxLogged caps the per-pair log lines in one cycle.
	// Default: 50.
	MaxLogged int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Lookback:  24 * time.Hour,
		MaxLogged: 50,
	}
}

type Auditor struct {
	config  Config
	store   Store
	metrics MetricsSink
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config, store Store, logger *zap.Logger) *Auditor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	if config.MaxLogged <= 0 {
		config.MaxLogged = def.MaxLogged
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		config: config,
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

func (a *Auditor) WithMetrics(sink MetricsSink) *Auditor {
	a.metrics = sink
	return a
}

func (a *Auditor) WithClock(clock func() time.Time) *Auditor {
	a.clock = clock
	return a
}

// Run audits immediately and then every Interval until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	a.logger.Info("auditor: started",
		zap.Duration("interval", a.config.Interval),
		zap.Duration("lookback", a.config.Lookback))

	_, _ = a.Audit(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("auditor: stopped")
			return
		case <-ticker.C:
			_, _ = a.Audit(ctx)
		}
	}
}

// Audit runs one cycle and returns the undelivered pairs. On a store error
// the gauge keeps its previous value.
func (a *Auditor) Audit(ctx context.Context) ([]ledger.UserDay, error) {
	since := a.clock().UTC().Add(-a.config.Lookback)

	pairs, err := a.store.UndeliveredFailures(ctx, since)
	if err != nil {
		a.logger.Error("auditor: failed to list undelivered failures", zap.Error(err))
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.UndeliveredFailuresUpdate(len(pairs))
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	for i, p := range pairs {
		if i == a.config.MaxLogged {
			a.logger.Warn("auditor: more undelivered failures not logged",
				zap.Int("omitted", len(pairs)-i))
			break
		}
		a.logger.Warn("auditor: failed briefing never delivered",
			zap.String("user_id", p.UserID),
			zap.String("day", p.Day))
	}
	a.logger.Info("auditor: cycle complete", zap.Int("undelivered", len(pairs)))
	return pairs, nil
}
