// Package scheduler drives briefings from a periodic tick. Each tick loads
// enabled preferences, selects users whose local delivery time falls in the
// tolerance window and runs their pipelines on a bounded worker pool.
//
// A user missed for a whole window gets no briefing that day; there is no
// backfill.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/morning-brief/internal/cron"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/metrics"
)

const (
	DefaultWindow   = 15 * time.Minute
	DefaultWorkers  = 8
	DefaultPageSize = 500
)

type PreferenceStore interface {
	// ListEnabledPreferences pages through enabled preferences in a stable order.
	ListEnabledPreferences(ctx context.Context, limit, offset int) ([]domain.DeliveryPreference, error)
}

// Pipeline runs one user's briefing. It must convert every failure into
// the returned result.
type Pipeline interface {
	Run(ctx context.Context, pref domain.DeliveryPreference, now time.Time) domain.DeliveryResult
}

type Config struct {
	// Window is the tolerance after the delivery time during which a user
	// is due. It must be at least the tick interval.
	Window time.Duration

	// Workers bounds concurrent pipelines within one tick.
	Workers int

	// PageSize bounds one preference query.
	PageSize int

	// Schedule drives Run.
	Schedule cron.Schedule
}

// TickResult summarizes one tick. Processed counts due users handed to the
// pipeline; Delivered, Failed and Skipped partition it.
type TickResult struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	NotDue    int `json:"notDue"`
}

type Controller struct {
	config   Config
	prefs    PreferenceStore
	pipeline Pipeline
	metrics  metrics.Sink
	logger   *zap.Logger
	clock    func() time.Time
}

func New(config Config, prefs PreferenceStore, pipeline Pipeline, logger *zap.Logger) *Controller {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Schedule == nil {
		config.Schedule = cron.Every(time.Minute)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		config:   config,
		prefs:    prefs,
		pipeline: pipeline,
		logger:   logger,
		clock:    time.Now,
	}
}

func (c *Controller) WithMetrics(sink metrics.Sink) *Controller {
	c.metrics = sink
	return c
}

// WithClock overrides the clock Run passes to Tick.
func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

// Run ticks on the configured schedule until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("scheduler: started",
		zap.Duration("window", c.config.Window),
		zap.Int("workers", c.config.Workers))

	for {
		next := c.config.Schedule.Next(c.clock())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		now := c.clock()
		if c.metrics != nil {
			c.metrics.TickDrift(now.Sub(next))
		}
		if _, err := c.Tick(ctx, now); err != nil {
			c.logger.Error("scheduler: tick error", zap.Error(err))
		}
	}
}

// Tick runs every due user's pipeline as of now. Per-user failures are
// counted, never returned; the error reports only a failed preference load,
// in which case the result covers the pages loaded before it.
func (c *Controller) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.TickStarted()
	}

	var (
		mu     sync.Mutex
		result TickResult
	)
	record := func(res domain.DeliveryResult) {
		mu.Lock()
		defer mu.Unlock()
		result.Processed++
		switch res.Outcome {
		case domain.OutcomeDelivered:
			result.Delivered++
		case domain.OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	var loadErr error
	for offset := 0; ; offset += c.config.PageSize {
		if ctx.Err() != nil {
			loadErr = ctx.Err()
			break
		}

		page, err := c.prefs.ListEnabledPreferences(ctx, c.config.PageSize, offset)
		if err != nil {
			loadErr = fmt.Errorf("list preferences: %w", err)
			break
		}

		for _, pref := range page {
			pref := pref
			due, err := IsDue(pref, now, c.config.Window)
			if err != nil {
				// Without a usable time or zone the user can never match.
				c.logger.Warn("scheduler: cannot evaluate delivery time",
					zap.String("user_id", pref.UserID), zap.Error(err))
			}
			if !due {
				mu.Lock()
				result.NotDue++
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				record(c.runIsolated(gctx, pref, now))
				return nil
			})
		}

		if len(page) < c.config.PageSize {
			break
		}
	}

	_ = g.Wait()

	d := time.Since(start)
	if c.metrics != nil {
		c.metrics.TickCompleted(d, result.Processed, result.Delivered, result.Failed, loadErr)
	}
	c.logger.Info("scheduler: tick complete",
		zap.Time("now", now),
		zap.Int("processed", result.Processed),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("not_due", result.NotDue),
		zap.Duration("duration", d))

	return result, loadErr
}

// runIsolated keeps a panicking pipeline from taking down the tick.
func (c *Controller) runIsolated(ctx context.Context, pref domain.DeliveryPreference, now time.Time) (res domain.DeliveryResult) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("scheduler: pipeline panic",
				zap.String("user_id", pref.UserID),
				zap.Any("panic", p))
			res = domain.DeliveryResult{
				UserID:  pref.UserID,
				Channel: pref.Channel,
				Outcome: domain.OutcomeFailed,
				Reason:  fmt.Sprintf("panic: %v", p),
			}
		}
	}()
	return c.pipeline.Run(ctx, pref, now)
}

// IsDue reports whether now, in the user's timezone, falls in
// [deliveryTime, deliveryTime+window) on the same local day.
func IsDue(pref domain.DeliveryPreference, now time.Time, window time.Duration) (bool, error) {
	loc, err := pref.Location()
	if err != nil {
		return false, err
	}
	hour, minute, err := domain.ParseClock(pref.DeliveryTime)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	return !local.Before(at) && local.Before(at.Add(window)), nil
}
