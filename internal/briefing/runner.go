// Package briefing runs the per-user pipeline: ledger check, in-flight
// claim, aggregation, narrative generation, delivery and the ledger write.
//
// Every error below Run is converted into a DeliveryResult and, where the
// attempt got far enough to matter, a DeliveryRecord. Nothing escapes to the
// caller, so one user's failure never affects another's.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/inflight"
	"github.com/djlord-it/morning-brief/internal/ledger"
	"github.com/djlord-it/morning-brief/internal/metrics"
)

const (
	// DefaultClaimTTL outlives a pipeline bounded by the provider,
	// generation and send timeouts.
	DefaultClaimTTL = 2 * time.Minute

	// recordTimeout bounds ledger writes made after the caller's context
	// may already be cancelled.
	recordTimeout = 5 * time.Second
)

// Reasons reported on skipped results.
const (
	ReasonAlreadyDelivered = "already_delivered"
	ReasonInFlight         = "in_flight"
	ReasonLedgerConflict   = "ledger_conflict"
)

type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (domain.DeliveryPreference, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, pref domain.DeliveryPreference, asOf time.Time) (domain.Snapshot, error)
}

type Generator interface {
	Generate(ctx context.Context, snap domain.Snapshot, style domain.Style) domain.Narrative
}

type Dispatcher interface {
	Deliver(ctx context.Context, ch domain.Channel, address string, snap domain.Snapshot, content domain.NarrativeContent) dispatcher.Result
}

// Recorder receives every result for reporting. Errors are logged only.
type Recorder interface {
	Record(ctx context.Context, res domain.DeliveryResult) error
}

type Runner struct {
	prefs      PreferenceStore
	aggregator Aggregator
	generator  Generator
	dispatcher Dispatcher
	ledger     ledger.Ledger
	claims     inflight.Claimer
	claimTTL   time.Duration
	recorder   Recorder
	metrics    metrics.Sink
	logger     *zap.Logger
	now        func() time.Time
}

func New(prefs PreferenceStore, agg Aggregator, gen Generator, disp Dispatcher, led ledger.Ledger, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		prefs:      prefs,
		aggregator: agg,
		generator:  gen,
		dispatcher: disp,
		ledger:     led,
		claims:     inflight.NewMemory(),
		claimTTL:   DefaultClaimTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClaimer replaces the process-local claimer, typically with Redis when
// several instances run.
func (r *Runner) WithClaimer(c inflight.Claimer, ttl time.Duration) *Runner {
	r.claims = c
	if ttl > 0 {
		r.claimTTL = ttl
	}
	return r
}

func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

func (r *Runner) WithMetrics(sink metrics.Sink) *Runner {
	r.metrics = sink
	return r
}

// WithClock overrides the clock used by RunForUser and record timestamps.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunForUser runs the pipeline now for one user, bypassing the delivery
// window but not the ledger. The only error is an unknown user or a failed
// preference lookup; pipeline failures are reported in the result.
func (r *Runner) RunForUser(ctx context.Context, userID string) (domain.DeliveryResult, error) {
	pref, err := r.prefs.GetPreference(ctx, userID)
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	return r.Run(ctx, pref, r.now()), nil
}

// Run executes the pipeline for pref as of now.
func (r *Runner) Run(ctx context.Context, pref domain.DeliveryPreference, now time.Time) (res domain.DeliveryResult) {
	start := time.Now()

	if r.metrics != nil {
		r.metrics.PipelinesInFlightIncr()
		defer r.metrics.PipelinesInFlightDecr()
	}

	res = domain.DeliveryResult{
		UserID:      pref.UserID,
		CalendarDay: calendarDay(pref, now),
		Channel:     pref.Channel,
	}

	defer func() {
		if p := recover(); p != nil {
			res = r.fail(ctx, res, fmt.Errorf("pipeline panic: %v", p))
		}
		r.finish(ctx, res, time.Since(start))
	}()

	return r.run(ctx, pref, now, res)
}

func (r *Runner) run(ctx context.Context, pref domain.DeliveryPreference, now time.Time, res domain.DeliveryResult) domain.DeliveryResult {
	if err := pref.Validate(); err != nil {
		return r.fail(ctx, res, err)
	}

	delivered, err := r.ledger.HasDelivered(ctx, pref.UserID, res.CalendarDay)
	if err != nil {
		// Without the guard nothing is sent. The failed record is best effort.
		return r.fail(ctx, res, fmt.Errorf("ledger read: %w", err))
	}
	if delivered {
		return skip(res, ReasonAlreadyDelivered)
	}

	key := inflight.Key(pref.UserID, res.CalendarDay)
	token, ok, err := r.claims.Acquire(ctx, key, r.claimTTL)
	if err != nil {
		return r.fail(ctx, res, fmt.Errorf("in-flight claim: %w", err))
	}
	if !ok {
		return skip(res, ReasonInFlight)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := r.claims.Release(relCtx, key, token); err != nil && !errors.Is(err, inflight.ErrNotHeld) {
			r.logger.Warn("briefing: release claim failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// Another pipeline may have finished between the first check and the claim.
	delivered, err = r.ledger.HasDelivered(ctx, pref.UserID, res.CalendarDay)
	if err != nil {
		return r.fail(ctx, res, fmt.Errorf("ledger read: %w", err))
	}
	if delivered {
		return skip(res, ReasonAlreadyDelivered)
	}

	snap, err := r.aggregator.Aggregate(ctx, pref, now)
	if err != nil {
		return r.fail(ctx, res, fmt.Errorf("aggregate: %w", err))
	}

	narr := r.generator.Generate(ctx, snap, pref.EffectiveStyle())
	res.NarrativeSource = narr.Source

	sent := r.dispatcher.Deliver(ctx, pref.Channel, pref.DeliveryAddress(), snap, narr.Content)
	if !sent.Delivered {
		err := sent.Error
		if err == nil {
			err = domain.ErrChannelSend
		}
		return r.fail(ctx, res, err)
	}

	// The send happened; the record must be written even if ctx is done.
	rec := r.record(res, true, "")
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.ledger.Append(recCtx, rec); err != nil {
		if errors.Is(err, domain.ErrLedgerConflict) {
			if r.metrics != nil {
				r.metrics.LedgerConflict()
			}
			return skip(res, ReasonLedgerConflict)
		}
		// The user has the briefing; report delivered and surface the gap.
		r.logger.Error("briefing: ledger write failed after send",
			zap.String("user_id", pref.UserID),
			zap.String("day", res.CalendarDay),
			zap.Error(err))
		res.Outcome = domain.OutcomeDelivered
		res.Reason = fmt.Sprintf("ledger write: %v", err)
		return res
	}

	res.Outcome = domain.OutcomeDelivered
	res.RecordID = rec.ID
	return res
}

// fail writes a failed record and returns the failed result.
func (r *Runner) fail(ctx context.Context, res domain.DeliveryResult, cause error) domain.DeliveryResult {
	res.Outcome = domain.OutcomeFailed
	res.Reason = cause.Error()

	rec := r.record(res, false, res.Reason)
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.ledger.Append(recCtx, rec); err != nil {
		r.logger.Error("briefing: failed to record failure",
			zap.String("user_id", res.UserID),
			zap.String("day", res.CalendarDay),
			zap.Error(err))
		return res
	}
	res.RecordID = rec.ID
	return res
}

func (r *Runner) record(res domain.DeliveryResult, delivered bool, reason string) domain.DeliveryRecord {
	return domain.DeliveryRecord{
		ID:              uuid.New(),
		UserID:          res.UserID,
		CalendarDay:     res.CalendarDay,
		Channel:         res.Channel,
		Delivered:       delivered,
		NarrativeSource: res.NarrativeSource,
		FailureReason:   reason,
		Timestamp:       r.now().UTC(),
	}
}

// finish emits the single structured log entry and the outcome metrics.
func (r *Runner) finish(ctx context.Context, res domain.DeliveryResult, d time.Duration) {
	fields := []zap.Field{
		zap.String("user_id", res.UserID),
		zap.String("day", res.CalendarDay),
		zap.String("channel", string(res.Channel)),
		zap.String("outcome", string(res.Outcome)),
		zap.String("narrative_source", string(res.NarrativeSource)),
		zap.String("reason", res.Reason),
		zap.Duration("duration", d),
	}
	if res.Outcome == domain.OutcomeFailed {
		r.logger.Warn("briefing: pipeline complete", fields...)
	} else {
		r.logger.Info("briefing: pipeline complete", fields...)
	}

	if r.metrics != nil {
		r.metrics.PipelineOutcome(string(res.Channel), string(res.Outcome))
	}

	if r.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := r.recorder.Record(recCtx, res); err != nil {
			r.logger.Warn("briefing: analytics write failed", zap.String("user_id", res.UserID), zap.Error(err))
		}
	}
}

func skip(res domain.DeliveryResult, reason string) domain.DeliveryResult {
	res.Outcome = domain.OutcomeSkipped
	res.Reason = reason
	return res
}

// calendarDay resolves "today" in the user's zone, falling back to UTC when
// the zone is invalid so the failure can still be recorded against a day.
func calendarDay(pref domain.DeliveryPreference, now time.Time) string {
	loc, err := pref.Location()
	if err != nil {
		loc = time.UTC
	}
	return domain.CalendarDay(now, loc)
}
