// Package aggregator builds a user's snapshot for today from independent
// calendar, task and email sources. Sources are queried concurrently,
// each under its own timeout and breaker; a failing source empties its
// section and never fails the snapshot.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/guard"
	"github.com/djlord-it/morning-brief/internal/metrics"
)

// CalendarSource returns events overlapping [from, to).
type CalendarSource interface {
	Events(ctx context.Context, userID string, from, to time.Time) ([]domain.CalendarEvent, error)
}

// TaskSource returns unfinished tasks that are undated or due before the
// given instant. Name identifies the source in TaskItem.Source and metrics.
type TaskSource interface {
	Name() string
	Tasks(ctx context.Context, userID string, before time.Time) ([]domain.TaskItem, error)
}

// EmailSource summarizes the inbox.
type EmailSource interface {
	Signals(ctx context.Context, userID string, since time.Time) (domain.EmailSignals, error)
}

// Sources may return domain.ErrNotConnected when the user has not linked
// that provider; the section is then empty but not degraded.

type Config struct {
	// Timeout bounds each source call.
	Timeout time.Duration

	// ImportantAttendees marks events with at least this many attendees.
	ImportantAttendees int

	// HeavyMeetingDay is the event count that triggers the meeting-load insight.
	HeavyMeetingDay int

	// UnreadAlert is the unread count that triggers the inbox insight.
	UnreadAlert int

	// BackToBackGap is the largest gap between meetings still considered back to back.
	BackToBackGap time.Duration
}

// DefaultConfig returns the thresholds used when a field is zero.
func DefaultConfig() Config {
	return Config{
		Timeout:            5 * time.Second,
		ImportantAttendees: 5,
		HeavyMeetingDay:    5,
		UnreadAlert:        20,
		BackToBackGap:      5 * time.Minute,
	}
}

type Aggregator struct {
	calendar CalendarSource
	tasks    []TaskSource
	email    EmailSource
	cfg      Config
	breakers *circuitbreaker.Registry
	metrics  metrics.Sink
	logger   *zap.Logger
}

// New creates an aggregator. Any source may be nil.
func New(calendar CalendarSource, tasks []TaskSource, email EmailSource, cfg Config, logger *zap.Logger) *Aggregator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ImportantAttendees <= 0 {
		cfg.ImportantAttendees = def.ImportantAttendees
	}
	if cfg.HeavyMeetingDay <= 0 {
		cfg.HeavyMeetingDay = def.HeavyMeetingDay
	}
	if cfg.UnreadAlert <= 0 {
		cfg.UnreadAlert = def.UnreadAlert
	}
	if cfg.BackToBackGap <= 0 {
		cfg.BackToBackGap = def.BackToBackGap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		calendar: calendar,
		tasks:    tasks,
		email:    email,
		cfg:      cfg,
		metrics:  metrics.NewNoopSink(),
		logger:   logger,
	}
}

func (a *Aggregator) WithMetrics(sink metrics.Sink) *Aggregator {
	if sink != nil {
		a.metrics = sink
	}
	return a
}

func (a *Aggregator) WithBreakers(r *circuitbreaker.Registry) *Aggregator {
	a.breakers = r.WithIgnored(domain.ErrNotConnected)
	return a
}

// Aggregate builds the snapshot for the user's current day, computed in
// the user's timezone. It only fails on an unusable timezone.
func (a *Aggregator) Aggregate(ctx context.Context, pref domain.DeliveryPreference, asOf time.Time) (domain.Snapshot, error) {
	loc, err := pref.Location()
	if err != nil {
		return domain.Snapshot{}, err
	}
	local := asOf.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	snap := domain.Snapshot{
		UserID:      pref.UserID,
		DisplayName: pref.DisplayName,
		Date:        dayStart.Format(domain.DayLayout),
		AsOf:        asOf,
		DayStart:    dayStart,
		DayEnd:      dayEnd,
		Location:    loc,
	}

	var (
		events     []domain.CalendarEvent
		calErr     error
		taskLists  = make([][]domain.TaskItem, len(a.tasks))
		taskErrs   = make([]error, len(a.tasks))
		email      domain.EmailSignals
		emailErr   error
		g          errgroup.Group
		userID     = pref.UserID
		emailSince = dayStart.AddDate(0, 0, -1)
	)

	if a.calendar != nil {
		g.Go(func() error {
			events, calErr = fetch(ctx, a, "calendar", func(ctx context.Context) ([]domain.CalendarEvent, error) {
				return a.calendar.Events(ctx, userID, dayStart, dayEnd)
			})
			return nil
		})
	}
	for i, src := range a.tasks {
		i, src := i, src
		g.Go(func() error {
			taskLists[i], taskErrs[i] = fetch(ctx, a, "tasks:"+src.Name(), func(ctx context.Context) ([]domain.TaskItem, error) {
				return src.Tasks(ctx, userID, dayEnd)
			})
			return nil
		})
	}
	if a.email != nil {
		g.Go(func() error {
			email, emailErr = fetch(ctx, a, "email", func(ctx context.Context) (domain.EmailSignals, error) {
				return a.email.Signals(ctx, userID, emailSince)
			})
			return nil
		})
	}
	_ = g.Wait()

	var degraded *multierror.Error

	if isFailure(calErr) {
		snap.Degraded = append(snap.Degraded, domain.SectionCalendar)
		degraded = multierror.Append(degraded, fmt.Errorf("calendar: %w: %w", domain.ErrProviderUnavailable, calErr))
	} else if calErr == nil {
		snap.Events = a.deriveEvents(events, dayStart, dayEnd)
	}

	var tasks []domain.TaskItem
	tasksDegraded := false
	for i, src := range a.tasks {
		if isFailure(taskErrs[i]) {
			tasksDegraded = true
			degraded = multierror.Append(degraded, fmt.Errorf("tasks %s: %w: %w", src.Name(), domain.ErrProviderUnavailable, taskErrs[i]))
			continue
		}
		for _, t := range taskLists[i] {
			if t.Source == "" {
				t.Source = src.Name()
			}
			tasks = append(tasks, t)
		}
	}
	if tasksDegraded {
		snap.Degraded = append(snap.Degraded, domain.SectionTasks)
	}
	snap.Tasks = deriveTasks(tasks, dayStart, dayEnd)

	if isFailure(emailErr) {
		snap.Degraded = append(snap.Degraded, domain.SectionEmail)
		degraded = multierror.Append(degraded, fmt.Errorf("email: %w: %w", domain.ErrProviderUnavailable, emailErr))
	} else if emailErr == nil {
		snap.Email = email
	}

	snap.NextEvent = nextEvent(snap.Events, asOf)
	snap.Insights = a.insights(snap)

	if err := degraded.ErrorOrNil(); err != nil {
		a.logger.Warn("aggregator: snapshot degraded",
			zap.String("user_id", pref.UserID),
			zap.String("day", snap.Date),
			zap.Strings("sections", snap.Degraded),
			zap.Error(err))
	}
	return snap, nil
}

func isFailure(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrNotConnected)
}

// fetch runs one source call behind its breaker and timeout and records
// the outcome.
func fetch[T any](ctx context.Context, a *Aggregator, provider string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := circuitbreaker.Do(a.breakers, "provider:"+provider, func() (T, error) {
		return guard.Call(ctx, a.cfg.Timeout, fn)
	})

	outcome := metrics.FetchOK
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		outcome = metrics.FetchNotConnected
	case err != nil:
		outcome = metrics.FetchDegraded
	}
	a.metrics.ProviderFetch(provider, outcome, time.Since(start))
	return v, err
}

// deriveEvents keeps events overlapping the day, flags importance and
// sorts all-day events first, then by start.
func (a *Aggregator) deriveEvents(events []domain.CalendarEvent, dayStart, dayEnd time.Time) []domain.CalendarEvent {
	out := make([]domain.CalendarEvent, 0, len(events))
	for _, e := range events {
		if !e.Start.Before(dayEnd) || (e.Duration > 0 && !e.End().After(dayStart)) ||
			(e.Duration <= 0 && e.Start.Before(dayStart)) {
			continue
		}
		e.Important = e.Flagged || e.AttendeeCount >= a.cfg.ImportantAttendees
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AllDay != out[j].AllDay {
			return out[i].AllDay
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// deriveTasks drops finished and duplicate tasks and computes DaysOverdue
// as ceil((dayStart - due) / 24h).
func deriveTasks(tasks []domain.TaskItem, dayStart, dayEnd time.Time) []domain.TaskItem {
	type key struct{ source, id string }
	seen := make(map[key]bool, len(tasks))
	out := make([]domain.TaskItem, 0, len(tasks))

	for _, t := range tasks {
		if t.Status == domain.TaskStatusDone {
			continue
		}
		k := key{t.Source, t.ID}
		if seen[k] {
			continue
		}
		seen[k] = true

		t.DaysOverdue = 0
		t.DueToday = false
		if t.Due != nil {
			switch {
			case t.Due.Before(dayStart):
				late := dayStart.Sub(*t.Due)
				t.DaysOverdue = int((late + 24*time.Hour - 1) / (24 * time.Hour))
			case t.Due.Before(dayEnd):
				t.DueToday = true
			}
		}
		out = append(out, t)
	}
	return out
}

// nextEvent returns the earliest timed event starting after asOf.
func nextEvent(events []domain.CalendarEvent, asOf time.Time) *domain.CalendarEvent {
	var next *domain.CalendarEvent
	for i := range events {
		e := &events[i]
		if e.AllDay || !e.Start.After(asOf) {
			continue
		}
		if next == nil || e.Start.Before(next.Start) {
			next = e
		}
	}
	if next == nil {
		return nil
	}
	cp := *next
	return &cp
}
