package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/testutil"
)

type mockCalendar struct {
	events   []domain.CalendarEvent
	err      error
	panicMsg string
	hang     bool

	mu       sync.Mutex
	from, to time.Time
}

func (m *mockCalendar) Events(ctx context.Context, _ string, from, to time.Time) ([]domain.CalendarEvent, error) {
	m.mu.Lock()
	m.from, m.to = from, to
	m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.events, m.err
}

type mockTasks struct {
	name  string
	tasks []domain.TaskItem
	err   error
	calls int
}

func (m *mockTasks) Name() string { return m.name }

func (m *mockTasks) Tasks(context.Context, string, time.Time) ([]domain.TaskItem, error) {
	m.calls++
	return m.tasks, m.err
}

type mockEmail struct {
	signals domain.EmailSignals
	err     error
}

func (m *mockEmail) Signals(context.Context, string, time.Time) (domain.EmailSignals, error) {
	return m.signals, m.err
}

var nyc = testutil.MustLoadLocation("America/New_York")

func dana() domain.DeliveryPreference {
	return domain.DeliveryPreference{
		UserID:       "dana",
		DisplayName:  "Dana",
		Channel:      domain.ChannelInApp,
		DeliveryTime: "08:00",
		Timezone:     "America/New_York",
		Enabled:      true,
	}
}

func at(h, m int) time.Time {
	return testutil.LocalTime(nyc, 2025, time.March, 3, h, m)
}

func ptr(t time.Time) *time.Time { return &t }

func TestAggregate_DayWindowInUserTimezone(t *testing.T) {
	cal := &mockCalendar{}
	a := New(cal, nil, nil, Config{}, nil)

	// 03:30 UTC on March 4 is still March 3 in New York.
	asOf := time.Date(2025, 3, 4, 3, 30, 0, 0, time.UTC)
	snap, err := a.Aggregate(context.Background(), dana(), asOf)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-03", snap.Date)
	assert.True(t, cal.from.Equal(at(0, 0)))
	assert.True(t, cal.to.Equal(testutil.LocalTime(nyc, 2025, time.March, 4, 0, 0)))
}

func TestAggregate_PartialFailureIsolation(t *testing.T) {
	due := ptr(at(17, 0))
	cal := &mockCalendar{err: errors.New("google: 503")}
	internal := &mockTasks{name: domain.TaskSourceInternal, tasks: []domain.TaskItem{{ID: "1", Title: "Pay invoice", Due: due}}}
	external := &mockTasks{name: "todoist", err: errors.New("timeout")}
	email := &mockEmail{signals: domain.EmailSignals{Available: true, Unread: 3}}

	a := New(cal, []TaskSource{internal, external}, email, Config{}, nil)
	snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
	require.NoError(t, err)

	assert.Empty(t, snap.Events)
	assert.Equal(t, []string{domain.SectionCalendar, domain.SectionTasks}, snap.Degraded)
	require.Len(t, snap.Tasks, 1)
	assert.True(t, snap.Tasks[0].DueToday)
	assert.Equal(t, domain.TaskSourceInternal, snap.Tasks[0].Source)
	assert.Equal(t, 3, snap.Email.Unread)
}

func TestAggregate_PanicAndTimeoutAreContained(t *testing.T) {
	tests := []struct {
		name string
		cal  *mockCalendar
	}{
		{"panic", &mockCalendar{panicMsg: "nil map"}},
		{"timeout", &mockCalendar{hang: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &mockEmail{signals: domain.EmailSignals{Available: true, Flagged: 1}}
			a := New(tt.cal, nil, email, Config{Timeout: 20 * time.Millisecond}, nil)

			snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
			require.NoError(t, err)
			assert.True(t, snap.IsDegraded(domain.SectionCalendar))
			assert.Equal(t, 1, snap.Email.Flagged)
		})
	}
}

func TestAggregate_NotConnectedIsNotDegraded(t *testing.T) {
	a := New(&mockCalendar{err: domain.ErrNotConnected}, nil, &mockEmail{err: domain.ErrNotConnected}, Config{}, nil).
		WithBreakers(circuitbreaker.New(1, time.Minute, nil))

	for i := 0; i < 3; i++ {
		snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
		require.NoError(t, err)
		assert.Empty(t, snap.Degraded)
		assert.False(t, snap.Email.Available)
	}
}

func TestAggregate_DaysOverdueAndDueToday(t *testing.T) {
	tasks := &mockTasks{name: domain.TaskSourceInternal, tasks: []domain.TaskItem{
		{ID: "a", Title: "Two days late", Due: ptr(at(0, 0).Add(-48 * time.Hour))},
		{ID: "b", Title: "Just late", Due: ptr(at(0, 0).Add(-time.Minute))},
		{ID: "c", Title: "Late yesterday noon", Due: ptr(at(0, 0).Add(-12 * time.Hour))},
		{ID: "d", Title: "Tonight", Due: ptr(at(23, 59))},
		{ID: "e", Title: "Tomorrow", Due: ptr(at(0, 0).AddDate(0, 0, 1))},
		{ID: "f", Title: "Undated"},
		{ID: "g", Title: "Finished", Due: ptr(at(9, 0)), Status: domain.TaskStatusDone},
		{ID: "a", Title: "Duplicate", Due: ptr(at(9, 0))},
	}}
	a := New(nil, []TaskSource{tasks}, nil, Config{}, nil)

	snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
	require.NoError(t, err)

	byID := map[string]domain.TaskItem{}
	for _, tk := range snap.Tasks {
		byID[tk.ID] = tk
	}
	require.Len(t, byID, 6)
	assert.Equal(t, 2, byID["a"].DaysOverdue)
	assert.Equal(t, "Two days late", byID["a"].Title)
	assert.Equal(t, 1, byID["b"].DaysOverdue)
	assert.Equal(t, 1, byID["c"].DaysOverdue)
	assert.True(t, byID["d"].DueToday)
	assert.False(t, byID["e"].DueToday)
	assert.Zero(t, byID["e"].DaysOverdue)
	assert.False(t, byID["f"].Overdue())
}

func TestAggregate_EventsImportanceOrderAndNext(t *testing.T) {
	cal := &mockCalendar{events: []domain.CalendarEvent{
		{ID: "late", Title: "Review", Start: at(14, 0), Duration: time.Hour, AttendeeCount: 6},
		{ID: "early", Title: "Standup", Start: at(7, 30), Duration: 15 * time.Minute, AttendeeCount: 4},
		{ID: "soon", Title: "1:1", Start: at(9, 0), Duration: 30 * time.Minute, Flagged: true},
		{ID: "allday", Title: "Offsite", Start: at(0, 0), Duration: 24 * time.Hour, AllDay: true},
		{ID: "yesterday", Title: "Old", Start: at(0, 0).Add(-2 * time.Hour), Duration: time.Hour},
	}}
	a := New(cal, nil, nil, Config{}, nil)

	snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
	require.NoError(t, err)

	ids := make([]string, 0, len(snap.Events))
	for _, e := range snap.Events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"allday", "early", "soon", "late"}, ids)

	important := snap.ImportantEvents()
	require.Len(t, important, 2)
	assert.Equal(t, "soon", important[0].ID)
	assert.Equal(t, "late", important[1].ID)

	require.NotNil(t, snap.NextEvent)
	assert.Equal(t, "soon", snap.NextEvent.ID)
}

func TestAggregate_Insights(t *testing.T) {
	var events []domain.CalendarEvent
	for i := 0; i < 5; i++ {
		events = append(events, domain.CalendarEvent{
			ID: string(rune('a' + i)), Title: "Meeting",
			Start: at(9+i, 0), Duration: time.Hour,
		})
	}
	tasks := &mockTasks{name: "internal", tasks: []domain.TaskItem{
		{ID: "1", Title: "Late", Due: ptr(at(0, 0).Add(-30 * time.Hour))},
		{ID: "2", Title: "Urgent", Due: ptr(at(16, 0)), Priority: domain.PriorityHigh},
	}}
	email := &mockEmail{signals: domain.EmailSignals{Available: true, Unread: 25, Flagged: 1}}
	a := New(&mockCalendar{events: events}, []TaskSource{tasks}, email, Config{}, nil)

	snap, err := a.Aggregate(context.Background(), dana(), at(8, 5))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Heavy meeting day: 5 meetings scheduled.",
		"4 back-to-back meeting transitions with little or no break in between.",
		"1 overdue task needs attention.",
		"1 high-priority task due today.",
		"25 unread emails waiting in your inbox.",
		"1 flagged email awaiting follow-up.",
	}, snap.Insights)
}

func TestAggregate_InvalidTimezone(t *testing.T) {
	p := dana()
	p.Timezone = "Not/AZone"
	_, err := New(nil, nil, nil, Config{}, nil).Aggregate(context.Background(), p, time.Now())
	assert.Error(t, err)
}
