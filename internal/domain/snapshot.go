package domain

import (
	"sort"
	"time"
)

// CalendarEvent is one occurrence on the user's calendar for the day.
type CalendarEvent struct {
	ID            string
	Title         string
	Start         time.Time
	Duration      time.Duration
	AttendeeCount int
	AllDay        bool
	Location      string

	// Flagged is set when the provider itself marks the event as high priority.
	Flagged bool

	// Important is derived by the aggregator.
	Important bool
}

// End returns the event's end time.
func (e CalendarEvent) End() time.Time {
	return e.Start.Add(e.Duration)
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Rank orders priorities; higher is more urgent. Unknown values rank as low.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// ParsePriority normalizes provider priority labels.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "high", "urgent", "p1", "1":
		return PriorityHigh
	case "medium", "normal", "p2", "2":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// TaskSourceInternal marks tasks that live in our own task store.
const TaskSourceInternal = "internal"

// TaskItem is a task from the internal store or an external provider.
type TaskItem struct {
	ID       string
	Title    string
	Priority TaskPriority
	Due      *time.Time
	Source   string // TaskSourceInternal or the external provider name
	Status   TaskStatus

	// Derived by the aggregator relative to the user's day.
	DaysOverdue int
	DueToday    bool
}

// Overdue reports whether the task was due before the user's day started.
func (t TaskItem) Overdue() bool {
	return t.DaysOverdue > 0
}

// EmailSignals summarizes the inbox without exposing message bodies.
type EmailSignals struct {
	Available  bool
	Unread     int
	Flagged    int
	TopSenders []string
}

// Snapshot is the aggregated view of one user's day, built once per
// pipeline run and never modified afterwards.
type Snapshot struct {
	UserID      string
	DisplayName string
	Date        string // calendar day in the user's timezone
	AsOf        time.Time
	DayStart    time.Time
	DayEnd      time.Time
	Location    *time.Location

	Events    []CalendarEvent
	NextEvent *CalendarEvent
	Tasks     []TaskItem
	Email     EmailSignals
	Insights  []string

	// Degraded lists the sections whose provider failed and were emptied.
	Degraded []string
}

// OverdueTasks returns overdue tasks, most overdue first.
func (s Snapshot) OverdueTasks() []TaskItem {
	var out []TaskItem
	for _, t := range s.Tasks {
		if t.Overdue() {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysOverdue != out[j].DaysOverdue {
			return out[i].DaysOverdue > out[j].DaysOverdue
		}
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out
}

// DueTodayTasks returns tasks due within the user's day, highest priority first.
func (s Snapshot) DueTodayTasks() []TaskItem {
	var out []TaskItem
	for _, t := range s.Tasks {
		if t.DueToday {
			out = append(out, t)
		}
	}
	sortByUrgency(out)
	return out
}

// ActionableTasks returns tasks that need action today: overdue plus due
// today, ordered by priority and then by due time.
func (s Snapshot) ActionableTasks() []TaskItem {
	var out []TaskItem
	for _, t := range s.Tasks {
		if t.DueToday || t.Overdue() {
			out = append(out, t)
		}
	}
	sortByUrgency(out)
	return out
}

// ImportantEvents returns events flagged important by the aggregator.
func (s Snapshot) ImportantEvents() []CalendarEvent {
	var out []CalendarEvent
	for _, e := range s.Events {
		if e.Important {
			out = append(out, e)
		}
	}
	return out
}

// IsDegraded reports whether the named section failed to load.
func (s Snapshot) IsDegraded(section string) bool {
	for _, d := range s.Degraded {
		if d == section {
			return true
		}
	}
	return false
}

func sortByUrgency(tasks []TaskItem) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		switch {
		case a.Due == nil:
			return false
		case b.Due == nil:
			return true
		default:
			return a.Due.Before(*b.Due)
		}
	})
}

// Snapshot section names used in Degraded and in logs.
const (
	SectionCalendar = "calendar"
	SectionTasks    = "tasks"
	SectionEmail    = "email"
)
