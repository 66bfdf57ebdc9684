package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// DefaultTaskCap bounds each task list in a view.
const DefaultTaskCap = 5

// EventLine is one rendered calendar entry.
type EventLine struct {
	Time      string
	Title     string
	Attendees int
	Important bool
}

func (e EventLine) String() string {
	s := e.Time + " " + e.Title
	if e.Attendees > 1 {
		s += fmt.Sprintf(" (%d people)", e.Attendees)
	}
	return s
}

// TaskLine is one rendered task.
type TaskLine struct {
	Title       string
	Priority    domain.TaskPriority
	DaysOverdue int
}

func (t TaskLine) String() string {
	s := t.Title
	if t.DaysOverdue > 0 {
		s += fmt.Sprintf(" (%s overdue)", Count(t.DaysOverdue, "day"))
	}
	if t.Priority == domain.PriorityHigh {
		s += " [high]"
	}
	return s
}

// View is the channel-neutral briefing layout. Empty fields mean the
// section is absent and formatters skip it.
type View struct {
	Greeting string
	Date     string
	Summary  string

	CalendarIntro string
	Events        []EventLine
	MoreEvents    int

	TasksIntro   string
	Overdue      []TaskLine
	MoreOverdue  int
	DueToday     []TaskLine
	MoreDueToday int

	Actions  []string
	Email    string
	Insights string
	Closing  string
}

// Options controls per-channel caps.
type Options struct {
	EventCap int
	TaskCap  int
}

// Build lays out a snapshot and its narrative. Events and tasks beyond the
// caps are counted, not listed.
func Build(snap domain.Snapshot, content domain.NarrativeContent, opts Options) View {
	if opts.TaskCap <= 0 {
		opts.TaskCap = DefaultTaskCap
	}
	loc := snap.Location
	if loc == nil {
		loc = time.UTC
	}

	v := View{
		Greeting:      strings.TrimSpace(content.Greeting),
		Date:          FormatDate(snap, loc),
		Summary:       strings.TrimSpace(content.Summary),
		CalendarIntro: strings.TrimSpace(content.CalendarSection),
		TasksIntro:    strings.TrimSpace(content.TasksSection),
		Email:         strings.TrimSpace(content.EmailSection),
		Insights:      strings.TrimSpace(content.InsightsSection),
		Closing:       strings.TrimSpace(content.Closing),
	}

	for i, e := range snap.Events {
		if opts.EventCap > 0 && i >= opts.EventCap {
			v.MoreEvents = len(snap.Events) - opts.EventCap
			break
		}
		v.Events = append(v.Events, eventLine(e, loc))
	}

	v.Overdue, v.MoreOverdue = taskLines(snap.OverdueTasks(), opts.TaskCap)
	v.DueToday, v.MoreDueToday = taskLines(snap.DueTodayTasks(), opts.TaskCap)

	for _, a := range content.PriorityActions {
		if a = strings.TrimSpace(a); a != "" {
			v.Actions = append(v.Actions, a)
		}
		if len(v.Actions) == domain.MaxPriorityActions {
			break
		}
	}
	return v
}

// FormatDate renders the snapshot day as "Monday, March 3".
func FormatDate(snap domain.Snapshot, loc *time.Location) string {
	day, err := time.ParseInLocation(domain.DayLayout, snap.Date, loc)
	if err != nil {
		day = snap.AsOf.In(loc)
	}
	return day.Format("Monday, January 2")
}

func eventLine(e domain.CalendarEvent, loc *time.Location) EventLine {
	at := "All day"
	if !e.AllDay {
		at = e.Start.In(loc).Format("15:04")
	}
	return EventLine{
		Time:      at,
		Title:     e.Title,
		Attendees: e.AttendeeCount,
		Important: e.Important,
	}
}

func taskLines(tasks []domain.TaskItem, max int) ([]TaskLine, int) {
	var out []TaskLine
	for i, t := range tasks {
		if i >= max {
			return out, len(tasks) - max
		}
		out = append(out, TaskLine{Title: t.Title, Priority: t.Priority, DaysOverdue: t.DaysOverdue})
	}
	return out, 0
}

// Header is the greeting followed by the date.
func (v View) Header() string {
	if v.Greeting == "" {
		return v.Date
	}
	return v.Greeting + " " + v.Date
}

// More renders the overflow line for a capped list.
func More(n int) string {
	return fmt.Sprintf("...and %d more", n)
}
