package narrative

import (
	"fmt"
	"strings"
	"time"

	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
)

// Fallback builds the concise narrative straight from the snapshot. It
// never fails and fills every field.
func Fallback(snap domain.Snapshot) domain.NarrativeContent {
	loc := snap.Location
	if loc == nil {
		loc = time.UTC
	}
	overdue := snap.OverdueTasks()
	dueToday := snap.DueTodayTasks()

	greeting := "Good morning!"
	if name := strings.TrimSpace(snap.DisplayName); name != "" {
		greeting = "Good morning, " + name + "!"
	}

	summary := fmt.Sprintf("You have %s.", render.JoinList([]string{
		render.Count(len(snap.Events), "event"),
		render.Count(len(overdue), "overdue task"),
		render.CountPhrase(len(dueToday), "task due today", "tasks due today"),
	}))

	return domain.NarrativeContent{
		Greeting:        greeting,
		Summary:         summary,
		CalendarSection: calendarSection(snap, loc),
		TasksSection:    tasksSection(snap, overdue, dueToday),
		EmailSection:    emailSection(snap),
		InsightsSection: insightsSection(snap),
		PriorityActions: fallbackActions(dueToday),
		Closing:         "Have a productive day.",
	}
}

func calendarSection(snap domain.Snapshot, loc *time.Location) string {
	if snap.IsDegraded(domain.SectionCalendar) {
		return "Your calendar could not be loaded."
	}
	if len(snap.Events) == 0 {
		return "No events on your calendar today."
	}
	s := fmt.Sprintf("%s on your calendar today.", render.Count(len(snap.Events), "event"))
	if next := snap.NextEvent; next != nil {
		s += fmt.Sprintf(" Next up: %s at %s.", next.Title, next.Start.In(loc).Format("15:04"))
	}
	if n := len(snap.ImportantEvents()); n > 0 {
		s += fmt.Sprintf(" %d %s marked important.", n, render.Plural(n, "is", "are"))
	}
	return s
}

func tasksSection(snap domain.Snapshot, overdue, dueToday []domain.TaskItem) string {
	var s string
	switch {
	case len(overdue) == 0 && len(dueToday) == 0:
		s = "Nothing due today."
	default:
		s = fmt.Sprintf("%s and %s.",
			render.Count(len(overdue), "overdue task"),
			render.CountPhrase(len(dueToday), "task due today", "tasks due today"))
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	if snap.IsDegraded(domain.SectionTasks) {
		s += " Some task sources could not be loaded."
	}
	return s
}

func emailSection(snap domain.Snapshot) string {
	if snap.IsDegraded(domain.SectionEmail) {
		return "Your inbox could not be checked."
	}
	if !snap.Email.Available {
		return "No email account connected."
	}
	s := fmt.Sprintf("%s and %s in your inbox.",
		render.CountPhrase(snap.Email.Unread, "unread email", "unread emails"),
		render.CountPhrase(snap.Email.Flagged, "flagged email", "flagged emails"))
	return strings.ToUpper(s[:1]) + s[1:]
}

func insightsSection(snap domain.Snapshot) string {
	if len(snap.Insights) == 0 {
		return "Nothing unusual today."
	}
	return strings.Join(snap.Insights, " ")
}

// fallbackActions takes due-today tasks in priority order, up to
// domain.MaxPriorityActions. Overdue work is listed by the tasks section.
func fallbackActions(dueToday []domain.TaskItem) []string {
	actions := make([]string, 0, domain.MaxPriorityActions)
	for _, t := range dueToday {
		if len(actions) == domain.MaxPriorityActions {
			break
		}
		actions = append(actions, t.Title)
	}
	return actions
}
