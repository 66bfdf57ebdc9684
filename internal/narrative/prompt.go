package narrative

import (
	"fmt"
	"strings"
	"time"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// Prompt is what a Backend receives.
type Prompt struct {
	System string
	User   string
}

var styleGuidance = map[domain.Style]string{
	domain.StyleConcise:  "Be brief: one short sentence per section, no filler.",
	domain.StyleDetailed: "Be thorough: mention times, attendees and why each priority matters, two to four sentences per section.",
	domain.StyleFriendly: "Be warm and encouraging, like a helpful colleague, while staying factual.",
}

// BuildPrompt describes the snapshot to the backend. Email is summarized
// as counts and senders only.
func BuildPrompt(snap domain.Snapshot, style domain.Style) Prompt {
	guidance, ok := styleGuidance[style]
	if !ok {
		guidance = styleGuidance[domain.StyleConcise]
	}

	system := strings.Join([]string{
		"You write a personal morning briefing from structured data.",
		"Respond with a single JSON object that matches this JSON Schema exactly:",
		string(Schema),
		"priorityActions holds at most 3 short imperative items taken from the tasks and events given.",
		"Do not invent events, tasks or emails.",
		guidance,
	}, "\n")

	loc := snap.Location
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", nonEmpty(snap.DisplayName, "(unknown)"))
	fmt.Fprintf(&b, "Date: %s (%s), current time %s\n", snap.Date, loc.String(), snap.AsOf.In(loc).Format("15:04"))

	b.WriteString("\nEvents:\n")
	if snap.IsDegraded(domain.SectionCalendar) {
		b.WriteString("(calendar unavailable)\n")
	}
	for _, e := range snap.Events {
		at := "all day"
		if !e.AllDay {
			at = e.Start.In(loc).Format("15:04") + "-" + e.End().In(loc).Format("15:04")
		}
		fmt.Fprintf(&b, "- %s %s, %d attendees", at, e.Title, e.AttendeeCount)
		if e.Important {
			b.WriteString(", important")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nTasks:\n")
	if snap.IsDegraded(domain.SectionTasks) {
		b.WriteString("(some task sources unavailable)\n")
	}
	for _, t := range snap.Tasks {
		fmt.Fprintf(&b, "- [%s] %s (source %s", t.Priority, t.Title, t.Source)
		switch {
		case t.Overdue():
			fmt.Fprintf(&b, ", %d days overdue", t.DaysOverdue)
		case t.DueToday:
			b.WriteString(", due today")
		case t.Due != nil:
			fmt.Fprintf(&b, ", due %s", t.Due.In(loc).Format(domain.DayLayout))
		}
		b.WriteString(")\n")
	}

	b.WriteString("\nEmail:\n")
	if snap.Email.Available {
		fmt.Fprintf(&b, "%d unread, %d flagged", snap.Email.Unread, snap.Email.Flagged)
		if len(snap.Email.TopSenders) > 0 {
			fmt.Fprintf(&b, ", mostly from %s", strings.Join(snap.Email.TopSenders, ", "))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("(not available)\n")
	}

	if len(snap.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, in := range snap.Insights {
			b.WriteString("- " + in + "\n")
		}
	}

	return Prompt{System: system, User: b.String()}
}

func nonEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
