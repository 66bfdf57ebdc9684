package render

import (
	"fmt"
	"strings"
)

// PlainText renders the view without markup. It is the SMS body, the
// in-app body and the text fallback for block payloads.
func PlainText(v View) string {
	var b strings.Builder

	b.WriteString(v.Greeting)
	if v.Date != "" {
		if v.Greeting != "" {
			b.WriteString("\n")
		}
		b.WriteString(v.Date)
	}
	b.WriteString("\n")

	section(&b, "", v.Summary)

	if len(v.Events) > 0 || v.CalendarIntro != "" {
		b.WriteString("\nCalendar\n")
		if v.CalendarIntro != "" {
			b.WriteString(v.CalendarIntro + "\n")
		}
		for _, e := range v.Events {
			b.WriteString("- " + e.String() + "\n")
		}
		if v.MoreEvents > 0 {
			b.WriteString(More(v.MoreEvents) + "\n")
		}
	}

	if v.TasksIntro != "" || len(v.Overdue) > 0 || len(v.DueToday) > 0 {
		b.WriteString("\nTasks\n")
		if v.TasksIntro != "" {
			b.WriteString(v.TasksIntro + "\n")
		}
		taskList(&b, "Overdue", v.Overdue, v.MoreOverdue)
		taskList(&b, "Due today", v.DueToday, v.MoreDueToday)
	}

	if len(v.Actions) > 0 {
		b.WriteString("\nPriority actions\n")
		for i, a := range v.Actions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}

	section(&b, "Email", v.Email)
	section(&b, "Insights", v.Insights)

	if v.Closing != "" {
		b.WriteString("\n" + v.Closing + "\n")
	}
	return strings.TrimSpace(b.String())
}

func section(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	b.WriteString("\n")
	if title != "" {
		b.WriteString(title + ": ")
	}
	b.WriteString(body + "\n")
}

func taskList(b *strings.Builder, label string, tasks []TaskLine, more int) {
	if len(tasks) == 0 {
		return
	}
	b.WriteString(label + ":\n")
	for _, t := range tasks {
		b.WriteString("- " + t.String() + "\n")
	}
	if more > 0 {
		b.WriteString(More(more) + "\n")
	}
}
