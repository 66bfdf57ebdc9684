package aggregator

import (
	"fmt"

	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
)

// insights derives short observations from an assembled snapshot.
func (a *Aggregator) insights(snap domain.Snapshot) []string {
	var out []string

	var timed []domain.CalendarEvent
	for _, e := range snap.Events {
		if !e.AllDay {
			timed = append(timed, e)
		}
	}

	if len(timed) >= a.cfg.HeavyMeetingDay {
		out = append(out, fmt.Sprintf("Heavy meeting day: %s scheduled.", render.Count(len(timed), "meeting")))
	}

	backToBack := 0
	for i := 1; i < len(timed); i++ {
		if timed[i].Start.Sub(timed[i-1].End()) <= a.cfg.BackToBackGap {
			backToBack++
		}
	}
	if backToBack > 0 {
		out = append(out, fmt.Sprintf("%s with little or no break in between.",
			render.CountPhrase(backToBack, "back-to-back meeting transition", "back-to-back meeting transitions")))
	}

	if n := len(snap.OverdueTasks()); n > 0 {
		out = append(out, fmt.Sprintf("%s %s attention.", render.Count(n, "overdue task"), render.Plural(n, "needs", "need")))
	}

	high := 0
	for _, t := range snap.DueTodayTasks() {
		if t.Priority == domain.PriorityHigh {
			high++
		}
	}
	if high > 0 {
		out = append(out, fmt.Sprintf("%s due today.", render.CountPhrase(high, "high-priority task", "high-priority tasks")))
	}

	if snap.Email.Available {
		if snap.Email.Unread >= a.cfg.UnreadAlert {
			out = append(out, fmt.Sprintf("%s waiting in your inbox.", render.CountPhrase(snap.Email.Unread, "unread email", "unread emails")))
		}
		if snap.Email.Flagged > 0 {
			out = append(out, fmt.Sprintf("%s awaiting follow-up.", render.CountPhrase(snap.Email.Flagged, "flagged email", "flagged emails")))
		}
	}
	return out
}
