// Package icalfeed reads a user's calendar from a subscribed ICS feed.
package icalfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// ProviderName is the connection provider key for ICS feeds.
const ProviderName = "ical"

// maxFeedBytes caps how much of a feed is read.
const maxFeedBytes = 8 << 20

// ConnectionStore looks up the user's linked feed.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, provider string) (domain.Connection, error)
}

// Source implements aggregator.CalendarSource over ICS feeds.
type Source struct {
	conns  ConnectionStore
	client *http.Client
}

// New creates a feed source. A nil client uses http.DefaultClient; callers
// bound each fetch with the context deadline.
func New(conns ConnectionStore, client *http.Client) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{conns: conns, client: client}
}

// Events fetches the user's feed and returns occurrences overlapping [from, to).
func (s *Source) Events(ctx context.Context, userID string, from, to time.Time) ([]domain.CalendarEvent, error) {
	conn, err := s.conns.GetConnection(ctx, userID, ProviderName)
	if err != nil {
		return nil, err
	}
	if conn.Endpoint == "" {
		return nil, fmt.Errorf("%w: ical feed has no url", domain.ErrNotConnected)
	}

	body, err := s.fetch(ctx, conn)
	if err != nil {
		return nil, err
	}
	return Parse(strings.NewReader(body), from, to)
}

func (s *Source) fetch(ctx context.Context, conn domain.Connection) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL(conn.Endpoint), nil)
	if err != nil {
		return "", fmt.Errorf("icalfeed: build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	if conn.Username != "" || conn.Secret != "" {
		req.SetBasicAuth(conn.Username, conn.Secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("icalfeed: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("icalfeed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("icalfeed: read body: %w", err)
	}

	bodyStr := string(body)
	if err := validateFormat(bodyStr); err != nil {
		return "", err
	}
	return bodyStr, nil
}

// feedURL rewrites webcal:// subscription links to https.
func feedURL(endpoint string) string {
	if rest, ok := strings.CutPrefix(endpoint, "webcal://"); ok {
		return "https://" + rest
	}
	return endpoint
}

func validateFormat(body string) error {
	trimmed := strings.TrimSpace(body)
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return fmt.Errorf("icalfeed: received HTML instead of iCalendar data")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		preview := trimmed
		if len(preview) > 60 {
			preview = preview[:60]
		}
		return fmt.Errorf("icalfeed: expected BEGIN:VCALENDAR, got %q", preview)
	}
	return nil
}

// Parse decodes every calendar in r and returns event occurrences that
// overlap [from, to), sorted by start. Recurring events are expanded;
// cancelled events and overridden occurrences are skipped. Floating times
// are interpreted in from's location.
func Parse(r io.Reader, from, to time.Time) ([]domain.CalendarEvent, error) {
	loc := from.Location()
	dec := ical.NewDecoder(r)

	var events []ical.Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("icalfeed: decode: %w", err)
		}
		events = append(events, cal.Events()...)
	}

	// Occurrences replaced by a RECURRENCE-ID override, keyed by UID.
	overridden := make(map[string]map[int64]bool)
	for _, ev := range events {
		prop := ev.Props.Get(ical.PropRecurrenceID)
		if prop == nil {
			continue
		}
		t, err := prop.DateTime(loc)
		if err != nil {
			continue
		}
		uid := propText(ev.Component, ical.PropUID)
		if overridden[uid] == nil {
			overridden[uid] = make(map[int64]bool)
		}
		overridden[uid][t.Unix()] = true
	}

	var out []domain.CalendarEvent
	for _, ev := range events {
		if strings.EqualFold(propText(ev.Component, ical.PropStatus), "CANCELLED") {
			continue
		}

		base, err := toEvent(ev, loc)
		if err != nil {
			// One malformed VEVENT should not hide the rest of the day.
			continue
		}

		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			if overlaps(base, from, to) {
				out = append(out, base)
			}
			continue
		}

		set, err := ev.RecurrenceSet(loc)
		if err != nil {
			return nil, fmt.Errorf("icalfeed: recurrence for %q: %w", base.ID, err)
		}
		if set == nil {
			if overlaps(base, from, to) {
				out = append(out, base)
			}
			continue
		}

		// Widen the lower bound so occurrences already in progress at from
		// are included.
		for _, start := range set.Between(from.Add(-base.Duration), to, true) {
			if overridden[base.ID][start.Unix()] {
				continue
			}
			occ := base
			occ.Start = start.In(loc)
			occ.ID = base.ID + "@" + strconv.FormatInt(start.Unix(), 10)
			if overlaps(occ, from, to) {
				out = append(out, occ)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func toEvent(ev ical.Event, loc *time.Location) (domain.CalendarEvent, error) {
	startProp := ev.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return domain.CalendarEvent{}, fmt.Errorf("missing DTSTART")
	}
	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil {
		return domain.CalendarEvent{}, err
	}

	allDay := startProp.ValueType() == ical.ValueDate
	dur := end.Sub(start)
	if end.IsZero() || dur < 0 {
		dur = 0
		if allDay {
			dur = 24 * time.Hour
		}
	}

	title := propText(ev.Component, ical.PropSummary)
	if title == "" {
		title = "(no title)"
	}

	return domain.CalendarEvent{
		ID:            propText(ev.Component, ical.PropUID),
		Title:         title,
		Start:         start.In(loc),
		Duration:      dur,
		AttendeeCount: len(ev.Props.Values(ical.PropAttendee)),
		AllDay:        allDay,
		Location:      propText(ev.Component, ical.PropLocation),
		Flagged:       highPriority(propText(ev.Component, ical.PropPriority)),
	}, nil
}

// highPriority reports PRIORITY 1-4, the "high" band of RFC 5545.
func highPriority(v string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n >= 1 && n <= 4
}

func overlaps(e domain.CalendarEvent, from, to time.Time) bool {
	if !e.Start.Before(to) {
		return false
	}
	if e.Duration == 0 {
		return !e.Start.Before(from)
	}
	return e.End().After(from)
}

func propText(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}
