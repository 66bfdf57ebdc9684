// Package inapp delivers briefings to the in-app feed. Delivery is a
// successful insert into the notification store.
package inapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
)

// KindDailyBriefing is the notification kind the feed renders as a briefing card.
const KindDailyBriefing = "daily_briefing"

const DefaultEventCap = 5

// Store is the notification store insert API.
type Store interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

// Document is the structured card stored alongside the plain body.
type Document struct {
	Title    string             `json:"title"`
	Date     string             `json:"date"`
	Summary  string             `json:"summary,omitempty"`
	Events   []render.EventLine `json:"events,omitempty"`
	More     int                `json:"moreEvents,omitempty"`
	Overdue  []render.TaskLine  `json:"overdue,omitempty"`
	DueToday []render.TaskLine  `json:"dueToday,omitempty"`
	Actions  []string           `json:"priorityActions,omitempty"`
	Email    string             `json:"email,omitempty"`
	Insights string             `json:"insights,omitempty"`
	Closing  string             `json:"closing,omitempty"`
}

type Adapter struct {
	store    Store
	eventCap int
	now      func() time.Time
}

func New(store Store, eventCap int) *Adapter {
	if eventCap <= 0 {
		eventCap = DefaultEventCap
	}
	return &Adapter{store: store, eventCap: eventCap, now: time.Now}
}

// WithClock overrides the timestamp source for stored notifications.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

func (a *Adapter) Channel() domain.Channel { return domain.ChannelInApp }

// Format returns the plain body as Text and a Document as Native.
func (a *Adapter) Format(snap domain.Snapshot, content domain.NarrativeContent) dispatcher.Payload {
	v := render.Build(snap, content, render.Options{EventCap: a.eventCap})
	return dispatcher.Payload{
		Text: render.PlainText(v),
		Native: Document{
			Title:    v.Header(),
			Date:     snap.Date,
			Summary:  v.Summary,
			Events:   v.Events,
			More:     v.MoreEvents,
			Overdue:  v.Overdue,
			DueToday: v.DueToday,
			Actions:  v.Actions,
			Email:    v.Email,
			Insights: v.Insights,
			Closing:  v.Closing,
		},
	}
}

// Send inserts the notification for the user named by address.
func (a *Adapter) Send(ctx context.Context, address string, p dispatcher.Payload) error {
	if a.store == nil {
		return errors.New("inapp: notification store not configured")
	}

	doc, _ := p.Native.(Document)
	if doc.Title == "" {
		doc.Title = "Your daily briefing"
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("inapp: marshal document: %w", err)
	}

	n := domain.Notification{
		ID:        uuid.New(),
		UserID:    address,
		Kind:      KindDailyBriefing,
		Title:     doc.Title,
		Body:      p.Text,
		Payload:   raw,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("inapp: insert notification: %w", err)
	}
	return nil
}
