package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// DeliveryResultResponse is the body of POST /v1/users/{userID}/briefings.
type DeliveryResultResponse struct {
	UserID          string `json:"user_id"`
	CalendarDay     string `json:"calendar_day,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Outcome         string `json:"outcome"`
	NarrativeSource string `json:"narrative_source,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RecordID        string `json:"record_id,omitempty"`
}

type DeliveryRecordResponse struct {
	ID              string `json:"id"`
	CalendarDay     string `json:"calendar_day"`
	Channel         string `json:"channel,omitempty"`
	Delivered       bool   `json:"delivered"`
	NarrativeSource string `json:"narrative_source,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	Timestamp       string `json:"timestamp"`
}

type ListDeliveriesResponse struct {
	UserID     string                   `json:"user_id"`
	Deliveries []DeliveryRecordResponse `json:"deliveries"`
}

// TickRequest optionally pins the tick's notion of now.
type TickRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

type TickResponse struct {
	Now       string `json:"now"`
	Processed int    `json:"processed"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	NotDue    int    `json:"not_due"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ToResultResponse is the JSON form shared by the API and the CLI.
func ToResultResponse(res domain.DeliveryResult) DeliveryResultResponse {
	out := DeliveryResultResponse{
		UserID:          res.UserID,
		CalendarDay:     res.CalendarDay,
		Channel:         string(res.Channel),
		Outcome:         string(res.Outcome),
		NarrativeSource: string(res.NarrativeSource),
		Reason:          res.Reason,
	}
	if res.RecordID != uuid.Nil {
		out.RecordID = res.RecordID.String()
	}
	return out
}

// ToRecordResponse is the JSON form of one ledger record.
func ToRecordResponse(rec domain.DeliveryRecord) DeliveryRecordResponse {
	return DeliveryRecordResponse{
		ID:              rec.ID.String(),
		CalendarDay:     rec.CalendarDay,
		Channel:         string(rec.Channel),
		Delivered:       rec.Delivered,
		NarrativeSource: string(rec.NarrativeSource),
		FailureReason:   rec.FailureReason,
		Timestamp:       formatTime(rec.Timestamp),
	}
}
