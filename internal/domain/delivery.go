package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryRecord is an append-only ledger entry, one per attempt.
// For any (UserID, CalendarDay) at most one record has Delivered=true.
type DeliveryRecord struct {
	ID              uuid.UUID
	UserID          string
	CalendarDay     string // YYYY-MM-DD in the user's timezone
	Channel         Channel
	Delivered       bool
	NarrativeSource NarrativeSource
	FailureReason   string
	Timestamp       time.Time
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"

	// OutcomeSkipped means the user already had a delivered briefing for the
	// day, or another pipeline held the in-flight claim.
	OutcomeSkipped Outcome = "skipped"
)

// DeliveryResult is returned by the per-user pipeline.
type DeliveryResult struct {
	UserID          string
	CalendarDay     string
	Channel         Channel
	Outcome         Outcome
	NarrativeSource NarrativeSource
	Reason          string
	RecordID        uuid.UUID
}

// Connection is a user's link to an external provider. Connections are
// created by OAuth flows outside this service and read-only here.
type Connection struct {
	UserID   string
	Provider string
	Endpoint string
	Username string
	Secret   string
}

// Notification is a row in the in-app notification store.
type Notification struct {
	ID        uuid.UUID
	UserID    string
	Kind      string
	Title     string
	Body      string
	Payload   json.RawMessage
	CreatedAt time.Time
}
