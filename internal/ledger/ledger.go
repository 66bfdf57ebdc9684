// Package ledger defines the append-only delivery record. For any user and
// calendar day at most one record has Delivered=true; implementations
// enforce this structurally and report violations as
// domain.ErrLedgerConflict.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// DefaultHistoryLimit applies when History is called with limit <= 0.
const DefaultHistoryLimit = 50

type Ledger interface {
	// HasDelivered reports whether a delivered record exists for (userID, day).
	HasDelivered(ctx context.Context, userID, day string) (bool, error)

	// Append writes a record. A second delivered record for the same
	// (user, day) fails with domain.ErrLedgerConflict and is not written.
	Append(ctx context.Context, rec domain.DeliveryRecord) error

	// History returns the user's records, newest first.
	History(ctx context.Context, userID string, limit int) ([]domain.DeliveryRecord, error)
}

// Memory is an in-process Ledger for tests and single-instance runs
// without a database. Records do not survive restarts.
type Memory struct {
	mu        sync.Mutex
	records   map[string][]domain.DeliveryRecord
	delivered map[dayKey]bool
}

type dayKey struct {
	user string
	day  string
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string][]domain.DeliveryRecord),
		delivered: make(map[dayKey]bool),
	}
}

func (m *Memory) HasDelivered(_ context.Context, userID, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered[dayKey{userID, day}], nil
}

func (m *Memory) Append(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Delivered {
		k := dayKey{rec.UserID, rec.CalendarDay}
		if m.delivered[k] {
			return domain.ErrLedgerConflict
		}
		m.delivered[k] = true
	}
	m.records[rec.UserID] = append(m.records[rec.UserID], rec)
	return nil
}

func (m *Memory) History(_ context.Context, userID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.Lock()
	src := m.records[userID]
	out := make([]domain.DeliveryRecord, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	m.mu.Unlock()

	// Reverse insertion order breaks timestamp ties newest first.

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UserDay names one user's calendar day.
type UserDay struct {
	UserID string
	Day    string
}

// UndeliveredFailures returns (user, day) pairs with a failed record written
// at or after since and no delivered record for that day, sorted by user
// then day.
func (m *Memory) UndeliveredFailures(_ context.Context, since time.Time) ([]UserDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[UserDay]bool)
	var out []UserDay
	for user, recs := range m.records {
		for _, r := range recs {
			k := UserDay{UserID: user, Day: r.CalendarDay}
			if r.Delivered || r.Timestamp.Before(since) || seen[k] || m.delivered[dayKey{user, r.CalendarDay}] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Day < out[j].Day
	})
	return out, nil
}

var _ Ledger = (*Memory)(nil)
