// Package postgres implements the ledger, the notification store and the
// read-only preference, task and connection lookups on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/djlord-it/morning-brief/internal/dispatcher/inapp"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/ledger"
)

//go:embed schema.sql
var schema string

// maxAuditRows bounds a single UndeliveredFailures scan.
const maxAuditRows = 1000

// Store implements ledger.Ledger and the lookups the pipeline needs.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListEnabledPreferences returns enabled preferences ordered by user, paginated by limit and offset.
func (s *Store) ListEnabledPreferences(ctx context.Context, limit, offset int) ([]domain.DeliveryPreference, error) {
	rows, err := s.db.QueryContext(ctx, queryListEnabledPreferences, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPreference returns one user's preference or domain.ErrUnknownUser.
func (s *Store) GetPreference(ctx context.Context, userID string) (domain.DeliveryPreference, error) {
	p, err := scanPreference(s.db.QueryRowContext(ctx, queryGetPreference, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryPreference{}, fmt.Errorf("%w: %s", domain.ErrUnknownUser, userID)
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreference(row scanner) (domain.DeliveryPreference, error) {
	var p domain.DeliveryPreference
	var channel, style string
	err := row.Scan(
		&p.UserID,
		&p.DisplayName,
		&channel,
		&p.Address,
		&p.DeliveryTime,
		&p.Timezone,
		&p.Enabled,
		&style,
	)
	if err != nil {
		return domain.DeliveryPreference{}, err
	}
	p.Channel = domain.Channel(channel)
	p.Style = domain.Style(style)
	return p, nil
}

// ListOpenTasks returns the user's unfinished internal tasks that are
// undated or due before the given instant.
func (s *Store) ListOpenTasks(ctx context.Context, userID string, before time.Time) ([]domain.TaskItem, error) {
	rows, err := s.db.QueryContext(ctx, queryListOpenTasks, userID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TaskItem
	for rows.Next() {
		var t domain.TaskItem
		var priority, status string
		var due sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &priority, &due, &status); err != nil {
			return nil, err
		}
		t.Priority = domain.ParsePriority(priority)
		t.Status = domain.TaskStatus(status)
		t.Source = domain.TaskSourceInternal
		if due.Valid {
			d := due.Time
			t.Due = &d
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InternalTasks exposes the task table as an aggregator task source.
func (s *Store) InternalTasks() *TaskSource {
	return &TaskSource{store: s}
}

// TaskSource adapts Store to the aggregator's task source interface.
type TaskSource struct {
	store *Store
}

func (t *TaskSource) Name() string { return domain.TaskSourceInternal }

func (t *TaskSource) Tasks(ctx context.Context, userID string, before time.Time) ([]domain.TaskItem, error) {
	return t.store.ListOpenTasks(ctx, userID, before)
}

// GetConnection returns the user's link to provider or domain.ErrNotConnected.
func (s *Store) GetConnection(ctx context.Context, userID, provider string) (domain.Connection, error) {
	var c domain.Connection
	err := s.db.QueryRowContext(ctx, queryGetConnection, userID, provider).Scan(
		&c.UserID,
		&c.Provider,
		&c.Endpoint,
		&c.Username,
		&c.Secret,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Connection{}, domain.ErrNotConnected
	}
	if err != nil {
		return domain.Connection{}, err
	}
	return c, nil
}

// InsertNotification writes one in-app notification.
func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	payload := string(n.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		n.ID,
		n.UserID,
		n.Kind,
		n.Title,
		n.Body,
		payload,
		n.CreatedAt,
	)
	return err
}

// HasDelivered implements ledger.Ledger.
func (s *Store) HasDelivered(ctx context.Context, userID, day string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, queryHasDelivered, userID, day).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Append implements ledger.Ledger. The partial unique index on
// (user_id, calendar_day) WHERE delivered turns a second success for the
// same day into domain.ErrLedgerConflict.
func (s *Store) Append(ctx context.Context, rec domain.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertDeliveryRecord,
		rec.ID,
		rec.UserID,
		rec.CalendarDay,
		string(rec.Channel),
		rec.Delivered,
		string(rec.NarrativeSource),
		rec.FailureReason,
		rec.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrLedgerConflict
		}
		return err
	}
	return nil
}

// History implements ledger.Ledger.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = ledger.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, queryDeliveryHistory, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryRecord
	for rows.Next() {
		var r domain.DeliveryRecord
		var channel, source string
		err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.CalendarDay,
			&channel,
			&r.Delivered,
			&source,
			&r.FailureReason,
			&r.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		r.Channel = domain.Channel(channel)
		r.NarrativeSource = domain.NarrativeSource(source)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UndeliveredFailures returns (user, day) pairs with a failed record
// written at or after since and no delivered record for that day.
func (s *Store) UndeliveredFailures(ctx context.Context, since time.Time) ([]ledger.UserDay, error) {
	rows, err := s.db.QueryContext(ctx, queryUndeliveredFailures, since, maxAuditRows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledger.UserDay
	for rows.Next() {
		var ud ledger.UserDay
		if err := rows.Scan(&ud.UserID, &ud.Day); err != nil {
			return nil, err
		}
		result = append(result, ud)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Compile-time interface assertions
var (
	_ ledger.Ledger = (*Store)(nil)
	_ inapp.Store   = (*Store)(nil)
)
