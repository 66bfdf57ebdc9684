package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/scheduler"
)

type mockRunner struct {
	res   domain.DeliveryResult
	err   error
	users []string
}

func (m *mockRunner) RunForUser(_ context.Context, userID string) (domain.DeliveryResult, error) {
	m.users = append(m.users, userID)
	res := m.res
	res.UserID = userID
	return res, m.err
}

type mockHistory struct {
	records []domain.DeliveryRecord
	err     error
	limit   int
}

func (m *mockHistory) History(_ context.Context, _ string, limit int) ([]domain.DeliveryRecord, error) {
	m.limit = limit
	return m.records, m.err
}

type mockTicker struct {
	res scheduler.TickResult
	err error
	now time.Time
}

func (m *mockTicker) Tick(_ context.Context, now time.Time) (scheduler.TickResult, error) {
	m.now = now
	return m.res, m.err
}

type mockDB struct{ err error }

func (m mockDB) Ping(context.Context) error { return m.err }

var fixedNow = time.Date(2025, 3, 3, 13, 5, 0, 0, time.UTC)

type fixture struct {
	runner  *mockRunner
	history *mockHistory
	ticker  *mockTicker
	handler *Handler
}

func newFixture() *fixture {
	f := &fixture{runner: &mockRunner{}, history: &mockHistory{}, ticker: &mockTicker{}}
	f.handler = NewHandler(f.runner, f.history, f.ticker, nil).
		WithClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	f.handler.WithHealthChecker(mockDB{err: errors.New("connection refused")})
	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestRunBriefing_Delivered(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	f.runner.res = domain.DeliveryResult{
		CalendarDay:     "2025-03-03",
		Channel:         domain.ChannelSlack,
		Outcome:         domain.OutcomeDelivered,
		NarrativeSource: domain.NarrativeFallback,
		RecordID:        id,
	}

	rec, body := f.do(t, http.MethodPost, "/v1/users/dana/briefings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"dana"}, f.runner.users)
	assert.Equal(t, "delivered", body["outcome"])
	assert.Equal(t, "fallback", body["narrative_source"])
	assert.Equal(t, "2025-03-03", body["calendar_day"])
	assert.Equal(t, id.String(), body["record_id"])
}

func TestRunBriefing_SkippedOmitsRecord(t *testing.T) {
	f := newFixture()
	f.runner.res = domain.DeliveryResult{Outcome: domain.OutcomeSkipped, Reason: "already_delivered"}

	rec, body := f.do(t, http.MethodPost, "/v1/users/dana/briefings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", body["outcome"])
	assert.Equal(t, "already_delivered", body["reason"])
	assert.NotContains(t, body, "record_id")
}

func TestRunBriefing_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"unknown user", "/v1/users/ghost/briefings", domain.ErrUnknownUser, http.StatusNotFound},
		{"store failure", "/v1/users/dana/briefings", errors.New("db down"), http.StatusInternalServerError},
		{"bad user id", "/v1/users/" + strings.Repeat("x", 129) + "/briefings", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.runner.err = tt.err
			rec, body := f.do(t, http.MethodPost, tt.path, "")
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestListDeliveries(t *testing.T) {
	f := newFixture()
	f.history.records = []domain.DeliveryRecord{
		{ID: uuid.New(), UserID: "dana", CalendarDay: "2025-03-03", Channel: domain.ChannelSMS, Delivered: true, NarrativeSource: domain.NarrativeGenerated, Timestamp: fixedNow},
		{ID: uuid.New(), UserID: "dana", CalendarDay: "2025-03-03", Channel: domain.ChannelSMS, FailureReason: "channel send failed", Timestamp: fixedNow.Add(-time.Minute)},
	}

	rec, body := f.do(t, http.MethodGet, "/v1/users/dana/deliveries?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, f.history.limit)

	deliveries := body["deliveries"].([]any)
	require.Len(t, deliveries, 2)
	first := deliveries[0].(map[string]any)
	assert.Equal(t, true, first["delivered"])
	assert.Equal(t, "2025-03-03T13:05:00Z", first["timestamp"])
	second := deliveries[1].(map[string]any)
	assert.Equal(t, false, second["delivered"])
	assert.Equal(t, "channel send failed", second["failure_reason"])
}

func TestListDeliveries_EmptyIsArray(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/v1/users/dana/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deliveries":[]`)
	assert.Equal(t, DefaultLimit, f.history.limit)
}

func TestListDeliveries_BadLimit(t *testing.T) {
	for _, q := range []string{"limit=-1", "limit=abc"} {
		t.Run(q, func(t *testing.T) {
			rec, _ := newFixture().do(t, http.MethodGet, "/v1/users/dana/deliveries?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListDeliveries_LimitCapped(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/v1/users/dana/deliveries?limit=501", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MaxLimit, f.history.limit)
}

func TestTick_DefaultsToClock(t *testing.T) {
	f := newFixture()
	f.ticker.res = scheduler.TickResult{Processed: 3, Delivered: 2, Skipped: 1, NotDue: 9}

	rec, body := f.do(t, http.MethodPost, "/v1/tick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixedNow, f.ticker.now)
	assert.Equal(t, float64(2), body["delivered"])
	assert.Equal(t, float64(9), body["not_due"])
	assert.Equal(t, "2025-03-03T13:05:00Z", body["now"])
}

func TestTick_ExplicitNow(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/v1/tick", `{"now":"2025-03-03T08:05:00-05:00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.ticker.now.Equal(time.Date(2025, 3, 3, 13, 5, 0, 0, time.UTC)))
}

func TestTick_Errors(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/v1/tick", `{"now":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.ticker.err = errors.New("list preferences: db down")
	rec, _ = f.do(t, http.MethodPost, "/v1/tick", "{}")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/tick", `{"now":"`+strings.Repeat("9", maxRequestBodySize)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouting(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/v1/tick", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture()
	f.handler.WithMetrics("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP briefd\n"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "briefd")
}
