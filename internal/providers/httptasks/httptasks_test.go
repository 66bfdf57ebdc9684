package httptasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/morning-brief/internal/domain"
)

type mockConnections struct {
	conns map[string]domain.Connection
}

func (m *mockConnections) GetConnection(_ context.Context, userID, provider string) (domain.Connection, error) {
	c, ok := m.conns[userID+"/"+provider]
	if !ok {
		return domain.Connection{}, domain.ErrNotConnected
	}
	return c, nil
}

const body = `{"tasks":[
 {"id":"1","title":"Ship report","priority":"High","due":"2025-03-02T17:00:00Z","status":"open"},
 {"id":"2","title":"Read book","priority":"low","status":"in_progress"},
 {"id":"3","title":"Done thing","priority":"p1","due":"2025-03-01","status":"completed"},
 {"id":"4","title":"Next week","due":"2025-03-10T09:00:00Z"},
 {"id":"","title":"no id"},
 {"id":"5","title":"Bad due","due":"someday"}
]}`

func TestTasks(t *testing.T) {
	var gotAuth, gotDueBefore, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDueBefore = r.URL.Query().Get("due_before")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	conns := &mockConnections{conns: map[string]domain.Connection{
		"u1/todo": {Secret: "tok"},
	}}
	p := New("todo", srv.URL+"/", conns, srv.Client())
	before := time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)

	tasks, err := p.Tasks(context.Background(), "u1", before)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "2025-03-04T05:00:00Z", gotDueBefore)
	assert.Equal(t, "/tasks", gotPath)

	require.Len(t, tasks, 3)
	assert.Equal(t, "1", tasks[0].ID)
	assert.Equal(t, domain.PriorityHigh, tasks[0].Priority)
	assert.Equal(t, "todo", tasks[0].Source)
	require.NotNil(t, tasks[0].Due)

	assert.Nil(t, tasks[1].Due)
	assert.Equal(t, domain.TaskStatusInProgress, tasks[1].Status)

	assert.Equal(t, domain.TaskStatusDone, tasks[2].Status, "done tasks are dropped by the aggregator, not here")
	assert.Equal(t, "todo", p.Name())
}

func TestTasks_ConnectionEndpointOverrides(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_, _ = w.Write([]byte(`{"tasks":[]}`))
	}))
	defer srv.Close()

	conns := &mockConnections{conns: map[string]domain.Connection{
		"u1/todo": {Endpoint: srv.URL},
	}}
	tasks, err := New("todo", "http://unused.invalid", conns, srv.Client()).
		Tasks(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.True(t, hit)
}

func TestTasks_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, ""},
		{"server error", http.StatusInternalServerError, ""},
		{"bad json", http.StatusOK, "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			conns := &mockConnections{conns: map[string]domain.Connection{"u1/todo": {}}}
			_, err := New("todo", srv.URL, conns, srv.Client()).Tasks(context.Background(), "u1", time.Now())
			assert.Error(t, err)
		})
	}
}

func TestTasks_NotConnected(t *testing.T) {
	_, err := New("todo", "http://x", &mockConnections{}, nil).Tasks(context.Background(), "u1", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestParseDue_DateOnlyUsesLocation(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	due, err := parseDue("2025-03-03", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, loc), due)
}

func TestParseProviders(t *testing.T) {
	got, err := ParseProviders(" todo=https://todo.example.com , linear=https://api.linear.example ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"todo":   "https://todo.example.com",
		"linear": "https://api.linear.example",
	}, got)

	empty, err := ParseProviders("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"todo", "=https://x.example", "internal=https://x.example", "a=notaurl", "a=https://x.example,a=https://y.example"} {
		_, err := ParseProviders(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewAll_SortedByName(t *testing.T) {
	ps := NewAll(map[string]string{"b": "", "a": ""}, &mockConnections{}, nil)
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].Name())
	assert.Equal(t, "b", ps[1].Name())
}
