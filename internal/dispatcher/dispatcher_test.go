package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAdapter records sends and can be told to fail, hang or panic.
type mockAdapter struct {
	ch          domain.Channel
	mu          sync.Mutex
	sent        []sentMessage
	err         error
	hang        bool
	panicSend   bool
	panicFormat bool
}

type sentMessage struct {
	address string
	payload Payload
}

func (m *mockAdapter) Channel() domain.Channel { return m.ch }

func (m *mockAdapter) Format(snap domain.Snapshot, content domain.NarrativeContent) Payload {
	if m.panicFormat {
		panic("bad template")
	}
	return Payload{Text: content.Greeting + " " + snap.Date}
}

func (m *mockAdapter) Send(ctx context.Context, address string, p Payload) error {
	if m.panicSend {
		panic("nil client")
	}
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{address: address, payload: p})
	return nil
}

func testInput() (domain.Snapshot, domain.NarrativeContent) {
	return domain.Snapshot{UserID: "u1", Date: "2025-03-03"}, domain.NarrativeContent{Greeting: "Hi"}
}

func TestRegistry_Channels(t *testing.T) {
	r := NewRegistry(&mockAdapter{ch: domain.ChannelSMS}, &mockAdapter{ch: domain.ChannelInApp})
	r.Register(&mockAdapter{ch: domain.ChannelSlack})

	assert.Equal(t, []domain.Channel{domain.ChannelInApp, domain.ChannelSlack, domain.ChannelSMS}, r.Channels())
	_, ok := r.Get(domain.ChannelTelegram)
	assert.False(t, ok)
}

func TestDispatcher_Deliver_Success(t *testing.T) {
	adapter := &mockAdapter{ch: domain.ChannelSlack}
	d := New(NewRegistry(adapter), time.Second, nil)
	snap, content := testInput()

	res := d.Deliver(context.Background(), domain.ChannelSlack, "C123", snap, content)

	require.NoError(t, res.Error)
	assert.True(t, res.Delivered)
	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "C123", adapter.sent[0].address)
	assert.Equal(t, "Hi 2025-03-03", adapter.sent[0].payload.Text)
}

func TestDispatcher_UnknownChannel(t *testing.T) {
	d := New(NewRegistry(), time.Second, nil)
	snap, content := testInput()

	res := d.Deliver(context.Background(), domain.ChannelTelegram, "1", snap, content)

	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.Error, domain.ErrNoChannelConfigured)
}

func TestDispatcher_SendFailureIsNormalized(t *testing.T) {
	tests := []struct {
		name    string
		adapter *mockAdapter
		is      error
	}{
		{"transport error", &mockAdapter{ch: domain.ChannelSMS, err: errors.New("21211 invalid To")}, nil},
		{"timeout", &mockAdapter{ch: domain.ChannelSMS, hang: true}, context.DeadlineExceeded},
		{"panic", &mockAdapter{ch: domain.ChannelSMS, panicSend: true}, guard.ErrPanic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(NewRegistry(tt.adapter), 20*time.Millisecond, nil)
			snap, content := testInput()

			var res Result
			assert.NotPanics(t, func() {
				res = d.Deliver(context.Background(), domain.ChannelSMS, "+15550100", snap, content)
			})

			assert.False(t, res.Delivered)
			assert.ErrorIs(t, res.Error, domain.ErrChannelSend)
			if tt.is != nil {
				assert.ErrorIs(t, res.Error, tt.is)
			}
		})
	}
}

func TestDispatcher_FormatPanicIsRecovered(t *testing.T) {
	d := New(NewRegistry(&mockAdapter{ch: domain.ChannelInApp, panicFormat: true}), time.Second, nil)
	snap, content := testInput()

	res := d.Deliver(context.Background(), domain.ChannelInApp, "u1", snap, content)

	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.Error, guard.ErrPanic)
}

func TestDispatcher_BreakerIsPerChannel(t *testing.T) {
	failing := &mockAdapter{ch: domain.ChannelSlack, err: errors.New("invalid_auth")}
	healthy := &mockAdapter{ch: domain.ChannelInApp}
	d := New(NewRegistry(failing, healthy), time.Second, nil).
		WithBreakers(circuitbreaker.New(1, time.Minute, nil))
	snap, content := testInput()

	_ = d.Deliver(context.Background(), domain.ChannelSlack, "C1", snap, content)
	res := d.Deliver(context.Background(), domain.ChannelSlack, "C1", snap, content)
	assert.ErrorIs(t, res.Error, circuitbreaker.ErrCircuitOpen)

	res = d.Deliver(context.Background(), domain.ChannelInApp, "u1", snap, content)
	assert.True(t, res.Delivered)
}
