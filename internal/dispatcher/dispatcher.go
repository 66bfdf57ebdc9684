// Package dispatcher formats a briefing for a channel and hands it to that
// channel's transport. Each channel is one Adapter registered by name, so
// adding a channel never touches the scheduler.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/guard"
	"github.com/djlord-it/morning-brief/internal/metrics"
	"go.uber.org/zap"
)

// DefaultSendTimeout bounds a single transport call.
const DefaultSendTimeout = 15 * time.Second

// Payload is a channel-native message. Text is always set: it is the whole
// message on text-only channels and the required fallback on block channels.
type Payload struct {
	Text   string
	Native any
}

// Adapter pairs a channel's formatter with its sender. Format must be pure.
type Adapter interface {
	Channel() domain.Channel
	Format(snap domain.Snapshot, content domain.NarrativeContent) Payload
	Send(ctx context.Context, address string, payload Payload) error
}

// Result is the normalized outcome of one send.
type Result struct {
	Delivered bool
	Error     error
	Duration  time.Duration
}

// Registry maps channel names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Channel]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its channel.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
}

func (r *Registry) Get(ch domain.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// Channels lists registered channels in name order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	breakers *circuitbreaker.Registry
	metrics  metrics.Sink
	logger   *zap.Logger
}

func New(registry *Registry, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		metrics:  metrics.NewNoopSink(),
		logger:   logger,
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink metrics.Sink) *Dispatcher {
	if sink != nil {
		d.metrics = sink
	}
	return d
}

// WithBreakers puts every transport behind a per-channel circuit breaker.
func (d *Dispatcher) WithBreakers(r *circuitbreaker.Registry) *Dispatcher {
	d.breakers = r
	return d
}

// Format renders the payload for ch. Unknown channels return
// domain.ErrNoChannelConfigured.
func (d *Dispatcher) Format(ch domain.Channel, snap domain.Snapshot, content domain.NarrativeContent) (p Payload, err error) {
	adapter, ok := d.registry.Get(ch)
	if !ok {
		return Payload{}, fmt.Errorf("%w: no adapter for channel %q", domain.ErrNoChannelConfigured, ch)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("format %s: %w: %v", ch, guard.ErrPanic, r)
		}
	}()
	return adapter.Format(snap, content), nil
}

// Send calls the channel transport under the send timeout. It never panics
// and never returns a bare transport error: failures come back in Result
// wrapped in domain.ErrChannelSend.
func (d *Dispatcher) Send(ctx context.Context, ch domain.Channel, address string, payload Payload) Result {
	adapter, ok := d.registry.Get(ch)
	if !ok {
		return Result{Error: fmt.Errorf("%w: no adapter for channel %q", domain.ErrNoChannelConfigured, ch)}
	}

	start := time.Now()
	_, err := circuitbreaker.Do(d.breakers, "channel:"+string(ch), func() (struct{}, error) {
		return guard.Call(ctx, d.timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, adapter.Send(ctx, address, payload)
		})
	})
	res := Result{Duration: time.Since(start)}

	d.metrics.SendCompleted(string(ch), metrics.ClassifyError(err), res.Duration)

	if err != nil {
		res.Error = fmt.Errorf("%w: %s: %w", domain.ErrChannelSend, ch, err)
		d.logger.Warn("dispatcher: send failed",
			zap.String("channel", string(ch)),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res
	}
	res.Delivered = true
	return res
}

// Deliver formats and sends in one step.
func (d *Dispatcher) Deliver(ctx context.Context, ch domain.Channel, address string, snap domain.Snapshot, content domain.NarrativeContent) Result {
	payload, err := d.Format(ch, snap, content)
	if err != nil {
		return Result{Error: err}
	}
	return d.Send(ctx, ch, address, payload)
}
