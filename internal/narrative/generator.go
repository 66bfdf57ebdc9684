// Package narrative turns a snapshot into briefing text. Generation goes
// through a pluggable backend under a hard timeout; any failure falls back
// to a deterministic rendering so content is never partially filled.
package narrative

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/guard"
	"github.com/djlord-it/morning-brief/internal/metrics"
	"go.uber.org/zap"
)

// Fallback reasons recorded on domain.Narrative.
const (
	ReasonNoBackend   = "no_backend"
	ReasonTimeout     = "timeout"
	ReasonTransport   = "transport"
	ReasonCircuitOpen = "circuit_open"
	ReasonSchema      = "schema"
)

const breakerKey = "narrative"

// DefaultTimeout applies when the generator is built with a zero timeout.
const DefaultTimeout = 20 * time.Second

type Generator struct {
	backend  Backend
	timeout  time.Duration
	breakers *circuitbreaker.Registry
	metrics  metrics.Sink
	logger   *zap.Logger
}

// NewGenerator returns a generator. A nil backend always falls back.
func NewGenerator(backend Backend, timeout time.Duration, logger *zap.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		backend: backend,
		timeout: timeout,
		metrics: metrics.NewNoopSink(),
		logger:  logger,
	}
}

func (g *Generator) WithMetrics(sink metrics.Sink) *Generator {
	if sink != nil {
		g.metrics = sink
	}
	return g
}

func (g *Generator) WithBreakers(r *circuitbreaker.Registry) *Generator {
	g.breakers = r
	return g
}

// Generate always returns fully populated content. Source tells which
// path produced it.
func (g *Generator) Generate(ctx context.Context, snap domain.Snapshot, style domain.Style) domain.Narrative {
	if g.backend == nil {
		return g.fallback(snap, ReasonNoBackend, nil)
	}

	prompt := BuildPrompt(snap, style)
	raw, err := circuitbreaker.Do(g.breakers, breakerKey, func() ([]byte, error) {
		return guard.Call(ctx, g.timeout, func(ctx context.Context) ([]byte, error) {
			return g.backend.Generate(ctx, prompt, Schema)
		})
	})
	if err != nil {
		reason := ReasonTransport
		switch {
		case guard.IsTimeout(err):
			reason = ReasonTimeout
			err = errors.Join(domain.ErrGenerationTimeout, err)
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			reason = ReasonCircuitOpen
		}
		return g.fallback(snap, reason, err)
	}

	content, err := Decode(raw)
	if err != nil {
		return g.fallback(snap, ReasonSchema, err)
	}

	g.metrics.NarrativeProduced(string(domain.NarrativeGenerated), "")
	return domain.Narrative{Content: content, Source: domain.NarrativeGenerated}
}

func (g *Generator) fallback(snap domain.Snapshot, reason string, err error) domain.Narrative {
	if err != nil {
		g.logger.Warn("narrative: using fallback",
			zap.String("user_id", snap.UserID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	g.metrics.NarrativeProduced(string(domain.NarrativeFallback), reason)
	return domain.Narrative{
		Content:        Fallback(snap),
		Source:         domain.NarrativeFallback,
		FallbackReason: reason,
	}
}
