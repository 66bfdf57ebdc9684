// Package circuitbreaker keeps one breaker per external dependency (calendar
// feed, task provider, generative backend, channel transport) so a dependency
// that keeps failing is short-circuited instead of consuming its full timeout
// on every user in every tick.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker for a key rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Registry lazily creates a breaker per key.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	cooldown  time.Duration
	logger    *zap.Logger
	ignored   []error
}

// New returns a registry whose breakers open after threshold consecutive
// failures and probe again after cooldown. A zero threshold disables
// breaking: New returns nil and Do on a nil registry calls through.
func New(threshold uint32, cooldown time.Duration, logger *zap.Logger) *Registry {
	if threshold == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// WithIgnored marks errors that are expected answers rather than
// dependency failures; they do not count towards tripping. Call before use.
func (r *Registry) WithIgnored(errs ...error) *Registry {
	if r == nil {
		return nil
	}
	r.ignored = append(r.ignored, errs...)
	return r
}

func (r *Registry) get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if ok {
		return cb
	}
	threshold := r.threshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuitbreaker: state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Cancellation by our own caller says nothing about the dependency.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			for _, ig := range r.ignored {
				if errors.Is(err, ig) {
					return true
				}
			}
			return false
		},
	})
	r.breakers[key] = cb
	return cb
}

// State returns the current state name for key ("closed" if never used).
func (r *Registry) State(key string) string {
	if r == nil {
		return gobreaker.StateClosed.String()
	}
	return r.get(key).State().String()
}

// Do runs fn behind the breaker for key. Rejections are reported as
// ErrCircuitOpen.
func Do[T any](r *Registry, key string, fn func() (T, error)) (T, error) {
	if r == nil {
		return fn()
	}

	res, err := r.get(key).Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrCircuitOpen
	}
	if res == nil {
		var zero T
		return zero, err
	}
	return res.(T), err
}
