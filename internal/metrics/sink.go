package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/djlord-it/morning-brief/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, processed, delivered, failed int, err error)
	TickDrift(drift time.Duration)

	// Pipeline metrics
	PipelinesInFlightIncr()
	PipelinesInFlightDecr()
	PipelineOutcome(channel, outcome string)
	LedgerConflict()

	// Aggregator metrics
	ProviderFetch(provider, outcome string, duration time.Duration)

	// Narrative metrics
	NarrativeProduced(source, reason string)

	// Dispatcher metrics
	SendCompleted(channel, errorClass string, duration time.Duration)

	// Auditor metrics
	UndeliveredFailuresUpdate(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Provider fetch outcomes.
const (
	FetchOK           = "ok"
	FetchDegraded     = "degraded"
	FetchNotConnected = "not_connected"
)

// Error classes for SendCompleted and ProviderFetch.
const (
	ErrorClassNone            = "none"
	ErrorClassTimeout         = "timeout"
	ErrorClassConnectionError = "connection_error"
	ErrorClassCircuitOpen     = "circuit_open"
	ErrorClassOtherError      = "other_error"
)

// ClassifyError maps a call error to a bounded-cardinality class.
func ClassifyError(err error) string {
	if err == nil {
		return ErrorClassNone
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return ErrorClassCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrorClassTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "dial"):
		return ErrorClassConnectionError
	default:
		return ErrorClassOtherError
	}
}
