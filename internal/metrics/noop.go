package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                               {}
func (n *NoopSink) TickCompleted(d time.Duration, processed, delivered, failed int, err error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                                              {}
func (n *NoopSink) PipelinesInFlightIncr()                                                     {}
func (n *NoopSink) PipelinesInFlightDecr()                                                     {}
func (n *NoopSink) PipelineOutcome(channel, outcome string)                                    {}
func (n *NoopSink) LedgerConflict()                                                            {}
func (n *NoopSink) ProviderFetch(provider, outcome string, d time.Duration)                    {}
func (n *NoopSink) NarrativeProduced(source, reason string)                                    {}
func (n *NoopSink) SendCompleted(channel, errorClass string, d time.Duration)                  {}
func (n *NoopSink) UndeliveredFailuresUpdate(count int)                                        {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                          {}
func (n *NoopSink) LeaderAcquired()                                                            {}
func (n *NoopSink) LeaderLost(reason string)                                                   {}

var _ Sink = (*NoopSink)(nil)
