package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	usersProcessed  prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram

	// Pipeline metrics
	pipelinesInFlight  prometheus.Gauge
	pipelineOutcomes   *prometheus.CounterVec
	ledgerConflicts    prometheus.Counter
	undeliveredFailure prometheus.Gauge

	// Aggregator metrics
	providerFetches  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec

	// Narrative metrics
	narratives *prometheus.CounterVec

	// Dispatcher metrics
	sends        *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec

	// Leader election metrics
	isLeader         prometheus.Gauge
	leaderAcquired   prometheus.Counter
	leaderLostTotals *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initProviderMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "briefd_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "briefd_scheduler_tick_errors_total",
		Help: "Total number of ticks that could not load preferences.",
	})
	s.usersProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "briefd_scheduler_users_processed_total",
		Help: "Total number of due users handed to the pipeline.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "briefd_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "briefd_scheduler_tick_drift_seconds",
		Help:    "Difference between actual and planned tick time in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "briefd_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "briefd_scheduler_tick_errors_total")
	s.register(reg, s.usersProcessed, "briefd_scheduler_users_processed_total")
	s.register(reg, s.tickDuration, "briefd_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "briefd_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.pipelinesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "briefd_pipeline_in_flight",
		Help: "Number of per-user pipelines currently running.",
	})
	s.pipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "briefd_pipeline_outcomes_total",
		Help: "Per-user pipeline outcomes by channel.",
	}, []string{"channel", "outcome"})
	s.ledgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "briefd_ledger_conflicts_total",
		Help: "Delivered records rejected because the day was already delivered.",
	})
	s.undeliveredFailure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "briefd_ledger_undelivered_failures",
		Help: "Users with failed attempts and no delivered briefing in the audit window.",
	})
	s.narratives = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "briefd_narrative_total",
		Help: "Narratives produced by source and fallback reason.",
	}, []string{"source", "reason"})

	s.register(reg, s.pipelinesInFlight, "briefd_pipeline_in_flight")
	s.register(reg, s.pipelineOutcomes, "briefd_pipeline_outcomes_total")
	s.register(reg, s.ledgerConflicts, "briefd_ledger_conflicts_total")
	s.register(reg, s.undeliveredFailure, "briefd_ledger_undelivered_failures")
	s.register(reg, s.narratives, "briefd_narrative_total")
}

func (s *PrometheusSink) initProviderMetrics(reg prometheus.Registerer) {
	s.providerFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "briefd_provider_fetches_total",
		Help: "Provider fetches by provider and outcome.",
	}, []string{"provider", "outcome"})
	s.providerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefd_provider_fetch_duration_seconds",
		Help:    "Provider fetch latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	s.register(reg, s.providerFetches, "briefd_provider_fetches_total")
	s.register(reg, s.providerDuration, "briefd_provider_fetch_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "briefd_dispatcher_sends_total",
		Help: "Channel sends by channel and error class.",
	}, []string{"channel", "error_class"})
	s.sendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "briefd_dispatcher_send_duration_seconds",
		Help:    "Channel transport latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	s.register(reg, s.sends, "briefd_dispatcher_sends_total")
	s.register(reg, s.sendDuration, "briefd_dispatcher_send_duration_seconds")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "briefd_leader_is_leader",
		Help: "1 while this instance holds the scheduler lock.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "briefd_leader_acquired_total",
		Help: "Times this instance acquired leadership.",
	})
	s.leaderLostTotals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "briefd_leader_lost_total",
		Help: "Times this instance lost leadership, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "briefd_leader_is_leader")
	s.register(reg, s.leaderAcquired, "briefd_leader_acquired_total")
	s.register(reg, s.leaderLostTotals, "briefd_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, processed, delivered, failed int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.usersProcessed.Add(float64(processed))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) PipelinesInFlightIncr() {
	s.pipelinesInFlight.Inc()
}

func (s *PrometheusSink) PipelinesInFlightDecr() {
	s.pipelinesInFlight.Dec()
}

func (s *PrometheusSink) PipelineOutcome(channel, outcome string) {
	s.pipelineOutcomes.WithLabelValues(channel, outcome).Inc()
}

func (s *PrometheusSink) LedgerConflict() {
	s.ledgerConflicts.Inc()
}

func (s *PrometheusSink) ProviderFetch(provider, outcome string, duration time.Duration) {
	s.providerFetches.WithLabelValues(provider, outcome).Inc()
	s.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (s *PrometheusSink) NarrativeProduced(source, reason string) {
	s.narratives.WithLabelValues(source, reason).Inc()
}

func (s *PrometheusSink) SendCompleted(channel, errorClass string, duration time.Duration) {
	s.sends.WithLabelValues(channel, errorClass).Inc()
	s.sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (s *PrometheusSink) UndeliveredFailuresUpdate(count int) {
	s.undeliveredFailure.Set(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotals.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
