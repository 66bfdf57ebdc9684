package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, nil)
	return sink, reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labels == nil || matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, reg, name, labels)
	if m == nil || m.GetCounter() == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	m := findMetric(t, reg, name, nil)
	if m == nil || m.GetGauge() == nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	_, reg := newTestSink(t)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	// Vec collectors only appear once a label set is observed.
	assert.NotEmpty(t, mfs)
}

func TestPrometheusSink_TickCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickCompleted(time.Second, 3, 2, 1, nil)
	sink.TickStarted()
	sink.TickCompleted(time.Second, 0, 0, 0, errors.New("load failed"))

	assert.Equal(t, 2.0, getCounterValue(t, reg, "briefd_scheduler_ticks_total", nil))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_scheduler_tick_errors_total", nil))
	assert.Equal(t, 3.0, getCounterValue(t, reg, "briefd_scheduler_users_processed_total", nil))
}

func TestPrometheusSink_PipelineOutcomeLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PipelineOutcome("slack", "delivered")
	sink.PipelineOutcome("slack", "delivered")
	sink.PipelineOutcome("sms", "failed")

	assert.Equal(t, 2.0, getCounterValue(t, reg, "briefd_pipeline_outcomes_total",
		map[string]string{"channel": "slack", "outcome": "delivered"}))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_pipeline_outcomes_total",
		map[string]string{"channel": "sms", "outcome": "failed"}))
}

func TestPrometheusSink_SendAndProviderLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SendCompleted("telegram", ErrorClassTimeout, 2*time.Second)
	sink.ProviderFetch("calendar", FetchDegraded, 100*time.Millisecond)
	sink.NarrativeProduced("fallback", "timeout")

	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_dispatcher_sends_total",
		map[string]string{"channel": "telegram", "error_class": "timeout"}))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_provider_fetches_total",
		map[string]string{"provider": "calendar", "outcome": "degraded"}))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_narrative_total",
		map[string]string{"source": "fallback", "reason": "timeout"}))
}

func TestPrometheusSink_Gauges(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PipelinesInFlightIncr()
	sink.PipelinesInFlightIncr()
	sink.PipelinesInFlightDecr()
	sink.UndeliveredFailuresUpdate(4)
	sink.LedgerConflict()

	assert.Equal(t, 1.0, getGaugeValue(t, reg, "briefd_pipeline_in_flight"))
	assert.Equal(t, 4.0, getGaugeValue(t, reg, "briefd_ledger_undelivered_failures"))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_ledger_conflicts_total", nil))
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, nil)

	assert.NotPanics(t, func() {
		sink := NewPrometheusSink(reg, nil)
		sink.TickStarted()
	})
}

func TestPrometheusSink_Leader(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	assert.Equal(t, 1.0, getGaugeValue(t, reg, "briefd_leader_is_leader"))

	sink.LeaderStatusChanged(false)
	sink.LeaderLost("conn_lost")

	assert.Equal(t, 0.0, getGaugeValue(t, reg, "briefd_leader_is_leader"))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_leader_acquired_total", nil))
	assert.Equal(t, 1.0, getCounterValue(t, reg, "briefd_leader_lost_total",
		map[string]string{"reason": "conn_lost"}))
}
