package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopSink_AllMethods(t *testing.T) {
	sink := NewNoopSink()

	assert.NotPanics(t, func() {
		sink.TickStarted()
		sink.TickCompleted(time.Second, 1, 1, 0, errors.New("x"))
		sink.TickDrift(time.Millisecond)
		sink.PipelinesInFlightIncr()
		sink.PipelinesInFlightDecr()
		sink.PipelineOutcome("slack", "delivered")
		sink.LedgerConflict()
		sink.ProviderFetch("calendar", FetchOK, time.Millisecond)
		sink.NarrativeProduced("generated", "")
		sink.SendCompleted("sms", ErrorClassNone, time.Millisecond)
		sink.UndeliveredFailuresUpdate(0)
		sink.LeaderStatusChanged(true)
		sink.LeaderAcquired()
		sink.LeaderLost("shutdown")
	})
}
