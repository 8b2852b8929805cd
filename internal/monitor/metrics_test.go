package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/session"
)

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{10, 20, 30, 40} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 20.0, st.Min)
	assert.Equal(t, 40.0, st.Max)
	assert.Equal(t, 30.0, st.Avg)
}

func TestLatencyHistogramPercentiles(t *testing.T) {
	h := NewLatencyHistogram(100)
	assert.Zero(t, h.Stats().Count)

	for i := 100; i >= 1; i-- {
		h.Record(float64(i))
	}
	st := h.Stats()
	assert.Equal(t, 100, st.Count)
	assert.Equal(t, 50.0, st.P50)
	assert.Equal(t, 95.0, st.P95)
	assert.Equal(t, 99.0, st.P99)

	h.RecordDuration(250 * time.Millisecond)
	assert.Equal(t, 250.0, h.Stats().Max, "cache refreshed after Record")
}

func TestSystemMetricsSnapshot(t *testing.T) {
	m := NewSystemMetrics()
	m.ObserveOrder("CONFIRMED", 5*time.Millisecond)
	m.ObserveOrder("CONFIRMED", 7*time.Millisecond)
	m.ObserveOrder("SKIPPED_COOLDOWN", 0)
	m.ObserveTick(time.Millisecond, false)
	m.ObserveTick(time.Millisecond, true)
	m.IncrementRiskExits()
	m.SetActiveSessions(2)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.Orders["CONFIRMED"])
	assert.EqualValues(t, 1, snap.Orders["SKIPPED_COOLDOWN"])
	assert.Equal(t, 2, snap.OrderLatency.Count, "skips carry no latency")
	assert.EqualValues(t, 2, snap.TicksProcessed)
	assert.EqualValues(t, 1, snap.TickFailures)
	assert.EqualValues(t, 1, snap.RiskExits)
	assert.Equal(t, 2, snap.ActiveSessions)
}

type captureSink struct{ msgs []string }

func (c *captureSink) Send(m string) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestMonitorFormatsAlerts(t *testing.T) {
	sink := &captureSink{}
	m := New(sink)
	m.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	m.SessionFailed("s1", "acct", "gateway unavailable")
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, "[2024-01-02T03:04:05Z] session s1 (account acct) entered ERROR: gateway unavailable", sink.msgs[0])
}

func TestMonitorObservesOnlyAlertableEvents(t *testing.T) {
	sink := &captureSink{}
	m := New(sink)

	m.Observe(session.Event{Type: session.EventTick, SessionID: "s1"})
	m.Observe(session.Event{Type: session.EventStatusChanged, SessionID: "s1", Status: session.StatusPaused})
	assert.Empty(t, sink.msgs)

	m.Observe(session.Event{Type: session.EventStatusChanged, SessionID: "s1", AccountID: "acct", Status: session.StatusError, Message: "tick timed out"})
	m.Observe(session.Event{Type: session.EventRiskExit, SessionID: "s1", Code: "005930", Message: "stop-loss"})
	require.Len(t, sink.msgs, 2)
	assert.Contains(t, sink.msgs[0], "entered ERROR: tick timed out")
	assert.Contains(t, sink.msgs[1], "forced exit of 005930: stop-loss")
}

func TestAPICounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementAPI()
	m.IncrementAPI()
	m.IncrementAPIErrors()
	NewTimer(m.APILatency).Stop()

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.APIRequests)
	assert.EqualValues(t, 1, snap.APIErrors)
	assert.Equal(t, 1, snap.APILatency.Count)
}
