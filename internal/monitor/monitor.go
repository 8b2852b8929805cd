package monitor

import (
	"fmt"
	"time"

	"autotrade-core/internal/session"
	"autotrade-core/pkg/logger"
)

// Monitor turns session lifecycle notifications into operator alerts.
type Monitor struct {
	Sink AlertSink
	Now  func() time.Time
}

// New creates a monitor; a nil sink logs alerts.
func New(sink AlertSink) *Monitor {
	if sink == nil {
		sink = LogSink{}
	}
	return &Monitor{Sink: sink, Now: time.Now}
}

// SessionFailed alerts that a session escalated to ERROR.
func (m *Monitor) SessionFailed(sessionID, accountID, lastError string) {
	m.send(fmt.Sprintf("session %s (account %s) entered ERROR: %s", sessionID, accountID, lastError))
}

// RiskExit alerts that a position was force-closed.
func (m *Monitor) RiskExit(sessionID, code, reason string) {
	m.send(fmt.Sprintf("session %s forced exit of %s: %s", sessionID, code, reason))
}

func (m *Monitor) send(msg string) {
	if m.Sink == nil {
		return
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	if err := m.Sink.Send(formatAlert(now(), msg)); err != nil {
		logger.WithComponent("monitor").WithError(err).Warn("alert delivery failed")
	}
}

func formatAlert(at time.Time, msg string) string {
	return "[" + at.Format(time.RFC3339) + "] " + msg
}

// Observe alerts on session events worth paging for. Register it with the
// session registry.
func (m *Monitor) Observe(ev session.Event) {
	switch {
	case ev.Type == session.EventStatusChanged && ev.Status == session.StatusError:
		m.SessionFailed(ev.SessionID, ev.AccountID, ev.Message)
	case ev.Type == session.EventRiskExit:
		m.RiskExit(ev.SessionID, ev.Code, ev.Message)
	}
}
