package order

import (
	"time"

	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
)

// Outcome is the audited result of one order attempt.
type Outcome string

const (
	OutcomeConfirmed       Outcome = "CONFIRMED"
	OutcomeRejected        Outcome = "REJECTED"
	OutcomeFailed          Outcome = "FAILED"
	OutcomeSkippedCooldown Outcome = "SKIPPED_COOLDOWN"
)

// Intent is a sized order the session wants to place.
type Intent struct {
	SessionID string
	AccountID string
	Code      string
	Side      broker.Side
	Qty       float64
	// Price is the quote the size was computed from; market orders leave it out of the request.
	Price float64
	// Forced exits (stop-loss, take-profit) bypass the cooldown.
	Forced   bool
	Strength float64
	Reasons  []string
	Sources  []string
}

// Result describes what happened to an Intent.
type Result struct {
	Outcome   Outcome
	OrderRef  string
	FilledQty float64
	FillPrice float64
	Message   string
	Position  ledger.Position
	Latency   time.Duration
}

// AuditSink receives one immutable entry per attempt. Implementations must not block.
type AuditSink interface {
	Record(entry db.AuditEntry)
}

// MetricsRecorder observes order attempts.
type MetricsRecorder interface {
	ObserveOrder(outcome string, latency time.Duration)
}
