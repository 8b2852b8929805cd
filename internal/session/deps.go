package session

import (
	"context"
	"time"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/indicators"
	"autotrade-core/internal/order"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
)

// GatewayPool hands out the gateway of an account.
type GatewayPool interface {
	Get(ctx context.Context, accountID string) (broker.Gateway, error)
}

// Admitter gates order submission per market segment.
type Admitter interface {
	Admit(ctx context.Context, segment broker.Segment) (admission.MarketStatus, error)
}

// Store persists status snapshots and ledger lines. *db.Database satisfies it.
type Store interface {
	SaveSession(ctx context.Context, rec db.SessionRecord) error
	ReplaceSessionPositions(ctx context.Context, sessionID string, positions []db.SessionPosition) error
}

// Metrics observes session activity.
type Metrics interface {
	order.MetricsRecorder
	ObserveTick(latency time.Duration, failed bool)
	IncrementSignals()
	IncrementRiskExits()
	SetActiveSessions(n int)
}

// Deps are the collaborators shared by every session of a Registry.
type Deps struct {
	Gateways  GatewayPool
	Admission Admitter
	Store     Store
	Audit     order.AuditSink
	Metrics   Metrics
	Cooldown  *order.Cooldown
	Now       func() time.Time

	// Indicators computes the per-tick snapshot exposed in session status.
	Indicators *indicators.Engine

	TickTimeout          time.Duration
	DefaultPollInterval  time.Duration
	MaxConsecutiveErrors int
	HistoryDays          int
	// HistoryLimit bounds how many stopped sessions stay queryable in memory.
	HistoryLimit int
}

func (d *Deps) withDefaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TickTimeout <= 0 {
		d.TickTimeout = 30 * time.Second
	}
	if d.DefaultPollInterval <= 0 {
		d.DefaultPollInterval = time.Minute
	}
	if d.MaxConsecutiveErrors <= 0 {
		d.MaxConsecutiveErrors = 3
	}
	if d.HistoryDays <= 0 {
		d.HistoryDays = 60
	}
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 256
	}
	if d.Cooldown == nil {
		d.Cooldown = order.NewCooldown(order.DefaultCooldown, d.Now)
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Indicators == nil {
		d.Indicators = indicators.NewEngine(indicators.DefaultSettings())
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveOrder(string, time.Duration)  {}
func (noopMetrics) ObserveTick(time.Duration, bool)     {}
func (noopMetrics) IncrementSignals()                   {}
func (noopMetrics) IncrementRiskExits()                 {}
func (noopMetrics) SetActiveSessions(int)               {}
