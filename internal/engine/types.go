package engine

import (
	"time"

	"autotrade-core/internal/session"
	"autotrade-core/pkg/db"
)

// StartRequest starts a session from a persisted strategy or an inline config.
// StrategyID wins when both are set.
type StartRequest struct {
	StrategyID string          `json:"strategy_id"`
	Config     *session.Config `json:"config,omitempty"`
}

// StrategyInfo represents a strategy record returned by the engine.
type StrategyInfo struct {
	ID                  string                    `json:"id"`
	Name                string                    `json:"name"`
	AccountID           string                    `json:"account_id"`
	Segment             string                    `json:"segment"`
	Kinds               []string                  `json:"kinds"`
	Params              map[string]float64        `json:"params"`
	Instruments         []db.InstrumentAllocation `json:"instruments"`
	TotalCapital        float64                   `json:"total_capital"`
	StopLossPercent     float64                   `json:"stop_loss_percent"`
	TakeProfitPercent   float64                   `json:"take_profit_percent"`
	PollIntervalSeconds int                       `json:"poll_interval_seconds"`
	IsActive            bool                      `json:"is_active"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// SessionRecord is a persisted session row, including sessions of earlier runs.
type SessionRecord struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	StrategyID        string     `json:"strategy_id"`
	Segment           string     `json:"segment"`
	Status            string     `json:"status"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
	RealizedPnL       float64    `json:"realized_pnl"`
	StartedAt         time.Time  `json:"started_at"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
}

// AuditEntry is one order attempt as exposed to operators.
type AuditEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Side      string    `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Outcome   string    `json:"outcome"`
	OrderRef  string    `json:"order_ref,omitempty"`
	Message   string    `json:"message,omitempty"`
	Strength  float64   `json:"strength"`
	Reasons   []string  `json:"reasons"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

// EmergencyStopResult reports an emergency sweep.
type EmergencyStopResult struct {
	Stopped  int      `json:"stopped"`
	Failures []string `json:"failures,omitempty"`
}

// SystemStatus represents overall process status.
type SystemStatus struct {
	Version        string    `json:"version"`
	PaperTrading   bool      `json:"paper_trading"`
	ActiveSessions int       `json:"active_sessions"`
	StartedAt      time.Time `json:"started_at"`
	Uptime         string    `json:"uptime"`
}
