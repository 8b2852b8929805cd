// Package engine is the admin facade over the session registry. The API layer
// only talks to the core through Service.
package engine

import (
	"context"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/session"
	"autotrade-core/pkg/broker"
)

// Service defines the admin operations of the trading engine.
type Service interface {
	// Session commands
	StartSession(ctx context.Context, req StartRequest) (*session.Snapshot, error)
	PauseSession(ctx context.Context, id string) (*session.Snapshot, error)
	ResumeSession(ctx context.Context, id string) (*session.Snapshot, error)
	StopSession(ctx context.Context, id string) error
	EmergencyStopAll(ctx context.Context) (*EmergencyStopResult, error)

	// Session queries
	GetStatus(ctx context.Context, id string) (*session.Snapshot, error)
	ListSessions(ctx context.Context) ([]session.Snapshot, error)
	ListAccountSessions(ctx context.Context, accountID string, limit int) ([]SessionRecord, error)
	ListAudit(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error)

	// Strategies
	ListStrategies(ctx context.Context) ([]StrategyInfo, error)

	// Market
	MarketStatus(ctx context.Context, segment broker.Segment) admission.MarketStatus

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
