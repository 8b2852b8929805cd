package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/session"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// ErrStrategyInactive rejects starting a disabled strategy.
var ErrStrategyInactive = errors.New("strategy is not active")

// Flusher drains buffered audit entries so queries see them.
type Flusher interface {
	Flush() error
}

// Impl implements Service on top of the registry, the admission controller
// and the database.
type Impl struct {
	registry  *session.Registry
	admission *admission.Controller
	db        *db.Database
	audit     Flusher

	meta SystemStatus
}

// Config holds the collaborators of Impl.
type Config struct {
	Registry  *session.Registry
	Admission *admission.Controller
	DB        *db.Database
	Audit     Flusher
	Meta      SystemStatus
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	meta := cfg.Meta
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}
	return &Impl{
		registry:  cfg.Registry,
		admission: cfg.Admission,
		db:        cfg.DB,
		audit:     cfg.Audit,
		meta:      meta,
	}
}

var _ Service = (*Impl)(nil)

// --- Session commands ---

func (e *Impl) StartSession(ctx context.Context, req StartRequest) (*session.Snapshot, error) {
	var cfg session.Config
	switch {
	case req.StrategyID != "":
		st, err := e.db.GetStrategy(ctx, req.StrategyID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: strategy %s", session.ErrNotFound, req.StrategyID)
			}
			return nil, fmt.Errorf("load strategy: %w", err)
		}
		if !st.IsActive {
			return nil, fmt.Errorf("%w: %w: %s", session.ErrInvalidConfiguration, ErrStrategyInactive, st.ID)
		}
		cfg, err = session.ConfigFromStrategy(*st)
		if err != nil {
			return nil, err
		}
	case req.Config != nil:
		cfg = *req.Config
	default:
		return nil, fmt.Errorf("%w: strategy_id or config is required", session.ErrInvalidConfiguration)
	}

	snap, err := e.registry.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.WithComponent("engine").WithFields(logger.Fields{
		"session": snap.ID, "account": snap.AccountID, "strategy": snap.StrategyID,
	}).Info("session started")
	return &snap, nil
}

func (e *Impl) PauseSession(ctx context.Context, id string) (*session.Snapshot, error) {
	snap, err := e.registry.Pause(ctx, id)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (e *Impl) ResumeSession(ctx context.Context, id string) (*session.Snapshot, error) {
	snap, err := e.registry.Resume(ctx, id)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (e *Impl) StopSession(ctx context.Context, id string) error {
	return e.registry.Stop(ctx, id)
}

func (e *Impl) EmergencyStopAll(ctx context.Context) (*EmergencyStopResult, error) {
	n, err := e.registry.EmergencyStopAll(ctx)
	res := &EmergencyStopResult{Stopped: n}
	if err != nil {
		res.Failures = strings.Split(err.Error(), "\n")
	}
	return res, nil
}

// --- Session queries ---

// GetStatus prefers the live registry and falls back to the persisted
// snapshot for sessions of earlier runs.
func (e *Impl) GetStatus(ctx context.Context, id string) (*session.Snapshot, error) {
	snap, err := e.registry.Status(id)
	if err == nil {
		return &snap, nil
	}
	if !errors.Is(err, session.ErrNotFound) || e.db == nil {
		return nil, err
	}

	rec, dbErr := e.db.GetSession(ctx, id)
	if dbErr != nil {
		if errors.Is(dbErr, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", dbErr)
	}
	positions, dbErr := e.db.ListSessionPositions(ctx, id)
	if dbErr != nil {
		return nil, fmt.Errorf("load session positions: %w", dbErr)
	}
	out := snapshotFromRecord(*rec, positions)
	return &out, nil
}

func (e *Impl) ListSessions(ctx context.Context) ([]session.Snapshot, error) {
	return e.registry.List(), nil
}

func (e *Impl) ListAccountSessions(ctx context.Context, accountID string, limit int) ([]SessionRecord, error) {
	rows, err := e.db.Queries().ListSessionsByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SessionRecord, 0, len(rows))
	for _, r := range rows {
		rec := SessionRecord{
			ID:                r.ID,
			AccountID:         r.AccountID,
			StrategyID:        r.StrategyID,
			Segment:           r.Segment,
			Status:            r.Status,
			ConsecutiveErrors: r.ConsecutiveErrors,
			LastError:         r.LastError,
			RealizedPnL:       r.RealizedPnL,
			StartedAt:         r.StartedAt,
		}
		if r.StoppedAt.Valid {
			t := r.StoppedAt.Time
			rec.StoppedAt = &t
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Impl) ListAudit(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	if e.audit != nil {
		if err := e.audit.Flush(); err != nil {
			logger.WithComponent("engine").WithError(err).Warn("audit flush before query failed")
		}
	}
	rows, err := e.db.Queries().ListAuditBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditEntry{
			ID:        r.ID,
			SessionID: r.SessionID,
			Code:      r.Code,
			Side:      r.Side,
			Qty:       r.Qty,
			Price:     r.Price,
			Outcome:   r.Outcome,
			OrderRef:  r.OrderRef,
			Message:   r.Message,
			Strength:  r.Strength,
			Reasons:   r.Reasons,
			Sources:   r.Sources,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// --- Strategies ---

func (e *Impl) ListStrategies(ctx context.Context) ([]StrategyInfo, error) {
	rows, err := e.db.ListStrategies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StrategyInfo, 0, len(rows))
	for _, s := range rows {
		out = append(out, StrategyInfo{
			ID:                  s.ID,
			Name:                s.Name,
			AccountID:           s.AccountID,
			Segment:             s.Segment,
			Kinds:               s.Kinds,
			Params:              s.Params,
			Instruments:         s.Instruments,
			TotalCapital:        s.TotalCapital,
			StopLossPercent:     s.StopLossPercent,
			TakeProfitPercent:   s.TakeProfitPercent,
			PollIntervalSeconds: s.PollIntervalSeconds,
			IsActive:            s.IsActive,
			UpdatedAt:           s.UpdatedAt,
		})
	}
	return out, nil
}

// --- Market ---

func (e *Impl) MarketStatus(ctx context.Context, segment broker.Segment) admission.MarketStatus {
	return e.admission.Status(ctx, segment)
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	st := e.meta
	st.ActiveSessions = e.registry.Len()
	st.Uptime = time.Since(st.StartedAt).Round(time.Second).String()
	return &st
}

func snapshotFromRecord(rec db.SessionRecord, rows []db.SessionPosition) session.Snapshot {
	snap := session.Snapshot{
		ID:                rec.ID,
		AccountID:         rec.AccountID,
		StrategyID:        rec.StrategyID,
		Segment:           broker.Segment(rec.Segment),
		Status:            session.Status(rec.Status),
		ConsecutiveErrors: rec.ConsecutiveErrors,
		LastError:         rec.LastError,
		StartedAt:         rec.StartedAt,
		RealizedPnL:       rec.RealizedPnL,
	}
	if rec.StrategyKinds != "" {
		snap.StrategyKinds = strings.Split(rec.StrategyKinds, ",")
	}
	if rec.StoppedAt.Valid {
		t := rec.StoppedAt.Time
		snap.StoppedAt = &t
	}
	for _, p := range rows {
		snap.Positions = append(snap.Positions, ledger.Position{
			Code:           p.Code,
			Quantity:       p.Qty,
			AverageCost:    p.AvgCost,
			LastKnownPrice: p.LastPrice,
			RealizedPnL:    p.RealizedPnL,
		})
	}
	return snap
}
