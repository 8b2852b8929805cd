package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"autotrade-core/internal/indicators"
	"autotrade-core/internal/ledger"
	"autotrade-core/internal/order"
	"autotrade-core/internal/risk"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// Snapshot is the last-known state of a session as returned by status queries.
type Snapshot struct {
	ID                string                    `json:"id"`
	AccountID         string                    `json:"account_id"`
	StrategyID        string                    `json:"strategy_id,omitempty"`
	Segment           broker.Segment            `json:"segment"`
	StrategyKinds     []string                  `json:"strategy_kinds"`
	Instruments       []db.InstrumentAllocation `json:"instruments"`
	Status            Status                    `json:"status"`
	ConsecutiveErrors int                       `json:"consecutive_errors"`
	LastEvaluationAt  time.Time                 `json:"last_evaluation_at,omitempty"`
	LastError         string                    `json:"last_error,omitempty"`
	StartedAt         time.Time                 `json:"started_at"`
	StoppedAt         *time.Time                `json:"stopped_at,omitempty"`
	Positions         []ledger.Position         `json:"positions"`
	RealizedPnL       float64                   `json:"realized_pnl"`

	// Indicators is the last snapshot computed per instrument code.
	Indicators map[string]indicators.Snapshot `json:"indicators,omitempty"`
}

// Session is one running strategy for one account. Only its own loop
// goroutine evaluates ticks; status requests go through the Registry.
type Session struct {
	cfg       Config
	deps      *Deps
	evaluator strategy.Evaluator
	book      *ledger.Ledger
	guard     *risk.Guard
	executor  *order.Executor
	notify    func(Event)
	log       *logrus.Entry

	mu                sync.RWMutex
	status            Status
	consecutiveErrors int
	lastEvaluationAt  time.Time
	lastError         string
	startedAt         time.Time
	stoppedAt         time.Time
	indicators        map[string]indicators.Snapshot

	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	finishOne sync.Once
	onFinish  func(*Session)
}

func newSession(cfg Config, deps *Deps, evaluator strategy.Evaluator, notify func(Event), onFinish func(*Session)) *Session {
	book := ledger.New()
	s := &Session{
		cfg:       cfg,
		deps:      deps,
		evaluator: evaluator,
		book:      book,
		guard: risk.NewGuard(risk.Limits{
			StopLossPercent:   cfg.StopLossPercent,
			TakeProfitPercent: cfg.TakeProfitPercent,
			TrailingPercent:   cfg.trailingPercent(),
		}),
		notify:    notify,
		status:    StatusStarting,
		startedAt: deps.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		onFinish:  onFinish,
		log: logger.WithComponent("session").WithFields(logger.Fields{
			"session": cfg.SessionID, "account": cfg.AccountID,
		}),
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.SessionID }

// Config returns the immutable configuration.
func (s *Session) Config() Config { return s.cfg }

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:                s.cfg.SessionID,
		AccountID:         s.cfg.AccountID,
		StrategyID:        s.cfg.StrategyID,
		Segment:           s.cfg.Segment,
		StrategyKinds:     append([]string(nil), s.cfg.StrategyKinds...),
		Instruments:       append([]db.InstrumentAllocation(nil), s.cfg.Instruments...),
		Status:            s.status,
		ConsecutiveErrors: s.consecutiveErrors,
		LastEvaluationAt:  s.lastEvaluationAt,
		LastError:         s.lastError,
		StartedAt:         s.startedAt,
		Positions:         s.book.Positions(),
		RealizedPnL:       s.book.RealizedPnL(),
	}
	if len(s.indicators) > 0 {
		snap.Indicators = make(map[string]indicators.Snapshot, len(s.indicators))
		for code, ind := range s.indicators {
			snap.Indicators[code] = ind
		}
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		snap.StoppedAt = &t
	}
	return snap
}

// canTrade is checked right before each submission so a pause or stop that
// lands mid-tick takes effect for the remaining instruments.
func (s *Session) canTrade() bool {
	return s.Status() == StatusRunning
}

// transition moves the session to `to` and persists the new snapshot. When
// persisting fails and revert is set, the previous status is restored.
func (s *Session) transition(ctx context.Context, to Status, lastErr string, revert bool) error {
	s.mu.Lock()
	from := s.status
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.status = to
	if lastErr != "" {
		s.lastError = lastErr
	}
	if to == StatusStopped {
		s.stoppedAt = s.deps.Now()
	}
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		if revert {
			s.mu.Lock()
			s.status = from
			s.mu.Unlock()
			return fmt.Errorf("persist %s: %w", to, err)
		}
		s.log.WithError(err).Errorf("persist %s failed, keeping local state", to)
	}

	s.log.WithFields(logger.Fields{"from": from, "to": to}).Info("session status changed")
	s.emit(Event{Type: EventStatusChanged, Status: to, Previous: from, Message: lastErr})
	return nil
}

func (s *Session) record() db.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := db.SessionRecord{
		ID:                s.cfg.SessionID,
		AccountID:         s.cfg.AccountID,
		StrategyID:        s.cfg.StrategyID,
		Segment:           string(s.cfg.Segment),
		StrategyKinds:     strings.Join(s.cfg.StrategyKinds, ","),
		Status:            string(s.status),
		ConsecutiveErrors: s.consecutiveErrors,
		LastError:         s.lastError,
		RealizedPnL:       s.book.RealizedPnL(),
		StartedAt:         s.startedAt,
		UpdatedAt:         s.deps.Now(),
	}
	if !s.stoppedAt.IsZero() {
		rec.StoppedAt = sql.NullTime{Time: s.stoppedAt, Valid: true}
	}
	return rec
}

func (s *Session) persist(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	return s.deps.Store.SaveSession(ctx, s.record())
}

func (s *Session) persistPositions(ctx context.Context) {
	if s.deps.Store == nil {
		return
	}
	now := s.deps.Now()
	lines := s.book.Positions()
	rows := make([]db.SessionPosition, 0, len(lines))
	for _, p := range lines {
		rows = append(rows, db.SessionPosition{
			SessionID:   s.cfg.SessionID,
			Code:        p.Code,
			Qty:         p.Quantity,
			AvgCost:     p.AverageCost,
			LastPrice:   p.LastKnownPrice,
			RealizedPnL: p.RealizedPnL,
			UpdatedAt:   now,
		})
	}
	if err := s.deps.Store.ReplaceSessionPositions(ctx, s.cfg.SessionID, rows); err != nil {
		s.log.WithError(err).Warn("persist positions failed")
	}
}

func (s *Session) emit(ev Event) {
	if s.notify == nil {
		return
	}
	ev.SessionID = s.cfg.SessionID
	ev.AccountID = s.cfg.AccountID
	if ev.At.IsZero() {
		ev.At = s.deps.Now()
	}
	s.notify(ev)
}

// requestStop moves an active or failed session to STOPPING and wakes the loop.
func (s *Session) requestStop(ctx context.Context) {
	if st := s.Status(); st != StatusStopping && st != StatusStopped {
		if err := s.transition(ctx, StatusStopping, "", false); err != nil {
			s.log.WithError(err).Debug("stop requested")
		}
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// finish completes the stop: final ledger and status are persisted, the
// registry slot is released and waiters are woken. Safe to call more than once.
func (s *Session) finish(ctx context.Context) {
	s.finishOne.Do(func() {
		if st := s.Status(); st != StatusStopping && st != StatusStopped {
			_ = s.transition(ctx, StatusStopping, "", false)
		}
		s.persistPositions(ctx)
		if s.Status() != StatusStopped {
			_ = s.transition(ctx, StatusStopped, "", false)
		}
		if s.onFinish != nil {
			s.onFinish(s)
		}
		close(s.done)
	})
}

// forceStopped marks the session STOPPED locally without waiting for its loop.
func (s *Session) forceStopped(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	from := s.status
	s.status = StatusStopped
	s.stoppedAt = s.deps.Now()
	if reason != "" {
		s.lastError = reason
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })

	if err := s.persist(ctx); err != nil {
		s.log.WithError(err).Error("persist forced stop failed")
	}
	s.emit(Event{Type: EventStatusChanged, Status: StatusStopped, Previous: from, Message: reason})
	if s.onFinish != nil {
		s.onFinish(s)
	}
}
