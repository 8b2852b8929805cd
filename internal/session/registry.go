package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autotrade-core/internal/order"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logger"
)

// Registry owns every session of the process. Its lock only guards map
// access; no session work runs while it is held.
type Registry struct {
	deps Deps

	mu        sync.RWMutex
	active    map[string]*Session // session id -> session
	byAccount map[string]string   // account id -> session id
	history   map[string]Snapshot
	order     []string // history ids, oldest first

	observers observers
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	deps.withDefaults()
	return &Registry{
		deps:      deps,
		active:    make(map[string]*Session),
		byAccount: make(map[string]string),
		history:   make(map[string]Snapshot),
	}
}

// Subscribe registers an observer of session events and returns its cancel func.
func (r *Registry) Subscribe(fn Observer) func() {
	return r.observers.add(fn)
}

// Start validates cfg, stops any active session of the same account, syncs
// positions, runs the initial allocation pass and launches the loop.
func (r *Registry) Start(ctx context.Context, cfg Config) (Snapshot, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = r.deps.DefaultPollInterval
	}
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}
	evaluator, err := strategy.BuildAll(cfg.StrategyKinds, cfg.StrategyParams)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if prev := r.activeForAccount(cfg.AccountID); prev != "" {
		logger.WithComponent("registry").WithFields(logger.Fields{
			"account": cfg.AccountID, "previous": prev,
		}).Info("stopping previous session of account")
		if err := r.Stop(ctx, prev); err != nil && !errors.Is(err, ErrNotFound) {
			return Snapshot{}, fmt.Errorf("stop previous session %s: %w", prev, err)
		}
	}

	s := newSession(cfg, &r.deps, evaluator, r.observers.emit, r.release)
	if err := r.register(s); err != nil {
		return Snapshot{}, err
	}

	if err := s.persist(ctx); err != nil {
		r.unregister(s)
		return Snapshot{}, fmt.Errorf("persist new session: %w", err)
	}
	s.emit(Event{Type: EventStatusChanged, Status: StatusStarting})

	if err := r.bootstrap(ctx, s); err != nil {
		s.finish(ctx)
		return s.Snapshot(), err
	}

	if err := s.transition(ctx, StatusRunning, "", false); err != nil {
		// stopped while starting
		s.finish(ctx)
		return s.Snapshot(), err
	}
	go s.run()
	return s.Snapshot(), nil
}

// bootstrap performs the initial position sync and purchase pass.
func (r *Registry) bootstrap(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, r.deps.TickTimeout)
	defer cancel()

	gw, err := r.deps.Gateways.Get(ctx, s.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	s.executor = order.NewExecutor(gw, s.book, r.deps.Cooldown, r.deps.Audit, r.deps.Metrics)
	s.executor.Now = r.deps.Now

	if err := s.syncPositions(ctx, gw); err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		return err
	}
	s.initialPurchase(ctx, gw)
	s.persistPositions(ctx)
	return nil
}

func (r *Registry) register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAccount[s.cfg.AccountID]; ok {
		return fmt.Errorf("%w: account %s already has session %s", ErrInvalidTransition, s.cfg.AccountID, id)
	}
	if _, ok := r.active[s.cfg.SessionID]; ok {
		return fmt.Errorf("%w: session %s already exists", ErrInvalidConfiguration, s.cfg.SessionID)
	}
	r.active[s.cfg.SessionID] = s
	r.byAccount[s.cfg.AccountID] = s.cfg.SessionID
	r.deps.Metrics.SetActiveSessions(len(r.active))
	return nil
}

func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, s.cfg.SessionID)
	delete(r.byAccount, s.cfg.AccountID)
	r.deps.Metrics.SetActiveSessions(len(r.active))
}

// release moves a finished session from the active map into the bounded history.
func (r *Registry) release(s *Session) {
	snap := s.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[s.cfg.SessionID]; ok && cur == s {
		delete(r.active, s.cfg.SessionID)
	}
	if id, ok := r.byAccount[s.cfg.AccountID]; ok && id == s.cfg.SessionID {
		delete(r.byAccount, s.cfg.AccountID)
	}
	if _, ok := r.history[snap.ID]; !ok {
		r.order = append(r.order, snap.ID)
	}
	r.history[snap.ID] = snap
	for len(r.order) > r.deps.HistoryLimit {
		delete(r.history, r.order[0])
		r.order = r.order[1:]
	}
	r.deps.Metrics.SetActiveSessions(len(r.active))
}

func (r *Registry) get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[id]
}

func (r *Registry) activeForAccount(accountID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAccount[accountID]
}

// Pause stops order submission; the loop keeps refreshing prices and positions.
func (r *Registry) Pause(ctx context.Context, id string) (Snapshot, error) {
	s := r.get(id)
	if s == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.transition(ctx, StatusPaused, "", true); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// Resume re-enables order submission of a paused session.
func (r *Registry) Resume(ctx context.Context, id string) (Snapshot, error) {
	s := r.get(id)
	if s == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.transition(ctx, StatusRunning, "", true); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// Stop ends a session after its current tick completes and waits until the
// final state is persisted. Stopping an already stopped session is a no-op.
func (r *Registry) Stop(ctx context.Context, id string) error {
	s := r.get(id)
	if s == nil {
		r.mu.RLock()
		_, known := r.history[id]
		r.mu.RUnlock()
		if known {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.requestStop(ctx)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", id, ctx.Err())
	}
}

// EmergencyStopAll stops every session concurrently. Broker cancellation is
// best effort; every session ends STOPPED locally even when its stop fails.
// The returned error joins the individual failures.
func (r *Registry) EmergencyStopAll(ctx context.Context) (int, error) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	log := logger.WithComponent("registry")
	log.WithField("sessions", len(sessions)).Warn("emergency stop of all sessions")

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := r.cancelOpenOrders(gctx, s.cfg.AccountID); err != nil {
				log.WithError(err).WithField("session", s.ID()).Warn("broker cancellation failed")
				record(fmt.Errorf("cancel orders of %s: %w", s.cfg.AccountID, err))
			}
			if err := r.Stop(gctx, s.ID()); err != nil {
				log.WithError(err).WithField("session", s.ID()).Error("stop failed, forcing local stop")
				record(err)
				s.forceStopped(context.Background(), "emergency stop: "+err.Error())
			}
			// failures are collected, never returned, so one session cannot abort the sweep
			return nil
		})
	}
	_ = g.Wait()
	return len(sessions), errors.Join(errs...)
}

func (r *Registry) cancelOpenOrders(ctx context.Context, accountID string) error {
	gw, err := r.deps.Gateways.Get(ctx, accountID)
	if err != nil {
		return err
	}
	c, ok := gw.(broker.Canceler)
	if !ok {
		return nil
	}
	return c.CancelOpenOrders(ctx, accountID)
}

// Status returns the last-known snapshot of an active or recently stopped session.
func (r *Registry) Status(id string) (Snapshot, error) {
	if s := r.get(id); s != nil {
		return s.Snapshot(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if snap, ok := r.history[id]; ok {
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns snapshots of all active sessions ordered by start time.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
