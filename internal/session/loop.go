package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/indicators"
	"autotrade-core/internal/order"
	"autotrade-core/internal/risk"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// tickResult summarizes one evaluation cycle.
type tickResult struct {
	gatewayFailures int
	timedOut        bool
	orders          int
	firstErr        error
}

func (r *tickResult) fail(err error) {
	r.gatewayFailures++
	if r.firstErr == nil {
		r.firstErr = err
	}
}

func (r tickResult) failed() bool {
	return r.gatewayFailures > 0 || r.timedOut
}

func (r tickResult) err() error {
	if r.timedOut {
		return ErrTickTimeout
	}
	return r.firstErr
}

// run is the session's only evaluation goroutine. Ticks never overlap; a stop
// request is honored between ticks so the current one always completes.
func (s *Session) run() {
	ctx := context.Background()
	defer s.finish(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		select {
		case <-s.stopCh:
			return
		default:
		}
		if fatal := s.runTick(ctx); fatal {
			return
		}
	}
}

// runTick evaluates one tick and applies the failure policy. It reports true
// when the session escalated to ERROR and must stop.
func (s *Session) runTick(ctx context.Context) bool {
	start := s.deps.Now()
	res := s.tick(ctx)
	s.deps.Metrics.ObserveTick(s.deps.Now().Sub(start), res.failed())

	s.mu.Lock()
	s.lastEvaluationAt = s.deps.Now()
	if res.failed() {
		s.consecutiveErrors++
		s.lastError = res.err().Error()
	} else {
		s.consecutiveErrors = 0
	}
	count := s.consecutiveErrors
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.log.WithError(err).Warn("persist tick snapshot failed")
	}
	s.emit(Event{Type: EventTick, Status: s.Status(), Message: fmt.Sprintf("orders=%d failures=%d", res.orders, res.gatewayFailures)})

	if !res.failed() {
		return false
	}
	s.log.WithError(res.err()).WithField("consecutive_errors", count).Warn("tick failed")
	if count < s.deps.MaxConsecutiveErrors {
		return false
	}
	reason := fmt.Sprintf("%d consecutive tick failures: %v", count, res.err())
	if err := s.transition(ctx, StatusError, reason, false); err != nil {
		s.log.WithError(err).Error("escalate to ERROR")
	}
	return true
}

// tick refreshes positions and prices and, while RUNNING, acts on risk exits
// and signals for each instrument. Per-instrument failures never abort the tick.
func (s *Session) tick(parent context.Context) tickResult {
	ctx, cancel := context.WithTimeout(parent, s.deps.TickTimeout)
	defer cancel()

	var res tickResult
	gw, err := s.deps.Gateways.Get(ctx, s.cfg.AccountID)
	if err != nil {
		res.fail(fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
		return res
	}
	s.executor = order.NewExecutor(gw, s.book, s.deps.Cooldown, s.deps.Audit, s.deps.Metrics)
	s.executor.Now = s.deps.Now

	if err := s.syncPositions(ctx, gw); err != nil {
		res.fail(err)
	}

	for _, inst := range s.cfg.Instruments {
		if ctx.Err() != nil {
			break
		}
		if err := s.evaluateInstrument(ctx, gw, inst, &res); err != nil {
			s.log.WithError(err).WithField("code", inst.Code).Warn("instrument skipped")
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.timedOut = true
	}
	s.persistPositions(parent)
	return res
}

func (s *Session) syncPositions(ctx context.Context, gw broker.Gateway) error {
	holdings, err := gw.Positions(ctx, s.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("%w: positions: %v", ErrGatewayUnavailable, err)
	}
	for _, d := range s.book.Sync(s.cfg.Codes(), holdings) {
		entry := s.log.WithFields(logger.Fields{
			"code": d.Code, "book_qty": d.BookQty, "broker_qty": d.BrokerQty,
		})
		if d.NoCostBasis {
			entry.Warn("broker holding has no cost basis, stop-loss and take-profit inactive")
			continue
		}
		entry.Info("position adjusted to broker")
	}
	return nil
}

func (s *Session) evaluateInstrument(ctx context.Context, gw broker.Gateway, inst db.InstrumentAllocation, res *tickResult) error {
	price, err := gw.CurrentPrice(ctx, inst.Code)
	if err != nil {
		err = fmt.Errorf("%w: price %s: %v", ErrGatewayUnavailable, inst.Code, err)
		res.fail(err)
		return err
	}
	s.book.MarkPrice(inst.Code, price)

	if !s.canTrade() {
		return nil
	}
	if _, err := s.deps.Admission.Admit(ctx, s.cfg.Segment); err != nil {
		if errors.Is(err, admission.ErrAdmissionDenied) {
			return nil
		}
		return err
	}

	pos, _ := s.book.Position(inst.Code)
	if d := s.guard.Check(pos, price); d != nil {
		return s.forceExit(ctx, *d, res)
	}

	points, err := gw.PriceHistory(ctx, inst.Code, s.deps.HistoryDays)
	if err != nil {
		err = fmt.Errorf("%w: history %s: %v", ErrGatewayUnavailable, inst.Code, err)
		res.fail(err)
		return err
	}
	closes := broker.Closes(points)
	s.recordIndicators(inst.Code, closes)
	sig, err := s.evaluator.Evaluate(closes, price)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", inst.Code, err)
	}
	s.deps.Metrics.IncrementSignals()
	s.log.WithFields(logger.Fields{
		"code": inst.Code, "direction": sig.Direction, "strength": math.Round(sig.Strength*100) / 100,
	}).Debug("signal evaluated")

	if !sig.Actionable() {
		return nil
	}
	return s.act(ctx, inst, price, sig, res)
}

// recordIndicators keeps the latest indicator snapshot for code. Indicator
// failures never fail the tick.
func (s *Session) recordIndicators(code string, closes []float64) {
	snap, err := s.deps.Indicators.Snapshot(closes)
	if err != nil {
		s.log.WithError(err).WithField("code", code).Warn("indicator snapshot failed")
		return
	}
	if len(snap.Missing) > 0 {
		s.log.WithFields(logger.Fields{
			"code": code, "unavailable": snap.Missing, "points": len(closes),
		}).Debug("indicators unavailable")
	}
	s.mu.Lock()
	if s.indicators == nil {
		s.indicators = make(map[string]indicators.Snapshot)
	}
	s.indicators[code] = snap
	s.mu.Unlock()
}

func (s *Session) act(ctx context.Context, inst db.InstrumentAllocation, price float64, sig strategy.Signal, res *tickResult) error {
	var in order.Intent
	switch sig.Direction {
	case strategy.Buy:
		qty := order.BuyQuantity(s.cfg.TotalCapital, inst.AllocationPercent, order.StrengthMultiplier(sig.Strength), price, s.availableCash())
		if qty <= 0 {
			return nil
		}
		in = s.intent(inst.Code, broker.SideBuy, qty, price, sig)
	case strategy.Sell:
		pos, _ := s.book.Position(inst.Code)
		qty := order.SellQuantity(pos.Quantity, sig.Strength)
		if qty <= 0 {
			return nil
		}
		in = s.intent(inst.Code, broker.SideSell, qty, price, sig)
	default:
		return nil
	}
	return s.submit(ctx, in, res)
}

func (s *Session) forceExit(ctx context.Context, d risk.Decision, res *tickResult) error {
	s.deps.Metrics.IncrementRiskExits()
	s.log.WithFields(logger.Fields{
		"code": d.Code, "trigger": d.Trigger, "change_percent": d.ChangePercent,
	}).Warn(d.Err().Error())
	s.emit(Event{Type: EventRiskExit, Code: d.Code, Message: d.Reason})

	in := order.Intent{
		SessionID: s.cfg.SessionID,
		AccountID: s.cfg.AccountID,
		Code:      d.Code,
		Side:      broker.SideSell,
		Qty:       d.Quantity,
		Price:     d.Price,
		Forced:    true,
		Strength:  -100,
		Reasons:   []string{d.Err().Error()},
		Sources:   []string{string(d.Trigger)},
	}
	err := s.submit(ctx, in, res)
	if err == nil {
		s.guard.Reset(d.Code)
	}
	return err
}

func (s *Session) intent(code string, side broker.Side, qty, price float64, sig strategy.Signal) order.Intent {
	return order.Intent{
		SessionID: s.cfg.SessionID,
		AccountID: s.cfg.AccountID,
		Code:      code,
		Side:      side,
		Qty:       qty,
		Price:     price,
		Strength:  sig.Strength,
		Reasons:   sig.Reasons,
		Sources:   sig.Sources,
	}
}

func (s *Session) submit(ctx context.Context, in order.Intent, res *tickResult) error {
	if !s.canTrade() {
		return nil
	}
	out, err := s.executor.Execute(ctx, in)
	if err != nil {
		res.fail(err)
		return err
	}
	if out.Outcome == order.OutcomeConfirmed {
		res.orders++
	}
	s.emit(Event{Type: EventOrder, Code: in.Code, Message: fmt.Sprintf("%s %s %.0f: %s", in.Side, in.Code, in.Qty, out.Outcome)})
	return nil
}

// availableCash is the capital not tied up at cost in open positions, plus
// realized gains.
func (s *Session) availableCash() float64 {
	cash := s.cfg.TotalCapital - s.book.CostBasis() + s.book.RealizedPnL()
	if cash < 0 {
		return 0
	}
	return cash
}

// initialPurchase buys each flat instrument at its plain allocation once the
// session starts. Closed markets and gateway failures skip the instrument.
func (s *Session) initialPurchase(ctx context.Context, gw broker.Gateway) {
	if _, err := s.deps.Admission.Admit(ctx, s.cfg.Segment); err != nil {
		s.log.WithError(err).Info("initial purchase skipped")
		return
	}
	for _, inst := range s.cfg.Instruments {
		if ctx.Err() != nil {
			return
		}
		if pos, _ := s.book.Position(inst.Code); pos.Quantity > 0 {
			continue
		}
		price, err := gw.CurrentPrice(ctx, inst.Code)
		if err != nil {
			s.log.WithError(err).WithField("code", inst.Code).Warn("initial purchase: no price")
			continue
		}
		s.book.MarkPrice(inst.Code, price)
		qty := order.BuyQuantity(s.cfg.TotalCapital, inst.AllocationPercent, 1.0, price, s.availableCash())
		if qty <= 0 {
			continue
		}
		out, err := s.executor.Execute(ctx, order.Intent{
			SessionID: s.cfg.SessionID,
			AccountID: s.cfg.AccountID,
			Code:      inst.Code,
			Side:      broker.SideBuy,
			Qty:       qty,
			Price:     price,
			Reasons:   []string{fmt.Sprintf("initial allocation %.2f%%", inst.AllocationPercent)},
			Sources:   []string{"allocation"},
		})
		if err != nil {
			s.log.WithError(err).WithField("code", inst.Code).Warn("initial purchase failed")
			continue
		}
		s.log.WithFields(logger.Fields{"code": inst.Code, "qty": qty, "outcome": out.Outcome}).Info("initial purchase")
	}
}
