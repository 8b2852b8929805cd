package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autotrade-core/internal/ledger"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// ErrZeroQuantity is returned for intents that size to nothing.
var ErrZeroQuantity = errors.New("order quantity is zero")

// Executor submits intents through the gateway, books confirmed fills in the
// session ledger and audits every attempt. One executor belongs to one session.
type Executor struct {
	Gateway  broker.Gateway
	Ledger   *ledger.Ledger
	Cooldown *Cooldown
	Audit    AuditSink
	Metrics  MetricsRecorder
	Now      func() time.Time
}

// NewExecutor wires an executor. audit and metrics may be nil.
func NewExecutor(gw broker.Gateway, book *ledger.Ledger, cooldown *Cooldown, audit AuditSink, metrics MetricsRecorder) *Executor {
	return &Executor{
		Gateway:  gw,
		Ledger:   book,
		Cooldown: cooldown,
		Audit:    audit,
		Metrics:  metrics,
		Now:      time.Now,
	}
}

// Execute places one order. A venue rejection or a cooldown skip is a normal
// Result; only a gateway failure is returned as an error, wrapping broker.ErrUnavailable.
func (e *Executor) Execute(ctx context.Context, in Intent) (Result, error) {
	if in.Qty <= 0 {
		return Result{}, fmt.Errorf("%w: %s %s", ErrZeroQuantity, in.Side, in.Code)
	}
	log := logger.WithComponent("order").WithFields(logger.Fields{
		"session": in.SessionID, "account": in.AccountID, "code": in.Code,
		"side": in.Side, "qty": in.Qty,
	})

	if e.Cooldown != nil {
		if in.Forced {
			e.Cooldown.Mark(in.AccountID, in.Code)
		} else if !e.Cooldown.Allow(in.AccountID, in.Code) {
			res := Result{Outcome: OutcomeSkippedCooldown, Message: fmt.Sprintf("cooldown %s active", e.Cooldown.Window())}
			log.Debug("order skipped by cooldown")
			e.audit(in, res)
			return res, nil
		}
	}

	req := broker.OrderRequest{
		AccountID: in.AccountID,
		Code:      in.Code,
		Side:      in.Side,
		Qty:       in.Qty,
		ClientRef: uuid.NewString(),
	}

	start := e.now()
	ack, err := e.Gateway.SubmitOrder(ctx, req)
	latency := e.now().Sub(start)

	if err != nil {
		res := Result{Outcome: OutcomeFailed, Message: err.Error(), Latency: latency}
		log.WithError(err).Warn("order submission failed")
		if e.Cooldown != nil && !in.Forced {
			e.Cooldown.Release(in.AccountID, in.Code)
		}
		e.audit(in, res)
		e.observe(res)
		if !errors.Is(err, broker.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
		}
		return res, err
	}

	if !ack.Accepted {
		res := Result{Outcome: OutcomeRejected, OrderRef: ack.OrderRef, Message: ack.Message, Latency: latency}
		log.WithField("reason", ack.Message).Info("order rejected by venue")
		e.audit(in, res)
		e.observe(res)
		return res, nil
	}

	res := Result{
		Outcome:   OutcomeConfirmed,
		OrderRef:  ack.OrderRef,
		FilledQty: ack.FilledQty,
		FillPrice: ack.FillPrice,
		Message:   ack.Message,
		Latency:   latency,
	}
	if res.FilledQty <= 0 {
		res.FilledQty = in.Qty
	}

	switch {
	case res.FillPrice <= 0:
		// no price to book; the next position sync reconciles the quantity
		log.Warn("order accepted without fill price, ledger left to position sync")
	case e.Ledger != nil:
		pos, err := e.Ledger.ApplyFill(in.Code, in.Side, res.FilledQty, res.FillPrice)
		if err != nil {
			log.WithError(err).Error("ledger rejected confirmed fill")
			res.Message = err.Error()
		}
		res.Position = pos
	}

	log.WithFields(logger.Fields{
		"order_ref": res.OrderRef, "fill_price": res.FillPrice, "filled": res.FilledQty,
	}).Info("order confirmed")
	e.audit(in, res)
	e.observe(res)
	return res, nil
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) audit(in Intent, res Result) {
	if e.Audit == nil {
		return
	}
	price := res.FillPrice
	if price <= 0 {
		price = in.Price
	}
	qty := res.FilledQty
	if qty <= 0 {
		qty = in.Qty
	}
	e.Audit.Record(db.AuditEntry{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		AccountID: in.AccountID,
		Code:      in.Code,
		Side:      string(in.Side),
		Qty:       qty,
		Price:     price,
		Outcome:   string(res.Outcome),
		OrderRef:  res.OrderRef,
		Message:   res.Message,
		Strength:  in.Strength,
		Reasons:   append([]string(nil), in.Reasons...),
		Sources:   append([]string(nil), in.Sources...),
		CreatedAt: e.now(),
	})
}

func (e *Executor) observe(res Result) {
	if e.Metrics != nil {
		e.Metrics.ObserveOrder(string(res.Outcome), res.Latency)
	}
}
