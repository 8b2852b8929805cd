package gateway

import (
	"context"
	"errors"

	"autotrade-core/pkg/broker"
)

// tracked reports gateway outcomes to the pool so repeated outages open the circuit.
type tracked struct {
	broker.Gateway
	account string
	pool    *Manager
}

var _ broker.Canceler = (*tracked)(nil)

func (t *tracked) record(err error) {
	switch {
	case err == nil:
		t.pool.RecordSuccess(t.account)
	case errors.Is(err, broker.ErrUnavailable):
		t.pool.RecordFailure(t.account)
	}
}

func (t *tracked) CurrentPrice(ctx context.Context, code string) (float64, error) {
	p, err := t.Gateway.CurrentPrice(ctx, code)
	t.record(err)
	return p, err
}

func (t *tracked) PriceHistory(ctx context.Context, code string, days int) ([]broker.Point, error) {
	pts, err := t.Gateway.PriceHistory(ctx, code, days)
	t.record(err)
	return pts, err
}

func (t *tracked) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	res, err := t.Gateway.SubmitOrder(ctx, req)
	t.record(err)
	return res, err
}

func (t *tracked) Positions(ctx context.Context, accountID string) ([]broker.Holding, error) {
	h, err := t.Gateway.Positions(ctx, accountID)
	t.record(err)
	return h, err
}

// CancelOpenOrders forwards to the venue when it supports cancellation.
func (t *tracked) CancelOpenOrders(ctx context.Context, accountID string) error {
	c, ok := t.Gateway.(broker.Canceler)
	if !ok {
		return nil
	}
	err := c.CancelOpenOrders(ctx, accountID)
	t.record(err)
	return err
}
