package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/broker"
)

func newGateway() *Gateway {
	return New(Config{
		InitialCash: 1_000_000,
		FeeRate:     0.001,
		Seed:        7,
		StartPrices: map[string]float64{"005930": 70000},
		Now:         func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) },
	})
}

func TestBuyThenSellUpdatesCashAndHoldings(t *testing.T) {
	g := newGateway()
	ctx := context.Background()

	res, err := g.SubmitOrder(ctx, broker.OrderRequest{AccountID: "a", Code: "005930", Side: broker.SideBuy, Qty: 10})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, 70000.0, res.FillPrice)
	assert.InDelta(t, 1_000_000-700_000-700, g.Cash("a"), 1e-6)

	holdings, err := g.Positions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, 10.0, holdings[0].Qty)

	res, err = g.SubmitOrder(ctx, broker.OrderRequest{AccountID: "a", Code: "005930", Side: broker.SideSell, Qty: 11})
	require.NoError(t, err)
	assert.False(t, res.Accepted, "oversell must be rejected")

	res, err = g.SubmitOrder(ctx, broker.OrderRequest{AccountID: "a", Code: "005930", Side: broker.SideSell, Qty: 10})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	holdings, _ = g.Positions(ctx, "a")
	assert.Empty(t, holdings)
	assert.Len(t, g.Fills(), 2)
}

func TestInsufficientCashIsRejected(t *testing.T) {
	g := newGateway()
	res, err := g.SubmitOrder(context.Background(), broker.OrderRequest{AccountID: "a", Code: "005930", Side: broker.SideBuy, Qty: 100})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Message, "insufficient cash")
}

func TestHistoryEndsAtCurrentPriceAndIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a, b := newGateway(), newGateway()

	ha, err := a.PriceHistory(ctx, "005930", 30)
	require.NoError(t, err)
	hb, err := b.PriceHistory(ctx, "005930", 30)
	require.NoError(t, err)

	require.Len(t, ha, 30)
	assert.Equal(t, ha, hb)
	assert.Equal(t, 70000.0, ha[29].Close)
	assert.True(t, ha[0].Time.Before(ha[29].Time))
}

func TestMarketClockDefersWithoutAlwaysOpen(t *testing.T) {
	g := newGateway()
	_, err := g.MarketOpen(context.Background(), broker.SegmentDomestic)
	assert.True(t, errors.Is(err, broker.ErrUnavailable))

	g = New(Config{AlwaysOpen: true})
	open, err := g.MarketOpen(context.Background(), broker.SegmentGlobal)
	require.NoError(t, err)
	assert.True(t, open)
}
