package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/admission"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
)

type fakeGateway struct {
	mu        sync.Mutex
	prices    map[string]float64
	priceErr  error
	cancelErr error
	holdings  map[string]broker.Holding
	orders    []broker.OrderRequest
	canceled  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{prices: map[string]float64{}, holdings: map[string]broker.Holding{}}
}

func (g *fakeGateway) setPrice(code string, p float64) {
	g.mu.Lock()
	g.prices[code] = p
	g.mu.Unlock()
}

func (g *fakeGateway) CurrentPrice(ctx context.Context, code string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.priceErr != nil {
		return 0, g.priceErr
	}
	return g.prices[code], nil
}

func (g *fakeGateway) PriceHistory(ctx context.Context, code string, days int) ([]broker.Point, error) {
	g.mu.Lock()
	p := g.prices[code]
	g.mu.Unlock()
	pts := make([]broker.Point, days)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range pts {
		pts[i] = broker.Point{Time: start.AddDate(0, 0, i), Close: p}
	}
	return pts, nil
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	price := g.prices[req.Code]
	h := g.holdings[req.Code]
	h.Code = req.Code
	switch req.Side {
	case broker.SideBuy:
		h.AvgCost = (h.Qty*h.AvgCost + req.Qty*price) / (h.Qty + req.Qty)
		h.Qty += req.Qty
	case broker.SideSell:
		h.Qty -= req.Qty
	}
	if h.Qty <= 0 {
		delete(g.holdings, req.Code)
	} else {
		g.holdings[req.Code] = h
	}
	return broker.OrderResult{Accepted: true, FillPrice: price, FilledQty: req.Qty, OrderRef: "ref"}, nil
}

func (g *fakeGateway) Positions(ctx context.Context, accountID string) ([]broker.Holding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]broker.Holding, 0, len(g.holdings))
	for _, h := range g.holdings {
		out = append(out, h)
	}
	return out, nil
}

func (g *fakeGateway) CancelOpenOrders(ctx context.Context, accountID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, accountID)
	return g.cancelErr
}

func (g *fakeGateway) submitted() []broker.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.OrderRequest(nil), g.orders...)
}

type staticPool struct{ gw broker.Gateway }

func (p staticPool) Get(ctx context.Context, accountID string) (broker.Gateway, error) {
	return p.gw, nil
}

type marketClock struct {
	open bool
	err  error
}

func (m marketClock) MarketOpen(ctx context.Context, seg broker.Segment) (bool, error) {
	return m.open, m.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(t EventType, id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t && ev.SessionID == id {
			n++
		}
	}
	return n
}

func (l *eventLog) sawStatus(id string, st Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == EventStatusChanged && ev.SessionID == id && ev.Status == st {
			return true
		}
	}
	return false
}

type harness struct {
	reg    *Registry
	gw     *fakeGateway
	db     *db.Database
	events *eventLog
}

func newHarness(t *testing.T, clock broker.MarketClock) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	gw := newFakeGateway()
	reg := NewRegistry(Deps{
		Gateways:            staticPool{gw: gw},
		Admission:           admission.NewController(clock, nil, admission.Options{TTL: time.Minute}),
		Store:               database,
		TickTimeout:         time.Second,
		DefaultPollInterval: 5 * time.Millisecond,
	})
	events := &eventLog{}
	reg.Subscribe(events.add)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = reg.EmergencyStopAll(ctx)
		database.Close()
	})
	return &harness{reg: reg, gw: gw, db: database, events: events}
}

func baseConfig(account string) Config {
	return Config{
		AccountID:     account,
		Segment:       broker.SegmentDomestic,
		StrategyKinds: []string{"ma_cross"},
		Instruments:   []db.InstrumentAllocation{{Code: "AAPL", AllocationPercent: 100}},
		TotalCapital:  1_000_000,
	}
}

func TestStartRejectsInvalidConfiguration(t *testing.T) {
	h := newHarness(t, marketClock{open: true})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"allocations below 100", func(c *Config) {
			c.Instruments = []db.InstrumentAllocation{{Code: "A", AllocationPercent: 40}, {Code: "B", AllocationPercent: 50}}
		}},
		{"allocations above 100", func(c *Config) {
			c.Instruments = []db.InstrumentAllocation{{Code: "A", AllocationPercent: 60}, {Code: "B", AllocationPercent: 50}}
		}},
		{"no instruments", func(c *Config) { c.Instruments = nil }},
		{"duplicate instrument", func(c *Config) {
			c.Instruments = []db.InstrumentAllocation{{Code: "A", AllocationPercent: 50}, {Code: "A", AllocationPercent: 50}}
		}},
		{"unknown strategy", func(c *Config) { c.StrategyKinds = []string{"astrology"} }},
		{"no capital", func(c *Config) { c.TotalCapital = 0 }},
		{"no account", func(c *Config) { c.AccountID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig("acct")
			tt.mutate(&cfg)
			_, err := h.reg.Start(context.Background(), cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
			assert.Zero(t, h.reg.Len())
			assert.Empty(t, h.reg.List())
		})
	}
}

func TestStartRunsInitialPurchase(t *testing.T) {
	h := newHarness(t, marketClock{open: true})
	h.gw.setPrice("AAPL", 100_000)
	cfg := baseConfig("acct")
	cfg.Instruments = []db.InstrumentAllocation{{Code: "AAPL", AllocationPercent: 50}, {Code: "MSFT", AllocationPercent: 50}}
	h.gw.setPrice("MSFT", 300_000)

	snap, err := h.reg.Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)

	orders := h.gw.submitted()
	require.Len(t, orders, 2)
	assert.Equal(t, 5.0, orders[0].Qty, "500,000 / 100,000")
	assert.Equal(t, 1.0, orders[1].Qty, "500,000 / 300,000 floored")

	rec, err := h.db.GetSession(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", rec.Status)
}

func TestThreeFailedTicksEscalateToErrorAndStop(t *testing.T) {
	h := newHarness(t, marketClock{open: true})
	h.gw.priceErr = errors.New("upstream timeout")

	snap, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := h.reg.Status(snap.ID)
		return err == nil && st.Status == StatusStopped
	}, 2*time.Second, 5*time.Millisecond)

	st, err := h.reg.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.ConsecutiveErrors)
	assert.Contains(t, st.LastError, "3 consecutive tick failures")
	assert.NotNil(t, st.StoppedAt)
	assert.True(t, h.events.sawStatus(snap.ID, StatusError))
	assert.Zero(t, h.reg.Len())
	assert.Empty(t, h.gw.submitted())

	rec, err := h.db.GetSession(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", rec.Status)
	assert.Contains(t, rec.LastError, "consecutive")
}

func TestClosedOrUnknownMarketNeverOrders(t *testing.T) {
	h := newHarness(t, marketClock{err: broker.ErrUnavailable})
	h.gw.setPrice("AAPL", 100)

	snap, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.events.count(EventTick, snap.ID) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, h.gw.submitted(), "admission ERROR must block every order")
	st, err := h.reg.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status, "a closed market is not a tick failure")
	assert.Zero(t, st.ConsecutiveErrors)
}

func TestTakeProfitSellsFullPosition(t *testing.T) {
	h := newHarness(t, marketClock{open: true})
	h.gw.holdings["AAPL"] = broker.Holding{Code: "AAPL", Qty: 10, AvgCost: 100}
	h.gw.setPrice("AAPL", 150)

	cfg := baseConfig("acct")
	cfg.TakeProfitPercent = 20
	snap, err := h.reg.Start(context.Background(), cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, o := range h.gw.submitted() {
			if o.Side == broker.SideSell && o.Qty == 10 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.reg.Stop(context.Background(), snap.ID))
	st, err := h.reg.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st.Status)
	assert.InDelta(t, 500.0, st.RealizedPnL, 1e-9)

	rec, err := h.db.GetSession(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, rec.RealizedPnL, 1e-9)
}

func TestPauseSkipsOrdersUntilResume(t *testing.T) {
	h := newHarness(t, marketClock{open: true})
	h.gw.holdings["AAPL"] = broker.Holding{Code: "AAPL", Qty: 10, AvgCost: 100}
	h.gw.setPrice("AAPL", 100)

	cfg := baseConfig("acct")
	cfg.TakeProfitPercent = 20
	snap, err := h.reg.Start(context.Background(), cfg)
	require.NoError(t, err)

	paused, err := h.reg.Pause(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	h.gw.setPrice("AAPL", 150)
	before := h.events.count(EventTick, snap.ID)
	require.Eventually(t, func() bool {
		return h.events.count(EventTick, snap.ID) >= before+3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.gw.submitted(), "paused sessions must not submit")

	st, _ := h.reg.Status(snap.ID)
	require.Len(t, st.Positions, 1)
	assert.Equal(t, 150.0, st.Positions[0].LastKnownPrice, "prices keep refreshing while paused")

	_, err = h.reg.Pause(context.Background(), snap.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = h.reg.Resume(context.Background(), snap.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.gw.submitted()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStartStopsPreviousSessionOfAccount(t *testing.T) {
	h := newHarness(t, marketClock{open: false})
	first, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)
	second, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	st, err := h.reg.Status(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st.Status)
	assert.Equal(t, 1, h.reg.Len())
	assert.Equal(t, second.ID, h.reg.List()[0].ID)
}

func TestStopIsIdempotentAndUnknownIsNotFound(t *testing.T) {
	h := newHarness(t, marketClock{open: false})
	snap, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	require.NoError(t, h.reg.Stop(context.Background(), snap.ID))
	require.NoError(t, h.reg.Stop(context.Background(), snap.ID))
	assert.True(t, errors.Is(h.reg.Stop(context.Background(), "nope"), ErrNotFound))
	_, err = h.reg.Status("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEmergencyStopAllToleratesCancelFailures(t *testing.T) {
	h := newHarness(t, marketClock{open: false})
	h.gw.cancelErr = errors.New("venue down")

	a, err := h.reg.Start(context.Background(), baseConfig("a"))
	require.NoError(t, err)
	b, err := h.reg.Start(context.Background(), baseConfig("b"))
	require.NoError(t, err)

	n, err := h.reg.EmergencyStopAll(context.Background())
	assert.Equal(t, 2, n)
	assert.Error(t, err, "cancel failures are reported")
	assert.Zero(t, h.reg.Len())

	for _, id := range []string{a.ID, b.ID} {
		st, err := h.reg.Status(id)
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, st.Status)
	}
	h.gw.mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b"}, h.gw.canceled)
	h.gw.mu.Unlock()
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusStarting, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusPaused))
	assert.True(t, CanTransition(StatusPaused, StatusRunning))
	assert.True(t, CanTransition(StatusPaused, StatusStopping))
	assert.True(t, CanTransition(StatusRunning, StatusError))
	assert.True(t, CanTransition(StatusError, StatusStopping))
	assert.False(t, CanTransition(StatusStopped, StatusRunning))
	assert.False(t, CanTransition(StatusRunning, StatusStopped))
	assert.False(t, CanTransition(StatusStopped, StatusError))
}
