// Package paper simulates a venue for dry runs: a seeded random-walk price
// feed and immediate market fills with fee and slippage.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logger"
)

// Config controls the simulation.
type Config struct {
	InitialCash float64
	FeeRate     float64 // decimal, e.g. 0.00015
	SlippageBps float64 // max adverse slippage applied on fills
	Volatility  float64 // relative size of one random-walk step
	Seed        int64
	// StartPrices seeds instruments; unknown codes start at DefaultPrice.
	StartPrices  map[string]float64
	DefaultPrice float64
	// AlwaysOpen makes MarketOpen answer true instead of deferring to the calendar.
	AlwaysOpen bool
	Now        func() time.Time
}

// Gateway is an in-memory venue. Safe for concurrent use.
type Gateway struct {
	cfg      Config
	mu       sync.Mutex
	rng      *rand.Rand
	prices   map[string]float64
	accounts map[string]*account
	fills    []Fill
}

type account struct {
	cash      float64
	positions map[string]*position
}

type position struct {
	qty     float64
	avgCost float64
}

// Fill records one simulated execution.
type Fill struct {
	OrderRef  string
	AccountID string
	Code      string
	Side      broker.Side
	Qty       float64
	Price     float64
	Fee       float64
	At        time.Time
}

var (
	_ broker.Gateway     = (*Gateway)(nil)
	_ broker.MarketClock = (*Gateway)(nil)
	_ broker.Canceler    = (*Gateway)(nil)
)

// New creates a paper venue.
func New(cfg Config) *Gateway {
	if cfg.DefaultPrice <= 0 {
		cfg.DefaultPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gateway{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		prices:   make(map[string]float64),
		accounts: make(map[string]*account),
	}
}

func (g *Gateway) priceLocked(code string) float64 {
	if p, ok := g.prices[code]; ok {
		return p
	}
	p := g.cfg.DefaultPrice
	if sp, ok := g.cfg.StartPrices[code]; ok && sp > 0 {
		p = sp
	}
	g.prices[code] = p
	return p
}

// CurrentPrice advances the walk one step and returns the new price.
func (g *Gateway) CurrentPrice(ctx context.Context, code string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.priceLocked(code)
	step := g.rng.NormFloat64() * g.cfg.Volatility
	p = math.Max(p*(1+step), 0.01)
	g.prices[code] = p
	return p, nil
}

// SetPrice pins the price of code, for demos and scripted scenarios.
func (g *Gateway) SetPrice(code string, price float64) {
	g.mu.Lock()
	g.prices[code] = price
	g.mu.Unlock()
}

// PriceHistory returns a deterministic daily series ending at the current price.
func (g *Gateway) PriceHistory(ctx context.Context, code string, days int) ([]broker.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	if days <= 0 {
		return nil, nil
	}
	g.mu.Lock()
	last := g.priceLocked(code)
	g.mu.Unlock()

	h := fnv.New64a()
	h.Write([]byte(code))
	rng := rand.New(rand.NewSource(g.cfg.Seed ^ int64(h.Sum64())))

	// Walk backwards from the current price so the series ends where the feed is.
	closes := make([]float64, days)
	closes[days-1] = last
	for i := days - 2; i >= 0; i-- {
		step := rng.NormFloat64() * g.cfg.Volatility
		closes[i] = math.Max(closes[i+1]/(1+step), 0.01)
	}

	today := g.cfg.Now().UTC().Truncate(24 * time.Hour)
	points := make([]broker.Point, days)
	for i, c := range closes {
		points[i] = broker.Point{Time: today.AddDate(0, 0, i-days+1), Close: c}
	}
	return points, nil
}

func (g *Gateway) accountLocked(id string) *account {
	a, ok := g.accounts[id]
	if !ok {
		a = &account{cash: g.cfg.InitialCash, positions: make(map[string]*position)}
		g.accounts[id] = a
	}
	return a
}

// SubmitOrder fills market orders immediately at the simulated price.
func (g *Gateway) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderResult{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	if req.Qty <= 0 {
		return broker.OrderResult{Message: "quantity must be positive"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	acct := g.accountLocked(req.AccountID)
	price := req.Price
	if price <= 0 {
		price = g.priceLocked(req.Code)
	}
	slip := g.rng.Float64() * g.cfg.SlippageBps / 10000.0
	if req.Side == broker.SideBuy {
		price *= 1 + slip
	} else {
		price *= 1 - slip
	}
	value := price * req.Qty
	fee := value * g.cfg.FeeRate

	pos := acct.positions[req.Code]
	switch req.Side {
	case broker.SideBuy:
		if value+fee > acct.cash {
			return broker.OrderResult{Message: fmt.Sprintf("insufficient cash: need %.2f, have %.2f", value+fee, acct.cash)}, nil
		}
		if pos == nil {
			pos = &position{}
			acct.positions[req.Code] = pos
		}
		total := pos.qty*pos.avgCost + value
		pos.qty += req.Qty
		pos.avgCost = total / pos.qty
		acct.cash -= value + fee
	case broker.SideSell:
		if pos == nil || pos.qty < req.Qty {
			return broker.OrderResult{Message: "insufficient holdings"}, nil
		}
		pos.qty -= req.Qty
		if pos.qty == 0 {
			delete(acct.positions, req.Code)
		}
		acct.cash += value - fee
	default:
		return broker.OrderResult{Message: fmt.Sprintf("unknown side %q", req.Side)}, nil
	}

	ref := uuid.NewString()
	g.fills = append(g.fills, Fill{
		OrderRef: ref, AccountID: req.AccountID, Code: req.Code, Side: req.Side,
		Qty: req.Qty, Price: price, Fee: fee, At: g.cfg.Now(),
	})
	logger.WithComponent("broker.paper").WithFields(logger.Fields{
		"account": req.AccountID, "code": req.Code, "side": req.Side,
		"qty": req.Qty, "price": price, "cash": acct.cash,
	}).Debug("paper fill")

	return broker.OrderResult{Accepted: true, FillPrice: price, FilledQty: req.Qty, OrderRef: ref}, nil
}

// Positions returns the simulated holdings of accountID.
func (g *Gateway) Positions(ctx context.Context, accountID string) ([]broker.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	acct := g.accountLocked(accountID)
	out := make([]broker.Holding, 0, len(acct.positions))
	for code, p := range acct.positions {
		out = append(out, broker.Holding{Code: code, Qty: p.qty, AvgCost: p.avgCost})
	}
	return out, nil
}

// MarketOpen reports true in always-open mode; otherwise the venue has no clock.
func (g *Gateway) MarketOpen(ctx context.Context, segment broker.Segment) (bool, error) {
	if g.cfg.AlwaysOpen {
		return true, nil
	}
	return false, fmt.Errorf("%w: paper venue has no market clock for %s", broker.ErrUnavailable, segment)
}

// CancelOpenOrders is a no-op: paper orders fill immediately.
func (g *Gateway) CancelOpenOrders(ctx context.Context, accountID string) error {
	return nil
}

// Cash returns the simulated cash balance of accountID.
func (g *Gateway) Cash(accountID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accountLocked(accountID).cash
}

// Fills returns a copy of every simulated execution.
func (g *Gateway) Fills() []Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Fill(nil), g.fills...)
}
