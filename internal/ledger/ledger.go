// Package ledger keeps the per-session book of holdings, cost basis and P&L.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"autotrade-core/pkg/broker"
)

var (
	// ErrOversell is returned when a sell exceeds the held quantity.
	ErrOversell = errors.New("sell exceeds held quantity")
	// ErrInvalidFill is returned for non-positive quantities or prices.
	ErrInvalidFill = errors.New("invalid fill")
)

// Position is a read-only view of one holding.
type Position struct {
	Code           string  `json:"code"`
	Quantity       float64 `json:"quantity"`
	AverageCost    float64 `json:"average_cost"`
	LastKnownPrice float64 `json:"last_known_price"`
	RealizedPnL    float64 `json:"realized_pnl"`
}

// UnrealizedPnL is the paper gain of the open quantity at the last known price.
func (p Position) UnrealizedPnL() float64 {
	if p.Quantity == 0 || p.LastKnownPrice == 0 {
		return 0
	}
	return (p.LastKnownPrice - p.AverageCost) * p.Quantity
}

// UnrealizedPercent is the move of the last known price against average cost.
func (p Position) UnrealizedPercent() float64 {
	if p.Quantity == 0 || p.AverageCost == 0 || p.LastKnownPrice == 0 {
		return 0
	}
	return (p.LastKnownPrice - p.AverageCost) / p.AverageCost * 100
}

type line struct {
	qty       decimal.Decimal
	avgCost   decimal.Decimal
	lastPrice decimal.Decimal
	realized  decimal.Decimal
	noCost    bool // held without a known cost basis, already reported
}

func (l *line) view(code string) Position {
	return Position{
		Code:           code,
		Quantity:       l.qty.InexactFloat64(),
		AverageCost:    l.avgCost.InexactFloat64(),
		LastKnownPrice: l.lastPrice.InexactFloat64(),
		RealizedPnL:    l.realized.InexactFloat64(),
	}
}

// Ledger is safe for concurrent readers; the owning session is the only writer.
type Ledger struct {
	mu    sync.RWMutex
	lines map[string]*line
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{lines: make(map[string]*line)}
}

func (l *Ledger) lineLocked(code string) *line {
	ln, ok := l.lines[code]
	if !ok {
		ln = &line{}
		l.lines[code] = ln
	}
	return ln
}

// ApplyFill books a confirmed execution. BUY moves the weighted-average cost;
// SELL realizes (fill - average cost) per unit and keeps the average.
func (l *Ledger) ApplyFill(code string, side broker.Side, qty, price float64) (Position, error) {
	if qty <= 0 || price <= 0 {
		return Position{}, fmt.Errorf("%w: qty=%v price=%v", ErrInvalidFill, qty, price)
	}
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)

	l.mu.Lock()
	defer l.mu.Unlock()

	ln := l.lineLocked(code)
	switch side {
	case broker.SideBuy:
		newQty := ln.qty.Add(q)
		ln.avgCost = ln.qty.Mul(ln.avgCost).Add(q.Mul(p)).Div(newQty)
		ln.qty = newQty
	case broker.SideSell:
		if q.GreaterThan(ln.qty) {
			return ln.view(code), fmt.Errorf("%w: %s sell %v, held %v", ErrOversell, code, qty, ln.qty.InexactFloat64())
		}
		ln.realized = ln.realized.Add(q.Mul(p.Sub(ln.avgCost)))
		ln.qty = ln.qty.Sub(q)
		if ln.qty.IsZero() {
			ln.avgCost = decimal.Zero
		}
	default:
		return Position{}, fmt.Errorf("%w: side %q", ErrInvalidFill, side)
	}
	ln.lastPrice = p
	return ln.view(code), nil
}

// MarkPrice records the latest observed price of code.
func (l *Ledger) MarkPrice(code string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	l.lineLocked(code).lastPrice = decimal.NewFromFloat(price)
	l.mu.Unlock()
}

// Discrepancy describes a holding whose venue quantity differed from the book,
// or one adopted from the venue with no cost basis. The latter is reported
// once until a cost becomes known.
type Discrepancy struct {
	Code        string
	BookQty     float64
	BrokerQty   float64
	NoCostBasis bool
}

// Sync adopts the venue's holdings for the given codes; the venue is
// authoritative. Codes missing from holdings are treated as flat. Realized P&L
// is kept.
func (l *Ledger) Sync(codes []string, holdings []broker.Holding) []Discrepancy {
	byCode := make(map[string]broker.Holding, len(holdings))
	for _, h := range holdings {
		byCode[h.Code] = h
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var diffs []Discrepancy
	for _, code := range codes {
		h := byCode[code]
		ln := l.lineLocked(code)
		brokerQty := decimal.NewFromFloat(h.Qty)
		if brokerQty.IsNegative() {
			brokerQty = decimal.Zero
		}
		d := Discrepancy{Code: code, BookQty: ln.qty.InexactFloat64(), BrokerQty: brokerQty.InexactFloat64()}
		changed := !brokerQty.Equal(ln.qty)
		ln.qty = brokerQty
		switch {
		case brokerQty.IsZero():
			ln.avgCost = decimal.Zero
		case h.AvgCost > 0:
			ln.avgCost = decimal.NewFromFloat(h.AvgCost)
		}

		if brokerQty.IsPositive() && !ln.avgCost.IsPositive() {
			d.NoCostBasis = true
			if !ln.noCost {
				changed = true
			}
			ln.noCost = true
		} else {
			ln.noCost = false
		}
		if changed {
			diffs = append(diffs, d)
		}
	}
	return diffs
}

// Position returns the view of code.
func (l *Ledger) Position(code string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ln, ok := l.lines[code]
	if !ok {
		return Position{Code: code}, false
	}
	return ln.view(code), true
}

// Positions returns every line sorted by code.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.lines))
	for code, ln := range l.lines {
		out = append(out, ln.view(code))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RealizedPnL sums realized P&L across lines.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, ln := range l.lines {
		total = total.Add(ln.realized)
	}
	return total.InexactFloat64()
}

// MarketValue is the open quantity valued at last known prices.
func (l *Ledger) MarketValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, ln := range l.lines {
		total = total.Add(ln.qty.Mul(ln.lastPrice))
	}
	return total.InexactFloat64()
}

// CostBasis is the open quantity valued at average cost.
func (l *Ledger) CostBasis() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, ln := range l.lines {
		total = total.Add(ln.qty.Mul(ln.avgCost))
	}
	return total.InexactFloat64()
}
