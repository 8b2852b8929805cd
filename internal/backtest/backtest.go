// Package backtest replays a daily close series through a strategy evaluator
// using the live sizing, risk and ledger rules. Fills happen at the bar close,
// so results are indicative only.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"autotrade-core/internal/ledger"
	"autotrade-core/internal/order"
	"autotrade-core/internal/risk"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/logger"
)

// ErrNoData is returned when the series is shorter than the warmup.
var ErrNoData = errors.New("backtest: not enough data")

const replayAccount = "backtest"

// Config describes one replay of a single instrument.
type Config struct {
	Code      string
	Points    []broker.Point
	Evaluator strategy.Evaluator
	Capital   float64
	// AllocationPercent of Capital one buy may use. Defaults to 100.
	AllocationPercent float64
	Limits            risk.Limits
	FeeRate           float64 // decimal, charged on both sides
	// Warmup bars are only used as history. Defaults to 30.
	Warmup int
	// Cooldown spaces orders in bar time; zero disables it.
	Cooldown time.Duration
}

// Trade is one simulated execution.
type Trade struct {
	Time        time.Time          `json:"time"`
	Side        broker.Side        `json:"side"`
	Qty         float64            `json:"qty"`
	Price       float64            `json:"price"`
	Fee         float64            `json:"fee"`
	Strength    float64            `json:"strength"`
	Forced      bool               `json:"forced"`
	Reason      string             `json:"reason"`
	Direction   strategy.Direction `json:"direction"`
	RealizedPnL float64            `json:"realized_pnl"`
}

// Result summarizes a replay.
type Result struct {
	Code               string  `json:"code"`
	Bars               int     `json:"bars"`
	Signals            int     `json:"signals"`
	Trades             []Trade `json:"trades"`
	RealizedPnL        float64 `json:"realized_pnl"`
	Fees               float64 `json:"fees"`
	FinalCash          float64 `json:"final_cash"`
	FinalQty           float64 `json:"final_qty"`
	FinalEquity        float64 `json:"final_equity"`
	ReturnPercent      float64 `json:"return_percent"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
}

func (c *Config) validate() error {
	if c.Evaluator == nil {
		return errors.New("backtest: evaluator is required")
	}
	if c.Capital <= 0 {
		return fmt.Errorf("backtest: capital must be positive, got %v", c.Capital)
	}
	if c.AllocationPercent <= 0 {
		c.AllocationPercent = 100
	}
	if c.Warmup <= 0 {
		c.Warmup = 30
	}
	if len(c.Points) <= c.Warmup {
		return fmt.Errorf("%w: %d bars, warmup %d", ErrNoData, len(c.Points), c.Warmup)
	}
	return nil
}

// Run replays cfg.Points bar by bar. At each bar the risk guard runs first;
// otherwise an actionable signal is sized and filled at the close.
func Run(cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var clock time.Time
	var cooldown *order.Cooldown
	if cfg.Cooldown > 0 {
		cooldown = order.NewCooldown(cfg.Cooldown, func() time.Time { return clock })
	}

	book := ledger.New()
	guard := risk.NewGuard(cfg.Limits)
	closes := broker.Closes(cfg.Points)
	res := &Result{Code: cfg.Code}
	cash := cfg.Capital
	peak := cfg.Capital

	fill := func(bar broker.Point, side broker.Side, qty float64, t Trade) error {
		pos, err := book.ApplyFill(cfg.Code, side, qty, bar.Close)
		if err != nil {
			return err
		}
		value := qty * bar.Close
		fee := value * cfg.FeeRate
		if side == broker.SideBuy {
			cash -= value + fee
		} else {
			cash += value - fee
		}
		t.Time, t.Side, t.Qty, t.Price, t.Fee = bar.Time, side, qty, bar.Close, fee
		t.RealizedPnL = pos.RealizedPnL
		res.Fees += fee
		res.Trades = append(res.Trades, t)
		return nil
	}

	for i := cfg.Warmup; i < len(cfg.Points); i++ {
		bar := cfg.Points[i]
		clock = bar.Time
		res.Bars++
		book.MarkPrice(cfg.Code, bar.Close)
		pos, _ := book.Position(cfg.Code)

		// Drawdown is measured on the marked book before acting on the bar.
		equity := cash + book.MarketValue()
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > res.MaxDrawdownPercent {
			res.MaxDrawdownPercent = dd
		}

		if d := guard.Check(pos, bar.Close); d != nil {
			if err := fill(bar, broker.SideSell, d.Quantity, Trade{Forced: true, Reason: d.Reason, Direction: strategy.Sell}); err != nil {
				return nil, fmt.Errorf("bar %d: %w", i, err)
			}
			guard.Reset(cfg.Code)
			if cooldown != nil {
				cooldown.Mark(replayAccount, cfg.Code)
			}
			continue
		}

		sig, err := cfg.Evaluator.Evaluate(closes[:i], bar.Close)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		if !sig.Actionable() {
			continue
		}
		res.Signals++

		var side broker.Side
		var qty float64
		switch sig.Direction {
		case strategy.Buy:
			side = broker.SideBuy
			// Leave room for the fee.
			qty = order.BuyQuantity(cfg.Capital, cfg.AllocationPercent, order.StrengthMultiplier(sig.Strength), bar.Close, cash/(1+cfg.FeeRate))
		case strategy.Sell:
			side = broker.SideSell
			qty = order.SellQuantity(pos.Quantity, sig.Strength)
		}
		if qty <= 0 {
			continue
		}
		if cooldown != nil && !cooldown.Allow(replayAccount, cfg.Code) {
			continue
		}

		reason := ""
		if len(sig.Reasons) > 0 {
			reason = sig.Reasons[0]
		}
		if err := fill(bar, side, qty, Trade{Strength: sig.Strength, Reason: reason, Direction: sig.Direction}); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		if p, _ := book.Position(cfg.Code); p.Quantity == 0 {
			guard.Reset(cfg.Code)
		}
	}

	pos, _ := book.Position(cfg.Code)
	res.RealizedPnL = book.RealizedPnL()
	res.FinalCash = cash
	res.FinalQty = pos.Quantity
	res.FinalEquity = cash + book.MarketValue()
	res.ReturnPercent = (res.FinalEquity - cfg.Capital) / cfg.Capital * 100
	res.MaxDrawdownPercent = math.Round(res.MaxDrawdownPercent*100) / 100

	logger.WithComponent("backtest").WithFields(logger.Fields{
		"code": cfg.Code, "bars": res.Bars, "trades": len(res.Trades),
		"equity": res.FinalEquity, "return_pct": res.ReturnPercent,
	}).Info("replay finished")
	return res, nil
}
