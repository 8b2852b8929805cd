package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/risk"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
)

// scripted returns the signal planned for a bar index (the history length).
type scripted map[int]strategy.Signal

func (s scripted) Kind() strategy.Kind { return strategy.KindMACross }

func (s scripted) Evaluate(series []float64, price float64) (strategy.Signal, error) {
	if sig, ok := s[len(series)]; ok {
		return sig, nil
	}
	return strategy.Signal{Direction: strategy.Hold}, nil
}

func bars(closes ...float64) []broker.Point {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]broker.Point, len(closes))
	for i, c := range closes {
		out[i] = broker.Point{Time: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func buy(strength float64) strategy.Signal {
	return strategy.Signal{Direction: strategy.Buy, Strength: strength, Reasons: []string{"up"}}
}

func sell(strength float64) strategy.Signal {
	return strategy.Signal{Direction: strategy.Sell, Strength: strength, Reasons: []string{"down"}}
}

func TestTakeProfitExitRealizesGain(t *testing.T) {
	res, err := Run(Config{
		Code:              "005930",
		Points:            bars(100, 100, 100, 100, 100, 100, 110, 120, 120),
		Evaluator:         scripted{5: buy(50), 8: sell(-60)},
		Capital:           10_000,
		AllocationPercent: 50,
		Limits:            risk.Limits{TakeProfitPercent: 15},
		Warmup:            5,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, broker.SideBuy, res.Trades[0].Side)
	assert.Equal(t, 55.0, res.Trades[0].Qty) // 10000 * 50% * 1.1 / 100
	assert.True(t, res.Trades[1].Forced)
	assert.Equal(t, 120.0, res.Trades[1].Price)

	assert.Equal(t, 4, res.Bars)
	assert.Equal(t, 2, res.Signals, "sell with nothing held still counts as a signal")
	assert.InDelta(t, 1100, res.RealizedPnL, 1e-9)
	assert.InDelta(t, 11_100, res.FinalCash, 1e-9)
	assert.InDelta(t, 11_100, res.FinalEquity, 1e-9)
	assert.InDelta(t, 11, res.ReturnPercent, 1e-9)
	assert.Zero(t, res.FinalQty)
}

func TestStopLossAndDrawdown(t *testing.T) {
	res, err := Run(Config{
		Code:      "AAPL",
		Points:    bars(100, 100, 100, 90),
		Evaluator: scripted{2: buy(50)},
		Capital:   10_000,
		Limits:    risk.Limits{StopLossPercent: 5},
		Warmup:    2,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, 100.0, res.Trades[0].Qty) // budget capped by cash
	assert.True(t, res.Trades[1].Forced)
	assert.Contains(t, res.Trades[1].Reason, "stop-loss")
	assert.InDelta(t, -1000, res.RealizedPnL, 1e-9)
	assert.InDelta(t, 10, res.MaxDrawdownPercent, 1e-9)
}

func TestPartialSellAndFees(t *testing.T) {
	res, err := Run(Config{
		Code:      "AAPL",
		Points:    bars(100, 100, 100),
		Evaluator: scripted{1: buy(50), 2: sell(-35)},
		Capital:   1_000,
		FeeRate:   0.01,
		Warmup:    1,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	// 1000/1.01 of cash buys 9 units at 100.
	assert.Equal(t, 9.0, res.Trades[0].Qty)
	// |strength| in [30, 50) sells half, floored.
	assert.Equal(t, 4.0, res.Trades[1].Qty)
	assert.Equal(t, 5.0, res.FinalQty)
	assert.InDelta(t, 9+4, res.Fees, 1e-9)
	assert.InDelta(t, 1000-909+396, res.FinalCash, 1e-9)
}

func TestCooldownSpacesOrdersInBarTime(t *testing.T) {
	cfg := Config{
		Code:      "AAPL",
		Points:    bars(10, 10, 10, 10, 10),
		Evaluator: scripted{1: buy(50), 2: buy(50), 3: buy(50), 4: buy(50)},
		Capital:   100_000,
		// 10% per buy leaves cash for every signal.
		AllocationPercent: 10,
		Warmup:            1,
	}

	res, err := Run(cfg)
	require.NoError(t, err)
	assert.Len(t, res.Trades, 4)

	cfg.Cooldown = 36 * time.Hour
	res, err = Run(cfg)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, cfg.Points[1].Time, res.Trades[0].Time)
	assert.Equal(t, cfg.Points[3].Time, res.Trades[1].Time)
}

func TestRunValidation(t *testing.T) {
	_, err := Run(Config{Points: bars(1, 2, 3), Evaluator: scripted{}, Capital: 100, Warmup: 5})
	assert.True(t, errors.Is(err, ErrNoData))

	_, err = Run(Config{Points: bars(1, 2, 3), Capital: 100, Warmup: 1})
	assert.Error(t, err)

	_, err = Run(Config{Points: bars(1, 2, 3), Evaluator: scripted{}, Warmup: 1})
	assert.Error(t, err)
}

func TestRealStrategyRuns(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i%20)
	}
	ev, err := strategy.BuildAll([]string{"ma_cross", "rsi"}, nil)
	require.NoError(t, err)

	res, err := Run(Config{Code: "X", Points: bars(closes...), Evaluator: ev, Capital: 50_000})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Bars)
	assert.InDelta(t, res.FinalCash+res.FinalQty*closes[len(closes)-1], res.FinalEquity, 1e-6)
}
