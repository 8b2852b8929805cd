package strategy

import (
	"fmt"
	"math"

	"autotrade-core/internal/indicators"
)

// Momentum follows the trend when rate of change and the MACD histogram agree.
type Momentum struct {
	lookback  int
	threshold float64 // minimum |rate of change|, decimal
	fast      int
	slow      int
	signal    int
}

func newMomentum(p Params) (*Momentum, error) {
	lookback, err := p.period("momentum_lookback", 10)
	if err != nil {
		return nil, err
	}
	fast, err := p.period("macd_fast", 12)
	if err != nil {
		return nil, err
	}
	slow, err := p.period("macd_slow", 26)
	if err != nil {
		return nil, err
	}
	sig, err := p.period("macd_signal", 9)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("macd_fast (%d) must be below macd_slow (%d)", fast, slow)
	}
	return &Momentum{
		lookback:  lookback,
		threshold: p.get("momentum_threshold", 0.02),
		fast:      fast,
		slow:      slow,
		signal:    sig,
	}, nil
}

func (s *Momentum) Kind() Kind { return KindMomentum }

func (s *Momentum) Evaluate(series []float64, price float64) (Signal, error) {
	values := withPrice(series, price)
	macd, err := indicators.MACD(values, s.fast, s.slow, s.signal)
	if err != nil {
		return noOpinion(KindMomentum, err)
	}
	if len(values) <= s.lookback {
		return noOpinion(KindMomentum, fmt.Errorf("momentum needs %d values: %w", s.lookback+1, indicators.ErrInsufficientData))
	}
	base := values[len(values)-1-s.lookback]
	if base <= 0 {
		return neutral(KindMomentum, 0, "non-positive base price"), nil
	}
	roc := (values[len(values)-1] - base) / base

	conf := clamp(0.5+math.Abs(roc)*5, 0.5, 0.95)
	switch {
	case roc >= s.threshold && macd.Histogram > 0:
		return directional(KindMomentum, Buy, conf,
			fmt.Sprintf("uptrend: %d-period change %+.2f%%, MACD hist %.4f", s.lookback, roc*100, macd.Histogram)), nil
	case roc <= -s.threshold && macd.Histogram < 0:
		return directional(KindMomentum, Sell, conf,
			fmt.Sprintf("downtrend: %d-period change %+.2f%%, MACD hist %.4f", s.lookback, roc*100, macd.Histogram)), nil
	}
	return neutral(KindMomentum, 0.4,
		fmt.Sprintf("no trend: %d-period change %+.2f%%, MACD hist %.4f", s.lookback, roc*100, macd.Histogram)), nil
}
