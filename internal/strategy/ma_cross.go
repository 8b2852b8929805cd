package strategy

import (
	"fmt"
	"math"

	"autotrade-core/internal/indicators"
)

// MACross trades moving-average crossovers. A fresh golden or death cross is a
// strong signal; an established spread between the averages is a weak one.
type MACross struct {
	short, long int
	// minGap is the relative spread below which the averages count as flat.
	minGap float64
}

func newMACross(p Params) (*MACross, error) {
	short, err := p.period("ma_short", 5)
	if err != nil {
		return nil, err
	}
	long, err := p.period("ma_long", 20)
	if err != nil {
		return nil, err
	}
	if short >= long {
		return nil, fmt.Errorf("ma_short (%d) must be below ma_long (%d)", short, long)
	}
	return &MACross{short: short, long: long, minGap: p.get("ma_min_gap", 0.002)}, nil
}

func (s *MACross) Kind() Kind { return KindMACross }

func (s *MACross) Evaluate(series []float64, price float64) (Signal, error) {
	values := withPrice(series, price)
	// One extra value so the previous pair of averages exists.
	if len(values) < s.long+1 {
		return noOpinion(KindMACross, fmt.Errorf("ma_cross needs %d values, have %d: %w", s.long+1, len(values), indicators.ErrInsufficientData))
	}

	shortNow, err := indicators.LastSMA(values, s.short)
	if err != nil {
		return noOpinion(KindMACross, err)
	}
	longNow, err := indicators.LastSMA(values, s.long)
	if err != nil {
		return noOpinion(KindMACross, err)
	}
	prev := values[:len(values)-1]
	shortPrev, _ := indicators.LastSMA(prev, s.short)
	longPrev, _ := indicators.LastSMA(prev, s.long)

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return directional(KindMACross, Buy, 0.8,
			fmt.Sprintf("golden cross: MA%d %.2f above MA%d %.2f", s.short, shortNow, s.long, longNow)), nil
	case shortPrev >= longPrev && shortNow < longNow:
		return directional(KindMACross, Sell, 0.8,
			fmt.Sprintf("death cross: MA%d %.2f below MA%d %.2f", s.short, shortNow, s.long, longNow)), nil
	}

	gap := (shortNow - longNow) / longNow
	if math.Abs(gap) < s.minGap {
		return neutral(KindMACross, 0.5, fmt.Sprintf("averages flat: gap %.2f%%", gap*100)), nil
	}
	conf := clamp(0.3+math.Abs(gap)*10, 0.3, 0.65)
	if gap > 0 {
		return directional(KindMACross, Buy, conf, fmt.Sprintf("uptrend: MA%d %.2f%% above MA%d", s.short, gap*100, s.long)), nil
	}
	return directional(KindMACross, Sell, conf, fmt.Sprintf("downtrend: MA%d %.2f%% below MA%d", s.short, -gap*100, s.long)), nil
}
