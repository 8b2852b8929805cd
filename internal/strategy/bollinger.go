package strategy

import (
	"fmt"
	"math"

	"autotrade-core/internal/indicators"
)

// BollingerPosition trades the price position inside the bands:
// at or beyond a band is strong, near a band is mild.
type BollingerPosition struct {
	period int
	k      float64
}

func newBollinger(p Params) (*BollingerPosition, error) {
	period, err := p.period("bb_period", 20)
	if err != nil {
		return nil, err
	}
	k := p.get("bb_k", 2)
	if k <= 0 {
		return nil, fmt.Errorf("bb_k must be positive, got %v", k)
	}
	return &BollingerPosition{period: period, k: k}, nil
}

func (s *BollingerPosition) Kind() Kind { return KindBollinger }

func (s *BollingerPosition) Evaluate(series []float64, price float64) (Signal, error) {
	bands, err := indicators.Bollinger(withPrice(series, price), s.period, s.k)
	if err != nil {
		return noOpinion(KindBollinger, err)
	}
	pb := bands.PercentB(price)

	switch {
	case pb <= 0:
		return directional(KindBollinger, Buy, 0.8+math.Min(0.2, -pb),
			fmt.Sprintf("price %.2f at/below lower band %.2f", price, bands.Lower)), nil
	case pb >= 1:
		return directional(KindBollinger, Sell, 0.8+math.Min(0.2, pb-1),
			fmt.Sprintf("price %.2f at/above upper band %.2f", price, bands.Upper)), nil
	case pb < 0.2:
		return directional(KindBollinger, Buy, 0.5, fmt.Sprintf("price near lower band (%%B %.2f)", pb)), nil
	case pb > 0.8:
		return directional(KindBollinger, Sell, 0.5, fmt.Sprintf("price near upper band (%%B %.2f)", pb)), nil
	}
	return neutral(KindBollinger, 0.4, fmt.Sprintf("price inside bands (%%B %.2f)", pb)), nil
}
