package strategy

import (
	"fmt"
	"math"

	"autotrade-core/internal/indicators"
)

// MeanReversion buys prices stretched below their average and sells the
// opposite, measured as a z-score over the trailing window.
type MeanReversion struct {
	period int
	z      float64
}

func newMeanReversion(p Params) (*MeanReversion, error) {
	period, err := p.period("mr_period", 20)
	if err != nil {
		return nil, err
	}
	z := p.get("mr_z", 1.5)
	if z <= 0 {
		return nil, fmt.Errorf("mr_z must be positive, got %v", z)
	}
	return &MeanReversion{period: period, z: z}, nil
}

func (s *MeanReversion) Kind() Kind { return KindMeanReversion }

func (s *MeanReversion) Evaluate(series []float64, price float64) (Signal, error) {
	// k=1 bands give the mean and population deviation directly.
	bands, err := indicators.Bollinger(withPrice(series, price), s.period, 1)
	if err != nil {
		return noOpinion(KindMeanReversion, err)
	}
	if bands.StdDev == 0 {
		return neutral(KindMeanReversion, 0.5, "no dispersion around the mean"), nil
	}
	z := (price - bands.Middle) / bands.StdDev

	conf := math.Min(0.95, 0.5+(math.Abs(z)-s.z)*0.25)
	switch {
	case z <= -s.z:
		return directional(KindMeanReversion, Buy, conf, fmt.Sprintf("%.2f sd below %d-period mean %.2f", -z, s.period, bands.Middle)), nil
	case z >= s.z:
		return directional(KindMeanReversion, Sell, conf, fmt.Sprintf("%.2f sd above %d-period mean %.2f", z, s.period, bands.Middle)), nil
	}
	return neutral(KindMeanReversion, 0.4, fmt.Sprintf("z-score %.2f within ±%.1f", z, s.z)), nil
}
