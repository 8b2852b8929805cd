package indicators

import (
	"fmt"
	"math"
)

// Bands is a Bollinger reading over the trailing window.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	StdDev float64 `json:"stddev"`
}

// PercentB places price within the bands: 0 at the lower band, 1 at the upper.
// Flat bands report 0.5.
func (b Bands) PercentB(price float64) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

// Bollinger uses the population standard deviation of the last period values.
func Bollinger(values []float64, period int, k float64) (Bands, error) {
	if period <= 0 {
		return Bands{}, fmt.Errorf("bollinger period must be positive, got %d", period)
	}
	if len(values) < period {
		return Bands{}, insufficient("bollinger", len(values), period)
	}

	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return Bands{
		Upper:  mean + k*sd,
		Middle: mean,
		Lower:  mean - k*sd,
		StdDev: sd,
	}, nil
}
