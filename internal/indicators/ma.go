package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means the series is shorter than the indicator needs.
// Callers treat it as "no opinion", never as a zero reading.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s needs %d values, have %d: %w", name, need, have, ErrInsufficientData)
}

// SMA returns the simple moving average of every full window, oldest first.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, insufficient("sma", len(values), period)
	}

	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out, nil
}

// LastSMA is the moving average of the trailing window only.
func LastSMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, insufficient("sma", len(values), period)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}
