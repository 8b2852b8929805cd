package indicators

import "fmt"

// EMA seeds with the first value and smooths with 2/(period+1).
// The result has one value per input.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema period must be positive, got %d", period)
	}
	if len(values) < period {
		return nil, insufficient("ema", len(values), period)
	}

	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// MACDResult holds the latest MACD reading.
type MACDResult struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes EMA(fast)-EMA(slow), its EMA(signal) and the histogram.
// It needs at least slow+signal values.
func MACD(values []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return MACDResult{}, fmt.Errorf("invalid macd periods %d/%d/%d", fast, slow, signal)
	}
	if need := slow + signal; len(values) < need {
		return MACDResult{}, insufficient("macd", len(values), need)
	}

	fastEMA, err := EMA(values, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return MACDResult{}, err
	}

	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig, err := EMA(line, signal)
	if err != nil {
		return MACDResult{}, err
	}

	n := len(values) - 1
	return MACDResult{
		Line:      line[n],
		Signal:    sig[n],
		Histogram: line[n] - sig[n],
	}, nil
}
