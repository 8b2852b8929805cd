package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// RSIReversal buys oversold and sells overbought readings.
// Confidence grows with the distance past the threshold.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
}

func newRSI(p Params) (*RSIReversal, error) {
	period, err := p.period("rsi_period", 14)
	if err != nil {
		return nil, err
	}
	oversold := p.get("rsi_oversold", 30)
	overbought := p.get("rsi_overbought", 70)
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("invalid rsi thresholds %v/%v", oversold, overbought)
	}
	return &RSIReversal{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIReversal) Kind() Kind { return KindRSI }

func (s *RSIReversal) Evaluate(series []float64, price float64) (Signal, error) {
	rsi, err := indicators.RSI(withPrice(series, price), s.period)
	if err != nil {
		return noOpinion(KindRSI, err)
	}

	switch {
	case rsi < s.oversold:
		conf := 0.5 + (s.oversold-rsi)/s.oversold*0.5
		return directional(KindRSI, Buy, conf, fmt.Sprintf("RSI oversold: %.2f < %.0f", rsi, s.oversold)), nil
	case rsi > s.overbought:
		conf := 0.5 + (rsi-s.overbought)/(100-s.overbought)*0.5
		return directional(KindRSI, Sell, conf, fmt.Sprintf("RSI overbought: %.2f > %.0f", rsi, s.overbought)), nil
	}
	return neutral(KindRSI, 0.5, fmt.Sprintf("RSI neutral: %.2f", rsi)), nil
}
