package strategy

import (
	"errors"
	"fmt"
	"math"

	"autotrade-core/internal/indicators"
)

// Direction is the side a signal recommends.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Action thresholds on the signed strength scale. Exits trigger more easily
// than entries.
const (
	BuyThreshold  = 40.0
	SellThreshold = -20.0
)

// Signal is a directional recommendation. Strength is signed, positive for BUY
// and negative for SELL, roughly within [-100, 100]. Confidence is in [0, 1];
// a zero confidence HOLD means the strategy had no opinion.
type Signal struct {
	Direction  Direction `json:"direction"`
	Strength   float64   `json:"strength"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
	Sources    []string  `json:"sources"`
}

// Actionable reports whether the signal clears the threshold of its side.
func (s Signal) Actionable() bool {
	switch s.Direction {
	case Buy:
		return s.Strength > BuyThreshold
	case Sell:
		return s.Strength < SellThreshold
	}
	return false
}

// Abstained reports a HOLD that carries no opinion.
func (s Signal) Abstained() bool {
	return s.Direction == Hold && s.Confidence == 0
}

// Evaluator maps a price series and the current price to a Signal.
type Evaluator interface {
	Kind() Kind
	Evaluate(series []float64, price float64) (Signal, error)
}

func directional(kind Kind, dir Direction, confidence float64, reason string) Signal {
	confidence = clamp(confidence, 0, 1)
	strength := 0.0
	switch dir {
	case Buy:
		strength = confidence * 100
	case Sell:
		strength = -confidence * 100
	}
	return Signal{
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Reasons:    []string{reason},
		Sources:    []string{string(kind)},
	}
}

func neutral(kind Kind, confidence float64, reason string) Signal {
	return directional(kind, Hold, confidence, reason)
}

// noOpinion converts indicator shortfalls into an abstaining HOLD; other
// errors pass through.
func noOpinion(kind Kind, err error) (Signal, error) {
	if errors.Is(err, indicators.ErrInsufficientData) {
		return neutral(kind, 0, fmt.Sprintf("not enough history: %v", err)), nil
	}
	return Signal{}, err
}

// withPrice appends the live price unless the series already ends with it.
func withPrice(series []float64, price float64) []float64 {
	out := make([]float64, 0, len(series)+1)
	out = append(out, series...)
	if price > 0 && (len(series) == 0 || series[len(series)-1] != price) {
		out = append(out, price)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
