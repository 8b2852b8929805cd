package strategy

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of strategy variants.
type Kind string

const (
	KindMACross       Kind = "ma_cross"
	KindRSI           Kind = "rsi"
	KindBollinger     Kind = "bollinger"
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
)

// ErrUnknownKind is returned for names outside the Kind set.
var ErrUnknownKind = errors.New("unknown strategy kind")

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindMACross, KindRSI, KindBollinger, KindMomentum, KindMeanReversion}
}

// ParseKind resolves a kind name, accepting a few historical aliases.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ma_cross", "ma", "moving_average":
		return KindMACross, nil
	case "rsi":
		return KindRSI, nil
	case "bollinger", "bb":
		return KindBollinger, nil
	case "momentum", "trend":
		return KindMomentum, nil
	case "mean_reversion", "value":
		return KindMeanReversion, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Params are numeric strategy parameters keyed by name; absent keys use defaults.
type Params map[string]float64

func (p Params) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Params) period(key string, def int) (int, error) {
	v := p.get(key, float64(def))
	if v < 1 || v != float64(int(v)) {
		return 0, fmt.Errorf("%s must be a positive integer, got %v", key, v)
	}
	return int(v), nil
}

// Build constructs the evaluator for kind. Every Kind must have a case here.
func Build(kind Kind, params Params) (Evaluator, error) {
	switch kind {
	case KindMACross:
		return newMACross(params)
	case KindRSI:
		return newRSI(params)
	case KindBollinger:
		return newBollinger(params)
	case KindMomentum:
		return newMomentum(params)
	case KindMeanReversion:
		return newMeanReversion(params)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// BuildAll parses and builds evaluators in order. A single kind yields that
// evaluator directly; several are wrapped in a Composite.
func BuildAll(names []string, params Params) (Evaluator, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one strategy kind is required")
	}
	evals := make([]Evaluator, 0, len(names))
	for _, name := range names {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		ev, err := Build(kind, params)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", kind, err)
		}
		evals = append(evals, ev)
	}
	if len(evals) == 1 {
		return evals[0], nil
	}
	return NewComposite(evals...), nil
}
