package strategy

import (
	"fmt"
	"math"
)

const (
	agreeConfidence = 0.6
	agreeBonus      = 1.2
	dissentPenalty  = 0.7
	confidenceFloor = 0.3
)

// Composite evaluates several strategies and merges them with Combine.
type Composite struct {
	evaluators []Evaluator
}

// NewComposite wraps evaluators in evaluation order.
func NewComposite(evaluators ...Evaluator) *Composite {
	return &Composite{evaluators: evaluators}
}

// Kind reports the first member's kind; composites are identified by Sources.
func (c *Composite) Kind() Kind {
	if len(c.evaluators) == 0 {
		return ""
	}
	return c.evaluators[0].Kind()
}

// Evaluate runs every member. A member error aborts the evaluation.
func (c *Composite) Evaluate(series []float64, price float64) (Signal, error) {
	signals := make([]Signal, 0, len(c.evaluators))
	for _, ev := range c.evaluators {
		sig, err := ev.Evaluate(series, price)
		if err != nil {
			return Signal{}, fmt.Errorf("%s: %w", ev.Kind(), err)
		}
		signals = append(signals, sig)
	}
	return Combine(signals), nil
}

// Combine merges per-strategy signals. Each non-abstaining signal adds its
// confidence to its direction bucket; the heaviest bucket wins and a tie
// resolves to HOLD. The result confidence is the mean of the winners, scaled up
// when two or more of them are individually confident and down when none is.
func Combine(signals []Signal) Signal {
	var (
		weights = map[Direction]float64{}
		members = map[Direction][]Signal{}
		reasons []string
		sources []string
	)
	for _, s := range signals {
		for i, r := range s.Reasons {
			src := ""
			if i < len(s.Sources) {
				src = s.Sources[i]
			} else if len(s.Sources) > 0 {
				src = s.Sources[0]
			}
			if src != "" {
				r = "[" + src + "] " + r
			}
			reasons = append(reasons, r)
		}
		sources = append(sources, s.Sources...)
		if s.Abstained() {
			continue
		}
		weights[s.Direction] += s.Confidence
		members[s.Direction] = append(members[s.Direction], s)
	}

	winner, tie := Hold, false
	best := 0.0
	for _, d := range []Direction{Buy, Sell, Hold} {
		w := weights[d]
		switch {
		case w > best+1e-12:
			winner, best, tie = d, w, false
		case best > 0 && math.Abs(w-best) <= 1e-12:
			tie = true
		}
	}
	if best == 0 {
		return Signal{Direction: Hold, Reasons: reasons, Sources: sources}
	}
	if tie {
		return Signal{
			Direction: Hold,
			Reasons:   append(reasons, "strategies disagree: tied direction weights"),
			Sources:   sources,
		}
	}

	contributors := members[winner]
	sum, agree := 0.0, 0
	for _, s := range contributors {
		sum += s.Confidence
		if s.Confidence >= agreeConfidence {
			agree++
		}
	}
	conf := sum / float64(len(contributors))
	switch {
	case agree >= 2:
		conf = math.Min(1, conf*agreeBonus)
	case agree == 0:
		conf = math.Max(confidenceFloor, conf*dissentPenalty)
	}

	strength := 0.0
	switch winner {
	case Buy:
		strength = conf * 100
	case Sell:
		strength = -conf * 100
	}
	return Signal{
		Direction:  winner,
		Strength:   strength,
		Confidence: conf,
		Reasons:    reasons,
		Sources:    sources,
	}
}
