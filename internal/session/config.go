package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
)

const allocationTolerance = 1e-6

// Config is the immutable setup of one session.
type Config struct {
	SessionID         string                    `json:"session_id"`
	AccountID         string                    `json:"account_id"`
	StrategyID        string                    `json:"strategy_id"`
	Segment           broker.Segment            `json:"segment"`
	StrategyKinds     []string                  `json:"strategy_kinds"`
	StrategyParams    map[string]float64        `json:"strategy_params"`
	Instruments       []db.InstrumentAllocation `json:"instruments"`
	TotalCapital      float64                   `json:"total_capital"`
	StopLossPercent   float64                   `json:"stop_loss_percent"`
	TakeProfitPercent float64                   `json:"take_profit_percent"`
	PollInterval      time.Duration             `json:"poll_interval"`
}

// ConfigFromStrategy builds a session config from a persisted strategy.
func ConfigFromStrategy(st db.Strategy) (Config, error) {
	seg, err := broker.ParseSegment(st.Segment)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return Config{
		AccountID:         st.AccountID,
		StrategyID:        st.ID,
		Segment:           seg,
		StrategyKinds:     append([]string(nil), st.Kinds...),
		StrategyParams:    copyParams(st.Params),
		Instruments:       append([]db.InstrumentAllocation(nil), st.Instruments...),
		TotalCapital:      st.TotalCapital,
		StopLossPercent:   st.StopLossPercent,
		TakeProfitPercent: st.TakeProfitPercent,
		PollInterval:      time.Duration(st.PollIntervalSeconds) * time.Second,
	}, nil
}

// Validate checks the invariants a session needs before it may start.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return fail("account id is required")
	}
	if _, err := broker.ParseSegment(string(c.Segment)); err != nil {
		return fail("%v", err)
	}
	if len(c.Instruments) == 0 {
		return fail("at least one instrument is required")
	}
	seen := make(map[string]bool, len(c.Instruments))
	total := 0.0
	for _, in := range c.Instruments {
		if strings.TrimSpace(in.Code) == "" {
			return fail("instrument code is required")
		}
		if seen[in.Code] {
			return fail("instrument %s listed twice", in.Code)
		}
		seen[in.Code] = true
		if in.AllocationPercent <= 0 {
			return fail("allocation of %s must be positive", in.Code)
		}
		total += in.AllocationPercent
	}
	if math.Abs(total-100) > allocationTolerance {
		return fail("allocations sum to %.4f, want 100", total)
	}
	if c.TotalCapital <= 0 {
		return fail("total capital must be positive")
	}
	if c.StopLossPercent < 0 || c.TakeProfitPercent < 0 {
		return fail("risk limits must not be negative")
	}
	if c.PollInterval < 0 {
		return fail("poll interval must not be negative")
	}
	if len(c.StrategyKinds) == 0 {
		return fail("at least one strategy kind is required")
	}
	for _, k := range c.StrategyKinds {
		if _, err := strategy.ParseKind(k); err != nil {
			return fail("%v", err)
		}
	}
	return nil
}

// Codes returns the instrument codes in configured order.
func (c Config) Codes() []string {
	out := make([]string, len(c.Instruments))
	for i, in := range c.Instruments {
		out[i] = in.Code
	}
	return out
}

func (c Config) trailingPercent() float64 {
	return c.StrategyParams["trailing_stop_percent"]
}

func copyParams(p map[string]float64) map[string]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
