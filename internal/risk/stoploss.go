package risk

import (
	"errors"
	"fmt"
	"sync"

	"autotrade-core/internal/ledger"
)

// ErrRiskLimitBreach marks a forced exit. It is a signal to sell, not a failure.
var ErrRiskLimitBreach = errors.New("risk limit breach")

// Limits are percentages relative to average cost; zero disables a rule.
type Limits struct {
	StopLossPercent   float64
	TakeProfitPercent float64
	// TrailingPercent exits a winning position that falls this far from its high.
	TrailingPercent float64
}

// Trigger names the rule that fired.
type Trigger string

const (
	TriggerStopLoss     Trigger = "STOP_LOSS"
	TriggerTakeProfit   Trigger = "TAKE_PROFIT"
	TriggerTrailingStop Trigger = "TRAILING_STOP"
)

// Decision is a forced full exit of one position.
type Decision struct {
	Code          string
	Trigger       Trigger
	Quantity      float64
	Price         float64
	ChangePercent float64
	Reason        string
}

// Err wraps the decision as ErrRiskLimitBreach for audit and logs.
func (d Decision) Err() error {
	return fmt.Errorf("%w: %s", ErrRiskLimitBreach, d.Reason)
}

// Guard evaluates stop-loss and take-profit rules against ledger positions.
// One guard belongs to one session.
type Guard struct {
	limits Limits
	mu     sync.Mutex
	highs  map[string]float64 // high-water mark per code while a position is open
}

// NewGuard creates a guard for the given limits.
func NewGuard(limits Limits) *Guard {
	return &Guard{limits: limits, highs: make(map[string]float64)}
}

// Check returns a decision to sell the full quantity when a rule fires at
// price, or nil. Flat positions never trigger.
func (g *Guard) Check(pos ledger.Position, price float64) *Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pos.Quantity <= 0 || pos.AverageCost <= 0 || price <= 0 {
		delete(g.highs, pos.Code)
		return nil
	}

	high := g.highs[pos.Code]
	if price > high {
		high = price
		g.highs[pos.Code] = high
	}

	change := (price - pos.AverageCost) / pos.AverageCost * 100
	decide := func(t Trigger, reason string) *Decision {
		return &Decision{
			Code:          pos.Code,
			Trigger:       t,
			Quantity:      pos.Quantity,
			Price:         price,
			ChangePercent: change,
			Reason:        reason,
		}
	}

	l := g.limits
	if l.StopLossPercent > 0 && change <= -l.StopLossPercent {
		return decide(TriggerStopLoss, fmt.Sprintf("stop-loss: %s down %.2f%% from cost %.2f (limit %.2f%%)",
			pos.Code, -change, pos.AverageCost, l.StopLossPercent))
	}
	if l.TakeProfitPercent > 0 && change >= l.TakeProfitPercent {
		return decide(TriggerTakeProfit, fmt.Sprintf("take-profit: %s up %.2f%% from cost %.2f (target %.2f%%)",
			pos.Code, change, pos.AverageCost, l.TakeProfitPercent))
	}
	if l.TrailingPercent > 0 && high > pos.AverageCost {
		drawdown := (high - price) / high * 100
		if drawdown >= l.TrailingPercent {
			return decide(TriggerTrailingStop, fmt.Sprintf("trailing stop: %s %.2f%% below high %.2f (limit %.2f%%)",
				pos.Code, drawdown, high, l.TrailingPercent))
		}
	}
	return nil
}

// Reset forgets the high-water mark of code, e.g. after a full exit.
func (g *Guard) Reset(code string) {
	g.mu.Lock()
	delete(g.highs, code)
	g.mu.Unlock()
}
