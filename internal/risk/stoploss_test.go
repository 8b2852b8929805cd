package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/ledger"
)

func TestGuardTriggers(t *testing.T) {
	pos := ledger.Position{Code: "005930", Quantity: 10, AverageCost: 100}

	tests := []struct {
		name   string
		limits Limits
		price  float64
		want   Trigger
	}{
		{"take profit at 50% gain", Limits{StopLossPercent: 10, TakeProfitPercent: 20}, 150, TriggerTakeProfit},
		{"take profit exactly at target", Limits{TakeProfitPercent: 20}, 120, TriggerTakeProfit},
		{"stop loss", Limits{StopLossPercent: 10, TakeProfitPercent: 20}, 89, TriggerStopLoss},
		{"inside band", Limits{StopLossPercent: 10, TakeProfitPercent: 20}, 105, ""},
		{"rules disabled", Limits{}, 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewGuard(tt.limits).Check(pos, tt.price)
			if tt.want == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Trigger)
			assert.Equal(t, 10.0, d.Quantity, "forced exits sell everything")
			assert.True(t, errors.Is(d.Err(), ErrRiskLimitBreach))
		})
	}
}

func TestFlatPositionNeverTriggers(t *testing.T) {
	g := NewGuard(Limits{StopLossPercent: 1, TakeProfitPercent: 1})
	assert.Nil(t, g.Check(ledger.Position{Code: "X", AverageCost: 100}, 1))
}

func TestTrailingStopFollowsHigh(t *testing.T) {
	g := NewGuard(Limits{TrailingPercent: 5})
	pos := ledger.Position{Code: "AAPL", Quantity: 3, AverageCost: 100}

	assert.Nil(t, g.Check(pos, 110))
	assert.Nil(t, g.Check(pos, 120))
	assert.Nil(t, g.Check(pos, 115))

	d := g.Check(pos, 113)
	require.NotNil(t, d)
	assert.Equal(t, TriggerTrailingStop, d.Trigger)

	g.Reset("AAPL")
	assert.Nil(t, g.Check(pos, 113))
}
