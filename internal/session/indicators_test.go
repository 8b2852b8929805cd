package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/indicators"
	"autotrade-core/pkg/db"
)

func TestStatusCarriesIndicatorSnapshot(t *testing.T) {
	h := newHarness(t, marketClock{open: true})
	h.gw.setPrice("AAPL", 100_000)

	snap, err := h.reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	var ind indicators.Snapshot
	require.Eventually(t, func() bool {
		st, err := h.reg.Status(snap.ID)
		if err != nil {
			return false
		}
		var ok bool
		ind, ok = st.Indicators["AAPL"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, ind.Missing)
	assert.InDelta(t, 100_000, ind.SMAShort, 1e-6)
	assert.InDelta(t, 100_000, ind.SMALong, 1e-6)
	assert.Equal(t, float64(50), ind.RSI, "flat series")
	assert.InDelta(t, 0, ind.MACD.Histogram, 1e-6)
}

func TestShortHistoryListsUnavailableIndicators(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	gw := newFakeGateway()
	gw.setPrice("AAPL", 100)
	reg := NewRegistry(Deps{
		Gateways:            staticPool{gw: gw},
		Admission:           admission.NewController(marketClock{open: true}, nil, admission.Options{TTL: time.Minute}),
		Store:               database,
		TickTimeout:         time.Second,
		DefaultPollInterval: 5 * time.Millisecond,
		HistoryDays:         10,
		Indicators:          indicators.NewEngine(indicators.DefaultSettings()),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = reg.EmergencyStopAll(ctx)
		database.Close()
	})

	snap, err := reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)

	var ind indicators.Snapshot
	require.Eventually(t, func() bool {
		st, err := reg.Status(snap.ID)
		if err != nil {
			return false
		}
		var ok bool
		ind, ok = st.Indicators["AAPL"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, ind.Has("sma_short"))
	assert.True(t, ind.Has("rsi"))
	assert.ElementsMatch(t, []string{"sma_long", "bollinger", "macd"}, ind.Missing)

	st, err := reg.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status, "missing indicators do not fail the tick")
}
