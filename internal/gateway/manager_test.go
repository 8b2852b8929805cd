package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/broker"
)

type flakyGateway struct {
	broker.Gateway
	err error
}

func (f *flakyGateway) CurrentPrice(ctx context.Context, code string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 10, nil
}

func TestManagerCreatesOncePerAccount(t *testing.T) {
	created := 0
	m := NewManager(func(accountID string) (broker.Gateway, error) {
		created++
		return &flakyGateway{}, nil
	}, Config{})

	_, err := m.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Get(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, 2, created)
	assert.Equal(t, 2, m.Stats().TotalGateways)

	_, err = m.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrAccountRequired)
}

func TestManagerOpensCircuitAfterRepeatedOutages(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	inner := &flakyGateway{err: broker.ErrUnavailable}
	m := NewManager(func(string) (broker.Gateway, error) { return inner, nil },
		Config{FailureThreshold: 2, CircuitTimeout: time.Minute, Now: func() time.Time { return now }})

	gw, err := m.Get(context.Background(), "a")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := gw.CurrentPrice(context.Background(), "X")
		require.Error(t, err)
	}

	_, err = m.Get(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrGatewayUnhealthy))
	assert.True(t, errors.Is(err, broker.ErrUnavailable))
	assert.Equal(t, 1, m.Stats().UnhealthyCount)

	now = now.Add(2 * time.Minute)
	gw, err = m.Get(context.Background(), "a")
	require.NoError(t, err, "circuit half-opens after the timeout")

	inner.err = nil
	_, err = gw.CurrentPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.Zero(t, m.Stats().UnhealthyCount)
}

func TestManagerEvictsOldest(t *testing.T) {
	m := NewManager(func(string) (broker.Gateway, error) { return &flakyGateway{}, nil }, Config{MaxSize: 1})
	_, err := m.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Stats().TotalGateways)
}

func TestManagerClosesIdleGateways(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	m := NewManager(func(string) (broker.Gateway, error) { return &flakyGateway{}, nil },
		Config{IdleTimeout: 10 * time.Minute, Now: func() time.Time { return now }})

	_, err := m.Get(context.Background(), "old")
	require.NoError(t, err)
	now = now.Add(8 * time.Minute)
	_, err = m.Get(context.Background(), "fresh")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	m.closeIdle()
	assert.Equal(t, 1, m.Stats().TotalGateways)

	m.Remove("fresh")
	assert.Zero(t, m.Stats().TotalGateways)
}

func TestManagerEvictionKeepsRecentlyUsed(t *testing.T) {
	m := NewManager(func(string) (broker.Gateway, error) { return &flakyGateway{}, nil }, Config{MaxSize: 2})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := m.Get(ctx, id)
		require.NoError(t, err)
	}
	st := m.Stats()
	assert.Equal(t, 2, st.TotalGateways)
	assert.Equal(t, 1, st.Evictions)

	created := false
	m.factory = func(string) (broker.Gateway, error) { created = true; return &flakyGateway{}, nil }
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, created, "b was evicted, not a")
}
