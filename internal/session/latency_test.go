package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"autotrade-core/internal/admission"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/db"
)

// slowGateway stalls price lookups once slow is set, until the caller gives up.
type slowGateway struct {
	*fakeGateway
	slow atomic.Bool
}

func (g *slowGateway) CurrentPrice(ctx context.Context, code string) (float64, error) {
	if g.slow.Load() {
		<-ctx.Done()
		return 0, fmt.Errorf("%w: %v", broker.ErrUnavailable, ctx.Err())
	}
	return g.fakeGateway.CurrentPrice(ctx, code)
}

// accountPool hands every account its own gateway.
type accountPool struct {
	mu  sync.Mutex
	gws map[string]*fakeGateway
}

func (p *accountPool) Get(ctx context.Context, accountID string) (broker.Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gw, ok := p.gws[accountID]
	if !ok {
		gw = newFakeGateway()
		gw.setPrice("AAPL", 100)
		p.gws[accountID] = gw
	}
	return gw, nil
}

func newTestRegistry(t *testing.T, pool GatewayPool, tickTimeout time.Duration) (*Registry, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	reg := NewRegistry(Deps{
		Gateways:            pool,
		Admission:           admission.NewController(marketClock{open: true}, nil, admission.Options{TTL: time.Minute}),
		Store:               database,
		TickTimeout:         tickTimeout,
		DefaultPollInterval: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = reg.EmergencyStopAll(ctx)
		database.Close()
	})
	return reg, database
}

func TestSlowGatewayTimesOutTicks(t *testing.T) {
	gw := &slowGateway{fakeGateway: newFakeGateway()}
	gw.setPrice("AAPL", 100)
	reg, database := newTestRegistry(t, staticPool{gw: gw}, 30*time.Millisecond)

	snap, err := reg.Start(context.Background(), baseConfig("acct"))
	require.NoError(t, err)
	gw.slow.Store(true)

	require.Eventually(t, func() bool {
		st, err := reg.Status(snap.ID)
		return err == nil && st.Status == StatusStopped
	}, 3*time.Second, 10*time.Millisecond)

	st, err := reg.Status(snap.ID)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "timed out")

	rec, err := database.GetSession(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", rec.Status)
}

func TestConcurrentAccountsThenEmergencyStop(t *testing.T) {
	const accounts = 8
	pool := &accountPool{gws: map[string]*fakeGateway{}}
	reg, database := newTestRegistry(t, pool, time.Second)

	ids := make([]string, accounts)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < accounts; i++ {
		i := i
		g.Go(func() error {
			snap, err := reg.Start(ctx, baseConfig(fmt.Sprintf("acct-%d", i)))
			if err != nil {
				return err
			}
			ids[i] = snap.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, accounts, reg.Len())

	n, err := reg.EmergencyStopAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accounts, n)
	assert.Zero(t, reg.Len())

	for _, id := range ids {
		rec, err := database.GetSession(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "STOPPED", rec.Status)
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for account, gw := range pool.gws {
		assert.NotEmpty(t, gw.submitted(), "%s made its initial purchase", account)
	}
}
