package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/db"
)

const seedYAML = `
strategies:
  - id: kr-core
    account_id: acct-1
    segment: domestic
    kinds: [RSI, moving_average]
    params:
      rsi_period: 10
    instruments:
      - code: "005930"
        allocation_percent: 70
      - code: "000660"
        allocation_percent: 30
    total_capital: 10000000
    stop_loss_percent: 5
    take_profit_percent: 15
    poll_interval_seconds: 120
    is_active: true
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAndSync(t *testing.T) {
	configs, err := LoadConfig(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, []string{"rsi", "ma_cross"}, configs[0].Kinds)

	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	ctx := context.Background()
	require.NoError(t, SyncConfigToDB(ctx, database, configs))

	rec, err := database.GetStrategy(ctx, "kr-core")
	require.NoError(t, err)
	assert.Equal(t, "kr-core", rec.Name)
	assert.Equal(t, 120, rec.PollIntervalSeconds)
	assert.Equal(t, 10.0, rec.Params["rsi_period"])
	require.Len(t, rec.Instruments, 2)
	assert.Equal(t, "000660", rec.Instruments[1].Code)
}

func TestLoadConfigRejectsUnknownKind(t *testing.T) {
	_, err := LoadConfig(writeSeed(t, "strategies:\n  - id: x\n    kinds: [grid]\n"))
	assert.True(t, errors.Is(err, ErrUnknownKind))
}
