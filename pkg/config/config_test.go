package config

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/secrets"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.PaperTrading)
	assert.Equal(t, 30*time.Second, cfg.TickTimeout)
	assert.Equal(t, 30*time.Minute, cfg.OrderCooldown)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
	assert.Equal(t, "Asia/Seoul", cfg.DomesticTimezone)
	assert.Empty(t, cfg.DomesticHolidays)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("TICK_TIMEOUT", "12")
	t.Setenv("ORDER_COOLDOWN", "5m")
	t.Setenv("PAPER_TRADING", "false")
	t.Setenv("PAPER_FEE_RATE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 12*time.Second, cfg.TickTimeout)
	assert.Equal(t, 5*time.Minute, cfg.OrderCooldown)
	assert.False(t, cfg.PaperTrading)
	assert.Equal(t, 0.00015, cfg.PaperFeeRate)
}

func TestLoadHolidayLists(t *testing.T) {
	t.Setenv("DOMESTIC_HOLIDAYS", "2024-03-01, 2024-05-06,,")
	t.Setenv("GLOBAL_HOLIDAYS", "2024-07-04")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01", "2024-05-06"}, cfg.DomesticHolidays)
	assert.Equal(t, []string{"2024-07-04"}, cfg.GlobalHolidays)
}

func TestLoadOpensSealedCredentials(t *testing.T) {
	key := bytes.Repeat([]byte{7}, secrets.KeySize)
	kr, err := secrets.NewKeyring(map[int][]byte{1: key})
	require.NoError(t, err)
	sealed, err := kr.Seal("live-api-key")
	require.NoError(t, err)

	t.Setenv("GATEWAY_API_KEY", sealed)
	t.Setenv("GATEWAY_API_SECRET", "plain-secret")
	t.Setenv(CredentialsKeyEnv, base64.StdEncoding.EncodeToString(key))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "live-api-key", cfg.GatewayAPIKey)
	assert.Equal(t, "plain-secret", cfg.GatewayAPISecret)
}

func TestLoadFailsOnSealedCredentialsWithoutKey(t *testing.T) {
	kr, err := secrets.NewKeyring(map[int][]byte{1: bytes.Repeat([]byte{7}, secrets.KeySize)})
	require.NoError(t, err)
	sealed, err := kr.Seal("live-api-key")
	require.NoError(t, err)

	t.Setenv("GATEWAY_API_KEY", sealed)
	t.Setenv(CredentialsKeyEnv, "")

	_, err = Load()
	assert.ErrorIs(t, err, secrets.ErrNoKey)
}
